package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/skymood/internal/store"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	StatePath string
	Runs      RunLister // optional; run_history reports an error when nil
	Version   string
}

// NewMCPServer creates an MCP server exposing the dataset read-only.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"skymood",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("skymood: sentiment of recent Bluesky posts about movies, books, games and music."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("sentiment_summary",
			mcp.WithDescription("Return sentiment and category counts for the stored posts, with a per-category breakdown."),
		),
		mcpSentimentSummary(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_posts",
			mcp.WithDescription("List the most recent stored posts, optionally filtered."),
			mcp.WithString("category", mcp.Description("Movie/TV, Book, Game, Music or Other")),
			mcp.WithString("label", mcp.Description("Positive, Neutral or Negative")),
			mcp.WithString("handle", mcp.Description("Author handle")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of posts (default 50)")),
		),
		mcpRecentPosts(deps),
	)

	s.AddTool(
		mcp.NewTool("run_history",
			mcp.WithDescription("List recent ingestion runs and their outcomes."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 10)")),
		),
		mcpRunHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"skymood://summary",
			"Sentiment Summary",
			mcp.WithResourceDescription("Aggregate sentiment of stored posts as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSummary(deps),
	)

	return s
}

func mcpSentimentSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(summarize(store.Load(deps.StatePath))), nil
	}
}

func mcpRecentPosts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f, err := newPostFilter(
			req.GetString("category", ""),
			req.GetString("label", ""),
			req.GetString("handle", ""),
			req.GetInt("limit", defaultPostLimit),
		)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcpJSON(f.apply(store.Load(deps.StatePath))), nil
	}
}

func mcpRunHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Runs == nil {
			return mcp.NewToolResultError("run history not available"), nil
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 || limit > 100 {
			limit = 10
		}

		runs, err := deps.Runs.RecentRuns(ctx, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
		}
		if len(runs) == 0 {
			return mcp.NewToolResultText("[]"), nil
		}
		return mcpJSON(runs), nil
	}
}

func mcpResourceSummary(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(summarize(store.Load(deps.StatePath)))
		if err != nil {
			return nil, fmt.Errorf("marshaling summary: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcp.NewToolResultText(string(b))
}
