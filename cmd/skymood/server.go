package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/skymood/internal/api"
	"github.com/kalambet/skymood/internal/config"
	"github.com/kalambet/skymood/internal/history"
	"github.com/kalambet/skymood/internal/metrics"
	"github.com/kalambet/skymood/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the stored dataset over a read-only HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadReadOnly()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the stored dataset to MCP clients over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadReadOnly()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		deps := api.MCPDeps{StatePath: cfg.Storage.StateFile, Version: version}
		if ledger := openLedger(cfg); ledger != nil {
			defer ledger.Close()
			deps.Runs = ledger
		}

		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
		slog.Info("MCP server started (stdio transport)", "state_file", cfg.Storage.StateFile)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	},
}

// openLedger opens the run ledger for read-only commands. They work without
// it, so failures are logged and nil is returned.
func openLedger(cfg config.Config) *history.Ledger {
	ledger, err := history.Open(cfg.Storage.DataDir)
	if err != nil {
		slog.Warn("run history unavailable", "data_dir", cfg.Storage.DataDir, "error", err)
		return nil
	}
	return ledger
}

func runServer(ctx context.Context, cfg config.Config) error {
	fmt.Fprintf(os.Stderr, "skymood version %s\n", version)

	reg := metrics.NewRegistry()
	deps := api.Deps{
		StatePath:      cfg.Storage.StateFile,
		Token:          cfg.Server.Token,
		RatePerSecond:  cfg.Server.RateLimit,
		Burst:          cfg.Server.Burst,
		HTTPMetrics:    metrics.NewHTTPMetrics(reg),
		MetricsHandler: metrics.Handler(reg),
	}
	if ledger := openLedger(cfg); ledger != nil {
		defer func() {
			if err := ledger.Close(); err != nil {
				slog.Warn("closing run history", "error", err)
			}
		}()
		deps.Runs = ledger
	}
	if deps.Token == "" {
		slog.Warn("SKYMOOD_SERVER_TOKEN not set, API is unauthenticated")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "skymood listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, dataset and server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadReadOnly()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}
		return showStatus(cmd.Context(), cfg)
	},
}

func showStatus(ctx context.Context, cfg config.Config) error {
	s := store.Load(cfg.Storage.StateFile)
	updated := s.Timestamp
	if updated == "" {
		updated = "never"
	}
	printStatus("State file", "%s", cfg.Storage.StateFile)
	printStatus("Posts", "%d (updated %s)", s.TotalPosts, updated)

	if ledger := openLedger(cfg); ledger != nil {
		runs, err := ledger.RecentRuns(ctx, 1)
		ledger.Close()
		if err == nil && len(runs) > 0 {
			last := runs[0]
			printStatus("Last run", "%s %s (%d new)", last.StartedAt.Local().Format(time.DateTime), last.Outcome, last.Fresh)
		} else {
			printStatus("Last run", "none recorded")
		}
	}

	printStatus("Server", "%s", serverStatus(ctx, newAPIClient(cfg), cfg.Server.Port))
	printStatus("Model", "%s", cfg.Inference.Model)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func serverStatus(ctx context.Context, client *apiClient, port int) string {
	var health struct {
		Status string `json:"status"`
	}
	err := client.getJSON(ctx, "/health", &health)
	if errors.Is(err, errServerDown) {
		return "stopped"
	}
	if err != nil {
		return fmt.Sprintf("error (%v)", err)
	}
	if health.Status != "ok" {
		return fmt.Sprintf("unhealthy (%s)", health.Status)
	}
	return fmt.Sprintf("running on port %d", port)
}
