package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/skymood/internal/api"
	"github.com/kalambet/skymood/internal/config"
	"github.com/kalambet/skymood/internal/history"
	"github.com/kalambet/skymood/internal/post"
	"github.com/kalambet/skymood/internal/store"
)

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent ingestion runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.LoadReadOnly()
		if err != nil {
			return err
		}
		ledger, err := history.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening run history: %w", err)
		}
		defer ledger.Close()

		runs, err := ledger.RecentRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		printRuns(os.Stdout, runs)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadReadOnly()
		if err != nil {
			return err
		}
		ledger, err := history.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening run history: %w", err)
		}
		defer ledger.Close()

		run, err := ledger.GetRun(cmd.Context(), args[0])
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("run %q not found", args[0])
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	historyCmd.AddCommand(historyShowCmd)
}

func printRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		outcome := r.Outcome
		switch outcome {
		case "written":
			outcome = colorize(colorGreen, outcome)
		case "failed":
			outcome = colorize(colorRed, outcome)
		}
		fmt.Fprintf(w, "%s  %s  %-17s collected=%d new=%d total=%d",
			colorize(colorCyan, shortID(r.ID)),
			r.StartedAt.Local().Format(time.DateTime),
			outcome, r.Collected, r.Fresh, r.TotalPosts,
		)
		if r.FailedSources > 0 {
			fmt.Fprintf(w, " failed_sources=%d", r.FailedSources)
		}
		if r.FallbackBatches > 0 {
			fmt.Fprintf(w, " fallback_batches=%d", r.FallbackBatches)
		}
		if r.Error != "" {
			fmt.Fprintf(w, " error=%q", r.Error)
		}
		fmt.Fprintln(w)
	}
}

// --- posts ---

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "List stored posts, newest first",
	Long: `List stored posts, newest first.

Examples:
  skymood posts --category movie/tv --label negative
  skymood posts --handle jay.bsky.social --limit 5
  skymood posts --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var q api.PostQuery
		q.Category, _ = cmd.Flags().GetString("category")
		q.Label, _ = cmd.Flags().GetString("label")
		q.Handle, _ = cmd.Flags().GetString("handle")
		q.Limit, _ = cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := config.LoadReadOnly()
		if err != nil {
			return err
		}
		posts, err := api.FilterPosts(store.Load(cfg.Storage.StateFile), q)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(posts)
		}
		printPosts(os.Stdout, posts)
		return nil
	},
}

func init() {
	postsCmd.Flags().String("category", "", "Movie/TV, Book, Game, Music or Other")
	postsCmd.Flags().String("label", "", "Positive, Neutral or Negative")
	postsCmd.Flags().String("handle", "", "author handle")
	postsCmd.Flags().Int("limit", 20, "maximum number of posts")
	postsCmd.Flags().Bool("json", false, "print posts as JSON")
}

func printPosts(w io.Writer, posts []post.Enriched) {
	if len(posts) == 0 {
		fmt.Fprintln(w, "No posts found.")
		return
	}
	for _, p := range posts {
		label := string(p.Label)
		switch p.Label {
		case post.Positive:
			label = colorize(colorGreen, label)
		case post.Negative:
			label = colorize(colorRed, label)
		}
		fmt.Fprintf(w, "\n%s %s [%s %.3f] %s\n",
			colorize(colorBold, "@"+p.Handle), p.Timestamp, label, p.Score, p.Category)
		fmt.Fprintf(w, "  %s\n", truncate(p.Text, 200))
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadReadOnly()
		if err != nil {
			return err
		}

		for _, k := range config.Settings(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.Set(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
