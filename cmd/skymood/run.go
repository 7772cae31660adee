package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/skymood/internal/bluesky"
	"github.com/kalambet/skymood/internal/classifier"
	"github.com/kalambet/skymood/internal/collector"
	"github.com/kalambet/skymood/internal/config"
	"github.com/kalambet/skymood/internal/history"
	"github.com/kalambet/skymood/internal/inference"
	"github.com/kalambet/skymood/internal/metrics"
	"github.com/kalambet/skymood/internal/pipeline"
	"github.com/kalambet/skymood/internal/post"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect, classify and store new posts once",
	Long: `Run one ingestion pass: log in to Bluesky, collect posts from the
configured accounts and keyword searches, classify the new ones and merge
them into the state file.

Examples:
  skymood run
  skymood run --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := runIngest(ctx, cfg, dryRun)
		if err != nil {
			return err
		}
		printRunSummary(os.Stdout, res)
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "classify and report without writing the state file")
}

// runIngest wires the pipeline from cfg and executes a single run.
func runIngest(ctx context.Context, cfg config.Config, dryRun bool) (pipeline.Result, error) {
	bsky := bluesky.New(cfg.Bluesky.BaseURL)
	printStep("Logging in to %s as %s", cfg.Bluesky.BaseURL, cfg.Bluesky.Handle)
	if err := bsky.CreateSession(ctx, cfg.Bluesky.Handle, cfg.Bluesky.AppPassword); err != nil {
		return pipeline.Result{}, fmt.Errorf("logging in: %w", err)
	}

	coll := collector.New(bsky, collector.Config{
		Accounts:       cfg.Sources.Accounts,
		Keywords:       cfg.Sources.Keywords,
		KeywordLimit:   cfg.Sources.KeywordLimit,
		PostsPerSource: cfg.Sources.PostsPerSource,
		Delay:          cfg.Sources.Delay,
	})

	scorer := inference.NewClient(cfg.Inference.Token, cfg.Inference.BaseURL, cfg.Inference.Model)
	retry := classifier.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Classifier.MaxAttempts
	retry.TransientBackoff = cfg.Classifier.TransientBackoff
	retry.WarmupBackoff = cfg.Classifier.WarmupBackoff
	cls := classifier.New(scorer, classifier.Config{
		BatchSize:  cfg.Classifier.BatchSize,
		BatchDelay: cfg.Classifier.BatchDelay,
		Retry:      retry,
	})

	reg := metrics.NewRegistry()
	opts := []pipeline.Option{pipeline.WithMetrics(metrics.NewRunMetrics(reg))}

	// The ledger is diagnostic; a run proceeds without it.
	ledger, err := history.Open(cfg.Storage.DataDir)
	if err != nil {
		slog.Warn("run history unavailable", "data_dir", cfg.Storage.DataDir, "error", err)
	} else {
		defer func() {
			if err := ledger.Close(); err != nil {
				slog.Warn("closing run history", "error", err)
			}
		}()
		opts = append(opts, pipeline.WithRecorder(ledger))
	}

	runner := pipeline.New(coll, cls, pipeline.Config{
		StatePath:   cfg.Storage.StateFile,
		MaxRetained: cfg.Storage.MaxRetained,
		DryRun:      dryRun,
		Model:       cfg.Inference.Model,
	}, opts...)

	printStep("Collecting from %d accounts and %d keyword searches",
		len(cfg.Sources.Accounts), keywordCount(cfg.Sources))
	res, runErr := runner.Run(ctx)

	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile, reg); err != nil {
			slog.Warn("writing metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	}
	return res, runErr
}

func keywordCount(s config.SourcesConfig) int {
	if s.KeywordLimit < 0 || s.KeywordLimit > len(s.Keywords) {
		return len(s.Keywords)
	}
	return s.KeywordLimit
}

func printRunSummary(w io.Writer, res pipeline.Result) {
	switch res.Outcome {
	case pipeline.OutcomeNothingCollected:
		printWarning("No posts collected")
	case pipeline.OutcomeNothingNew:
		if res.BelowFloor > 0 {
			printSuccess("No new posts (%d collected, %d older than everything retained)", res.Collected, res.BelowFloor)
		} else {
			printSuccess("No new posts (%d collected, all already stored)", res.Collected)
		}
	case pipeline.OutcomeDryRun:
		printSuccess("Dry run: %d new posts classified, state file not written", res.Fresh)
	default:
		printSuccess("Stored %d new posts (%d total)", res.Fresh, res.TotalPosts)
	}
	if res.FailedSources > 0 {
		printWarning("%d of %d sources failed", res.FailedSources, res.Sources)
	}
	if res.FallbackBatches > 0 {
		printWarning("%d of %d classifier batches used the fallback label", res.FallbackBatches, res.Batches)
	}

	if res.Store == nil {
		return
	}
	fmt.Fprintln(w)
	for _, l := range post.Labels {
		n := res.Store.Sentiment[l.Key()]
		fmt.Fprintf(w, "  %-9s %5d  %s\n", l, n, bar(n, res.Store.TotalPosts, 30))
	}
	fmt.Fprintln(w)
	for _, c := range post.Categories {
		fmt.Fprintf(w, "  %-9s %5d\n", c, res.Store.Categories[string(c)])
	}
	if res.RunID != "" {
		fmt.Fprintf(w, "\n  run %s (%s)\n", colorize(colorCyan, shortID(res.RunID)), res.Duration.Round(time.Millisecond))
	}
}
