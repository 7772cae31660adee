package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kalambet/skymood/internal/categorize"
	"github.com/kalambet/skymood/internal/classifier"
	"github.com/kalambet/skymood/internal/collector"
	"github.com/kalambet/skymood/internal/dedup"
	"github.com/kalambet/skymood/internal/history"
	"github.com/kalambet/skymood/internal/metrics"
	"github.com/kalambet/skymood/internal/post"
	"github.com/kalambet/skymood/internal/store"
)

// Outcome describes how a run ended.
type Outcome string

const (
	OutcomeWritten          Outcome = "written"
	OutcomeNothingCollected Outcome = "nothing_collected"
	OutcomeNothingNew       Outcome = "nothing_new"
	OutcomeDryRun           Outcome = "dry_run"
	OutcomeFailed           Outcome = "failed"
)

// Collector produces candidate posts.
type Collector interface {
	Collect(ctx context.Context) ([]post.Raw, collector.Stats, error)
}

// Classifier scores texts and never fails.
type Classifier interface {
	Classify(ctx context.Context, texts []string) ([]classifier.Prediction, classifier.Stats)
}

// Recorder persists a run summary. history.Ledger implements it.
type Recorder interface {
	RecordRun(ctx context.Context, r history.Run) (string, error)
}

// Config controls where results go.
type Config struct {
	StatePath   string
	MaxRetained int
	DryRun      bool
	Model       string
}

// Result summarizes one run.
type Result struct {
	RunID           string
	Outcome         Outcome
	Sources         int
	FailedSources   int
	Collected       int
	OutOfRange      int
	SkippedEmpty    int
	Duplicates      int
	BelowFloor      int
	Fresh           int
	Batches         int
	FallbackBatches int
	TotalPosts      int
	Store           *store.Store
	Duration        time.Duration
}

// Runner executes the collect, dedup, classify, categorize and merge stages
// in order and writes the state file once at the end.
type Runner struct {
	collector  Collector
	classifier Classifier
	recorder   Recorder
	metrics    *metrics.RunMetrics
	cfg        Config
	clock      clockwork.Clock
}

// Option customizes a Runner.
type Option func(*Runner)

// WithRecorder attaches a run ledger.
func WithRecorder(r Recorder) Option {
	return func(rn *Runner) { rn.recorder = r }
}

// WithMetrics records every run on m.
func WithMetrics(m *metrics.RunMetrics) Option {
	return func(rn *Runner) { rn.metrics = m }
}

// WithClock replaces the clock used to stamp the store.
func WithClock(c clockwork.Clock) Option {
	return func(rn *Runner) { rn.clock = c }
}

// New creates a Runner.
func New(c Collector, cl Classifier, cfg Config, opts ...Option) *Runner {
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = store.DefaultMaxRetained
	}
	r := &Runner{collector: c, classifier: cl, cfg: cfg, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes one pipeline pass. An error means the run was aborted and the
// state file was left untouched.
func (r *Runner) Run(ctx context.Context) (res Result, err error) {
	start := r.clock.Now()
	defer func() {
		res.Duration = r.clock.Since(start)
		if err != nil {
			res.Outcome = OutcomeFailed
		}
		r.record(ctx, start, &res, err)
		r.observe(start, res)
	}()

	prior := store.Load(r.cfg.StatePath)
	res.Store = prior
	res.TotalPosts = prior.TotalPosts

	candidates, cstats, err := r.collector.Collect(ctx)
	res.Sources = cstats.Sources
	res.FailedSources = cstats.FailedSources
	res.OutOfRange = cstats.OutOfRange
	if err != nil {
		return res, fmt.Errorf("collecting posts: %w", err)
	}
	res.Collected = len(candidates)
	if len(candidates) == 0 {
		slog.Info("pipeline: nothing collected")
		res.Outcome = OutcomeNothingCollected
		return res, nil
	}

	filtered := dedup.Filter(candidates, prior.Identifiers())
	res.SkippedEmpty = filtered.SkippedEmpty
	res.Duplicates = filtered.Duplicates

	// A full store only takes posts newer than its retention floor.
	fresh := prior.Admissible(filtered.Fresh, r.cfg.MaxRetained)
	res.BelowFloor = len(filtered.Fresh) - len(fresh)
	res.Fresh = len(fresh)
	if len(fresh) == 0 {
		slog.Info("pipeline: no new posts", "collected", res.Collected, "below_retention_floor", res.BelowFloor)
		res.Outcome = OutcomeNothingNew
		return res, nil
	}

	texts := make([]string, len(fresh))
	for i, p := range fresh {
		texts[i] = p.Text
	}
	preds, kstats := r.classifier.Classify(ctx, texts)
	res.Batches = kstats.Batches
	res.FallbackBatches = kstats.FallbackBatches
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("classifying posts: %w", err)
	}
	if len(preds) != len(texts) {
		return res, fmt.Errorf("classifier returned %d predictions for %d posts", len(preds), len(texts))
	}

	enriched := make([]post.Enriched, len(fresh))
	for i, p := range fresh {
		enriched[i] = post.Enriched{
			Raw:      p,
			Category: categorize.Categorize(p.Text),
			Label:    preds[i].Label,
			Score:    preds[i].Score,
		}
	}

	next := store.Merge(prior, enriched, r.cfg.MaxRetained, r.clock.Now())
	res.Store = next
	res.TotalPosts = next.TotalPosts

	if r.cfg.DryRun {
		slog.Info("pipeline: dry run, state file not written", "fresh", res.Fresh)
		res.Outcome = OutcomeDryRun
		return res, nil
	}

	if err := store.Save(r.cfg.StatePath, next); err != nil {
		return res, fmt.Errorf("saving state: %w", err)
	}
	slog.Info("pipeline: state written", "path", r.cfg.StatePath, "fresh", res.Fresh, "total", res.TotalPosts)
	res.Outcome = OutcomeWritten
	return res, nil
}

// record writes the run to the ledger. Ledger failures are logged only.
func (r *Runner) record(ctx context.Context, start time.Time, res *Result, runErr error) {
	if r.recorder == nil {
		return
	}
	run := history.Run{
		StartedAt:       start,
		FinishedAt:      start.Add(res.Duration),
		Outcome:         string(res.Outcome),
		Model:           r.cfg.Model,
		Sources:         res.Sources,
		FailedSources:   res.FailedSources,
		Collected:       res.Collected,
		Fresh:           res.Fresh,
		FallbackBatches: res.FallbackBatches,
		TotalPosts:      res.TotalPosts,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	id, err := r.recorder.RecordRun(context.WithoutCancel(ctx), run)
	if err != nil {
		slog.Warn("pipeline: recording run failed", "error", err)
		return
	}
	res.RunID = id
}

func (r *Runner) observe(start time.Time, res Result) {
	if r.metrics == nil {
		return
	}
	r.metrics.Observe(metrics.RunSummary{
		Outcome:         string(res.Outcome),
		Failed:          res.Outcome == OutcomeFailed,
		Collected:       res.Collected,
		Fresh:           res.Fresh,
		FailedSources:   res.FailedSources,
		FallbackBatches: res.FallbackBatches,
		TotalPosts:      res.TotalPosts,
		Duration:        res.Duration,
		FinishedAt:      start.Add(res.Duration),
	})
}
