package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/kalambet/skymood/internal/inference"
	"github.com/kalambet/skymood/internal/post"
)

// DefaultBatchSize keeps each request within the hosted model's input limits.
const DefaultBatchSize = 8

// Scorer is the hosted model boundary.
type Scorer interface {
	Classify(ctx context.Context, texts []string) ([]inference.Prediction, error)
}

// Prediction is a canonical sentiment label with its confidence.
type Prediction struct {
	Label post.Label
	Score float64
}

// DefaultLabels maps model label codes to canonical labels. Keys are lowercase.
func DefaultLabels() map[string]post.Label {
	return map[string]post.Label{
		"label_0":  post.Negative,
		"label_1":  post.Neutral,
		"label_2":  post.Positive,
		"negative": post.Negative,
		"neutral":  post.Neutral,
		"positive": post.Positive,
	}
}

// Config holds batching, label mapping and retry settings.
type Config struct {
	BatchSize  int
	BatchDelay time.Duration
	Labels     map[string]post.Label
	Retry      RetryPolicy
}

// Stats summarizes one Classify call.
type Stats struct {
	Batches         int
	FallbackBatches int
	Attempts        int
}

// Classifier scores texts in sequential batches. It never fails: a batch that
// exhausts its retries gets the fallback prediction for every text.
type Classifier struct {
	scorer     Scorer
	batchSize  int
	batchDelay time.Duration
	labels     map[string]post.Label
	retry      RetryPolicy
}

// New creates a Classifier. A non-positive batch size defaults to
// DefaultBatchSize; a nil label table defaults to DefaultLabels.
func New(scorer Scorer, cfg Config) *Classifier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	labels := make(map[string]post.Label)
	src := cfg.Labels
	if src == nil {
		src = DefaultLabels()
	}
	for k, v := range src {
		labels[strings.ToLower(k)] = v
	}
	return &Classifier{
		scorer:     scorer,
		batchSize:  cfg.BatchSize,
		batchDelay: cfg.BatchDelay,
		labels:     labels,
		retry:      cfg.Retry.withDefaults(),
	}
}

// Classify returns one prediction per text, in input order.
func (c *Classifier) Classify(ctx context.Context, texts []string) ([]Prediction, Stats) {
	var stats Stats
	if len(texts) == 0 {
		return nil, stats
	}

	out := make([]Prediction, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		if ctx.Err() != nil {
			// Cancelled: the caller discards the run, so skip the remaining calls.
			for range texts[start:] {
				out = append(out, c.retry.Fallback)
			}
			stats.FallbackBatches++
			break
		}
		if start > 0 && c.batchDelay > 0 {
			if err := c.retry.Sleep(ctx, c.batchDelay); err != nil {
				slog.Warn("classifier: interrupted between batches", "error", err)
			}
		}

		end := min(start+c.batchSize, len(texts))
		batch := texts[start:end]
		stats.Batches++

		preds, attempts, err := c.scoreBatch(ctx, batch)
		stats.Attempts += attempts
		if err != nil {
			stats.FallbackBatches++
			slog.Warn("classifier: retries exhausted, using fallback",
				"batch", stats.Batches, "size", len(batch), "attempts", attempts, "error", err)
			for range batch {
				out = append(out, c.retry.Fallback)
			}
			continue
		}

		for _, p := range preds {
			out = append(out, c.normalize(p))
		}
	}
	return out, stats
}

// scoreBatch calls the scorer until it succeeds or the policy is exhausted.
func (c *Classifier) scoreBatch(ctx context.Context, batch []string) ([]inference.Prediction, int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		preds, err := c.scorer.Classify(ctx, batch)
		if err == nil && len(preds) != len(batch) {
			err = fmt.Errorf("got %d predictions for %d texts", len(preds), len(batch))
		}
		if err == nil {
			return preds, attempt, nil
		}
		lastErr = err

		if attempt == c.retry.MaxAttempts {
			return nil, attempt, lastErr
		}

		backoff := c.retry.TransientBackoff
		if errors.Is(err, inference.ErrModelLoading) {
			backoff = c.retry.WarmupBackoff
			slog.Info("classifier: model warming up", "attempt", attempt, "wait", backoff)
		} else {
			slog.Warn("classifier: batch failed", "attempt", attempt, "wait", backoff, "error", err)
		}

		if err := c.retry.Sleep(ctx, backoff); err != nil {
			return nil, attempt, err
		}
	}
	return nil, c.retry.MaxAttempts, lastErr
}

func (c *Classifier) normalize(p inference.Prediction) Prediction {
	label, ok := c.labels[strings.ToLower(p.Label)]
	if !ok {
		slog.Debug("classifier: unknown label code", "label", p.Label)
		label = post.Neutral
	}
	return Prediction{Label: label, Score: RoundScore(p.Score)}
}

// RoundScore clamps s to [0,1] and rounds it to three decimals.
func RoundScore(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		s = 1
	}
	return math.Round(s*1000) / 1000
}
