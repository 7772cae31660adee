package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunMetrics holds pipeline counters.
type RunMetrics struct {
	Runs            *prometheus.CounterVec
	PostsCollected  prometheus.Counter
	PostsFresh      prometheus.Counter
	FailedSources   prometheus.Counter
	FallbackBatches prometheus.Counter
	RetainedPosts   prometheus.Gauge
	RunDuration     prometheus.Histogram
	LastSuccess     prometheus.Gauge
}

// NewRunMetrics creates and registers pipeline metrics on reg.
func NewRunMetrics(reg prometheus.Registerer) *RunMetrics {
	m := &RunMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs, by outcome.",
		}, []string{"outcome"}),
		PostsCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_collected_total",
			Help:      "Candidate posts returned by all sources.",
		}),
		PostsFresh: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_fresh_total",
			Help:      "Posts that passed deduplication and were classified.",
		}),
		FailedSources: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Account or keyword fetches that failed and were skipped.",
		}),
		FallbackBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "fallback_batches_total",
			Help:      "Batches that exhausted retries and got the fallback prediction.",
		}),
		RetainedPosts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retained_posts",
			Help:      "Posts in the state file after the last run.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that did not fail.",
		}),
	}

	reg.MustRegister(m.Runs, m.PostsCollected, m.PostsFresh, m.FailedSources,
		m.FallbackBatches, m.RetainedPosts, m.RunDuration, m.LastSuccess)
	return m
}

// RunSummary is the subset of a run result the metrics need.
type RunSummary struct {
	Outcome         string
	Failed          bool
	Collected       int
	Fresh           int
	FailedSources   int
	FallbackBatches int
	TotalPosts      int
	Duration        time.Duration
	FinishedAt      time.Time
}

// Observe records one finished run.
func (m *RunMetrics) Observe(s RunSummary) {
	m.Runs.WithLabelValues(s.Outcome).Inc()
	m.PostsCollected.Add(float64(s.Collected))
	m.PostsFresh.Add(float64(s.Fresh))
	m.FailedSources.Add(float64(s.FailedSources))
	m.FallbackBatches.Add(float64(s.FallbackBatches))
	m.RunDuration.Observe(s.Duration.Seconds())
	if !s.Failed {
		m.RetainedPosts.Set(float64(s.TotalPosts))
		m.LastSuccess.Set(float64(s.FinishedAt.Unix()))
	}
}
