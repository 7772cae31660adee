package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"github.com/kalambet/skymood/internal/post"
)

// Default length bounds, exclusive on both ends.
const (
	DefaultMinTextLen = 20
	DefaultMaxTextLen = 500
)

// Source is the post transport.
type Source interface {
	ListPosts(ctx context.Context, handle string, limit int) ([]post.Raw, error)
	SearchPosts(ctx context.Context, query string, limit int) ([]post.Raw, error)
}

// Config describes what to collect. It is not modified after New.
type Config struct {
	Accounts       []string
	Keywords       []string
	KeywordLimit   int
	PostsPerSource int
	Delay          time.Duration
	MinTextLen     int
	MaxTextLen     int
}

// Stats counts collection outcomes across all sources.
type Stats struct {
	Sources       int
	FailedSources int
	Fetched       int
	OutOfRange    int
}

// Collector gathers candidate posts from every configured source in turn.
type Collector struct {
	source Source
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) error
	clock  clockwork.Clock
}

// Option customizes a Collector.
type Option func(*Collector)

// WithSleep replaces the pause between source calls.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Collector) { c.sleep = fn }
}

// WithClock replaces the clock used for default timestamps and pauses.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Collector) { c.clock = clock }
}

// New creates a Collector. Zero text bounds fall back to the defaults.
func New(source Source, cfg Config, opts ...Option) *Collector {
	if cfg.MinTextLen <= 0 {
		cfg.MinTextLen = DefaultMinTextLen
	}
	if cfg.MaxTextLen <= 0 {
		cfg.MaxTextLen = DefaultMaxTextLen
	}
	cfg.Accounts = append([]string(nil), cfg.Accounts...)
	cfg.Keywords = append([]string(nil), cfg.Keywords...)

	c := &Collector{source: source, cfg: cfg, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(c)
	}
	if c.sleep == nil {
		c.sleep = c.clockSleep
	}
	return c
}

// Collect fetches every account, then the first KeywordLimit keyword queries.
// A failing source contributes nothing. The only error returned is context
// cancellation.
func (c *Collector) Collect(ctx context.Context) ([]post.Raw, Stats, error) {
	var (
		out   []post.Raw
		stats Stats
	)
	collectedAt := c.clock.Now().UTC().Format(time.RFC3339)

	fetch := func(kind, name string, call func() ([]post.Raw, error)) error {
		stats.Sources++
		posts, err := call()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.FailedSources++
			slog.Warn("collector: source failed", "kind", kind, "source", name, "error", err)
		} else {
			stats.Fetched += len(posts)
			for _, p := range posts {
				if !c.inRange(p.Text) {
					stats.OutOfRange++
					continue
				}
				if p.Timestamp == "" {
					p.Timestamp = collectedAt
				}
				out = append(out, p)
			}
			slog.Debug("collector: source done", "kind", kind, "source", name, "posts", len(posts))
		}
		if err := c.sleep(ctx, c.cfg.Delay); err != nil {
			return err
		}
		return nil
	}

	for _, handle := range c.cfg.Accounts {
		err := fetch("account", handle, func() ([]post.Raw, error) {
			return c.source.ListPosts(ctx, handle, c.cfg.PostsPerSource)
		})
		if err != nil {
			return nil, stats, fmt.Errorf("collecting %s: %w", handle, err)
		}
	}

	for _, q := range c.queries() {
		err := fetch("keyword", q, func() ([]post.Raw, error) {
			return c.source.SearchPosts(ctx, q, c.cfg.PostsPerSource)
		})
		if err != nil {
			return nil, stats, fmt.Errorf("searching %q: %w", q, err)
		}
	}

	return out, stats, nil
}

func (c *Collector) queries() []string {
	n := c.cfg.KeywordLimit
	if n < 0 || n > len(c.cfg.Keywords) {
		n = len(c.cfg.Keywords)
	}
	return c.cfg.Keywords[:n]
}

func (c *Collector) inRange(text string) bool {
	n := utf8.RuneCountInString(text)
	return n > c.cfg.MinTextLen && n < c.cfg.MaxTextLen
}

func (c *Collector) clockSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := c.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}
