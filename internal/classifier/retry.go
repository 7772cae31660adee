package classifier

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kalambet/skymood/internal/post"
)

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ClockSleep returns a SleepFunc that waits on clock.
func ClockSleep(clock clockwork.Clock) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}
		t := clock.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Chan():
			return nil
		}
	}
}

// RetryPolicy controls how a single batch call is retried.
type RetryPolicy struct {
	MaxAttempts      int
	TransientBackoff time.Duration
	WarmupBackoff    time.Duration
	Fallback         Prediction
	Sleep            SleepFunc
}

// DefaultRetryPolicy returns three attempts, a 5s pause after ordinary
// failures, a 20s pause while the model warms up, and a Neutral/0.5 fallback.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      3,
		TransientBackoff: 5 * time.Second,
		WarmupBackoff:    20 * time.Second,
		Fallback:         Prediction{Label: post.Neutral, Score: 0.5},
		Sleep:            ClockSleep(clockwork.NewRealClock()),
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Fallback.Label == "" {
		p.Fallback = d.Fallback
	}
	if p.Sleep == nil {
		p.Sleep = d.Sleep
	}
	return p
}
