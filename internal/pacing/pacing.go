// Package pacing provides context-aware waits and random delays used to
// space out upstream requests.
package pacing

import (
	"context"
	"math/rand/v2"
	"time"
)

// Sleeper waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when the wait was cut short.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Between returns a uniformly random duration in [lo, hi].
// It returns lo when hi <= lo.
func Between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1) //nolint:gosec // pacing jitter, not security sensitive
}

// Recorder is a Sleeper for tests. It records requested durations and never blocks.
type Recorder struct {
	Calls []time.Duration
}

// Sleep implements Sleeper.
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.Calls = append(r.Calls, d)
	return ctx.Err()
}

// Total returns the sum of every recorded duration.
func (r *Recorder) Total() time.Duration {
	var total time.Duration
	for _, d := range r.Calls {
		total += d
	}
	return total
}
