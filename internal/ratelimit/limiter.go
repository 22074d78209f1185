// Package ratelimit implements fixed-window admission counting per identity
// key, backed by a shared atomic counter store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cagopat/grayscaleToRgb/internal/domain"
)

const dayWindow = 24 * time.Hour

// CounterStore is the shared counter backend. IncrWindows must add cost to
// both window counters atomically with respect to concurrent calls for the
// same key: two racing requests must never both observe the pre-increment
// count. Counters expire on their own after their TTL.
type CounterStore interface {
	IncrWindows(ctx context.Context, windowKey, dayKey string, cost int64, windowTTL, dayTTL time.Duration) (window, day int64, err error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Remaining counts admissions left in the tighter of the two windows.
	Remaining int64
	// RetryAfter is the time until the exhausted window expires. Zero when
	// allowed.
	RetryAfter time.Duration
}

// Limiter enforces a per-window request ceiling and a per-day file quota for
// each identity key.
//
// Windows are wall-clock aligned buckets (now / window); a window "resets"
// by rolling over to the next bucket. Over-limit increments are retained in
// the store and compared against the ceiling on read, which keeps the store
// operation a single one-way increment and makes repeated rejected probes
// cheap.
//
// If the counter store is unreachable the limiter fails closed: the request
// is rejected with domain.ErrLimiterUnavailable rather than admitted
// unchecked, protecting downstream inference capacity.
type Limiter struct {
	store     CounterStore
	clock     clockwork.Clock
	window    time.Duration
	maxWindow int64
	maxDay    int64
}

// NewLimiter creates a limiter. window is the rolling request window
// (typically one minute), maxWindow the admissions allowed inside it, and
// maxDay the daily file quota.
func NewLimiter(store CounterStore, clock clockwork.Clock, window time.Duration, maxWindow, maxDay int) *Limiter {
	// Buckets are second-granular; a finer window would divide by zero.
	if window < time.Second {
		window = time.Second
	}
	return &Limiter{
		store:     store,
		clock:     clock,
		window:    window,
		maxWindow: int64(maxWindow),
		maxDay:    int64(maxDay),
	}
}

// Allow atomically consumes cost admissions for key and reports whether the
// request stays inside both windows.
func (l *Limiter) Allow(ctx context.Context, key string, cost int) (Decision, error) {
	now := l.clock.Now()
	windowSecs := int64(l.window / time.Second)
	windowBucket := now.Unix() / windowSecs
	dayBucket := now.Unix() / int64(dayWindow/time.Second)

	windowKey := fmt.Sprintf("rl:%s:m:%d", key, windowBucket)
	dayKey := fmt.Sprintf("rl:%s:d:%d", key, dayBucket)

	// Keep two windows around so a request straddling the bucket edge still
	// sees its own increment.
	windowCount, dayCount, err := l.store.IncrWindows(ctx, windowKey, dayKey, int64(cost), 2*l.window, dayWindow+10*time.Minute)
	if err != nil {
		return Decision{Allowed: false}, fmt.Errorf("%w: %v", domain.ErrLimiterUnavailable, err)
	}

	if windowCount > l.maxWindow {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: l.untilBucketEdge(now, l.window),
		}, nil
	}
	if dayCount > l.maxDay {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: l.untilBucketEdge(now, dayWindow),
		}, nil
	}

	remaining := l.maxWindow - windowCount
	if dayRemaining := l.maxDay - dayCount; dayRemaining < remaining {
		remaining = dayRemaining
	}

	return Decision{Allowed: true, Remaining: remaining}, nil
}

func (l *Limiter) untilBucketEdge(now time.Time, window time.Duration) time.Duration {
	windowSecs := int64(window / time.Second)
	elapsed := now.Unix() % windowSecs
	return time.Duration(windowSecs-elapsed) * time.Second
}
