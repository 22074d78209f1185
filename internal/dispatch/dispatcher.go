// Package dispatch bounds the number of simultaneous calls into the remote
// colorization service. The pool is the single shared resource across all
// identities and the system's designated backpressure point: demand beyond
// the pool waits in a bounded queue, and demand beyond the queue is rejected
// immediately so callers get an explicit signal instead of unbounded tail
// latency.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/cagopat/grayscaleToRgb/internal/domain"
	"github.com/cagopat/grayscaleToRgb/internal/metrics"
	"github.com/cagopat/grayscaleToRgb/internal/platform/retry"
)

// Processor is the inference adapter the dispatcher drives. Satisfied by
// *colorizer.Client.
type Processor interface {
	Process(ctx context.Context, image []byte) ([]byte, error)
}

// Options configure the pool geometry and the retry policy applied inside a
// slot.
type Options struct {
	// PoolSize is the number of simultaneous outstanding inference calls.
	PoolSize int
	// QueueDepth is how many jobs may wait for a slot before submissions
	// are rejected with domain.ErrCapacity.
	QueueDepth int
	// Retries is the number of additional attempts after a transient
	// failure. Validation-class errors are never retried.
	Retries int
}

// Dispatcher owns a job from submission until a terminal outcome. Two
// counting semaphores implement the geometry: admission to the queue is
// non-blocking (full queue fails fast), acquiring a slot blocks until a slot
// frees or the caller's context ends.
type Dispatcher struct {
	processor Processor
	classify  retry.Classify
	policy    retry.Policy

	// queue admits at most PoolSize+QueueDepth jobs past Submit.
	queue chan struct{}
	// slots caps in-flight calls at PoolSize.
	slots chan struct{}
}

// New creates a dispatcher around the given processor.
func New(processor Processor, classify retry.Classify, opts Options) *Dispatcher {
	return &Dispatcher{
		processor: processor,
		classify:  classify,
		policy: retry.Policy{
			MaxAttempts:      opts.Retries + 1,
			InitialBackoff:   500 * time.Millisecond,
			RateLimitBackoff: 5 * time.Second,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				metrics.InferenceRetries.Inc()
				slog.Warn("Retrying inference call", "attempt", attempt, "backoff", backoff, "error", err)
			},
		},
		queue: make(chan struct{}, opts.PoolSize+opts.QueueDepth),
		slots: make(chan struct{}, opts.PoolSize),
	}
}

// Submit runs one admitted file through the inference service and returns
// the colorized bytes. Failure outcomes are
// domain.ErrCapacity when pool and queue are full, the context error when
// the caller gives up, or the (possibly permanent-wrapped) adapter error.
//
// The job occupies exactly one slot for its full round trip including
// retries, and the slot is released exactly once on every path.
func (d *Dispatcher) Submit(ctx context.Context, image []byte) ([]byte, error) {
	select {
	case d.queue <- struct{}{}:
	default:
		metrics.DispatchRejected.Inc()
		return nil, domain.ErrCapacity
	}
	metrics.DispatchQueued.Inc()
	defer func() {
		<-d.queue
		metrics.DispatchQueued.Dec()
	}()

	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		// Caller aborted while queued; nothing to release but the queue
		// token handled above.
		return nil, ctx.Err()
	}
	metrics.DispatchInflight.Inc()
	defer func() {
		<-d.slots
		metrics.DispatchInflight.Dec()
	}()

	return retry.Do(ctx, d.policy, d.classify, func() ([]byte, error) {
		return d.processor.Process(ctx, image)
	})
}
