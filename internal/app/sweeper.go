package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cagopat/grayscaleToRgb/internal/domain"
)

// Sweeper periodically removes expired artifacts from the result store.
// Expired entries are already invisible to reads; the sweep reclaims the
// space they occupy.
type Sweeper struct {
	store    domain.ResultStore
	clock    clockwork.Clock
	interval time.Duration
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(store domain.ResultStore, clock clockwork.Clock, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, clock: clock, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping on every tick. A failed pass
// is logged and the loop carries on; the next tick retries.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Artifact sweeper started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Artifact sweeper stopped")
			return
		case <-ticker.Chan():
			deleted, err := s.store.Sweep(ctx)
			if err != nil {
				slog.Error("Artifact sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				slog.Info("Artifact sweep completed", "deleted", deleted)
			}
		}
	}
}
