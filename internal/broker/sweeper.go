package broker

import (
	"context"
	"log/slog"
	"time"
)

// Sweepable is swept by a Sweeper. *Broker implements it, and so do wrappers
// that keep their own expiring state next to the broker's.
type Sweepable interface {
	Sweep(ctx context.Context) int
}

// Sweeper removes expired entries on a fixed interval. It complements the
// request-triggered sweep and is only needed when requests are rare.
type Sweeper struct {
	target   Sweepable
	interval time.Duration
}

// NewSweeper creates a Sweeper for target.
func NewSweeper(target Sweepable, interval time.Duration) *Sweeper {
	return &Sweeper{
		target:   target,
		interval: interval,
	}
}

// Run sweeps every interval until ctx is done. It always returns nil so it can
// sit in an errgroup without cancelling its siblings on shutdown.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return nil
	}

	slog.InfoContext(ctx, "starting background sweeper", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.target.Sweep(ctx)
		case <-ctx.Done():
			slog.DebugContext(ctx, "background sweeper stopped")
			return nil
		}
	}
}
