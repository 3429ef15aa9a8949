// Package sweeper expires due consents in the background.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"authconsent/internal/consent/store"
)

// Sweeper periodically marks due PENDING_SCA and GRANTED consents EXPIRED.
// Each pass is one bulk conditional update, so any number of instances can
// sweep concurrently without double-expiring anything.
type Sweeper struct {
	store    store.Store
	interval time.Duration
	logger   *slog.Logger
}

// New constructs a sweeper with the given pass interval.
func New(store store.Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.store.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
		}
		return
	}
	if expired > 0 {
		s.logger.InfoContext(ctx, "expired due consents", "count", expired)
	}
}
