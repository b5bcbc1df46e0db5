// Package sweeper periodically removes refresh token records
// that outlived the refresh token lifetime.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/nkiryanov/jwtrefresh/internal/logger"
)

const defaultInterval = time.Hour

type ledger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Sweeper struct {
	// Records older than maxAge are removed
	maxAge   time.Duration
	interval time.Duration

	ledger ledger
	logger logger.Logger
	now    func() time.Time
}

func New(l ledger, maxAge time.Duration, interval time.Duration, log logger.Logger) (*Sweeper, error) {
	if maxAge <= 0 {
		return nil, errors.New("max age must be positive")
	}
	if interval == 0 {
		interval = defaultInterval
	}
	if interval < 0 {
		return nil, errors.New("interval must not be negative")
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Sweeper{
		maxAge:   maxAge,
		interval: interval,
		ledger:   l,
		logger:   log,
		now:      time.Now,
	}, nil
}

// Remove expired records once
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	return s.ledger.DeleteExpired(ctx, s.now().Add(-s.maxAge))
}

// Sweep on every tick until context is cancelled
// Returned channel is closed when sweeper stopped
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting sweeper", "interval", s.interval, "max_age", s.maxAge)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				deleted, err := s.Sweep(ctx)
				if err != nil {
					s.logger.Error("Failed to delete expired refresh tokens", "error", err)
					continue
				}
				if deleted > 0 {
					s.logger.Info("Expired refresh tokens deleted", "count", deleted)
				}
			}
		}
	}()

	return idleStopped
}
