package booking

import (
	"context"
	"log/slog"
	"time"
)

const sweepBatchSize = 100

// Sweeper periodically expires bookings whose payment window elapsed
// without either confirmation channel settling them. The lazy expiry in
// the poll path handles bookings someone is watching; the sweeper
// catches the abandoned ones.
type Sweeper struct {
	repo       RepositoryAPI
	reconciler *Reconciler
	interval   time.Duration
	logger     *slog.Logger
}

func NewSweeper(repo RepositoryAPI, reconciler *Reconciler, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		repo:       repo,
		reconciler: reconciler,
		interval:   interval,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce expires one batch of due bookings and reports how many were
// actually transitioned.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	due, err := s.repo.DuePaymentExpiries(time.Now(), sweepBatchSize)
	if err != nil {
		s.logger.Error("expiry sweep query failed", "error", err)
		return 0
	}

	expired := 0
	for _, b := range due {
		applied, err := s.reconciler.ExpireBooking(ctx, b.ID)
		if err != nil {
			s.logger.Error("expiry failed", "booking_id", b.ID, "error", err)
			continue
		}
		if applied {
			expired++
		}
	}
	if expired > 0 {
		s.logger.Info("expiry sweep complete", "expired", expired, "scanned", len(due))
	}
	return expired
}
