package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"media_syncer/internal/domain"
)

// Syncer defines the interface for sync operations.
type Syncer interface {
	Sync(ctx context.Context) (*domain.SyncStats, error)
}

type Scheduler struct {
	syncer   Syncer
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(syncer Syncer, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:   syncer,
		interval: interval,
		logger:   logger,
	}
}

// Start runs a sync immediately and then on every tick until ctx is done.
// Ticks are skipped while another sync holds the lock.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runSync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSync(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	_, err := s.syncer.Sync(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSyncRunning):
		s.logger.Info("sync already running, skipping tick")
	case errors.Is(err, context.Canceled):
		s.logger.Debug("sync interrupted by shutdown")
	default:
		s.logger.Error("sync failed", "error", err)
	}
}
