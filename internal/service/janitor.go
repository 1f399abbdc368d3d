package service

import (
	"context"
	"time"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

// RateCounterCleaner removes rate-limit counter rows for windows that have
// closed. Implemented by the rate counter repository.
type RateCounterCleaner interface {
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

// Janitor is the periodic sweep: stale running runs (a crashed worker never
// finalized them) are reclassified to error so they stop blocking the
// in-flight idempotency check, and expired rate counter windows are purged.
type Janitor struct {
	runRepo       domain.RunRepository
	rateCleaner   RateCounterCleaner
	interval      time.Duration
	staleWindow   time.Duration
	counterMaxAge time.Duration
	logger        logger.Logger
}

// NewJanitor creates a new janitor
func NewJanitor(runRepo domain.RunRepository, rateCleaner RateCounterCleaner, interval, staleWindow time.Duration, log logger.Logger) *Janitor {
	return &Janitor{
		runRepo:       runRepo,
		rateCleaner:   rateCleaner,
		interval:      interval,
		staleWindow:   staleWindow,
		counterMaxAge: 24 * time.Hour,
		logger:        log,
	}
}

// Run ticks until the context is cancelled
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.WithFields(map[string]interface{}{
		"interval":     j.interval.String(),
		"stale_window": j.staleWindow.String(),
	}).Info("Janitor started")

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Janitor stopped")
			return ctx.Err()
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep performs one pass
func (j *Janitor) Sweep(ctx context.Context) {
	reclassified, err := j.runRepo.ReclassifyStaleRuns(ctx, time.Now().UTC().Add(-j.staleWindow))
	if err != nil {
		j.logger.WithField("error", err.Error()).Error("Failed to reclassify stale runs")
	} else if reclassified > 0 {
		j.logger.WithField("count", reclassified).Warn("Reclassified stale running runs to error")
	}

	if j.rateCleaner == nil {
		return
	}

	purged, err := j.rateCleaner.DeleteExpired(ctx, time.Now().UTC().Add(-j.counterMaxAge))
	if err != nil {
		j.logger.WithField("error", err.Error()).Error("Failed to purge expired rate counters")
	} else if purged > 0 {
		j.logger.WithField("count", purged).Debug("Purged expired rate counters")
	}
}
