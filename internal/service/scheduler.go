package service

import (
	"context"
	"time"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

const defaultResumeBatchSize = 100

// DelayScheduler resumes runs suspended by a time_delay step once their
// scheduled_at elapses. One scheduler per process; batches execute
// sequentially within a tick so a run is never resumed twice concurrently.
type DelayScheduler struct {
	runRepo      domain.RunRepository
	orchestrator *RunOrchestrator
	interval     time.Duration
	batchSize    int
	logger       logger.Logger
}

// NewDelayScheduler creates a new delay scheduler
func NewDelayScheduler(runRepo domain.RunRepository, orchestrator *RunOrchestrator, interval time.Duration, batchSize int, log logger.Logger) *DelayScheduler {
	if batchSize <= 0 {
		batchSize = defaultResumeBatchSize
	}
	return &DelayScheduler{
		runRepo:      runRepo,
		orchestrator: orchestrator,
		interval:     interval,
		batchSize:    batchSize,
		logger:       log,
	}
}

// Run ticks until the context is cancelled
func (s *DelayScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("Delay scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Delay scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.ProcessDueRuns(ctx)
		}
	}
}

// ProcessDueRuns resumes one batch of elapsed runs
func (s *DelayScheduler) ProcessDueRuns(ctx context.Context) {
	runs, err := s.runRepo.GetResumable(ctx, time.Now().UTC(), s.batchSize)
	if err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to fetch resumable runs")
		return
	}
	if len(runs) == 0 {
		return
	}

	s.logger.WithField("count", len(runs)).Info("Resuming suspended runs")

	for _, run := range runs {
		if ctx.Err() != nil {
			return
		}
		s.orchestrator.ResumeRun(ctx, run)
	}
}
