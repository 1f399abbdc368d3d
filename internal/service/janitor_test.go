package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Runline/runline/pkg/logger"
)

type mockRateCounterCleaner struct {
	mock.Mock
}

func (m *mockRateCounterCleaner) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func TestJanitor_Sweep(t *testing.T) {
	t.Run("reclassifies stale runs and purges counters", func(t *testing.T) {
		runRepo := new(MockRunRepository)
		cleaner := new(mockRateCounterCleaner)

		staleWindow := 15 * time.Minute
		var gotCutoff time.Time
		runRepo.On("ReclassifyStaleRuns", mock.Anything, mock.Anything).Return(int64(3), nil).
			Run(func(args mock.Arguments) { gotCutoff = args.Get(1).(time.Time) }).Once()
		cleaner.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(10), nil).Once()

		j := NewJanitor(runRepo, cleaner, time.Minute, staleWindow, logger.NewMockLogger(t))
		j.Sweep(context.Background())

		assert.WithinDuration(t, time.Now().UTC().Add(-staleWindow), gotCutoff, 5*time.Second)
		runRepo.AssertExpectations(t)
		cleaner.AssertExpectations(t)
	})

	t.Run("reclassify failure does not stop the counter purge", func(t *testing.T) {
		runRepo := new(MockRunRepository)
		cleaner := new(mockRateCounterCleaner)

		runRepo.On("ReclassifyStaleRuns", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down")).Once()
		cleaner.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(0), nil).Once()

		j := NewJanitor(runRepo, cleaner, time.Minute, 15*time.Minute, logger.NewMockLogger(t))
		j.Sweep(context.Background())

		cleaner.AssertExpectations(t)
	})

	t.Run("nil cleaner is tolerated", func(t *testing.T) {
		runRepo := new(MockRunRepository)
		runRepo.On("ReclassifyStaleRuns", mock.Anything, mock.Anything).Return(int64(0), nil).Once()

		j := NewJanitor(runRepo, nil, time.Minute, 15*time.Minute, logger.NewMockLogger(t))
		j.Sweep(context.Background())

		runRepo.AssertExpectations(t)
	})
}

func TestJanitor_RunStopsOnCancel(t *testing.T) {
	runRepo := new(MockRunRepository)
	j := NewJanitor(runRepo, nil, time.Hour, 15*time.Minute, logger.NewMockLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
