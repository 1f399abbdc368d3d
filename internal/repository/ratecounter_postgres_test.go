package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Runline/runline/internal/repository/testutil"
)

func TestRateCounterIncrement(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewRateCounterRepository(db)
	window := time.Now().UTC().Truncate(time.Minute)

	// Under the limit: the upsert lands and one row is affected
	mock.ExpectExec(`INSERT INTO rate_counters`).
		WithArgs("ws-1", "sms", window, 60).
		WillReturnResult(sqlmock.NewResult(1, 1))

	allowed, err := repo.Increment(context.Background(), "ws-1", "sms", window, 60)
	require.NoError(t, err)
	assert.True(t, allowed)

	// At the limit: the conditional update refuses the bump
	mock.ExpectExec(`INSERT INTO rate_counters`).
		WithArgs("ws-1", "sms", window, 60).
		WillReturnResult(sqlmock.NewResult(0, 0))

	allowed, err = repo.Increment(context.Background(), "ws-1", "sms", window, 60)
	require.NoError(t, err)
	assert.False(t, allowed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateCounterIncrementError(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewRateCounterRepository(db)

	mock.ExpectExec(`INSERT INTO rate_counters`).
		WillReturnError(errors.New("connection refused"))

	_, err := repo.Increment(context.Background(), "ws-1", "email", time.Now(), 120)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to increment rate counter")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateCounterDeleteExpired(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewRateCounterRepository(db)
	cutoff := time.Now().UTC().Add(-time.Hour)

	mock.ExpectExec(`DELETE FROM rate_counters WHERE window_start`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := repo.DeleteExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)

	assert.NoError(t, mock.ExpectationsWereMet())
}
