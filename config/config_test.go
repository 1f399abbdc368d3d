package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDevelopment(t *testing.T) {
	// Test development environment
	cfg := &Config{
		Environment: "development",
	}
	assert.True(t, cfg.IsDevelopment())

	// Test production environment
	cfg = &Config{
		Environment: "production",
	}
	assert.False(t, cfg.IsDevelopment())

	// Test staging environment
	cfg = &Config{
		Environment: "staging",
	}
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadWithOptions(t *testing.T) {
	// Set environment variables for the test
	os.Setenv("SERVER_PORT", "9000")
	os.Setenv("SERVER_HOST", "127.0.0.1")
	os.Setenv("DB_HOST", "testhost")
	os.Setenv("DB_PORT", "5432")
	os.Setenv("DB_USER", "testuser")
	os.Setenv("DB_PASSWORD", "testpass")
	os.Setenv("DB_NAME", "runline_test")
	os.Setenv("ENVIRONMENT", "development")
	os.Setenv("ENGINE_STALE_RUN_WINDOW", "20m")
	os.Setenv("ENGINE_GOAL_STOP_CAP", "3")
	os.Setenv("RATE_LIMIT_SMS_PER_MINUTE", "10")

	// Clean up after the test
	defer func() {
		os.Unsetenv("SERVER_PORT")
		os.Unsetenv("SERVER_HOST")
		os.Unsetenv("DB_HOST")
		os.Unsetenv("DB_PORT")
		os.Unsetenv("DB_USER")
		os.Unsetenv("DB_PASSWORD")
		os.Unsetenv("DB_NAME")
		os.Unsetenv("ENVIRONMENT")
		os.Unsetenv("ENGINE_STALE_RUN_WINDOW")
		os.Unsetenv("ENGINE_GOAL_STOP_CAP")
		os.Unsetenv("RATE_LIMIT_SMS_PER_MINUTE")
	}()

	// Load config with env vars
	cfg, err := LoadWithOptions(LoadOptions{
		// Don't specify EnvFile to force it to use environment variables
	})
	require.NoError(t, err)

	// Verify loaded config values
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "testhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "testuser", cfg.Database.User)
	assert.Equal(t, "testpass", cfg.Database.Password)
	assert.Equal(t, "runline_test", cfg.Database.DBName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 20*time.Minute, cfg.Engine.StaleRunWindow)
	assert.Equal(t, 3, cfg.Engine.GoalStopCap)
	assert.Equal(t, 10, cfg.RateLimits.SMSPerMinute)

	// Test development environment flag
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithOptions(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Engine.StaleRunWindow)
	assert.Equal(t, 5*time.Minute, cfg.Engine.JanitorInterval)
	assert.Equal(t, 30*time.Second, cfg.Engine.SchedulerInterval)
	assert.Equal(t, 100, cfg.Engine.SchedulerBatch)
	assert.Equal(t, 5, cfg.Engine.GoalStopCap)
	assert.False(t, cfg.Engine.RateLimiterFailOpen)
	assert.Equal(t, 60, cfg.RateLimits.SMSPerMinute)
	assert.Equal(t, 120, cfg.RateLimits.EmailPerMinute)
	assert.Equal(t, 300, cfg.RateLimits.WebhookPerMinute)
}

func TestLoadRejectsInvalidEngineValues(t *testing.T) {
	t.Run("non_positive_stale_window", func(t *testing.T) {
		os.Setenv("ENGINE_STALE_RUN_WINDOW", "0s")
		defer os.Unsetenv("ENGINE_STALE_RUN_WINDOW")

		_, err := LoadWithOptions(LoadOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ENGINE_STALE_RUN_WINDOW")
	})

	t.Run("zero_goal_stop_cap", func(t *testing.T) {
		os.Setenv("ENGINE_GOAL_STOP_CAP", "0")
		defer os.Unsetenv("ENGINE_GOAL_STOP_CAP")

		_, err := LoadWithOptions(LoadOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ENGINE_GOAL_STOP_CAP")
	})
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "app",
		Password: "secret",
		DBName:   "runline",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=app password=secret dbname=runline sslmode=disable",
		db.DSN())
}
