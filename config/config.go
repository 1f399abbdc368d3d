package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const VERSION = "1.0"

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Engine      EngineConfig
	RateLimits  RateLimitConfig
	SMTP        SMTPConfig
	Environment string
	LogLevel    string
	Version     string
}

type ServerConfig struct {
	Port int
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// EngineConfig holds the automation engine tuning knobs.
type EngineConfig struct {
	// Running runs older than this with no pending delay are reclassified
	// as errors by the janitor.
	StaleRunWindow    time.Duration
	JanitorInterval   time.Duration
	SchedulerInterval time.Duration
	SchedulerBatch    int
	GoalStopCap       int

	// When true, a rate limiter backend failure lets the action through
	// instead of skipping it.
	RateLimiterFailOpen bool
}

// RateLimitConfig caps externally visible actions per workspace, per minute.
// A zero value leaves the channel unlimited.
type RateLimitConfig struct {
	SMSPerMinute     int
	EmailPerMinute   int
	WebhookPerMinute int
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// LoadOptions contains options for loading configuration
type LoadOptions struct {
	EnvFile string // Optional environment file to load (e.g., ".env", ".env.test")
}

// Load loads the configuration with default options
func Load() (*Config, error) {
	// Try to load .env file but don't require it
	return LoadWithOptions(LoadOptions{EnvFile: ".env"})
}

// LoadWithOptions loads the configuration with the specified options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "runline")
	v.SetDefault("DB_SSLMODE", "require")
	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("VERSION", VERSION)

	// Engine defaults
	v.SetDefault("ENGINE_STALE_RUN_WINDOW", "15m")
	v.SetDefault("ENGINE_JANITOR_INTERVAL", "5m")
	v.SetDefault("ENGINE_SCHEDULER_INTERVAL", "30s")
	v.SetDefault("ENGINE_SCHEDULER_BATCH", 100)
	v.SetDefault("ENGINE_GOAL_STOP_CAP", 5)
	v.SetDefault("ENGINE_RATE_LIMITER_FAIL_OPEN", false)

	// SMTP defaults
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_FROM_NAME", "Runline")

	// Rate limit defaults, per workspace per minute
	v.SetDefault("RATE_LIMIT_SMS_PER_MINUTE", 60)
	v.SetDefault("RATE_LIMIT_EMAIL_PER_MINUTE", 120)
	v.SetDefault("RATE_LIMIT_WEBHOOK_PER_MINUTE", 300)

	// Load environment file if specified
	if opts.EnvFile != "" {
		v.SetConfigName(opts.EnvFile)
		v.SetConfigType("env")

		currentPath, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("error getting current directory: %w", err)
		}

		v.AddConfigPath(currentPath)

		if err := v.ReadInConfig(); err != nil {
			// It's okay if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	// Read environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	config := &Config{
		Server: ServerConfig{
			Port: v.GetInt("SERVER_PORT"),
			Host: v.GetString("SERVER_HOST"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Engine: EngineConfig{
			StaleRunWindow:      v.GetDuration("ENGINE_STALE_RUN_WINDOW"),
			JanitorInterval:     v.GetDuration("ENGINE_JANITOR_INTERVAL"),
			SchedulerInterval:   v.GetDuration("ENGINE_SCHEDULER_INTERVAL"),
			SchedulerBatch:      v.GetInt("ENGINE_SCHEDULER_BATCH"),
			GoalStopCap:         v.GetInt("ENGINE_GOAL_STOP_CAP"),
			RateLimiterFailOpen: v.GetBool("ENGINE_RATE_LIMITER_FAIL_OPEN"),
		},
		RateLimits: RateLimitConfig{
			SMSPerMinute:     v.GetInt("RATE_LIMIT_SMS_PER_MINUTE"),
			EmailPerMinute:   v.GetInt("RATE_LIMIT_EMAIL_PER_MINUTE"),
			WebhookPerMinute: v.GetInt("RATE_LIMIT_WEBHOOK_PER_MINUTE"),
		},
		SMTP: SMTPConfig{
			Host:      v.GetString("SMTP_HOST"),
			Port:      v.GetInt("SMTP_PORT"),
			Username:  v.GetString("SMTP_USERNAME"),
			Password:  v.GetString("SMTP_PASSWORD"),
			FromEmail: v.GetString("SMTP_FROM_EMAIL"),
			FromName:  v.GetString("SMTP_FROM_NAME"),
		},
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		Version:     v.GetString("VERSION"),
	}

	if config.Engine.StaleRunWindow <= 0 {
		return nil, fmt.Errorf("ENGINE_STALE_RUN_WINDOW must be positive")
	}
	if config.Engine.GoalStopCap < 1 {
		return nil, fmt.Errorf("ENGINE_GOAL_STOP_CAP must be at least 1")
	}

	return config, nil
}

// DSN returns the PostgreSQL connection string for the configured database.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
