package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Runline/runline/config"
	"github.com/Runline/runline/internal/database"
	"github.com/Runline/runline/internal/domain"
	httpHandler "github.com/Runline/runline/internal/http"
	"github.com/Runline/runline/internal/repository"
	"github.com/Runline/runline/internal/service"
	"github.com/Runline/runline/pkg/errorclass"
	"github.com/Runline/runline/pkg/logger"
	"github.com/Runline/runline/pkg/mailer"
	"github.com/Runline/runline/pkg/ratelimiter"
)

// AppInterface defines the interface for the App
type AppInterface interface {
	Initialize() error
	Start() error
	Shutdown(ctx context.Context) error

	// Getters for app components accessed in tests
	GetConfig() *config.Config
	GetLogger() logger.Logger
	GetMux() *http.ServeMux
	GetDB() *sql.DB

	// Methods for initialization steps
	InitDB() error
	InitRepositories() error
	InitServices() error
	InitHandlers() error
}

// App encapsulates the application dependencies and configuration
type App struct {
	config *config.Config
	logger logger.Logger
	db     *sql.DB
	mailer mailer.Mailer

	// Engine side effect providers, replaceable via options
	messageSender domain.MessageSender
	dataAccess    domain.DataAccess
	aiClient      domain.AIClient

	// Repositories
	automationRepo  domain.AutomationRepository
	runRepo         domain.RunRepository
	stepLogRepo     domain.StepLogRepository
	rateCounterRepo *repository.RateCounterRepository

	// Services
	automationService *service.AutomationService
	orchestrator      *service.RunOrchestrator
	scheduler         *service.DelayScheduler
	janitor           *service.Janitor

	// HTTP handlers
	mux    *http.ServeMux
	server *http.Server

	// Server synchronization
	serverMu sync.RWMutex

	// Background workers
	workersCancel context.CancelFunc
	workers       *errgroup.Group
}

// AppOption defines a functional option for configuring the App
type AppOption func(*App)

// WithMockDB configures the app to use a mock database
func WithMockDB(db *sql.DB) AppOption {
	return func(a *App) {
		a.db = db
	}
}

// WithLogger sets a custom logger
func WithLogger(logger logger.Logger) AppOption {
	return func(a *App) {
		a.logger = logger
	}
}

// WithMessageSender injects a real messaging provider (SMS, voice) instead of
// the built-in console transport.
func WithMessageSender(sender domain.MessageSender) AppOption {
	return func(a *App) {
		a.messageSender = sender
	}
}

// WithDataAccess injects the CRM record backend used by contact and deal
// actions.
func WithDataAccess(dataAccess domain.DataAccess) AppOption {
	return func(a *App) {
		a.dataAccess = dataAccess
	}
}

// WithAIClient injects the completion backend for ai_completion actions.
// Without it the action type stays unregistered and is skipped at runtime.
func WithAIClient(client domain.AIClient) AppOption {
	return func(a *App) {
		a.aiClient = client
	}
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config, opts ...AppOption) *App {
	app := &App{
		config: cfg,
		logger: logger.NewLoggerWithLevel(cfg.LogLevel),
		mux:    http.NewServeMux(),
	}

	// Apply options
	for _, opt := range opts {
		opt(app)
	}

	return app
}

// InitDB initializes the database connection
func (a *App) InitDB() error {
	// Skip if database already set (e.g., by mock)
	if a.db == nil {
		db, err := sql.Open("postgres", a.config.Database.DSN())
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		// Test database connection
		if err := db.Ping(); err != nil {
			db.Close()
			return fmt.Errorf("failed to ping database: %w", err)
		}

		// Set connection pool settings
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		a.db = db
	}

	// Initialize database schema if needed
	if err := database.InitializeDatabase(a.db); err != nil {
		a.db.Close()
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return nil
}

// InitRepositories initializes all repositories
func (a *App) InitRepositories() error {
	if a.db == nil {
		return fmt.Errorf("database must be initialized before repositories")
	}

	a.automationRepo = repository.NewAutomationRepository(a.db)
	a.runRepo = repository.NewRunRepository(a.db)
	a.stepLogRepo = repository.NewStepLogRepository(a.db)
	a.rateCounterRepo = repository.NewRateCounterRepository(a.db)

	return nil
}

// InitServices initializes all application services
func (a *App) InitServices() error {
	if a.mailer == nil {
		if a.config.IsDevelopment() {
			a.mailer = mailer.NewConsoleMailer()
			a.logger.Info("Using console mailer for development")
		} else {
			a.mailer = mailer.NewSMTPMailer(&mailer.Config{
				SMTPHost:     a.config.SMTP.Host,
				SMTPPort:     a.config.SMTP.Port,
				SMTPUsername: a.config.SMTP.Username,
				SMTPPassword: a.config.SMTP.Password,
				FromEmail:    a.config.SMTP.FromEmail,
				FromName:     a.config.SMTP.FromName,
			})
			a.logger.Info("Using SMTP mailer for production")
		}
	}

	if a.messageSender == nil {
		a.messageSender = newChannelMessageSender(a.mailer, a.logger)
	}
	if a.dataAccess == nil {
		a.dataAccess = newMemoryDataAccess()
		a.logger.Warn("No CRM backend injected, using in-memory record store")
	}

	a.automationService = service.NewAutomationService(a.automationRepo, a.logger)

	// Engine assembly
	classifier := errorclass.NewClassifier()
	policies := service.NewRetryPolicyTable(classifier)
	evaluator := service.NewConditionEvaluator(a.logger)
	retryExecutor := service.NewRetryExecutor(a.stepLogRepo, a.logger)
	dispatcher := service.NewActionDispatcher(a.messageSender, a.dataAccess, a.aiClient, a.logger)
	registry := service.NewTriggerRegistry(a.automationRepo, service.DefaultStarterTemplates(), a.logger)

	rateLimiter := ratelimiter.New(a.rateCounterRepo, a.config.Engine.RateLimiterFailOpen)
	if a.config.RateLimits.SMSPerMinute > 0 {
		rateLimiter.SetPolicy("sms", a.config.RateLimits.SMSPerMinute, time.Minute)
	}
	if a.config.RateLimits.EmailPerMinute > 0 {
		rateLimiter.SetPolicy("email", a.config.RateLimits.EmailPerMinute, time.Minute)
	}
	if a.config.RateLimits.WebhookPerMinute > 0 {
		rateLimiter.SetPolicy("webhook", a.config.RateLimits.WebhookPerMinute, time.Minute)
	}

	a.orchestrator = service.NewRunOrchestrator(
		registry,
		a.runRepo,
		a.stepLogRepo,
		a.automationRepo,
		dispatcher,
		retryExecutor,
		policies,
		evaluator,
		rateLimiter,
		a.config.Engine.GoalStopCap,
		a.logger,
	)

	a.scheduler = service.NewDelayScheduler(
		a.runRepo,
		a.orchestrator,
		a.config.Engine.SchedulerInterval,
		a.config.Engine.SchedulerBatch,
		a.logger,
	)

	a.janitor = service.NewJanitor(
		a.runRepo,
		a.rateCounterRepo,
		a.config.Engine.JanitorInterval,
		a.config.Engine.StaleRunWindow,
		a.logger,
	)

	return nil
}

// InitHandlers initializes all HTTP handlers and routes
func (a *App) InitHandlers() error {
	// Create a new ServeMux to avoid route conflicts on restart
	a.mux = http.NewServeMux()

	automationHandler := httpHandler.NewAutomationHandler(a.automationService, a.logger)
	triggerHandler := httpHandler.NewTriggerHandler(a.orchestrator, a.logger)
	runHandler := httpHandler.NewRunHandler(a.runRepo, a.stepLogRepo, a.logger)

	// Register routes
	automationHandler.RegisterRoutes(a.mux)
	triggerHandler.RegisterRoutes(a.mux)
	runHandler.RegisterRoutes(a.mux)

	return nil
}

// Initialize sets up all components of the application
func (a *App) Initialize() error {
	if err := a.InitDB(); err != nil {
		return err
	}

	if err := a.InitRepositories(); err != nil {
		return err
	}

	if err := a.InitServices(); err != nil {
		return err
	}

	if err := a.InitHandlers(); err != nil {
		return err
	}

	return nil
}

// Start launches the background workers and the HTTP server. It blocks until
// the server stops.
func (a *App) Start() error {
	// Background workers run until Shutdown cancels their context
	workersCtx, cancel := context.WithCancel(context.Background())
	a.workersCancel = cancel

	g, workersCtx := errgroup.WithContext(workersCtx)
	a.workers = g

	g.Go(func() error {
		return a.scheduler.Run(workersCtx)
	})
	g.Go(func() error {
		return a.janitor.Run(workersCtx)
	})

	addr := fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port)
	a.logger.WithField("address", addr).Info("Server starting")

	a.serverMu.Lock()
	a.server = &http.Server{
		Addr:    addr,
		Handler: a.mux,
	}
	server := a.server
	a.serverMu.Unlock()

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server and the background workers
func (a *App) Shutdown(ctx context.Context) error {
	a.serverMu.RLock()
	server := a.server
	a.serverMu.RUnlock()

	var shutdownErr error
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			shutdownErr = err
		}
	}

	// Stop background workers and wait for the in-flight tick to finish
	if a.workersCancel != nil {
		a.workersCancel()
	}
	if a.workers != nil {
		if err := a.workers.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithField("error", err.Error()).Error("Background worker stopped with error")
		}
	}

	if a.db != nil {
		a.db.Close()
	}

	return shutdownErr
}

// GetConfig returns the app's configuration
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetLogger returns the app's logger
func (a *App) GetLogger() logger.Logger {
	return a.logger
}

// GetMux returns the app's HTTP multiplexer
func (a *App) GetMux() *http.ServeMux {
	return a.mux
}

// GetDB returns the app's database connection
func (a *App) GetDB() *sql.DB {
	return a.db
}

// Ensure App implements AppInterface
var _ AppInterface = (*App)(nil)
