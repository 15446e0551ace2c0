package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/upb/coach-accounts/auth"
	"github.com/upb/coach-accounts/config"
	"github.com/upb/coach-accounts/handlers"
	"github.com/upb/coach-accounts/middleware"
	"github.com/upb/coach-accounts/repositories"
	"github.com/upb/coach-accounts/repositories/postgres"
	"github.com/upb/coach-accounts/services/accounts"
	"github.com/upb/coach-accounts/services/audit"
	"github.com/upb/coach-accounts/services/notify"
	"github.com/upb/coach-accounts/services/oauth"
	"github.com/upb/coach-accounts/services/password"
	"github.com/upb/coach-accounts/tokens"
	"go.uber.org/zap"
)

// Storage is the persistence a Dependencies container runs against
type Storage struct {
	Repositories *repositories.Repositories
	TxManager    repositories.TransactionManager
	// DB backs the readiness probe. Nil for in-memory storage.
	DB *sql.DB
}

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// RepoFactory is nil when running against in-memory storage
	RepoFactory *postgres.RepositoryFactory
	Storage     Storage

	// Services
	Audit      *audit.AuditService
	Notifier   notify.Notifier
	Dispatcher *notify.Dispatcher
	Issuer     *tokens.Issuer
	Accounts   *accounts.Manager
	Google     *oauth.GoogleClient

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	AccountHandler *handlers.AccountHandler
	UserHandler    *handlers.UserHandler
	HealthHandler  *handlers.HealthHandler
	GoogleHandler  *auth.Handler

	closers []func() error
}

// NewDependencies connects to PostgreSQL, selects the notifier and wires
// everything else.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	notifier, closeNotifier, err := newNotifier(cfg, logger)
	if err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}

	deps, err := NewWithStorage(cfg, logger, Storage{
		Repositories: factory.NewRepositories(),
		TxManager:    factory.GetTransactionManager(),
		DB:           factory.GetDB().DB,
	}, notifier)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}

	deps.RepoFactory = factory
	if closeNotifier != nil {
		deps.closers = append(deps.closers, closeNotifier)
	}
	deps.closers = append(deps.closers, factory.Close)

	logger.Info("all dependencies initialized successfully",
		zap.String("database", cfg.Database.LogString()))
	return deps, nil
}

// newNotifier publishes to Kafka when brokers are configured and logs otherwise
func newNotifier(cfg *config.Config, logger *zap.Logger) (notify.Notifier, func() error, error) {
	if len(cfg.Notify.Brokers) == 0 {
		logger.Warn("no kafka brokers configured, emails will only be logged")
		return notify.NewLogNotifier(cfg.Notify.AppBaseURL, logger), nil, nil
	}

	kafkaNotifier, err := notify.NewKafkaNotifier(cfg.Notify, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("kafka email notifier initialized",
		zap.Strings("brokers", cfg.Notify.Brokers),
		zap.String("topic", cfg.Notify.Topic))
	return kafkaNotifier, kafkaNotifier.Close, nil
}

// NewWithStorage wires services and handlers over the given storage and
// notifier, then starts the audit and notification worker pools.
func NewWithStorage(cfg *config.Config, logger *zap.Logger, storage Storage, notifier notify.Notifier) (*Dependencies, error) {
	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Storage:  storage,
		Notifier: notifier,
	}

	issuer, err := tokens.NewIssuer(tokens.Config{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}
	deps.Issuer = issuer

	deps.Audit = audit.NewAuditService(storage.Repositories.AuthEvents, logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})
	deps.Dispatcher = notify.NewDispatcher(notifier, logger, notify.DispatcherConfig{
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		SendTimeout: cfg.Notify.WriteTimeout,
	})

	deps.Accounts = accounts.NewManager(accounts.Deps{
		Accounts:    storage.Repositories.Accounts,
		Events:      storage.Repositories.AuthEvents,
		TxManager:   storage.TxManager,
		Hasher:      password.NewHasher(cfg.Password.BcryptCost),
		Issuer:      issuer,
		Mailer:      notifier,
		AsyncMailer: deps.Dispatcher,
		Audit:       deps.Audit,
		Logger:      logger.Named("accounts"),
	})

	deps.initHTTP()

	if err := deps.Audit.Start(); err != nil {
		return nil, fmt.Errorf("failed to start audit service: %w", err)
	}
	if err := deps.Dispatcher.Start(); err != nil {
		_ = deps.Audit.Stop(time.Second)
		return nil, fmt.Errorf("failed to start notification dispatcher: %w", err)
	}

	return deps, nil
}

func (d *Dependencies) initHTTP() {
	cfg := d.Config
	production := cfg.IsProduction()
	refresh := handlers.NewRefreshCookie(cfg.Cookie)

	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Issuer, d.Logger)
	d.AccountHandler = handlers.NewAccountHandler(d.Accounts, refresh, production, d.Logger)
	d.UserHandler = handlers.NewUserHandler(d.Accounts, production, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.Storage.DB, d.Audit, d.Logger)

	var google auth.GoogleAuthenticator
	if cfg.Google.Enabled() {
		d.Google = oauth.NewGoogleClient(cfg.Google, d.Logger)
		google = d.Google
		d.Logger.Info("google sign-in enabled")
	} else {
		d.Logger.Warn("google oauth not configured, google sign-in disabled")
	}
	d.GoogleHandler = auth.NewHandler(cfg.Google, google, d.Accounts, refresh, cfg.Cookie.Secure, d.Logger)
}

// Close drains the worker pools and releases external connections
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	timeout := d.Config.Server.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	var errs []error

	if d.Dispatcher != nil {
		if err := d.Dispatcher.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop notification dispatcher: %w", err))
		}
	}
	if d.Audit != nil {
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	for _, closeFn := range d.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}

	_ = d.Logger.Sync()

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
