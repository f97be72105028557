package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/audit-quota/config"
	"github.com/upb/audit-quota/internal/auth"
	"github.com/upb/audit-quota/middleware"
	"github.com/upb/audit-quota/repositories"
	"github.com/upb/audit-quota/repositories/postgres"
	"github.com/upb/audit-quota/services/admission"
	"github.com/upb/audit-quota/services/dispatch"
	"github.com/upb/audit-quota/services/jobs"
	"github.com/upb/audit-quota/services/quota"
	"github.com/upb/audit-quota/services/status"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB // nil when no record store is configured
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories; nil when no record store is configured
	Repos *repositories.Repositories

	// Services
	Quota      *quota.Service
	Jobs       *jobs.Service
	Status     *status.Aggregator
	Admission  *admission.Service
	Dispatcher *dispatch.Dispatcher

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initDispatcher(ctx, cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	deps.initServices(cfg)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the record store when one is configured
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Warn("record store not configured, running degraded")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(*cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.GetDB().PingContext(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}

	if cfg.Database.InitSchema {
		if err := factory.InitSchema(ctx); err != nil {
			_ = factory.Close()
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories builds the repositories over the record store
func (d *Dependencies) initRepositories() {
	if d.RepoFactory == nil {
		return
	}
	d.Repos = d.RepoFactory.NewRepositories()
	d.Logger.Info("repositories initialized")
}

// initDispatcher selects the workflow transport and starts the worker pool
func (d *Dependencies) initDispatcher(ctx context.Context, cfg *config.Config) error {
	sender, err := d.newSender(ctx, cfg)
	if err != nil {
		return err
	}

	dcfg := dispatch.DefaultConfig()
	if cfg.Dispatch.BufferSize > 0 {
		dcfg.BufferSize = cfg.Dispatch.BufferSize
	}
	if cfg.Dispatch.WorkerCount > 0 {
		dcfg.WorkerCount = cfg.Dispatch.WorkerCount
	}
	if cfg.Dispatch.MaxRetries >= 0 {
		dcfg.MaxRetries = cfg.Dispatch.MaxRetries
	}
	if cfg.Dispatch.RetryBackoff > 0 {
		dcfg.RetryBackoff = cfg.Dispatch.RetryBackoff
	}
	if cfg.Workflow.Timeout > 0 {
		dcfg.SendTimeout = cfg.Workflow.Timeout
	}

	d.Dispatcher = dispatch.NewDispatcher(sender, d.Logger, dcfg)
	if err := d.Dispatcher.Start(); err != nil {
		return err
	}

	d.Logger.Info("dispatcher started",
		zap.String("transport", cfg.Dispatch.Transport),
		zap.Int("workers", dcfg.WorkerCount))
	return nil
}

func (d *Dependencies) newSender(ctx context.Context, cfg *config.Config) (dispatch.Sender, error) {
	switch cfg.Dispatch.Transport {
	case config.TransportHTTP:
		return dispatch.NewWebhookSender(dispatch.WebhookConfig{
			BaseURL:      cfg.Workflow.BaseURL,
			Secret:       cfg.Workflow.WebhookSecret,
			Timeout:      cfg.Workflow.Timeout,
			RateLimitRPS: cfg.Workflow.RateLimitRPS,
			RateBurst:    cfg.Workflow.RateBurst,
		}, d.Logger)
	case config.TransportRedis:
		return dispatch.NewStreamSender(ctx, cfg.Dispatch.RedisURL, cfg.Dispatch.RedisStream, d.Logger)
	default:
		d.Logger.Warn("workflow engine not configured, dispatch is simulated")
		return dispatch.NewLogSender(d.Logger), nil
	}
}

// initServices wires the domain services
func (d *Dependencies) initServices(cfg *config.Config) {
	d.Quota = quota.NewService(d.Repos, cfg.Quota.DefaultMonthlyQuota, d.Logger)
	d.Jobs = jobs.NewService(d.Repos, d.Logger)
	d.Status = status.NewAggregator(d.Jobs, d.Quota, d.Logger)
	d.Admission = admission.NewService(d.Quota, d.Jobs, d.Dispatcher, admission.Config{
		MaxBatchRows:       cfg.Quota.MaxBatchRows,
		MinutesPerAudit:    cfg.Quota.MinutesPerAudit,
		MaxParallelInserts: cfg.Quota.MaxParallelInserts,
	}, d.Logger)
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("AUTH_JWT_SECRET not set, protected routes reject every request")
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}

	validator := auth.NewValidator(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
	})
	d.AuthMiddleware = middleware.NewAuthMiddleware(&tokenValidatorAdapter{validator: validator}, d.Logger)
	d.Logger.Info("token validation enabled")
}

// tokenValidatorAdapter adapts auth.Validator to middleware.TokenValidator
type tokenValidatorAdapter struct {
	validator *auth.Validator
}

func (a *tokenValidatorAdapter) ValidateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	parsed, err := a.validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{
		Sub:      parsed.Sub,
		Email:    parsed.Email,
		Name:     parsed.Name,
		OrgID:    parsed.OrgID,
		OrgSlug:  parsed.OrgSlug,
		OrgName:  parsed.OrgName,
		OrgEmail: parsed.OrgEmail,
	}, nil
}

// rejectAllValidator rejects all tokens (used when no signing secret is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, auth.ErrNotConfigured
}

// SQLDB returns the connection pool, or nil without a record store
func (d *Dependencies) SQLDB() *sql.DB {
	if d.DB == nil {
		return nil
	}
	return d.DB.DB
}

func (d *Dependencies) closeDatabase() error {
	if d.RepoFactory == nil {
		return nil
	}
	if err := d.RepoFactory.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.Logger.Info("database connection closed")
	return nil
}

// Close gracefully shuts down all dependencies. The dispatcher drains
// first so queued messages are not lost.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Dispatcher != nil {
		timeout := d.Config.Dispatch.StopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = min(timeout, time.Until(deadline))
		}
		if err := d.Dispatcher.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop dispatcher: %w", err))
		}
	}

	if err := d.closeDatabase(); err != nil {
		errs = append(errs, err)
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
