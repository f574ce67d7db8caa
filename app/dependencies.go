package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/taskpulse/backend/config"
	"github.com/taskpulse/backend/handlers"
	"github.com/taskpulse/backend/internal/observability"
	"github.com/taskpulse/backend/middleware"
	"github.com/taskpulse/backend/repositories"
	"github.com/taskpulse/backend/repositories/memory"
	"github.com/taskpulse/backend/repositories/postgres"
	"github.com/taskpulse/backend/services"
	"github.com/taskpulse/backend/services/ratelimit"
	"github.com/taskpulse/backend/services/tasks"
	"github.com/taskpulse/backend/token"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config   *config.Config
	DB       *postgres.DB // nil with the memory storage backend
	Redis    *redis.Client
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users     repositories.UserRepository
	Tasks     repositories.TaskRepository
	TxManager repositories.TransactionManager

	// Auth
	Codec         *token.Codec
	Limiter       ratelimit.Limiter
	memoryLimiter *ratelimit.MemoryLimiter
	AuthLimiter   *ratelimit.AuthLimiter
	AuthService   *services.AuthService
	AuthGate      *middleware.AuthGate

	// Tasks
	TaskService *tasks.Service

	// HTTP handlers
	AuthHandler   *handlers.AuthHandler
	TaskHandler   *handlers.TaskHandler
	HealthHandler *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	codec, err := token.NewCodec(token.Config{
		Secret:     cfg.Auth.Secret,
		Algorithm:  cfg.Auth.Algorithm,
		DefaultTTL: cfg.Auth.TokenLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}
	deps.Codec = codec

	if err := deps.initStorage(ctx, cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initRateLimiter(ctx, cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	deps.initServices()

	logger.Info("all dependencies initialized successfully",
		zap.String("storage_backend", cfg.Database.Backend),
		zap.String("rate_limit_backend", cfg.RateLimit.Backend),
		zap.String("jwt_algorithm", codec.Algorithm()))
	return deps, nil
}

// initMetrics creates a private registry holding the runtime collectors and the
// application metrics
func (d *Dependencies) initMetrics() error {
	d.Registry = prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := observability.Register(d.Registry, c); err != nil {
			return err
		}
	}

	metrics, err := observability.NewMetrics(d.Registry, d.Registry)
	if err != nil {
		return err
	}
	d.Metrics = metrics
	return nil
}

// initStorage opens the configured storage backend and its repositories
func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.Backend == "memory" {
		repos := memory.NewStore().NewRepositories()
		d.Users = repos.Users
		d.Tasks = repos.Tasks
		d.TxManager = memory.NewTransactionManager()
		d.Logger.Warn("using in-memory storage, data is lost on restart")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if cfg.Database.InitSchema {
		if err := factory.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	if err := observability.Register(d.Registry, collectors.NewDBStatsCollector(d.DB.DB, "taskpulse")); err != nil {
		return fmt.Errorf("failed to register database collector: %w", err)
	}

	repos := factory.NewRepositories()
	d.Users = repos.Users
	d.Tasks = repos.Tasks
	d.TxManager = factory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
	return nil
}

// initRateLimiter selects the in-process or the shared Redis limiter
func (d *Dependencies) initRateLimiter(ctx context.Context, cfg *config.Config) error {
	if cfg.RateLimit.Backend == "redis" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		d.Redis = client
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		d.Limiter = ratelimit.NewRedisLimiter(client, d.Logger)
		d.Logger.Info("redis rate limiter connected", zap.String("addr", opts.Addr))
	} else {
		d.memoryLimiter = ratelimit.NewMemoryLimiter(d.Logger)
		d.Limiter = d.memoryLimiter
	}

	d.AuthLimiter = ratelimit.NewAuthLimiter(d.Limiter, d.Logger)
	return nil
}

func (d *Dependencies) initServices() {
	d.AuthService = services.NewAuthService(d.Users, d.Codec, 0, d.Logger)
	d.TaskService = tasks.NewService(d.Tasks, d.TxManager, d.Metrics, d.Logger)
	d.AuthGate = middleware.NewAuthGate(d.Codec, d.Config.Auth.PublicPrefixes, d.Metrics, d.Logger)

	d.AuthHandler = handlers.NewAuthHandler(d.AuthService, d.AuthLimiter, d.Codec, d.Metrics, d.Logger)
	d.TaskHandler = handlers.NewTaskHandler(d.TaskService, d.Logger)

	var db *sql.DB
	if d.DB != nil {
		db = d.DB.DB
	}
	var pinger handlers.RedisPinger
	if d.Redis != nil {
		pinger = d.Redis
	}
	d.HealthHandler = handlers.NewHealthHandler(db, pinger, d.Logger)
}

// StartBackground launches the periodic workers. They stop when ctx is cancelled.
func (d *Dependencies) StartBackground(ctx context.Context) {
	if d.memoryLimiter != nil && d.Config.RateLimit.CleanupInterval > 0 {
		go d.memoryLimiter.StartCleanupWorker(ctx, d.Config.RateLimit.CleanupInterval)
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.Redis = nil
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}

// closeQuietly releases whatever was opened before a failed initialization
func (d *Dependencies) closeQuietly(ctx context.Context) {
	if err := d.Close(ctx); err != nil {
		d.Logger.Warn("cleanup after failed initialization", zap.Error(err))
	}
}
