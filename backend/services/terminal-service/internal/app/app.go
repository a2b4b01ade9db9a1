package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libdb "kioskpay/backend/libs/db"
	libredis "kioskpay/backend/libs/redis"
	"kioskpay/backend/services/terminal-service/internal/config"
	"kioskpay/backend/services/terminal-service/internal/factory"
	"kioskpay/backend/services/terminal-service/internal/fleet"
	redisstore "kioskpay/backend/services/terminal-service/internal/redis"
	"kioskpay/backend/services/terminal-service/internal/repository"
	"kioskpay/backend/services/terminal-service/internal/terminal"
)

// App wires all dependencies for the terminal service.
type App struct {
	cfg         *config.Config
	fleet       *fleet.Manager
	configs     *repository.ConfigRepository
	mirror      *redisstore.StatusMirror
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New builds the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	return NewWithRegistry(cfg, factory.Default(), logger)
}

// NewWithRegistry is New with a caller-supplied vendor registry.
func NewWithRegistry(cfg *config.Config, registry *factory.Registry, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	a.fleet = fleet.NewManager(registry, fleet.Options{
		HealthInterval: cfg.Health.Interval,
		CheckTimeout:   cfg.Health.CheckTimeout,
		Parallelism:    cfg.Health.Parallelism,
		HistorySize:    cfg.History.Size,
		HistoryTTL:     cfg.History.TTL,
	}, logger.Named("fleet"))

	if cfg.DatabaseEnabled() {
		sqlDB, err := libdb.NewPostgresDB(cfg.Database.DSN, libdb.Options{})
		if err != nil {
			return nil, fmt.Errorf("app: connect postgres: %w", err)
		}
		a.db = sqlDB
		a.configs = repository.NewConfigRepository(sqlDB, cfg.Database.Query, logger.Named("repository"))
	}

	if cfg.RedisEnabled() {
		client, err := libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: connect redis: %w", err)
		}
		a.redisClient = client
		a.mirror = redisstore.NewStatusMirror(client, cfg.Redis.TTL, logger.Named("status-mirror"))
		a.fleet.Subscribe(a.mirror)
	}

	return a, nil
}

// Fleet exposes the manager to embedding transports.
func (a *App) Fleet() *fleet.Manager { return a.fleet }

// Run loads every tenant terminal, drives the health loop and shuts the fleet down when
// ctx ends.
func (a *App) Run(ctx context.Context) error {
	if err := a.loadTerminals(ctx); err != nil {
		return err
	}
	if a.mirror != nil {
		a.mirror.Sync(a.fleet.Snapshot())
	}

	// The mirror stops after the fleet so shutdown transitions are written too.
	mirrorCtx, stopMirror := context.WithCancel(context.WithoutCancel(ctx))
	defer stopMirror()

	var g errgroup.Group
	g.Go(func() error { return a.fleet.Run(ctx) })
	if a.mirror != nil {
		g.Go(func() error { return a.mirror.Run(mirrorCtx) })
	}
	a.logger.Info("terminal service started", zap.Int("terminals", len(a.fleet.Tenants())))

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer cancel()
	shutdownErr := a.fleet.Shutdown(shutdownCtx)
	stopMirror()
	return errors.Join(g.Wait(), shutdownErr)
}

// loadTerminals registers static terminals and database ones; a tenant present in both
// takes the database configuration. A broken entry is logged and the rest of the fleet
// still starts.
func (a *App) loadTerminals(ctx context.Context) error {
	cfgs := make(map[string]terminal.Config, len(a.cfg.Terminals))
	for _, st := range a.cfg.Terminals {
		doc, err := st.Document()
		if err != nil {
			a.logger.Error("static terminal skipped", zap.String("tenant_id", st.TenantID), zap.Error(err))
			continue
		}
		cfg, err := terminal.ParseConfig(doc)
		if err != nil {
			a.logger.Error("static terminal skipped", zap.String("tenant_id", st.TenantID), zap.Error(err))
			continue
		}
		cfgs[st.TenantID] = cfg
	}

	if a.configs != nil {
		rows, err := a.configs.List(ctx)
		if err != nil {
			return fmt.Errorf("app: load tenant terminals: %w", err)
		}
		for _, tt := range rows {
			if _, ok := cfgs[tt.TenantID]; ok {
				a.logger.Warn("database terminal overrides static entry", zap.String("tenant_id", tt.TenantID))
			}
			cfgs[tt.TenantID] = tt.Config
		}
	}

	if err := a.fleet.AddTerminals(ctx, cfgs); err != nil {
		a.logger.Error("terminals not added", zap.Error(err))
	}
	return nil
}

// Close releases resources.
func (a *App) Close() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
