package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/housecup/points-engine/config"
	"github.com/housecup/points-engine/internal/application/command"
	"github.com/housecup/points-engine/internal/application/query"
	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/infrastructure/messaging"
	"github.com/housecup/points-engine/internal/infrastructure/persistence/memory"
	"github.com/housecup/points-engine/internal/infrastructure/persistence/postgres"
	"github.com/housecup/points-engine/internal/infrastructure/persistence/redis"
	"github.com/housecup/points-engine/internal/infrastructure/persistence/sqlite"
	"github.com/housecup/points-engine/pkg/circuitbreaker"
	"github.com/housecup/points-engine/pkg/logger"
	"github.com/housecup/points-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION WIRING
// ══════════════════════════════════════════════════════════════════════════════

// engineStore is what every store driver provides.
type engineStore interface {
	ledger.Store
	ledger.Catalog
}

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	clock     *timeutil.Clock
	store     engineStore
	snapshots leaderboard.SnapshotStore
	cache     *redis.Cache
	bus       shared.EventBus
	queries   *query.Service
	commands  *command.Coordinator

	closers []func() error
}

// newLogger builds the process logger from the observability settings.
func newLogger(cfg *config.Config) *slog.Logger {
	log := logger.New(logger.Options{
		Level:   cfg.Observability.LogLevel,
		Format:  logger.Format(cfg.Observability.LogFormat),
		Env:     string(cfg.App.Environment),
		Service: cfg.App.Name,
	})
	slog.SetDefault(log)
	return log
}

// bootstrap opens the store and, when withBus is set, the event bus and the
// Redis connection. Call close when done.
func bootstrap(ctx context.Context, cfg *config.Config, log *slog.Logger, withBus bool) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.clock, err = timeutil.NewClock(cfg.App.Timezone)
	if err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 1. STORE
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. REDIS & EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	if withBus {
		if err := a.openBus(); err != nil {
			return nil, err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	a.queries = query.NewService(a.store, a.snapshots, a.clock, log)

	var publisher shared.EventPublisher
	if a.bus != nil {
		publisher = a.bus
	}
	a.commands = command.NewCoordinator(a.store, a.store, publisher, log, command.CoordinatorConfig{
		MaxAttempts:    cfg.Engine.MaxAttempts,
		InitialBackoff: cfg.Engine.InitialBackoff,
		MaxBackoff:     cfg.Engine.MaxBackoff,
		Jitter:         cfg.Engine.Jitter,
	})

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg.Store
	log := a.log.With(slog.String("driver", cfg.Driver))

	switch cfg.Driver {
	case config.DriverMemory:
		log.Warn("using the in-memory store; the ledger is lost on exit")
		a.store = memory.NewStore()
		a.snapshots = memory.NewSnapshotStore()

	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.URL
		pgCfg.MaxConns = cfg.MaxConns
		pgCfg.MinConns = cfg.MinConns
		pgCfg.ConnectTimeout = cfg.ConnectTimeout

		log.Info("connecting to database...")
		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.AutoMigrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				conn.Close()
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date", slog.Int("applied", applied))
		}
		a.store = postgres.NewStore(conn)
		a.snapshots = postgres.NewSnapshotStore(conn)

	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return fmt.Errorf("failed to open sqlite database: %w", err)
		}
		a.store = s
		a.snapshots = sqlite.NewSnapshotStore(s)

	default:
		return fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	a.closers = append(a.closers, a.store.Close)
	log.Info("store ready")
	return nil
}

// openBus builds the in-process bus, or the Redis-backed one when Redis is
// enabled. With Redis, leaderboard snapshots also move to Redis so every
// instance computes trends against the same baseline.
func (a *app) openBus() error {
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = a.log

	if !a.cfg.Redis.Enabled {
		bus := messaging.NewInMemoryEventBus(busCfg)
		a.bus = bus
		a.closers = append(a.closers, bus.Close)
		return nil
	}

	rc := redis.DefaultConfig()
	rc.Addr = a.cfg.Redis.Addr
	rc.Password = a.cfg.Redis.Password
	rc.DB = a.cfg.Redis.DB

	a.log.Info("connecting to Redis...", slog.String("addr", rc.Addr))
	cache, err := redis.NewCache(rc)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.cache = cache
	a.closers = append(a.closers, cache.Close)

	breaker := circuitbreaker.New("redis",
		circuitbreaker.WithFailureThreshold(a.cfg.Redis.BreakerThreshold),
		circuitbreaker.WithTimeout(a.cfg.Redis.BreakerTimeout),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			a.log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}),
	)

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         messaging.NewGoRedisClient(cache.Client()),
		ChannelName:    a.cfg.Redis.Channel,
		Breaker:        breaker,
		LocalBusConfig: busCfg,
		Logger:         a.log,
	})
	if err != nil {
		return fmt.Errorf("failed to start redis event bus: %w", err)
	}
	a.bus = bus
	// The bus must stop before the client it reads from.
	a.closers = append(a.closers, bus.Close)

	a.snapshots = redis.NewSnapshotCache(cache, breaker)
	a.log.Info("Redis connection established")
	return nil
}

// close releases everything bootstrap opened, newest first.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
