package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/housecup/points-engine/config"
	"github.com/housecup/points-engine/internal/application/subscription"
	"github.com/housecup/points-engine/internal/infrastructure/scheduler"
	"github.com/housecup/points-engine/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/housecup/points-engine/internal/interface/http"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg)
	log.Info("starting housecup",
		slog.String("env", string(cfg.App.Environment)),
		slog.String("version", cfg.App.Version),
		slog.String("timezone", cfg.App.Timezone),
		slog.String("store", cfg.Store.Driver),
		slog.Bool("redis", cfg.Redis.Enabled),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 1. STORE, BUS & SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	a, err := bootstrap(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing connections...")
		if err := a.close(); err != nil {
			log.Error("close failed", slog.Any("error", err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LIVE UPDATES
	// ─────────────────────────────────────────────────────────────────────────
	hub := subscription.NewHub(a.store, subscription.Config{
		Buffer: cfg.Subscription.Buffer,
		Logger: log,
	})
	if err := hub.Attach(a.bus); err != nil {
		return fmt.Errorf("failed to attach subscription hub: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var jobRunner httpapi.JobRunner
	if cfg.Scheduler.Enabled {
		sched, err := newScheduler(a)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
		jobRunner = sched
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	health := httpapi.NewHealth(cfg.App.Version, 5*time.Second)
	health.AddCheck("store", a.store, true)
	if a.cache != nil {
		health.AddCheck("redis", a.cache, false)
	}

	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.ShutdownTimeout = cfg.App.ShutdownTimeout
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.EnableCORS = len(cfg.HTTP.AllowedOrigins) > 0
	httpCfg.APIKeys = cfg.HTTP.APIKeys
	httpCfg.EnableMetrics = cfg.Observability.MetricsEnabled
	httpCfg.StreamHeartbeat = cfg.HTTP.StreamHeartbeat

	server := httpapi.NewServer(httpCfg, httpapi.Dependencies{
		Commands: a.commands,
		Queries:  a.queries,
		Hub:      hub,
		Jobs:     jobRunner,
		Health:   health,
		Logger:   log,
	})

	log.Info("housecup is running", slog.String("addr", httpCfg.Address()))

	// Run returns once ctx is cancelled and the server has drained.
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info("shutdown completed successfully")
	return nil
}

// newScheduler registers the snapshot and audit jobs.
func newScheduler(a *app) (*scheduler.Scheduler, error) {
	cfg := a.cfg.Scheduler
	sched := scheduler.New(scheduler.Config{
		Logger:   a.log,
		Timezone: a.clock.Location(),
	})

	snapshotSchedule, err := scheduler.ParseSchedule(cfg.SnapshotSchedule)
	if err != nil {
		return nil, err
	}
	auditSchedule, err := scheduler.ParseSchedule(cfg.AuditSchedule)
	if err != nil {
		return nil, err
	}

	snapshotJob := jobs.NewSnapshotLeaderboardJob(a.queries, a.snapshots, a.bus, a.log, cfg.JobTimeout)
	if err := sched.Register(snapshotJob, snapshotSchedule); err != nil {
		return nil, err
	}
	auditJob := jobs.NewAuditLedgerJob(a.queries, a.bus, a.log, cfg.JobTimeout)
	if err := sched.Register(auditJob, auditSchedule); err != nil {
		return nil, err
	}
	return sched, nil
}
