package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-payments/internal/bootstrap"
	"github.com/angelmondragon/marketplace-payments/internal/cron"
	"github.com/angelmondragon/marketplace-payments/pkg/metrics"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Start(ctx, "cron-worker", bootstrap.StartOptions{Redis: true})
	if err != nil {
		os.Exit(1)
	}
	ctx = rt.Context(ctx)
	if err := run(ctx, rt); err != nil && !errors.Is(err, context.Canceled) {
		rt.Logger.Error(ctx, "cron worker stopped unexpectedly", err)
		rt.Shutdown(context.WithoutCancel(ctx))
		os.Exit(1)
	}
	rt.Logger.Info(ctx, "cron worker shut down")
	rt.Shutdown(context.WithoutCancel(ctx))
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg := rt.Config
	reg := prometheus.DefaultRegisterer

	// No Redis for the services: the in-flight guard only matters for live
	// webhook deliveries, which never reach this process.
	svcs, err := bootstrap.NewServices(ctx, bootstrap.Params{
		Config:   cfg,
		Logger:   rt.Logger,
		DB:       rt.DB.DB(),
		Tx:       rt.DB,
		Registry: reg,
	})
	if err != nil {
		return err
	}

	sweep, err := cron.NewReconcileSweepJob(cron.ReconcileSweepJobParams{
		Logger:   rt.Logger,
		Sweeper:  svcs.Reconciliation,
		Interval: cfg.Reconciliation.SweepInterval,
	})
	if err != nil {
		return err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        rt.Logger,
		DB:            rt.DB,
		Repository:    outbox.NewRepository(rt.DB.DB()),
		RetentionDays: cfg.Outbox.RetentionDays,
		MaxAttempts:   cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(rt.Redis, rt.Redis.LockKey(lockName(cfg.App.Env)), 0)
	if err != nil {
		return err
	}

	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:   rt.Logger,
		Registry: cron.NewRegistry(sweep, retention),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Tick:     cfg.Reconciliation.SweepInterval,
	})
	if err != nil {
		return err
	}

	rt.ServeMetrics(ctx, prometheus.DefaultGatherer)
	rt.Logger.Info(ctx, "starting cron worker")
	return scheduler.Run(ctx)
}

// lockName scopes the lock per environment so staging and prod workers
// sharing one Redis never block each other.
func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
