package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-payments/internal/bootstrap"
	"github.com/angelmondragon/marketplace-payments/pkg/metrics"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox/registry"
	"github.com/angelmondragon/marketplace-payments/pkg/pubsub"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Start(ctx, "outbox-publisher", bootstrap.StartOptions{})
	if err != nil {
		os.Exit(1)
	}
	ctx = rt.Context(ctx)
	if err := run(ctx, rt); err != nil && !errors.Is(err, context.Canceled) {
		rt.Logger.Error(ctx, "outbox publisher stopped unexpectedly", err)
		rt.Shutdown(context.WithoutCancel(ctx))
		os.Exit(1)
	}
	rt.Logger.Info(ctx, "outbox publisher shut down")
	rt.Shutdown(context.WithoutCancel(ctx))
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg := rt.Config
	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, rt.Logger)
	if err != nil {
		return err
	}
	rt.OnClose(client.Close)

	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return err
	}
	relay, err := NewRelay(RelayParams{
		Outbox:     cfg.Outbox,
		Logger:     rt.Logger,
		DB:         rt.DB,
		PubSub:     client,
		Repository: outbox.NewRepository(rt.DB.DB()),
		Registry:   events,
		DLQ:        outbox.NewDLQRepository(rt.DB.DB()),
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	rt.ServeMetrics(ctx, prometheus.DefaultGatherer)
	rt.Logger.Info(ctx, "starting outbox publisher")
	return relay.Run(ctx)
}
