package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/marketplace-payments/api/controllers"
	"github.com/angelmondragon/marketplace-payments/api/routes"
	"github.com/angelmondragon/marketplace-payments/internal/bootstrap"
	"github.com/angelmondragon/marketplace-payments/pkg/metrics"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Start(ctx, "api", bootstrap.StartOptions{Redis: true})
	if err != nil {
		os.Exit(1)
	}
	ctx = rt.Context(ctx)
	if err := serve(ctx, rt); err != nil {
		rt.Logger.Error(ctx, "api server stopped unexpectedly", err)
		rt.Shutdown(context.WithoutCancel(ctx))
		os.Exit(1)
	}
	rt.Shutdown(context.WithoutCancel(ctx))
}

func serve(ctx context.Context, rt *bootstrap.Runtime) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svcs, err := bootstrap.NewServices(ctx, bootstrap.Params{
		Config:   rt.Config,
		Logger:   rt.Logger,
		DB:       rt.DB.DB(),
		Tx:       rt.DB,
		Redis:    rt.Redis,
		Registry: reg,
	})
	if err != nil {
		return err
	}

	// PORT is set by the hosting platform and wins over config.
	addr := ":" + rt.Config.App.Port
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: readHeaderTimeout,
		Handler: routes.NewRouter(rt.Config, rt.Logger, routes.Deps{
			Orders:         svcs.Orders,
			PaymentIntents: svcs.PaymentIntents,
			Webhooks:       svcs.Webhooks,
			Reconciliation: svcs.Reconciliation,
			Refunds:        svcs.Refunds,
			WebhookLogs:    svcs.WebhookLogs,
			Idempotency:    rt.Redis,
			Metrics:        metrics.Handler(reg),
			Ready: []controllers.Dependency{
				{Name: "db", Pinger: rt.DB},
				{Name: "redis", Pinger: rt.Redis},
			},
		}),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	rt.Logger.Info(rt.Logger.WithFields(ctx, map[string]any{
		"addr":      addr,
		"providers": svcs.Providers.Names(),
	}), "api server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	rt.Logger.Info(ctx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
