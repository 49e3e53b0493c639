package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-payments/pkg/config"
	"github.com/angelmondragon/marketplace-payments/pkg/db"
	"github.com/angelmondragon/marketplace-payments/pkg/instance"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	"github.com/angelmondragon/marketplace-payments/pkg/metrics"
	"github.com/angelmondragon/marketplace-payments/pkg/migrate"
	"github.com/angelmondragon/marketplace-payments/pkg/redis"
)

// Runtime is the process scaffolding every binary starts with: environment,
// config, logger, database and optionally redis.
type Runtime struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client

	closers []func() error
}

// StartOptions select the optional clients a binary needs.
type StartOptions struct {
	Redis bool
}

// Start loads .env when present, builds the logger from config, connects to
// the database and runs dev migrations. Failures are logged and returned.
func Start(ctx context.Context, kind string, opts StartOptions) (*Runtime, error) {
	logg := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logg.Warn(ctx, ".env could not be read, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		return nil, err
	}
	cfg.Service.Kind = kind

	rt := &Runtime{
		Kind:   kind,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: kind,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			Format:      cfg.App.LogFormat,
			WarnStack:   cfg.App.LogWarnStack,
		}),
	}

	if err := rt.connect(ctx, opts); err != nil {
		rt.Logger.Error(ctx, "startup failed", err)
		return nil, multierr.Append(err, rt.Close())
	}
	return rt, nil
}

func (rt *Runtime) connect(ctx context.Context, opts StartOptions) error {
	dbClient, err := db.New(ctx, rt.Config.DB, rt.Logger)
	if err != nil {
		return err
	}
	rt.DB = dbClient
	rt.closers = append(rt.closers, dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, rt.Config, rt.Logger, dbClient); err != nil {
		return err
	}

	if opts.Redis {
		redisClient, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
		if err != nil {
			return err
		}
		rt.Redis = redisClient
		rt.closers = append(rt.closers, redisClient.Close)
	}
	return nil
}

// OnClose registers fn to run during Close, before the clients opened by Start.
func (rt *Runtime) OnClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// Close runs closers in reverse registration order and joins their errors.
func (rt *Runtime) Close() error {
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, rt.closers[i]())
	}
	rt.closers = nil
	return err
}

// Context decorates ctx with the fields every log line of this process carries.
func (rt *Runtime) Context(ctx context.Context) context.Context {
	return rt.Logger.WithFields(ctx, map[string]any{
		"env":         rt.Config.App.Env,
		"serviceKind": rt.Kind,
		"instance":    instance.ID(),
	})
}

// Shutdown closes the runtime and logs any close failure.
func (rt *Runtime) Shutdown(ctx context.Context) {
	if err := rt.Close(); err != nil {
		rt.Logger.Error(ctx, "error releasing resources", err)
	}
}

// ServeMetrics exposes /metrics on MARKETPAY_METRICS_ADDR for workers that
// have no API router. It is a no-op when the address is unset.
func (rt *Runtime) ServeMetrics(ctx context.Context, gatherer prometheus.Gatherer) {
	addr := rt.Config.App.MetricsAddr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(gatherer))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	rt.OnClose(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Error(ctx, "metrics listener stopped", err)
		}
	}()
	rt.Logger.Info(rt.Logger.WithField(ctx, "addr", addr), "serving metrics")
}
