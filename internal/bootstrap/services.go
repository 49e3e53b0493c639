package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-payments/internal/audit"
	"github.com/angelmondragon/marketplace-payments/internal/fees"
	"github.com/angelmondragon/marketplace-payments/internal/listings"
	"github.com/angelmondragon/marketplace-payments/internal/orders"
	"github.com/angelmondragon/marketplace-payments/internal/paymentintents"
	"github.com/angelmondragon/marketplace-payments/internal/reconciliation"
	"github.com/angelmondragon/marketplace-payments/internal/refunds"
	"github.com/angelmondragon/marketplace-payments/internal/settlement"
	"github.com/angelmondragon/marketplace-payments/internal/webhooklogs"
	"github.com/angelmondragon/marketplace-payments/internal/webhooks"
	"github.com/angelmondragon/marketplace-payments/pkg/config"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	"github.com/angelmondragon/marketplace-payments/pkg/metrics"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox"
	"github.com/angelmondragon/marketplace-payments/pkg/payments"
	pkgredis "github.com/angelmondragon/marketplace-payments/pkg/redis"
	"github.com/angelmondragon/marketplace-payments/pkg/square"
	"github.com/angelmondragon/marketplace-payments/pkg/stripe"
)

// webhookInflightTTL bounds how long one delivery may hold an event id.
const webhookInflightTTL = 2 * time.Minute

// Services is the wired payment core shared by the api and cron binaries.
type Services struct {
	Providers      *payments.Registry
	Orders         orders.Service
	PaymentIntents paymentintents.Service
	Settlement     settlement.Service
	WebhookLogs    *webhooklogs.Service
	Webhooks       *webhooks.Processor
	Reconciliation *reconciliation.Service
	Refunds        *refunds.Service
	Outbox         *outbox.Service
	Metrics        *metrics.PaymentMetrics
}

// TxRunner opens the transactions the services commit through.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Params carries the process-level clients. Redis is optional; without it the
// webhook processor runs without the in-flight guard.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *gorm.DB
	Tx       TxRunner
	Redis    pkgredis.IdempotencyStore
	Registry prometheus.Registerer

	// Providers overrides the registry built from config.
	Providers *payments.Registry
}

// NewProviders builds every provider whose credentials are configured and
// selects the configured default.
func NewProviders(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*payments.Registry, error) {
	var list []payments.Provider
	if cfg.Stripe.Enabled() {
		client, err := stripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, fmt.Errorf("stripe client: %w", err)
		}
		p, err := stripe.NewProvider(client)
		if err != nil {
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		list = append(list, p)
	}
	if cfg.Square.Enabled() {
		client, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		p, err := square.NewProvider(client)
		if err != nil {
			return nil, fmt.Errorf("square provider: %w", err)
		}
		list = append(list, p)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no payment provider configured")
	}

	registry := payments.NewRegistry(list...)
	if cfg.Payments.DefaultProvider != "" {
		name, err := enums.ParsePaymentProvider(cfg.Payments.DefaultProvider)
		if err != nil {
			return nil, err
		}
		if err := registry.SetDefault(name); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// NewServices wires the order, payment and reconciliation services around one
// database handle and provider registry.
func NewServices(ctx context.Context, p Params) (*Services, error) {
	if p.Config == nil || p.DB == nil || p.Tx == nil {
		return nil, fmt.Errorf("config and database are required")
	}
	cfg := p.Config
	gdb := p.DB

	providers := p.Providers
	if providers == nil {
		built, err := NewProviders(ctx, cfg, p.Logger)
		if err != nil {
			return nil, err
		}
		providers = built
	}

	reg := p.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	paymentMetrics := metrics.NewPaymentMetrics(reg)

	calc := fees.NewCalculator(cfg.Fees)
	auditSvc := audit.NewService(gdb)
	outboxSvc := outbox.NewService(outbox.NewRepository(gdb), p.Logger)
	listingRepo := listings.NewRepository(gdb)

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:     orders.NewRepository(gdb),
		Tx:       p.Tx,
		Listings: listingRepo,
		Fees:     calc,
		Outbox:   outboxSvc,
		Audit:    auditSvc,
		Logger:   p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	authRepo := paymentintents.NewRepository(gdb)
	intents, err := paymentintents.NewService(paymentintents.ServiceParams{
		Repo:            authRepo,
		Tx:              p.Tx,
		Orders:          orderSvc,
		Providers:       providers,
		Fees:            calc,
		Currency:        cfg.Fees.Currency,
		ProviderTimeout: cfg.Payments.ProviderTimeout,
		Metrics:         paymentMetrics,
		Logger:          p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("payment intents service: %w", err)
	}

	settle, err := settlement.NewService(settlement.ServiceParams{
		Orders:         orderSvc,
		Authorizations: authRepo,
		Listings:       listingRepo,
		Audit:          auditSvc,
		Metrics:        paymentMetrics,
		Logger:         p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement service: %w", err)
	}

	logs, err := webhooklogs.NewService(webhooklogs.NewRepository(gdb), p.Tx)
	if err != nil {
		return nil, fmt.Errorf("webhook logs service: %w", err)
	}

	processorParams := webhooks.ProcessorParams{
		Providers:  providers,
		Logs:       logs,
		Settlement: settle,
		Metrics:    paymentMetrics,
		Logger:     p.Logger,
	}
	if p.Redis != nil {
		guard, err := webhooks.NewInflightGuard(p.Redis, webhookInflightTTL)
		if err != nil {
			return nil, fmt.Errorf("webhook guard: %w", err)
		}
		processorParams.Guard = guard
	}
	processor, err := webhooks.NewProcessor(processorParams)
	if err != nil {
		return nil, fmt.Errorf("webhook processor: %w", err)
	}

	recon, err := reconciliation.NewService(reconciliation.ServiceParams{
		Orders:          orderSvc,
		Logs:            logs,
		Settlement:      settle,
		Providers:       providers,
		Audit:           auditSvc,
		Config:          cfg.Reconciliation,
		ProviderTimeout: cfg.Payments.ProviderTimeout,
		Logger:          p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciliation service: %w", err)
	}

	refundSvc, err := refunds.NewService(refunds.ServiceParams{
		Orders:          orderSvc,
		Repo:            refunds.NewRepository(gdb),
		Tx:              p.Tx,
		Providers:       providers,
		Outbox:          outboxSvc,
		Audit:           auditSvc,
		ProviderTimeout: cfg.Payments.ProviderTimeout,
		Metrics:         paymentMetrics,
		Logger:          p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("refunds service: %w", err)
	}

	return &Services{
		Providers:      providers,
		Orders:         orderSvc,
		PaymentIntents: intents,
		Settlement:     settle,
		WebhookLogs:    logs,
		Webhooks:       processor,
		Reconciliation: recon,
		Refunds:        refundSvc,
		Outbox:         outboxSvc,
		Metrics:        paymentMetrics,
	}, nil
}
