package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-payments/api/controllers"
	admincontrollers "github.com/angelmondragon/marketplace-payments/api/controllers/admin"
	ordercontrollers "github.com/angelmondragon/marketplace-payments/api/controllers/orders"
	picontrollers "github.com/angelmondragon/marketplace-payments/api/controllers/paymentintents"
	webhookcontrollers "github.com/angelmondragon/marketplace-payments/api/controllers/webhooks"
	"github.com/angelmondragon/marketplace-payments/api/middleware"
	"github.com/angelmondragon/marketplace-payments/internal/orders"
	"github.com/angelmondragon/marketplace-payments/internal/paymentintents"
	"github.com/angelmondragon/marketplace-payments/internal/reconciliation"
	"github.com/angelmondragon/marketplace-payments/internal/refunds"
	"github.com/angelmondragon/marketplace-payments/internal/settlement"
	"github.com/angelmondragon/marketplace-payments/internal/webhooklogs"
	"github.com/angelmondragon/marketplace-payments/internal/webhooks"
	"github.com/angelmondragon/marketplace-payments/pkg/auth"
	"github.com/angelmondragon/marketplace-payments/pkg/config"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	pkgredis "github.com/angelmondragon/marketplace-payments/pkg/redis"
)

// OrderService serves order creation, status reads and operator overrides.
type OrderService interface {
	CreateOrder(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*orders.StatusView, error)
	ForceStatus(ctx context.Context, operator auth.Operator, id uuid.UUID, to enums.OrderStatus, note string) (*models.Order, error)
}

type PaymentIntentService interface {
	CreateChargeAuthorization(ctx context.Context, input paymentintents.Input) (*paymentintents.Result, error)
}

type WebhookHandler interface {
	HandleEvent(ctx context.Context, provider string, raw []byte, header http.Header) (*webhooks.Result, error)
}

type ReconciliationService interface {
	ReprocessWebhookLog(ctx context.Context, operator auth.Operator, logID uuid.UUID, in reconciliation.ReprocessInput) (*reconciliation.ReprocessResult, error)
	ReplayOrderWebhook(ctx context.Context, operator auth.Operator, orderID uuid.UUID, provider string) (*settlement.Outcome, error)
}

type RefundService interface {
	Refund(ctx context.Context, operator auth.Operator, orderID uuid.UUID, amountCents int64, reason string) (*refunds.Result, error)
}

type WebhookLogService interface {
	List(ctx context.Context, params webhooklogs.ListParams) (*webhooklogs.ListResult, error)
}

// Deps are the services the HTTP surface dispatches to.
type Deps struct {
	Orders         OrderService
	PaymentIntents PaymentIntentService
	Webhooks       WebhookHandler
	Reconciliation ReconciliationService
	Refunds        RefundService
	WebhookLogs    WebhookLogService
	Idempotency    pkgredis.IdempotencyStore
	Metrics        http.Handler
	Ready          []controllers.Dependency
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Ready...))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// Provider callbacks take the raw body and carry no session.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		payments := webhookcontrollers.Payments(deps.Webhooks, cfg.Webhooks.MaxBodyBytes, logg)
		r.Post("/payments", payments)
		r.Post("/payments/{provider}", payments)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSAllowedOrigins))
		r.Post("/api/v1/orders", ordercontrollers.CreateOrder(deps.Orders, logg))
		r.Get("/api/v1/orders/{orderId}/status", ordercontrollers.OrderStatus(deps.Orders, logg))
		r.Post("/api/v1/payment-intents", picontrollers.Create(deps.PaymentIntents, logg))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSAllowedOrigins))
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, auth.RoleAdmin, auth.RoleSupport))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Post("/refund", admincontrollers.Refund(deps.Refunds, logg))
			r.Post("/replay-webhook", admincontrollers.ReplayWebhook(deps.Reconciliation, logg))
			r.Post("/force-status", admincontrollers.ForceStatus(deps.Orders, logg))
		})
		r.Route("/webhook-logs", func(r chi.Router) {
			r.Get("/", admincontrollers.ListWebhookLogs(deps.WebhookLogs, logg))
			r.Post("/{logId}/reprocess", admincontrollers.ReprocessWebhookLog(deps.Reconciliation, logg))
		})
	})

	return r
}
