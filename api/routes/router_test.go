package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketplace-payments/api/controllers"
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
	"github.com/angelmondragon/marketplace-payments/pkg/metrics"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubOrders struct{}

func (stubOrders) CreateOrder(context.Context, orders.CreateOrderInput) (*models.Order, error) {
	return nil, errors.New("not implemented")
}

func (stubOrders) GetStatus(_ context.Context, id uuid.UUID) (*orders.StatusView, error) {
	return &orders.StatusView{OrderID: id, Status: enums.OrderStatusPending, TotalCents: 1075, Currency: "usd"}, nil
}

func (stubOrders) ForceStatus(context.Context, auth.Operator, uuid.UUID, enums.OrderStatus, string) (*models.Order, error) {
	return nil, errors.New("not implemented")
}

type stubIntents struct{}

func (stubIntents) CreateChargeAuthorization(context.Context, paymentintents.Input) (*paymentintents.Result, error) {
	return nil, errors.New("not implemented")
}

type stubWebhooks struct{ calls []string }

func (s *stubWebhooks) HandleEvent(_ context.Context, provider string, _ []byte, _ http.Header) (*webhooks.Result, error) {
	s.calls = append(s.calls, provider)
	return &webhooks.Result{EventID: "evt_1"}, nil
}

type stubReconciliation struct{}

func (stubReconciliation) ReprocessWebhookLog(context.Context, auth.Operator, uuid.UUID, reconciliation.ReprocessInput) (*reconciliation.ReprocessResult, error) {
	return nil, errors.New("not implemented")
}

func (stubReconciliation) ReplayOrderWebhook(context.Context, auth.Operator, uuid.UUID, string) (*settlement.Outcome, error) {
	return nil, errors.New("not implemented")
}

type stubRefunds struct{ calls int }

func (s *stubRefunds) Refund(_ context.Context, _ auth.Operator, orderID uuid.UUID, amountCents int64, _ string) (*refunds.Result, error) {
	s.calls++
	return &refunds.Result{OrderID: orderID, AmountCents: amountCents, Kind: enums.RefundKindFull, Status: enums.OrderStatusRefunded}, nil
}

type stubLogs struct{}

func (stubLogs) List(context.Context, webhooklogs.ListParams) (*webhooklogs.ListResult, error) {
	return &webhooklogs.ListResult{}, nil
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	m.data[key] = str
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "test:idempotency:" + scope + ":" + id
}

type fixture struct {
	cfg      *config.Config
	handler  http.Handler
	webhooks *stubWebhooks
	refunds  *stubRefunds
}

func newFixture(t *testing.T, ready ...controllers.Dependency) *fixture {
	t.Helper()
	cfg := &config.Config{
		App: config.AppConfig{Env: "test", CORSAllowedOrigins: []string{"http://localhost:3000"}},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "marketpay", ExpirationMinutes: 5},
		Webhooks: config.WebhooksConfig{
			MaxBodyBytes: 1 << 20,
		},
	}
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})

	reg := prometheus.NewRegistry()
	metrics.NewPaymentMetrics(reg)

	f := &fixture{cfg: cfg, webhooks: &stubWebhooks{}, refunds: &stubRefunds{}}
	f.handler = NewRouter(cfg, logg, Deps{
		Orders:         stubOrders{},
		PaymentIntents: stubIntents{},
		Webhooks:       f.webhooks,
		Reconciliation: stubReconciliation{},
		Refunds:        f.refunds,
		WebhookLogs:    stubLogs{},
		Idempotency:    &memoryStore{data: map[string]string{}},
		Metrics:        metrics.Handler(reg),
		Ready:          ready,
	})
	return f
}

func (f *fixture) token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.MintAccessToken(f.cfg.JWT, time.Now(), auth.AccessTokenPayload{UserID: uuid.New(), Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthRoutes(t *testing.T) {
	f := newFixture(t, controllers.Dependency{Name: "db", Pinger: stubPinger{}})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("live: expected 200, got %d", rec.Code)
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}
}

func TestReadyReportsFailingDependency(t *testing.T) {
	f := newFixture(t, controllers.Dependency{Name: "redis", Pinger: stubPinger{err: errors.New("down")}})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestOrderStatusIsPublic(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+id.String()+"/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), id.String()) {
		t.Fatalf("expected order id in body, got %s", rec.Body.String())
	}
}

func TestWebhookRoutesPassProvider(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/api/v1/webhooks/payments", "/api/v1/webhooks/payments/Square"} {
		rec := f.do(httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
	if len(f.webhooks.calls) != 2 || f.webhooks.calls[0] != "" || f.webhooks.calls[1] != "square" {
		t.Fatalf("unexpected providers %v", f.webhooks.calls)
	}
}

func TestAdminRoutesRequireOperator(t *testing.T) {
	f := newFixture(t)
	path := "/api/admin/orders/" + uuid.NewString() + "/refund"

	rec := f.do(httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+f.token(t, auth.RoleBuyer))
	req.Header.Set("Idempotency-Key", "k1")
	rec = f.do(req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("buyer: expected 403, got %d", rec.Code)
	}
	if f.refunds.calls != 0 {
		t.Fatalf("refund should not be reached")
	}
}

func TestAdminRefundReplaysOnSameKey(t *testing.T) {
	f := newFixture(t)
	path := "/api/admin/orders/" + uuid.NewString() + "/refund"
	tok := f.token(t, auth.RoleAdmin)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"amountCents":500}`))
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Idempotency-Key", "refund-1")
		return f.do(req)
	}

	first := send()
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", first.Code, first.Body.String())
	}
	second := send()
	if second.Code != first.Code || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replayed response, got %d %s", second.Code, second.Body.String())
	}
	if f.refunds.calls != 1 {
		t.Fatalf("expected one refund call, got %d", f.refunds.calls)
	}
}
