package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketplace-payments/api/routes"
	"github.com/angelmondragon/marketplace-payments/pkg/auth"
	"github.com/angelmondragon/marketplace-payments/pkg/config"
	"github.com/angelmondragon/marketplace-payments/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	"github.com/angelmondragon/marketplace-payments/pkg/metrics"
	"github.com/angelmondragon/marketplace-payments/pkg/payments"
	"github.com/angelmondragon/marketplace-payments/pkg/payments/paymentstest"
)

type memoryStore struct {
	data map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	m.data[key] = str
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "test:" + scope + ":" + id
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dest))
}

func TestOrderPaymentRefundFlow(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	cfg := &config.Config{
		App:            config.AppConfig{Env: "test"},
		JWT:            config.JWTConfig{Secret: "secret", Issuer: "marketpay", ExpirationMinutes: 5},
		Fees:           config.FeesConfig{CommissionBps: 500, ProcessingFeeCents: 25, Currency: "usd"},
		Payments:       config.PaymentsConfig{ProviderTimeout: time.Second},
		Webhooks:       config.WebhooksConfig{MaxBodyBytes: 1 << 20},
		Reconciliation: config.ReconciliationConfig{StaleAfter: time.Minute, PendingOrderTTL: time.Hour, BatchSize: 10},
	}
	logg := logger.New(logger.Options{ServiceName: "flow-test", Output: io.Discard})
	provider := paymentstest.New(enums.PaymentProviderStripe)
	store := &memoryStore{data: map[string]string{}}
	reg := prometheus.NewRegistry()

	svcs, err := NewServices(ctx, Params{
		Config:    cfg,
		Logger:    logg,
		DB:        db,
		Tx:        dbtest.TxRunner{DB: db},
		Redis:     store,
		Registry:  reg,
		Providers: payments.NewRegistry(provider),
	})
	require.NoError(t, err)

	router := routes.NewRouter(cfg, logg, routes.Deps{
		Orders:         svcs.Orders,
		PaymentIntents: svcs.PaymentIntents,
		Webhooks:       svcs.Webhooks,
		Reconciliation: svcs.Reconciliation,
		Refunds:        svcs.Refunds,
		WebhookLogs:    svcs.WebhookLogs,
		Idempotency:    store,
		Metrics:        metrics.Handler(reg),
	})
	do := func(method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		for k, v := range header {
			req.Header[k] = v
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	listing := &models.Listing{
		ID:         uuid.New(),
		SellerID:   uuid.New(),
		Title:      "Turntable",
		PriceCents: 1000,
		Currency:   "usd",
		Status:     enums.ListingStatusActive,
	}
	require.NoError(t, db.Create(listing).Error)

	// order
	body, _ := json.Marshal(map[string]string{"buyerId": uuid.NewString(), "listingId": listing.ID.String()})
	rec := do(http.MethodPost, "/api/v1/orders", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var order struct {
		OrderID    uuid.UUID `json:"orderId"`
		TotalCents int64     `json:"totalCents"`
	}
	decodeData(t, rec, &order)
	assert.Equal(t, int64(1075), order.TotalCents)

	// payment intent
	body, _ = json.Marshal(map[string]string{"orderId": order.OrderID.String()})
	rec = do(http.MethodPost, "/api/v1/payment-intents", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var intent struct {
		AuthorizationID string `json:"authorizationId"`
	}
	decodeData(t, rec, &intent)
	require.NotEmpty(t, intent.AuthorizationID)
	assert.Equal(t, int64(1075), provider.LastCreateParams().AmountCents)

	// provider confirms the charge
	provider.SetStatus(intent.AuthorizationID, payments.StatusSucceeded)
	charged, err := provider.RetrieveAuthorization(ctx, intent.AuthorizationID)
	require.NoError(t, err)
	event, header := paymentstest.SignedEvent("evt_flow", payments.EventChargeSucceeded, *charged)
	rec = do(http.MethodPost, "/api/v1/webhooks/payments/stripe", event, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodGet, "/api/v1/orders/"+order.OrderID.String()+"/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Status enums.OrderStatus `json:"status"`
	}
	decodeData(t, rec, &status)
	assert.Equal(t, enums.OrderStatusPaid, status.Status)

	// operator refund
	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), auth.AccessTokenPayload{UserID: uuid.New(), Role: auth.RoleAdmin})
	require.NoError(t, err)
	adminHeader := http.Header{}
	adminHeader.Set("Authorization", "Bearer "+token)
	adminHeader.Set("Idempotency-Key", "refund-flow")
	rec = do(http.MethodPost, "/api/admin/orders/"+order.OrderID.String()+"/refund", []byte(`{"reason":"damaged"}`), adminHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var refund struct {
		AmountCents int64             `json:"amountCents"`
		Status      enums.OrderStatus `json:"status"`
	}
	decodeData(t, rec, &refund)
	assert.Equal(t, int64(1075), refund.AmountCents)
	assert.Equal(t, enums.OrderStatusRefunded, refund.Status)

	var events []models.OutboxEvent
	require.NoError(t, db.Where("aggregate_id = ?", order.OrderID).Order("created_at ASC").Find(&events).Error)
	types := make([]enums.OutboxEventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.Contains(t, types, enums.EventOrderCreated)
	assert.Contains(t, types, enums.EventOrderPaid)
	assert.Contains(t, types, enums.EventOrderRefunded)
}
