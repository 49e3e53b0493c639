package square

import (
	"errors"
	"io"
	"net/http"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-payments/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
)

func TestNewClientValidatesSettings(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "square-test", Output: io.Discard})
	base := config.SquareConfig{AccessToken: "tok", WebhookSecret: "whsec", Env: "sandbox", LocationID: " L1 "}

	client, err := NewClient(t.Context(), base, logg)
	require.NoError(t, err)
	assert.Equal(t, "sandbox", client.Environment())
	assert.Equal(t, "whsec", client.SigningSecret())
	assert.Equal(t, "L1", client.locationID)

	for name, mutate := range map[string]func(*config.SquareConfig){
		"missing token":  func(c *config.SquareConfig) { c.AccessToken = " " },
		"missing secret": func(c *config.SquareConfig) { c.WebhookSecret = "" },
		"unknown env":    func(c *config.SquareConfig) { c.Env = "staging" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			_, err := NewClient(t.Context(), cfg, logg)
			assert.Error(t, err)
		})
	}

	_, err = NewClient(t.Context(), base, nil)
	assert.Error(t, err)
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "custom-key", idempotencyKey("pay", " custom-key "))

	first := idempotencyKey("pay", "")
	second := idempotencyKey("pay", "")
	assert.Regexp(t, `^pay-[0-9a-f-]{36}$`, first)
	assert.NotEqual(t, first, second)
}

func TestMaskedHidesSensitiveFields(t *testing.T) {
	out := masked("create_payment", map[string]any{
		"source_id":    "cnon:card-nonce-ok",
		"buyer_email":  "a@b.c",
		"reference_id": "ord_1",
		"amount":       int64(500),
	})
	assert.Equal(t, "create_payment", out["square_op"])
	assert.Equal(t, "[REDACTED]", out["source_id"])
	assert.Equal(t, "[REDACTED]", out["buyer_email"])
	assert.Equal(t, "ord_1", out["reference_id"])
	assert.Equal(t, int64(500), out["amount"])
}

func TestCodeForStatus(t *testing.T) {
	cases := map[int]pkgerrors.Code{
		http.StatusBadRequest:          pkgerrors.CodeValidation,
		http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
		http.StatusNotFound:            pkgerrors.CodeNotFound,
		http.StatusUnprocessableEntity: pkgerrors.CodeStateConflict,
		http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
		http.StatusPaymentRequired:     pkgerrors.CodeValidation,
		http.StatusBadGateway:          pkgerrors.CodeDependency,
	}
	for status, want := range cases {
		assert.Equal(t, want, codeForStatus(status), "status %d", status)
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want pkgerrors.Code
	}{
		{
			name: "authentication category",
			err:  sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`)),
			want: pkgerrors.CodeUnauthorized,
		},
		{
			name: "idempotency key reused",
			err:  sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`)),
			want: pkgerrors.CodeIdempotency,
		},
		{
			name: "status fallback",
			err:  sqcore.NewAPIError(http.StatusNotFound, errors.New("not json")),
			want: pkgerrors.CodeNotFound,
		},
		{
			name: "transport failure",
			err:  errors.New("dial tcp: timeout"),
			want: pkgerrors.CodeDependency,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := pkgerrors.As(mapError("create_payment", tc.err))
			require.NotNil(t, mapped)
			assert.Equal(t, tc.want, mapped.Code())
			assert.ErrorIs(t, mapped, tc.err)
		})
	}
}

func TestAPIErrorsSkipsNullEntries(t *testing.T) {
	apiErr := sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[null,{"category":"API_ERROR","code":"BAD_REQUEST"}]}`))
	got := apiErrors(apiErr)
	require.Len(t, got, 1)
	assert.Equal(t, sq.ErrorCodeBadRequest, got[0].Code)
}

func TestRefundRequest(t *testing.T) {
	req := RefundCreateParams{PaymentID: "pay_1", AmountCents: 250, Currency: "usd", Reason: " duplicate "}.request("key-1")
	assert.Equal(t, "key-1", req.IdempotencyKey)
	require.NotNil(t, req.AmountMoney)
	assert.Equal(t, int64(250), *req.AmountMoney.Amount)
	assert.Equal(t, sq.Currency("USD"), *req.AmountMoney.Currency)
	assert.Equal(t, "pay_1", deref(req.PaymentID))
	assert.Equal(t, "duplicate", deref(req.Reason))
}

func TestPaymentRequestOmitsBlankFields(t *testing.T) {
	req := PaymentCreateParams{AmountCents: 1000, SourceID: "cnon:ok", ReferenceID: "ord_1"}.request("key-2")
	assert.Nil(t, req.AppFeeMoney)
	assert.Nil(t, req.Note)
	assert.Nil(t, req.LocationID)
	assert.Equal(t, "ord_1", deref(req.ReferenceID))
}
