package square

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	sq "github.com/square/square-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/payments"
)

const (
	testSecret    = "sq_webhook_secret"
	testNotifyURL = "https://payments.example.com/api/v1/webhooks/payments/square"
)

type stubPayments struct {
	created  *PaymentCreateParams
	refunded *RefundCreateParams
	payment  *sq.Payment
	err      error
}

func (s *stubPayments) CreatePayment(_ context.Context, params PaymentCreateParams) (*sq.Payment, error) {
	s.created = &params
	if s.err != nil {
		return nil, s.err
	}
	status := paymentStatusApproved
	id := "sqpay_1"
	return &sq.Payment{
		ID:          &id,
		Status:      &status,
		AmountMoney: money(params.AmountCents, params.Currency),
		ReferenceID: optional(params.ReferenceID),
		Note:        optional(params.Note),
	}, nil
}

func (s *stubPayments) GetPayment(_ context.Context, _ string) (*sq.Payment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.payment, nil
}

func (s *stubPayments) RefundPayment(_ context.Context, params RefundCreateParams) (*sq.PaymentRefund, error) {
	s.refunded = &params
	status := "PENDING"
	return &sq.PaymentRefund{
		ID:          "sqref_1",
		Status:      &status,
		AmountMoney: money(params.AmountCents, params.Currency),
	}, nil
}

func TestCreateAuthorizationRequiresSource(t *testing.T) {
	p := NewProviderWithAPI(&stubPayments{}, testSecret, testNotifyURL)
	_, err := p.CreateAuthorization(context.Background(), payments.CreateAuthorizationParams{AmountCents: 1075})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestCreateAuthorizationCarriesLinkage(t *testing.T) {
	api := &stubPayments{}
	p := NewProviderWithAPI(api, testSecret, testNotifyURL)

	auth, err := p.CreateAuthorization(context.Background(), payments.CreateAuthorizationParams{
		AmountCents:    1075,
		ApplicationFee: 75,
		Currency:       "usd",
		SourceID:       "cnon:card-nonce-ok",
		IdempotencyKey: "order:ord-1:authorization",
		Metadata: map[string]string{
			payments.MetaOrderID:   "ord-1",
			payments.MetaListingID: "lst-1",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", api.created.ReferenceID)
	assert.Equal(t, int64(75), api.created.AppFeeCents)
	assert.Equal(t, "order:ord-1:authorization", api.created.IdempotencyKey)

	assert.Equal(t, "sqpay_1", auth.ID)
	assert.Equal(t, payments.StatusProcessing, auth.Status)
	assert.Equal(t, "ord-1", auth.Metadata[payments.MetaOrderID])
	assert.Equal(t, "lst-1", auth.Metadata[payments.MetaListingID])
	assert.Equal(t, int64(1075), auth.AmountCents)
	assert.Equal(t, "usd", auth.Currency)
}

func TestRefundRequiresAmount(t *testing.T) {
	api := &stubPayments{}
	p := NewProviderWithAPI(api, testSecret, testNotifyURL)

	_, err := p.Refund(context.Background(), payments.RefundParams{AuthorizationID: "sqpay_1"})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInvalidAmount, typed.Code())

	res, err := p.Refund(context.Background(), payments.RefundParams{
		AuthorizationID: "sqpay_1",
		AmountCents:     500,
		Currency:        "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, "sqref_1", res.ID)
	assert.Equal(t, int64(500), res.AmountCents)
	assert.Equal(t, "sqpay_1", api.refunded.PaymentID)
}

func TestRetrieveWrapsTransportErrors(t *testing.T) {
	p := NewProviderWithAPI(&stubPayments{err: assert.AnError}, testSecret, testNotifyURL)
	_, err := p.RetrieveAuthorization(context.Background(), "sqpay_1")
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeProvider, typed.Code())
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, payments.StatusSucceeded, mapStatus("COMPLETED"))
	assert.Equal(t, payments.StatusFailed, mapStatus("FAILED"))
	assert.Equal(t, payments.StatusCanceled, mapStatus("CANCELED"))
	assert.Equal(t, payments.StatusProcessing, mapStatus("APPROVED"))
	assert.Equal(t, payments.StatusRequiresAction, mapStatus("PENDING"))
}

func TestVerifyWebhookCompletedPayment(t *testing.T) {
	p := NewProviderWithAPI(&stubPayments{}, testSecret, testNotifyURL)
	payload := paymentEvent(t, "evt-1", "COMPLETED")

	header := http.Header{}
	header.Set(SignatureHeader, Sign(payload, testSecret, testNotifyURL))

	event, err := p.VerifyWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, payments.EventChargeSucceeded, event.Kind)
	require.NotNil(t, event.Authorization)
	assert.Equal(t, "sqpay_9", event.Authorization.ID)
	assert.Equal(t, int64(1075), event.Authorization.SettledAmountCents())
	assert.Equal(t, "ord-9", event.Authorization.Metadata[payments.MetaOrderID])
}

func TestVerifyWebhookFailedPayment(t *testing.T) {
	p := NewProviderWithAPI(&stubPayments{}, testSecret, testNotifyURL)
	payload := paymentEvent(t, "evt-2", "FAILED")

	header := http.Header{}
	header.Set(SignatureHeader, Sign(payload, testSecret, testNotifyURL))

	event, err := p.VerifyWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, payments.EventChargeFailed, event.Kind)
}

func TestVerifyWebhookRejectsWrongURL(t *testing.T) {
	p := NewProviderWithAPI(&stubPayments{}, testSecret, testNotifyURL)
	payload := paymentEvent(t, "evt-3", "COMPLETED")

	header := http.Header{}
	header.Set(SignatureHeader, Sign(payload, testSecret, "https://elsewhere.example.com"))
	_, err := p.VerifyWebhook(payload, header)
	require.Error(t, err)

	_, err = p.VerifyWebhook(payload, http.Header{})
	require.Error(t, err)
}

func TestNoteRoundTripSkipsOrderID(t *testing.T) {
	note := encodeNote(map[string]string{
		payments.MetaOrderID:  "ord-1",
		payments.MetaBuyerID:  "buyer-1",
		payments.MetaSellerID: "",
	})
	assert.NotContains(t, note, "order_id")
	decoded := decodeNote(note)
	assert.Equal(t, map[string]string{payments.MetaBuyerID: "buyer-1"}, decoded)
}

func paymentEvent(t *testing.T, eventID, status string) []byte {
	t.Helper()
	body := map[string]any{
		"merchant_id": "M1",
		"type":        "payment.updated",
		"event_id":    eventID,
		"data": map[string]any{
			"type": "payment",
			"id":   "sqpay_9",
			"object": map[string]any{
				"payment": map[string]any{
					"id":           "sqpay_9",
					"status":       status,
					"reference_id": "ord-9",
					"amount_money": map[string]any{"amount": 1075, "currency": "USD"},
					"total_money":  map[string]any{"amount": 1075, "currency": "USD"},
				},
			},
		},
	}
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return payload
}
