package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/payments"
)

// SignatureHeader carries base64(HMAC-SHA256(secret, notificationURL+body)).
const SignatureHeader = "X-Square-Hmacsha256-Signature"

const (
	paymentStatusApproved  = "APPROVED"
	paymentStatusPending   = "PENDING"
	paymentStatusCompleted = "COMPLETED"
	paymentStatusCanceled  = "CANCELED"
	paymentStatusFailed    = "FAILED"

	eventPaymentCreated = "payment.created"
	eventPaymentUpdated = "payment.updated"
)

// PaymentsAPI is the subset of Client the provider needs.
type PaymentsAPI interface {
	CreatePayment(ctx context.Context, params PaymentCreateParams) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	RefundPayment(ctx context.Context, params RefundCreateParams) (*sq.PaymentRefund, error)
}

// Provider adapts Square Payments to payments.Provider. Square payments have
// no metadata map, so the order linkage rides in reference_id and note.
type Provider struct {
	api             PaymentsAPI
	signingSecret   string
	notificationURL string
}

func NewProvider(client *Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("square client required")
	}
	return &Provider{
		api:             client,
		signingSecret:   client.SigningSecret(),
		notificationURL: client.NotificationURL(),
	}, nil
}

// NewProviderWithAPI is used by tests to stub the Square API.
func NewProviderWithAPI(api PaymentsAPI, signingSecret, notificationURL string) *Provider {
	return &Provider{api: api, signingSecret: signingSecret, notificationURL: notificationURL}
}

func (p *Provider) Name() enums.PaymentProvider {
	return enums.PaymentProviderSquare
}

func (p *Provider) CreateAuthorization(ctx context.Context, in payments.CreateAuthorizationParams) (*payments.Authorization, error) {
	if in.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	if strings.TrimSpace(in.SourceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square payments require a source_id")
	}

	payment, err := p.api.CreatePayment(ctx, PaymentCreateParams{
		AmountCents:    in.AmountCents,
		AppFeeCents:    in.ApplicationFee,
		Currency:       in.Currency,
		SourceID:       in.SourceID,
		IdempotencyKey: in.IdempotencyKey,
		ReferenceID:    in.Metadata[payments.MetaOrderID],
		Note:           encodeNote(in.Metadata),
	})
	if err != nil {
		return nil, providerError(err)
	}
	return toAuthorization(payment), nil
}

func (p *Provider) RetrieveAuthorization(ctx context.Context, id string) (*payments.Authorization, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	payment, err := p.api.GetPayment(ctx, id)
	if err != nil {
		return nil, providerError(err)
	}
	return toAuthorization(payment), nil
}

func (p *Provider) Refund(ctx context.Context, in payments.RefundParams) (*payments.RefundResult, error) {
	if in.AuthorizationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	if in.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "square refunds require an explicit amount")
	}
	refund, err := p.api.RefundPayment(ctx, RefundCreateParams{
		PaymentID:      in.AuthorizationID,
		AmountCents:    in.AmountCents,
		Currency:       in.Currency,
		Reason:         in.Reason,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return nil, providerError(err)
	}
	out := &payments.RefundResult{
		ID:     refund.ID,
		Status: deref(refund.Status),
	}
	if refund.AmountMoney != nil && refund.AmountMoney.Amount != nil {
		out.AmountCents = *refund.AmountMoney.Amount
	}
	return out, nil
}

type webhookEnvelope struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			Payment json.RawMessage `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

func (p *Provider) VerifyWebhook(payload []byte, header http.Header) (*payments.Event, error) {
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return nil, errors.New("square signature missing")
	}
	if !validSignature(payload, p.signingSecret, p.notificationURL, sig) {
		return nil, errors.New("square signature mismatch")
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode square event: %w", err)
	}
	eventID := strings.TrimSpace(env.EventID)
	if eventID == "" {
		return nil, errors.New("square event id missing")
	}

	out := &payments.Event{
		ID:       eventID,
		Type:     env.Type,
		Kind:     payments.EventUnknown,
		Provider: enums.PaymentProviderSquare,
		Payload:  json.RawMessage(payload),
	}
	if env.Type != eventPaymentCreated && env.Type != eventPaymentUpdated {
		return out, nil
	}
	if len(env.Data.Object.Payment) == 0 {
		return out, nil
	}

	var payment sq.Payment
	if err := json.Unmarshal(env.Data.Object.Payment, &payment); err != nil {
		return nil, fmt.Errorf("decode square payment: %w", err)
	}
	out.Authorization = toAuthorization(&payment)
	switch out.Authorization.Status {
	case payments.StatusSucceeded:
		out.Kind = payments.EventChargeSucceeded
	case payments.StatusFailed, payments.StatusCanceled:
		out.Kind = payments.EventChargeFailed
	default:
		out.Kind = payments.EventChargeUpdated
	}
	return out, nil
}

// Sign computes the signature Square would send for payload. Exposed for tests
// and local tooling that replays captured events.
func Sign(payload []byte, secret, notificationURL string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func validSignature(payload []byte, secret, notificationURL, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	expected := Sign(payload, secret, notificationURL)
	return hmac.Equal([]byte(expected), []byte(header))
}

func toAuthorization(payment *sq.Payment) *payments.Authorization {
	if payment == nil {
		return nil
	}
	auth := &payments.Authorization{
		ID:       deref(payment.GetID()),
		Provider: enums.PaymentProviderSquare,
		Status:   mapStatus(deref(payment.GetStatus())),
		Metadata: decodeNote(deref(payment.GetNote())),
	}
	if ref := deref(payment.GetReferenceID()); ref != "" {
		auth.Metadata[payments.MetaOrderID] = ref
	}
	if money := payment.GetAmountMoney(); money != nil {
		if money.Amount != nil {
			auth.AmountCents = *money.Amount
		}
		if money.Currency != nil {
			auth.Currency = strings.ToLower(string(*money.Currency))
		}
	}
	if auth.Status == payments.StatusSucceeded {
		if total := payment.GetTotalMoney(); total != nil && total.Amount != nil {
			auth.AmountReceivedCents = *total.Amount
		}
	}
	return auth
}

func mapStatus(status string) payments.AuthorizationStatus {
	switch strings.ToUpper(status) {
	case paymentStatusCompleted:
		return payments.StatusSucceeded
	case paymentStatusFailed:
		return payments.StatusFailed
	case paymentStatusCanceled:
		return payments.StatusCanceled
	case paymentStatusApproved:
		return payments.StatusProcessing
	case paymentStatusPending:
		return payments.StatusRequiresAction
	default:
		return payments.StatusRequiresAction
	}
}

// encodeNote packs the linkage metadata into the payment note as a query
// string; reference_id already holds the order id.
func encodeNote(meta map[string]string) string {
	values := url.Values{}
	for k, v := range meta {
		if k == payments.MetaOrderID || v == "" {
			continue
		}
		values.Set(k, v)
	}
	return values.Encode()
}

func decodeNote(note string) map[string]string {
	out := map[string]string{}
	values, err := url.ParseQuery(note)
	if err != nil {
		return out
	}
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}

func providerError(err error) error {
	typed := pkgerrors.As(err)
	if typed == nil {
		return pkgerrors.Wrap(pkgerrors.CodeProvider, err, "square request failed")
	}
	switch typed.Code() {
	case pkgerrors.CodeNotFound, pkgerrors.CodeValidation, pkgerrors.CodeIdempotency:
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeProvider, err, typed.Message())
}

var _ payments.Provider = (*Provider)(nil)
