package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/payments"
)

const (
	SignatureHeader = "Stripe-Signature"

	eventPaymentSucceeded  = "payment_intent.succeeded"
	eventPaymentFailed     = "payment_intent.payment_failed"
	eventPaymentCanceled   = "payment_intent.canceled"
	eventPaymentProcessing = "payment_intent.processing"
)

// API is the subset of Stripe resource calls the provider makes.
type API interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error)
}

type resourceAPI struct {
	intents *paymentintent.Client
	refunds *refund.Client
}

func (a resourceAPI) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	return a.intents.New(params)
}

func (a resourceAPI) GetPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	return a.intents.Get(id, params)
}

func (a resourceAPI) CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	params.Context = ctx
	return a.refunds.New(params)
}

// Provider adapts Stripe PaymentIntents to payments.Provider.
type Provider struct {
	api           API
	signingSecret string
}

// NewProvider builds a provider backed by the initialized client.
func NewProvider(client *Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("stripe client required")
	}
	api := resourceAPI{intents: client.intents, refunds: client.refunds}
	return &Provider{api: api, signingSecret: client.SigningSecret()}, nil
}

// NewProviderWithAPI is used by tests to stub the Stripe API.
func NewProviderWithAPI(api API, signingSecret string) *Provider {
	return &Provider{api: api, signingSecret: signingSecret}
}

func (p *Provider) Name() enums.PaymentProvider {
	return enums.PaymentProviderStripe
}

func (p *Provider) CreateAuthorization(ctx context.Context, in payments.CreateAuthorizationParams) (*payments.Authorization, error) {
	if in.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.AmountCents),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.ConnectedAccountID != "" {
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(in.ConnectedAccountID),
		}
		if in.ApplicationFee > 0 {
			params.ApplicationFeeAmount = stripe.Int64(in.ApplicationFee)
		}
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	pi, err := p.api.CreatePaymentIntent(ctx, params)
	if err != nil {
		return nil, mapStripeError(err, "create payment intent")
	}
	return toAuthorization(pi), nil
}

func (p *Provider) RetrieveAuthorization(ctx context.Context, id string) (*payments.Authorization, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	pi, err := p.api.GetPaymentIntent(ctx, id, &stripe.PaymentIntentParams{})
	if err != nil {
		return nil, mapStripeError(err, "retrieve payment intent")
	}
	return toAuthorization(pi), nil
}

func (p *Provider) Refund(ctx context.Context, in payments.RefundParams) (*payments.RefundResult, error) {
	if in.AuthorizationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(in.AuthorizationID),
	}
	if in.AmountCents > 0 {
		params.Amount = stripe.Int64(in.AmountCents)
	}
	if reason := refundReason(in.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	} else if in.Reason != "" {
		params.AddMetadata("reason", in.Reason)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	r, err := p.api.CreateRefund(ctx, params)
	if err != nil {
		return nil, mapStripeError(err, "create refund")
	}
	return &payments.RefundResult{
		ID:          r.ID,
		AmountCents: r.Amount,
		Status:      string(r.Status),
	}, nil
}

// VerifyWebhook checks the Stripe-Signature header and normalizes
// payment_intent events. Other event types verify but carry no authorization.
func (p *Provider) VerifyWebhook(payload []byte, header http.Header) (*payments.Event, error) {
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return nil, errors.New("stripe signature missing")
	}
	if p.signingSecret == "" {
		return nil, errors.New("stripe signing secret not configured")
	}

	event, err := webhook.ConstructEventWithOptions(payload, sig, p.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, err
	}

	out := &payments.Event{
		ID:       event.ID,
		Type:     string(event.Type),
		Kind:     payments.EventUnknown,
		Provider: enums.PaymentProviderStripe,
		Payload:  json.RawMessage(payload),
	}
	if !strings.HasPrefix(string(event.Type), "payment_intent.") || event.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	out.Authorization = toAuthorization(&pi)

	switch string(event.Type) {
	case eventPaymentSucceeded:
		out.Kind = payments.EventChargeSucceeded
	case eventPaymentCanceled:
		out.Kind = payments.EventChargeFailed
	case eventPaymentFailed, eventPaymentProcessing:
		// The buyer can retry the same intent; nothing terminal happened.
		out.Kind = payments.EventChargeUpdated
	}
	return out, nil
}

func toAuthorization(pi *stripe.PaymentIntent) *payments.Authorization {
	if pi == nil {
		return nil
	}
	meta := make(map[string]string, len(pi.Metadata))
	for k, v := range pi.Metadata {
		meta[k] = v
	}
	return &payments.Authorization{
		ID:                  pi.ID,
		ClientSecret:        pi.ClientSecret,
		Provider:            enums.PaymentProviderStripe,
		Status:              mapStatus(pi.Status),
		AmountCents:         pi.Amount,
		AmountReceivedCents: pi.AmountReceived,
		Currency:            string(pi.Currency),
		Metadata:            meta,
	}
}

func mapStatus(status stripe.PaymentIntentStatus) payments.AuthorizationStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return payments.StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return payments.StatusCanceled
	case stripe.PaymentIntentStatusProcessing:
		return payments.StatusProcessing
	default:
		return payments.StatusRequiresAction
	}
}

func refundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "duplicate":
		return "duplicate"
	case "fraudulent":
		return "fraudulent"
	case "requested_by_customer":
		return "requested_by_customer"
	}
	return ""
}

func mapStripeError(err error, action string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		details := map[string]any{
			"action":      action,
			"status_code": stripeErr.HTTPStatusCode,
			"code":        string(stripeErr.Code),
			"request_id":  stripeErr.RequestID,
		}
		return pkgerrors.Wrap(pkgerrors.CodeProvider, err, fmt.Sprintf("stripe %s failed", action)).WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeProvider, err, fmt.Sprintf("stripe %s failed", action))
}

var _ payments.Provider = (*Provider)(nil)
