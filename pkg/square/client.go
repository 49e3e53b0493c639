package square

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/marketplace-payments/pkg/config"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
)

var environments = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

// Client wraps the Square SDK payments and refunds endpoints. Every call is
// logged with sensitive fields masked and SDK errors are mapped to domain codes.
type Client struct {
	sdk           *sqclient.Client
	logg          *logger.Logger
	environment   string
	locationID    string
	signingSecret string
	notifyURL     string
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("square: logger required")
	}
	env := cfg.Environment()
	baseURL, ok := environments[env]
	if !ok {
		return nil, fmt.Errorf("square: unknown environment %q", env)
	}
	token := strings.TrimSpace(cfg.AccessToken)
	secret := strings.TrimSpace(cfg.WebhookSecret)
	switch {
	case token == "":
		return nil, errors.New("square: access token required")
	case secret == "":
		return nil, errors.New("square: webhook secret required")
	}

	c := &Client{
		sdk:           sqclient.NewClient(sqoption.WithBaseURL(baseURL), sqoption.WithToken(token)),
		logg:          logg,
		environment:   env,
		locationID:    strings.TrimSpace(cfg.LocationID),
		signingSecret: secret,
		notifyURL:     strings.TrimSpace(cfg.NotificationURL),
	}
	logg.Info(logg.WithField(ctx, "square_env", env), "square client ready")
	return c, nil
}

func (c *Client) Environment() string { return c.environment }

// SigningSecret is the webhook signature key for the subscription.
func (c *Client) SigningSecret() string { return c.signingSecret }

// NotificationURL is the subscription URL Square prepends to the body when signing.
func (c *Client) NotificationURL() string { return c.notifyURL }

// CreatePayment charges SourceID immediately; Square has no client-side
// confirmation step.
func (c *Client) CreatePayment(ctx context.Context, params PaymentCreateParams) (*sq.Payment, error) {
	if params.LocationID == "" {
		params.LocationID = c.locationID
	}
	req := params.request(idempotencyKey("pay", params.IdempotencyKey))
	fields := map[string]any{
		"location_id":  params.LocationID,
		"reference_id": params.ReferenceID,
		"amount":       params.AmountCents,
		"app_fee":      params.AppFeeCents,
		"source_id":    params.SourceID,
	}
	resp, err := call(ctx, c, "create_payment", fields, func(ctx context.Context) (*sq.CreatePaymentResponse, error) {
		return c.sdk.Payments.Create(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return resp.GetPayment(), nil
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	resp, err := call(ctx, c, "get_payment", map[string]any{"payment_id": paymentID}, func(ctx context.Context) (*sq.GetPaymentResponse, error) {
		return c.sdk.Payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: paymentID})
	})
	if err != nil {
		return nil, err
	}
	return resp.GetPayment(), nil
}

func (c *Client) RefundPayment(ctx context.Context, params RefundCreateParams) (*sq.PaymentRefund, error) {
	req := params.request(idempotencyKey("rfd", params.IdempotencyKey))
	fields := map[string]any{
		"payment_id": params.PaymentID,
		"amount":     params.AmountCents,
	}
	resp, err := call(ctx, c, "refund_payment", fields, func(ctx context.Context) (*sq.RefundPaymentResponse, error) {
		return c.sdk.Refunds.RefundPayment(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return resp.GetRefund(), nil
}

// call runs one SDK request with masked request logging and domain error mapping.
func call[T any](ctx context.Context, c *Client, op string, fields map[string]any, fn func(context.Context) (T, error)) (T, error) {
	ctx = c.logg.WithFields(ctx, masked(op, fields))
	c.logg.Debug(ctx, "square request")

	resp, err := fn(ctx)
	if err != nil {
		mapped := mapError(op, err)
		c.logg.Error(ctx, "square request failed", mapped)
		return resp, mapped
	}
	c.logg.Debug(ctx, "square request succeeded")
	return resp, nil
}

var sensitiveFragments = []string{"card", "nonce", "token", "source", "cvv", "cvc", "secret", "email", "phone"}

func masked(op string, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	out["square_op"] = op
	for key, value := range fields {
		out[key] = maskValue(key, value)
	}
	return out
}

func maskValue(key string, value any) any {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return "[REDACTED]"
		}
	}
	return value
}

// idempotencyKey keeps a caller-supplied key so retries collapse at Square.
func idempotencyKey(prefix, provided string) string {
	if key := strings.TrimSpace(provided); key != "" {
		return key
	}
	return prefix + "-" + uuid.NewString()
}
