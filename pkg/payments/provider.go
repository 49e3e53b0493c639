// Package payments defines the provider-neutral contract the order core uses
// to talk to card processors.
package payments

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/angelmondragon/marketplace-payments/pkg/enums"
)

// AuthorizationStatus is the normalized provider charge state.
type AuthorizationStatus string

const (
	StatusRequiresAction AuthorizationStatus = "requires_action"
	StatusProcessing     AuthorizationStatus = "processing"
	StatusSucceeded      AuthorizationStatus = "succeeded"
	StatusFailed         AuthorizationStatus = "failed"
	StatusCanceled       AuthorizationStatus = "canceled"
)

// IsTerminal reports whether the provider will not move the charge further.
func (s AuthorizationStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Authorization is a provider charge authorization in normalized form.
type Authorization struct {
	ID                  string
	ClientSecret        string
	Provider            enums.PaymentProvider
	Status              AuthorizationStatus
	AmountCents         int64
	AmountReceivedCents int64
	Currency            string
	Metadata            map[string]string
}

// SettledAmountCents prefers the received amount when the provider reports one.
func (a Authorization) SettledAmountCents() int64 {
	if a.AmountReceivedCents > 0 {
		return a.AmountReceivedCents
	}
	return a.AmountCents
}

// CreateAuthorizationParams is everything a provider needs to open a charge.
type CreateAuthorizationParams struct {
	AmountCents        int64
	Currency           string
	Metadata           map[string]string
	IdempotencyKey     string
	ConnectedAccountID string
	ApplicationFee     int64
	// SourceID is a tokenized payment source; required by providers that
	// charge immediately instead of confirming client side.
	SourceID    string
	Description string
}

// RefundParams describes a refund against a settled authorization.
type RefundParams struct {
	AuthorizationID string
	AmountCents     int64
	Currency        string
	Reason          string
	IdempotencyKey  string
}

// RefundResult is the provider's acknowledgement of a refund.
type RefundResult struct {
	ID          string
	AmountCents int64
	Status      string
}

// EventKind classifies verified provider events.
type EventKind string

const (
	EventChargeSucceeded EventKind = "charge_succeeded"
	EventChargeFailed    EventKind = "charge_failed"
	EventChargeUpdated   EventKind = "charge_updated"
	EventUnknown         EventKind = "unknown"
)

// Event is a verified provider webhook.
type Event struct {
	ID            string
	Type          string
	Kind          EventKind
	Provider      enums.PaymentProvider
	Authorization *Authorization
	Payload       json.RawMessage
}

// Provider is implemented by every payment processor adapter.
type Provider interface {
	Name() enums.PaymentProvider
	CreateAuthorization(ctx context.Context, params CreateAuthorizationParams) (*Authorization, error)
	RetrieveAuthorization(ctx context.Context, id string) (*Authorization, error)
	Refund(ctx context.Context, params RefundParams) (*RefundResult, error)
	VerifyWebhook(payload []byte, header http.Header) (*Event, error)
}
