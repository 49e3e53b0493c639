// Package paymentstest provides an in-memory payments.Provider for tests.
package paymentstest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/angelmondragon/marketplace-payments/pkg/payments"
)

// SignatureHeader carries the fake signature; any value other than
// ValidSignature fails verification.
const (
	SignatureHeader = "X-Fake-Signature"
	ValidSignature  = "valid"
)

// ErrBadSignature is returned by VerifyWebhook for unsigned payloads.
var ErrBadSignature = errors.New("fake: signature mismatch")

// Provider is a deterministic, concurrency-safe fake processor.
type Provider struct {
	mu sync.Mutex

	name     enums.PaymentProvider
	auths    map[string]*payments.Authorization
	byKey    map[string]string
	refunds  map[string]*payments.RefundResult
	seq      int
	lastSeen payments.CreateAuthorizationParams
	lastRef  payments.RefundParams

	CreateCalls   int
	RetrieveCalls int
	RefundCalls   int

	CreateErr   error
	RetrieveErr error
	RefundErr   error

	// CreateDelay holds CreateAuthorization until it elapses or ctx is done.
	CreateDelay time.Duration
}

// New builds a fake registered under name (stripe when empty).
func New(name enums.PaymentProvider) *Provider {
	if name == "" {
		name = enums.PaymentProviderStripe
	}
	return &Provider{
		name:    name,
		auths:   map[string]*payments.Authorization{},
		byKey:   map[string]string{},
		refunds: map[string]*payments.RefundResult{},
	}
}

func (p *Provider) Name() enums.PaymentProvider { return p.name }

func (p *Provider) CreateAuthorization(ctx context.Context, params payments.CreateAuthorizationParams) (*payments.Authorization, error) {
	if p.CreateDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.CreateDelay):
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CreateCalls++
	p.lastSeen = params
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id, ok := p.byKey[params.IdempotencyKey]; ok && params.IdempotencyKey != "" {
		return clone(p.auths[id]), nil
	}
	p.seq++
	id := fmt.Sprintf("auth_%d", p.seq)
	meta := map[string]string{}
	for k, v := range params.Metadata {
		meta[k] = v
	}
	auth := &payments.Authorization{
		ID:           id,
		ClientSecret: id + "_secret",
		Provider:     p.name,
		Status:       payments.StatusRequiresAction,
		AmountCents:  params.AmountCents,
		Currency:     params.Currency,
		Metadata:     meta,
	}
	p.auths[id] = auth
	if params.IdempotencyKey != "" {
		p.byKey[params.IdempotencyKey] = id
	}
	return clone(auth), nil
}

func (p *Provider) RetrieveAuthorization(ctx context.Context, id string) (*payments.Authorization, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RetrieveCalls++
	if p.RetrieveErr != nil {
		return nil, p.RetrieveErr
	}
	auth, ok := p.auths[id]
	if !ok {
		return nil, fmt.Errorf("fake: authorization %s not found", id)
	}
	return clone(auth), nil
}

func (p *Provider) Refund(ctx context.Context, params payments.RefundParams) (*payments.RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RefundCalls++
	p.lastRef = params
	if p.RefundErr != nil {
		return nil, p.RefundErr
	}
	if existing, ok := p.refunds[params.IdempotencyKey]; ok && params.IdempotencyKey != "" {
		copied := *existing
		return &copied, nil
	}
	res := &payments.RefundResult{
		ID:          fmt.Sprintf("re_%s_%d", params.AuthorizationID, len(p.refunds)+1),
		AmountCents: params.AmountCents,
		Status:      "succeeded",
	}
	p.refunds[params.IdempotencyKey] = res
	copied := *res
	return &copied, nil
}

// webhookBody is the JSON shape VerifyWebhook accepts.
type webhookBody struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	AuthorizationID string            `json:"authorization_id"`
	Status          string            `json:"status"`
	AmountCents     int64             `json:"amount_cents"`
	Metadata        map[string]string `json:"metadata"`
}

func (p *Provider) VerifyWebhook(payload []byte, header http.Header) (*payments.Event, error) {
	if header.Get(SignatureHeader) != ValidSignature {
		return nil, ErrBadSignature
	}
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("fake: decode payload: %w", err)
	}
	event := &payments.Event{
		ID:       body.ID,
		Type:     body.Type,
		Kind:     payments.EventKind(body.Type),
		Provider: p.name,
		Payload:  json.RawMessage(payload),
	}
	if body.AuthorizationID != "" {
		event.Authorization = &payments.Authorization{
			ID:          body.AuthorizationID,
			Provider:    p.name,
			Status:      payments.AuthorizationStatus(body.Status),
			AmountCents: body.AmountCents,
			Currency:    "usd",
			Metadata:    body.Metadata,
		}
	}
	return event, nil
}

// SetStatus moves a stored authorization, as the provider would after the
// buyer confirms or the charge fails.
func (p *Provider) SetStatus(id string, status payments.AuthorizationStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if auth, ok := p.auths[id]; ok {
		auth.Status = status
		if status == payments.StatusSucceeded {
			auth.AmountReceivedCents = auth.AmountCents
		}
	}
}

// Put stores an authorization directly, e.g. one created outside this service.
func (p *Provider) Put(auth payments.Authorization) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if auth.Provider == "" {
		auth.Provider = p.name
	}
	p.auths[auth.ID] = &auth
}

// LastCreateParams returns the most recent CreateAuthorization input.
func (p *Provider) LastCreateParams() payments.CreateAuthorizationParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

// LastRefundParams returns the most recent Refund input.
func (p *Provider) LastRefundParams() payments.RefundParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRef
}

// SignedEvent builds a payload and header pair that VerifyWebhook accepts.
func SignedEvent(eventID string, kind payments.EventKind, auth payments.Authorization) ([]byte, http.Header) {
	body, _ := json.Marshal(webhookBody{
		ID:              eventID,
		Type:            string(kind),
		AuthorizationID: auth.ID,
		Status:          string(auth.Status),
		AmountCents:     auth.AmountCents,
		Metadata:        auth.Metadata,
	})
	header := http.Header{}
	header.Set(SignatureHeader, ValidSignature)
	return body, header
}

func clone(a *payments.Authorization) *payments.Authorization {
	if a == nil {
		return nil
	}
	copied := *a
	copied.Metadata = map[string]string{}
	for k, v := range a.Metadata {
		copied.Metadata[k] = v
	}
	return &copied
}

var _ payments.Provider = (*Provider)(nil)
