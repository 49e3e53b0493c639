// Package webhooks verifies provider webhook deliveries, logs them and hands
// the charge outcome to settlement.
package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-payments/internal/settlement"
	"github.com/angelmondragon/marketplace-payments/internal/webhooklogs"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	"github.com/angelmondragon/marketplace-payments/pkg/metrics"
	"github.com/angelmondragon/marketplace-payments/pkg/payments"
	"github.com/google/uuid"
)

type webhookLog interface {
	Begin(ctx context.Context, in webhooklogs.BeginInput) (*models.WebhookLog, bool, error)
	Finish(ctx context.Context, in webhooklogs.FinishInput) (*models.WebhookLog, error)
}

type inflightGuard interface {
	Acquire(ctx context.Context, provider enums.PaymentProvider, eventID string) (bool, error)
	Release(ctx context.Context, provider enums.PaymentProvider, eventID string) error
}

// Result describes what happened to one verified delivery.
type Result struct {
	EventID   string
	LogID     uuid.UUID
	Duplicate bool
	Outcome   *settlement.Outcome
	// Err is the processing failure recorded on the log; the delivery is
	// still acknowledged.
	Err error
}

type ProcessorParams struct {
	Providers  *payments.Registry
	Logs       webhookLog
	Settlement settlement.Service
	Guard      inflightGuard
	Metrics    *metrics.PaymentMetrics
	Logger     *logger.Logger
}

type Processor struct {
	providers  *payments.Registry
	logs       webhookLog
	settlement settlement.Service
	guard      inflightGuard
	metrics    *metrics.PaymentMetrics
	logg       *logger.Logger
	now        func() time.Time
}

func NewProcessor(p ProcessorParams) (*Processor, error) {
	if p.Providers == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	if p.Logs == nil {
		return nil, fmt.Errorf("webhook log required")
	}
	if p.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	return &Processor{
		providers:  p.Providers,
		logs:       p.Logs,
		settlement: p.Settlement,
		guard:      p.Guard,
		metrics:    p.Metrics,
		logg:       p.Logger,
		now:        time.Now,
	}, nil
}

// HandleEvent returns an error only when the delivery cannot be trusted
// (unknown provider or bad signature). Anything after verification is
// recorded on the webhook log and reported through Result.
func (p *Processor) HandleEvent(ctx context.Context, providerName string, raw []byte, header http.Header) (*Result, error) {
	name := enums.PaymentProvider("")
	if strings.TrimSpace(providerName) != "" {
		parsed, err := enums.ParsePaymentProvider(providerName)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown payment provider")
		}
		name = parsed
	}
	provider, err := p.providers.Get(name)
	if err != nil {
		return nil, err
	}
	name = provider.Name()

	event, err := provider.VerifyWebhook(raw, header)
	if err != nil {
		p.metrics.IncWebhook(string(name), "rejected")
		if p.logg != nil {
			logCtx := p.logg.WithProvider(ctx, string(name))
			logCtx = p.logg.WithField(logCtx, "reason", err.Error())
			p.logg.Warn(logCtx, "webhook signature verification failed")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "webhook signature verification failed")
	}
	p.metrics.IncWebhook(string(name), "verified")
	if event.Provider == "" {
		event.Provider = name
	}

	res := &Result{EventID: event.ID}
	if event.ID == "" {
		res.Err = pkgerrors.New(pkgerrors.CodeValidation, "webhook event id missing")
		p.metrics.IncWebhook(string(name), "failed")
		p.logResult(ctx, event, res)
		return res, nil
	}

	if p.guard != nil {
		acquired, guardErr := p.guard.Acquire(ctx, name, event.ID)
		switch {
		case guardErr != nil:
			if p.logg != nil {
				p.logg.Error(p.logg.WithProvider(ctx, string(name)), "webhook inflight guard unavailable", guardErr)
			}
		case !acquired:
			res.Duplicate = true
			p.metrics.IncWebhook(string(name), "duplicate")
			p.logResult(ctx, event, res)
			return res, nil
		default:
			defer func() {
				if relErr := p.guard.Release(context.WithoutCancel(ctx), name, event.ID); relErr != nil && p.logg != nil {
					p.logg.Error(p.logg.WithProvider(ctx, string(name)), "release webhook inflight guard", relErr)
				}
			}()
		}
	}

	begin := webhooklogs.BeginInput{
		Provider:  name,
		EventID:   event.ID,
		EventType: event.Type,
		Payload:   event.Payload,
	}
	if event.Authorization != nil {
		begin.AuthorizationRef = event.Authorization.ID
		begin.OrderID = payments.ParseOrderMetadata(event.Authorization.Metadata).OrderID
	}
	entry, done, err := p.logs.Begin(ctx, begin)
	if err != nil {
		res.Err = err
		p.metrics.IncWebhook(string(name), "failed")
		p.logResult(ctx, event, res)
		return res, nil
	}
	res.LogID = entry.ID
	if done {
		res.Duplicate = true
		p.metrics.IncWebhook(string(name), "duplicate")
		p.logResult(ctx, event, res)
		return res, nil
	}

	start := p.now()
	outcome, applyErr := p.settlement.Apply(ctx, settlement.Input{
		Provider:      name,
		Kind:          event.Kind,
		Authorization: event.Authorization,
		Source:        settlement.SourceWebhook,
		EventID:       event.ID,
	})
	res.Outcome = outcome
	res.Err = applyErr

	finish := webhooklogs.FinishInput{
		LogID:    entry.ID,
		Trigger:  enums.WebhookAttemptDelivery,
		Err:      applyErr,
		Duration: p.now().Sub(start),
	}
	if outcome != nil {
		finish.OrderID = outcome.OrderID
	}
	if _, err := p.logs.Finish(context.WithoutCancel(ctx), finish); err != nil && p.logg != nil {
		p.logg.Error(p.logg.WithField(ctx, "event_id", event.ID), "finish webhook log", err)
	}

	if applyErr != nil {
		p.metrics.IncWebhook(string(name), "failed")
	} else {
		p.metrics.IncWebhook(string(name), "processed")
	}
	p.logResult(ctx, event, res)
	return res, nil
}

func (p *Processor) logResult(ctx context.Context, event *payments.Event, res *Result) {
	if p.logg == nil {
		return
	}
	fields := map[string]any{
		"provider":   event.Provider,
		"event_id":   event.ID,
		"event_type": event.Type,
		"duplicate":  res.Duplicate,
	}
	if res.Outcome != nil {
		fields["resolution"] = res.Outcome.Resolution
		fields["action"] = res.Outcome.Action
		if res.Outcome.OrderID != nil {
			fields["order_id"] = res.Outcome.OrderID.String()
		}
	}
	logCtx := p.logg.WithFields(ctx, fields)
	if res.Err != nil {
		p.logg.Error(logCtx, "webhook processing failed", res.Err)
		return
	}
	p.logg.Info(logCtx, "webhook processed")
}
