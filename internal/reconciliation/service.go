// Package reconciliation re-drives settlement from the provider's view of a
// charge: operator reprocessing of a logged webhook, operator replay for an
// order, and the periodic sweep of stale pending orders.
package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-payments/internal/audit"
	"github.com/angelmondragon/marketplace-payments/internal/orders"
	"github.com/angelmondragon/marketplace-payments/internal/settlement"
	"github.com/angelmondragon/marketplace-payments/internal/webhooklogs"
	"github.com/angelmondragon/marketplace-payments/pkg/auth"
	"github.com/angelmondragon/marketplace-payments/pkg/config"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox"
	"github.com/angelmondragon/marketplace-payments/pkg/payments"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const defaultProviderTimeout = 15 * time.Second

type orderService interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Transition(ctx context.Context, input orders.TransitionInput) (*models.Order, error)
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error)
	ListAbandonedPending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error)
}

type webhookLog interface {
	Get(ctx context.Context, id uuid.UUID) (*models.WebhookLog, error)
	LatestForOrder(ctx context.Context, orderID uuid.UUID) (*models.WebhookLog, error)
	Finish(ctx context.Context, in webhooklogs.FinishInput) (*models.WebhookLog, error)
}

// ReprocessInput lets an operator point a logged event at a specific order or
// charge when the original delivery carried the wrong one.
type ReprocessInput struct {
	OrderID         *uuid.UUID
	AuthorizationID string
}

// ReprocessResult is the refreshed log and what settlement did.
type ReprocessResult struct {
	Log     *models.WebhookLog  `json:"log"`
	Outcome *settlement.Outcome `json:"outcome"`
}

// SweepReport summarizes one sweep tick.
type SweepReport struct {
	Checked   int `json:"checked"`
	Settled   int `json:"settled"`
	StillOpen int `json:"stillOpen"`
	Cancelled int `json:"cancelled"`
}

type ServiceParams struct {
	Orders          orderService
	Logs            webhookLog
	Settlement      settlement.Service
	Providers       *payments.Registry
	Audit           audit.Recorder
	Config          config.ReconciliationConfig
	ProviderTimeout time.Duration
	Logger          *logger.Logger
}

type Service struct {
	orders     orderService
	logs       webhookLog
	settlement settlement.Service
	providers  *payments.Registry
	audit      audit.Recorder
	cfg        config.ReconciliationConfig
	timeout    time.Duration
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	if p.Logs == nil {
		return nil, fmt.Errorf("webhook log required")
	}
	if p.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	if p.Providers == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	if p.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	timeout := p.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	cfg := p.Config
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.PendingOrderTTL <= 0 {
		cfg.PendingOrderTTL = 72 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Service{
		orders:     p.Orders,
		logs:       p.Logs,
		settlement: p.Settlement,
		providers:  p.Providers,
		audit:      p.Audit,
		cfg:        cfg,
		timeout:    timeout,
		logg:       p.Logger,
		now:        time.Now,
	}, nil
}

// ReprocessWebhookLog re-fetches the charge behind a logged event and runs it
// through settlement again.
func (s *Service) ReprocessWebhookLog(ctx context.Context, operator auth.Operator, logID uuid.UUID, in ReprocessInput) (*ReprocessResult, error) {
	if err := operator.Require(auth.PermWebhooksReprocess); err != nil {
		return nil, err
	}
	entry, err := s.logs.Get(ctx, logID)
	if err != nil {
		return nil, err
	}

	ref := strings.TrimSpace(in.AuthorizationID)
	if ref == "" && entry.AuthorizationRef != nil {
		ref = *entry.AuthorizationRef
	}
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook log has no charge reference; supply authorizationId")
	}

	charge, err := s.fetchTerminal(ctx, entry.Provider, ref)
	if err != nil {
		return nil, err
	}

	orderHint := in.OrderID
	if orderHint == nil {
		orderHint = entry.OrderID
	}
	start := s.now()
	outcome, applyErr := s.settlement.Apply(ctx, settlement.Input{
		Provider:      entry.Provider,
		Kind:          settlement.KindForStatus(charge.Status),
		Authorization: charge,
		Source:        settlement.SourceReprocess,
		EventID:       entry.EventID,
		OrderID:       orderHint,
		Actor:         actorOf(operator),
	})

	finish := webhooklogs.FinishInput{
		LogID:      entry.ID,
		Trigger:    enums.WebhookAttemptReprocess,
		Err:        applyErr,
		Duration:   s.now().Sub(start),
		OperatorID: &operator.ID,
	}
	if outcome != nil {
		finish.OrderID = outcome.OrderID
	}
	updated, finishErr := s.logs.Finish(context.WithoutCancel(ctx), finish)

	auditErr := s.audit.Record(ctx, nil, audit.Entry{
		Action:   audit.ActionWebhookReprocessed,
		Entity:   "webhook_log",
		EntityID: entry.ID.String(),
		ActorID:  &operator.ID,
		Before:   map[string]any{"status": entry.Status, "retry_count": entry.RetryCount},
		After:    logState(updated),
		Metadata: outcomeMetadata(ref, outcome, applyErr),
	})
	s.logOperator(ctx, operator, "webhook log reprocessed", map[string]any{
		"webhook_log_id": entry.ID.String(),
		"provider_ref":   ref,
	}, applyErr)

	if applyErr != nil {
		return nil, applyErr
	}
	if finishErr != nil {
		return nil, finishErr
	}
	if auditErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, auditErr, "record reprocess audit")
	}
	return &ReprocessResult{Log: updated, Outcome: outcome}, nil
}

// ReplayOrderWebhook settles an order from the provider's current view of its
// charge, for when the success webhook never arrived.
func (s *Service) ReplayOrderWebhook(ctx context.Context, operator auth.Operator, orderID uuid.UUID, providerName string) (*settlement.Outcome, error) {
	if err := operator.Require(auth.PermWebhooksReprocess); err != nil {
		return nil, err
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ProviderRef == nil || *order.ProviderRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no provider reference to replay")
	}

	name, err := s.providerFor(order, providerName)
	if err != nil {
		return nil, err
	}
	charge, err := s.fetch(ctx, name, *order.ProviderRef)
	if err != nil {
		return nil, err
	}
	if charge.Status != payments.StatusSucceeded {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge has not succeeded").
			WithDetails(map[string]any{"provider_status": charge.Status})
	}

	start := s.now()
	outcome, applyErr := s.settlement.Apply(ctx, settlement.Input{
		Provider:      name,
		Kind:          payments.EventChargeSucceeded,
		Authorization: charge,
		Source:        settlement.SourceReplay,
		OrderID:       &order.ID,
		Actor:         actorOf(operator),
	})

	if entry, logErr := s.logs.LatestForOrder(ctx, order.ID); logErr == nil {
		if _, err := s.logs.Finish(context.WithoutCancel(ctx), webhooklogs.FinishInput{
			LogID:      entry.ID,
			Trigger:    enums.WebhookAttemptReplay,
			Err:        applyErr,
			Duration:   s.now().Sub(start),
			OrderID:    &order.ID,
			OperatorID: &operator.ID,
		}); err != nil && s.logg != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "record replay attempt", err)
		}
	}

	auditErr := s.audit.Record(ctx, nil, audit.Entry{
		Action:   audit.ActionWebhookReplayed,
		Entity:   "order",
		EntityID: order.ID.String(),
		ActorID:  &operator.ID,
		Before:   map[string]any{"status": order.Status},
		After:    afterStatus(outcome),
		Metadata: outcomeMetadata(*order.ProviderRef, outcome, applyErr),
	})
	s.logOperator(ctx, operator, "order webhook replayed", map[string]any{
		"order_id":     order.ID.String(),
		"provider_ref": *order.ProviderRef,
	}, applyErr)

	if applyErr != nil {
		return nil, applyErr
	}
	if auditErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, auditErr, "record replay audit")
	}
	return outcome, nil
}

// SweepStalePending settles pending orders whose charge already reached a
// terminal state and cancels pending orders that never reached a provider.
func (s *Service) SweepStalePending(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	var errs error

	stale, err := s.orders.ListStalePending(ctx, s.cfg.StaleAfter, s.cfg.BatchSize)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	for i := range stale {
		order := &stale[i]
		report.Checked++
		settled, err := s.sweepOne(ctx, order)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		if settled {
			report.Settled++
		} else {
			report.StillOpen++
		}
	}

	abandoned, err := s.orders.ListAbandonedPending(ctx, s.cfg.PendingOrderTTL, s.cfg.BatchSize)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	for _, order := range abandoned {
		_, err := s.orders.Transition(ctx, orders.TransitionInput{
			OrderID: order.ID,
			From:    enums.OrderStatusPending,
			To:      enums.OrderStatusCancelled,
			Source:  string(settlement.SourceSweep),
		})
		if err != nil {
			if _, conflict := orders.CurrentStatus(err); conflict {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("cancel order %s: %w", order.ID, err))
			continue
		}
		report.Cancelled++
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"checked":    report.Checked,
			"settled":    report.Settled,
			"still_open": report.StillOpen,
			"cancelled":  report.Cancelled,
		})
		s.logg.Info(logCtx, "stale pending sweep complete")
	}
	return report, errs
}

func (s *Service) sweepOne(ctx context.Context, order *models.Order) (bool, error) {
	name, err := s.providerFor(order, "")
	if err != nil {
		return false, err
	}
	charge, err := s.fetch(ctx, name, *order.ProviderRef)
	if err != nil {
		return false, err
	}
	if !charge.Status.IsTerminal() {
		return false, nil
	}
	outcome, err := s.settlement.Apply(ctx, settlement.Input{
		Provider:      name,
		Kind:          settlement.KindForStatus(charge.Status),
		Authorization: charge,
		Source:        settlement.SourceSweep,
		OrderID:       &order.ID,
	})
	if err != nil {
		return false, err
	}
	return outcome.Action == settlement.ActionMarkedPaid || outcome.Action == settlement.ActionMarkedFailed, nil
}

func (s *Service) providerFor(order *models.Order, requested string) (enums.PaymentProvider, error) {
	if strings.TrimSpace(requested) != "" {
		name, err := enums.ParsePaymentProvider(requested)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown payment provider")
		}
		return name, nil
	}
	if order.Provider != nil && *order.Provider != "" {
		return *order.Provider, nil
	}
	return s.providers.Default(), nil
}

func (s *Service) fetch(ctx context.Context, name enums.PaymentProvider, ref string) (*payments.Authorization, error) {
	provider, err := s.providers.Get(name)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	charge, err := provider.RetrieveAuthorization(callCtx, ref)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeProvider {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "retrieve authorization")
	}
	if charge.Provider == "" {
		charge.Provider = name
	}
	return charge, nil
}

func (s *Service) fetchTerminal(ctx context.Context, name enums.PaymentProvider, ref string) (*payments.Authorization, error) {
	charge, err := s.fetch(ctx, name, ref)
	if err != nil {
		return nil, err
	}
	if !charge.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge is not in a terminal state").
			WithDetails(map[string]any{"provider_status": charge.Status})
	}
	return charge, nil
}

func (s *Service) logOperator(ctx context.Context, operator auth.Operator, msg string, fields map[string]any, err error) {
	if s.logg == nil {
		return
	}
	fields["operator_id"] = operator.ID.String()
	logCtx := s.logg.WithFields(ctx, fields)
	if err != nil {
		s.logg.Error(logCtx, msg, err)
		return
	}
	s.logg.Info(logCtx, msg)
}

func actorOf(operator auth.Operator) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: operator.ID, Role: string(operator.Role)}
}

func logState(entry *models.WebhookLog) any {
	if entry == nil {
		return nil
	}
	return map[string]any{"status": entry.Status, "retry_count": entry.RetryCount}
}

func afterStatus(outcome *settlement.Outcome) any {
	if outcome == nil {
		return nil
	}
	return map[string]any{"status": outcome.Status}
}

func outcomeMetadata(ref string, outcome *settlement.Outcome, err error) map[string]any {
	meta := map[string]any{"provider_ref": ref}
	if outcome != nil {
		meta["resolution"] = outcome.Resolution
		meta["action"] = outcome.Action
	}
	if err != nil {
		meta["error"] = err.Error()
	}
	return meta
}
