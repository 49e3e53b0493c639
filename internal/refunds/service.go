// Package refunds returns money for paid orders through the provider that
// charged them.
package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-payments/internal/audit"
	"github.com/angelmondragon/marketplace-payments/internal/orders"
	"github.com/angelmondragon/marketplace-payments/pkg/auth"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	"github.com/angelmondragon/marketplace-payments/pkg/metrics"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-payments/pkg/payments"
	"github.com/angelmondragon/marketplace-payments/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultProviderTimeout = 15 * time.Second
	maxReasonLen           = 500
)

type orderService interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Transition(ctx context.Context, input orders.TransitionInput) (*models.Order, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Result describes a completed refund. Concurrent is set when another refund
// moved the order first; the provider still returned this money and the
// record exists.
type Result struct {
	RefundID         uuid.UUID             `json:"refundId"`
	OrderID          uuid.UUID             `json:"orderId"`
	Provider         enums.PaymentProvider `json:"provider"`
	ProviderRefundID string                `json:"providerRefundId"`
	AmountCents      int64                 `json:"amountCents"`
	Kind             enums.RefundKind      `json:"kind"`
	Status           enums.OrderStatus     `json:"status"`
	Concurrent       bool                  `json:"concurrent,omitempty"`
}

type ServiceParams struct {
	Orders          orderService
	Repo            Repository
	Tx              txRunner
	Providers       *payments.Registry
	Outbox          outboxPublisher
	Audit           audit.Recorder
	ProviderTimeout time.Duration
	Metrics         *metrics.PaymentMetrics
	Logger          *logger.Logger
}

type Service struct {
	orders    orderService
	repo      Repository
	tx        txRunner
	providers *payments.Registry
	outbox    outboxPublisher
	audit     audit.Recorder
	timeout   time.Duration
	metrics   *metrics.PaymentMetrics
	logg      *logger.Logger
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("refund repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Providers == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	timeout := p.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &Service{
		orders:    p.Orders,
		repo:      p.Repo,
		tx:        p.Tx,
		providers: p.Providers,
		outbox:    p.Outbox,
		audit:     p.Audit,
		timeout:   timeout,
		metrics:   p.Metrics,
		logg:      p.Logger,
	}, nil
}

// Refund returns amountCents of a paid order to the buyer; zero refunds the
// full total. The provider call is keyed by (order, amount) so a retried
// request cannot refund twice.
func (s *Service) Refund(ctx context.Context, operator auth.Operator, orderID uuid.UUID, amountCents int64, reason string) (*Result, error) {
	if err := operator.Require(auth.PermOrdersRefund); err != nil {
		return nil, err
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if amountCents == 0 {
		amountCents = order.TotalCents
	}
	if amountCents < 0 || amountCents > order.TotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "refund amount must be between 1 and the order total").
			WithDetails(map[string]any{"amount_cents": amountCents, "total_cents": order.TotalCents})
	}
	reason = types.Truncate(strings.TrimSpace(reason), maxReasonLen)

	if order.ProviderRef == nil || *order.ProviderRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNoChargeToRefund, "order has no captured charge to refund").
			WithDetails(map[string]any{"status": order.Status})
	}
	switch order.Status {
	case enums.OrderStatusPaid:
	case enums.OrderStatusRefunded:
		// A retried request for the same amount answers with the recorded refund.
		if prior := s.priorRefund(ctx, order.ID, amountCents); prior != nil {
			return resultFor(prior, order.Status), nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeNoChargeToRefund, "order already refunded").
			WithDetails(map[string]any{"status": order.Status})
	default:
		return nil, pkgerrors.New(pkgerrors.CodeNoChargeToRefund, "order has no captured charge to refund").
			WithDetails(map[string]any{"status": order.Status})
	}

	providerName := s.providers.Default()
	if order.Provider != nil && *order.Provider != "" {
		providerName = *order.Provider
	}
	provider, err := s.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	refund, err := provider.Refund(callCtx, payments.RefundParams{
		AuthorizationID: *order.ProviderRef,
		AmountCents:     amountCents,
		Currency:        order.Currency,
		Reason:          reason,
		IdempotencyKey:  fmt.Sprintf("refund:%s:%d", order.ID, amountCents),
	})
	if err != nil {
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id":    order.ID.String(),
				"provider":    providerName,
				"operator_id": operator.ID.String(),
			})
			s.logg.Error(logCtx, "provider refund failed", err)
		}
		if typed := pkgerrors.As(err); typed != nil && (typed.Code() == pkgerrors.CodeProvider || typed.Code() == pkgerrors.CodeInvalidAmount) {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "provider refund failed")
	}
	if refund.AmountCents <= 0 {
		refund.AmountCents = amountCents
	}

	// The provider hands back the first refund for a repeated key; if that one
	// was already recorded there is nothing left to do.
	if existing, err := s.recorded(ctx, refund.ID); err != nil || existing != nil {
		if err != nil {
			return nil, err
		}
		return resultFor(existing, enums.OrderStatusRefunded), nil
	}

	record := &models.Refund{
		ID:               uuid.New(),
		OrderID:          order.ID,
		Provider:         providerName,
		ProviderRefundID: refund.ID,
		AmountCents:      refund.AmountCents,
		Kind:             kindOf(refund.AmountCents, order.TotalCents),
		OperatorID:       operator.ID,
	}
	if reason != "" {
		record.Reason = &reason
	}
	actor := &outbox.ActorRef{UserID: operator.ID, Role: string(operator.Role)}

	updated, err := s.orders.Transition(ctx, orders.TransitionInput{
		OrderID: order.ID,
		From:    enums.OrderStatusPaid,
		To:      enums.OrderStatusRefunded,
		Source:  "operator",
		Actor:   actor,
		SideEffects: []orders.SideEffect{
			func(ctx context.Context, tx *gorm.DB, o *models.Order) error {
				return s.persist(ctx, tx, record, actor, audit.Entry{
					Action: audit.ActionOrderRefunded,
					Before: map[string]any{"status": enums.OrderStatusPaid},
					After:  map[string]any{"status": enums.OrderStatusRefunded},
				})
			},
		},
	})
	if err != nil {
		current, ok := orders.CurrentStatus(err)
		if !ok {
			return nil, err
		}
		// The provider already returned the money, so the record is kept even
		// though another request moved the order first.
		return s.recordConcurrent(ctx, record, actor, current)
	}

	s.metrics.ObserveRefund(string(providerName), record.AmountCents)
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":           order.ID.String(),
			"provider":           providerName,
			"provider_refund_id": refund.ID,
			"amount_cents":       record.AmountCents,
			"operator_id":        operator.ID.String(),
		})
		s.logg.Info(logCtx, "order refunded")
	}
	return resultFor(record, updated.Status), nil
}

// History lists the refunds recorded for an order.
func (s *Service) History(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	rows, err := s.repo.ListForOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
	}
	return rows, nil
}

// recordConcurrent stores a provider-confirmed refund whose order transition
// was lost to another request. Order status is left as found.
func (s *Service) recordConcurrent(ctx context.Context, record *models.Refund, actor *outbox.ActorRef, current enums.OrderStatus) (*Result, error) {
	record.Concurrent = true
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.persist(ctx, tx, record, actor, audit.Entry{
			Action: audit.ActionRefundConcurrent,
			Before: map[string]any{"status": enums.OrderStatusPaid},
			After:  map[string]any{"status": current},
		})
	})
	if err != nil {
		// A same-key retry may have stored this provider refund in the meantime.
		if existing, findErr := s.recorded(ctx, record.ProviderRefundID); findErr == nil && existing != nil {
			return resultFor(existing, current), nil
		}
		return nil, err
	}

	s.metrics.ObserveRefund(string(record.Provider), record.AmountCents)
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":           record.OrderID.String(),
			"provider":           record.Provider,
			"provider_refund_id": record.ProviderRefundID,
			"amount_cents":       record.AmountCents,
			"operator_id":        record.OperatorID.String(),
			"order_status":       current,
		})
		s.logg.Warn(logCtx, "refund confirmed after order already moved")
	}
	return resultFor(record, current), nil
}

// persist writes the refund row, its audit entry and the outbox event in tx.
func (s *Service) persist(ctx context.Context, tx *gorm.DB, record *models.Refund, actor *outbox.ActorRef, entry audit.Entry) error {
	if err := s.repo.WithTx(tx).Create(ctx, record); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert refund record")
	}
	reason := ""
	if record.Reason != nil {
		reason = *record.Reason
	}
	entry.Entity = "order"
	entry.EntityID = record.OrderID.String()
	entry.ActorID = &record.OperatorID
	entry.Metadata = map[string]any{
		"provider":           record.Provider,
		"provider_refund_id": record.ProviderRefundID,
		"amount_cents":       record.AmountCents,
		"kind":               record.Kind,
		"reason":             reason,
	}
	if err := s.audit.Record(ctx, tx, entry); err != nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderRefunded,
		AggregateType: enums.AggregateOrder,
		AggregateID:   record.OrderID,
		Actor:         actor,
		Data: payloads.OrderRefundedEvent{
			OrderID:          record.OrderID,
			Provider:         record.Provider,
			ProviderRefundID: record.ProviderRefundID,
			AmountCents:      record.AmountCents,
			Reason:           reason,
		},
	})
}

// recorded returns the stored refund for a provider refund id, or nil.
func (s *Service) recorded(ctx context.Context, providerRefundID string) (*models.Refund, error) {
	existing, err := s.repo.FindByProviderRefundID(ctx, providerRefundID)
	switch {
	case err == nil:
		return existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund")
	}
}

func (s *Service) priorRefund(ctx context.Context, orderID uuid.UUID, amountCents int64) *models.Refund {
	rows, err := s.repo.ListForOrder(ctx, orderID)
	if err != nil {
		return nil
	}
	for i := range rows {
		if rows[i].AmountCents == amountCents {
			return &rows[i]
		}
	}
	return nil
}

func kindOf(amountCents, totalCents int64) enums.RefundKind {
	if amountCents >= totalCents {
		return enums.RefundKindFull
	}
	return enums.RefundKindPartial
}

func resultFor(record *models.Refund, status enums.OrderStatus) *Result {
	return &Result{
		RefundID:         record.ID,
		OrderID:          record.OrderID,
		Provider:         record.Provider,
		ProviderRefundID: record.ProviderRefundID,
		AmountCents:      record.AmountCents,
		Kind:             record.Kind,
		Status:           status,
		Concurrent:       record.Concurrent,
	}
}
