// Package settlement applies a verified provider charge outcome to the order
// it belongs to. Webhooks, operator reprocessing, replay and the stale sweep
// all go through Apply so they share one set of transitions.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/marketplace-payments/internal/audit"
	"github.com/angelmondragon/marketplace-payments/internal/fees"
	"github.com/angelmondragon/marketplace-payments/internal/listings"
	"github.com/angelmondragon/marketplace-payments/internal/orders"
	"github.com/angelmondragon/marketplace-payments/internal/paymentintents"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	"github.com/angelmondragon/marketplace-payments/pkg/metrics"
	"github.com/angelmondragon/marketplace-payments/pkg/payments"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type orderService interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByProviderRef(ctx context.Context, ref string) (*models.Order, error)
	CreateLegacyOrder(ctx context.Context, input orders.LegacyOrderInput) (*models.Order, error)
	Transition(ctx context.Context, input orders.TransitionInput) (*models.Order, error)
	SetProviderRef(ctx context.Context, tx *gorm.DB, id uuid.UUID, provider enums.PaymentProvider, ref string) error
}

// Service applies provider outcomes to orders.
type Service interface {
	Apply(ctx context.Context, in Input) (*Outcome, error)
}

// ServiceParams groups the settlement collaborators.
type ServiceParams struct {
	Orders         orderService
	Authorizations paymentintents.Repository
	Listings       listings.Repository
	Audit          audit.Recorder
	Metrics        *metrics.PaymentMetrics
	Logger         *logger.Logger
}

type service struct {
	orders   orderService
	auths    paymentintents.Repository
	listings listings.Repository
	audit    audit.Recorder
	metrics  *metrics.PaymentMetrics
	logg     *logger.Logger
}

func NewService(p ServiceParams) (Service, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	if p.Authorizations == nil {
		return nil, fmt.Errorf("authorization repository required")
	}
	if p.Listings == nil {
		return nil, fmt.Errorf("listings repository required")
	}
	if p.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	return &service{
		orders:   p.Orders,
		auths:    p.Authorizations,
		listings: p.Listings,
		audit:    p.Audit,
		metrics:  p.Metrics,
		logg:     p.Logger,
	}, nil
}

func (s *service) Apply(ctx context.Context, in Input) (*Outcome, error) {
	if in.Authorization == nil || strings.TrimSpace(in.Authorization.ID) == "" {
		s.record(in, Ignored, ActionNoop)
		return &Outcome{Resolution: Ignored, Action: ActionNoop, Reason: "event carries no charge"}, nil
	}
	if in.Provider == "" {
		in.Provider = in.Authorization.Provider
	}
	if in.Source == "" {
		in.Source = SourceWebhook
	}

	switch in.Kind {
	case payments.EventChargeSucceeded, payments.EventChargeFailed:
	default:
		s.logEvent(ctx, in, nil, "charge event acknowledged without action")
		s.record(in, Ignored, ActionNoop)
		return &Outcome{Resolution: Ignored, Action: ActionNoop, Reason: "event type has no order effect"}, nil
	}

	order, resolution, err := s.resolve(ctx, in)
	if err != nil {
		return nil, err
	}
	if order == nil {
		s.logEvent(ctx, in, nil, "charge not linked to any order")
		s.record(in, Ignored, ActionNoop)
		return &Outcome{Resolution: Ignored, Action: ActionNoop, Reason: "no order for charge"}, nil
	}

	var out *Outcome
	if in.Kind == payments.EventChargeSucceeded {
		out, err = s.settlePaid(ctx, in, order)
	} else {
		out, err = s.settleFailed(ctx, in, order)
	}
	if out != nil {
		out.Resolution = resolution
		s.record(in, resolution, out.Action)
	}
	return out, err
}

// resolve finds the order for the charge: explicit id, then metadata order
// id, then the provider ref, then a legacy order rebuilt from metadata.
func (s *service) resolve(ctx context.Context, in Input) (*models.Order, Resolution, error) {
	meta := payments.ParseOrderMetadata(in.Authorization.Metadata)

	for _, id := range []*uuid.UUID{in.OrderID, meta.OrderID} {
		if id == nil {
			continue
		}
		order, err := s.orders.GetOrder(ctx, *id)
		if err == nil {
			return order, LinkedToExistingOrder, nil
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, "", err
		}
	}

	order, err := s.orders.FindByProviderRef(ctx, in.Authorization.ID)
	if err == nil {
		return order, LinkedToExistingOrder, nil
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, "", err
	}

	if in.Kind != payments.EventChargeSucceeded || meta.BuyerID == nil || meta.ListingID == nil {
		return nil, Ignored, nil
	}
	breakdown, ok := legacyBreakdown(meta, in.Authorization)
	if !ok {
		return nil, Ignored, nil
	}

	input := orders.LegacyOrderInput{
		BuyerID:     *meta.BuyerID,
		ListingID:   *meta.ListingID,
		Breakdown:   breakdown,
		Currency:    in.Authorization.Currency,
		Provider:    in.Provider,
		ProviderRef: in.Authorization.ID,
	}
	if meta.SellerID != nil {
		input.SellerID = *meta.SellerID
	}
	order, err = s.orders.CreateLegacyOrder(ctx, input)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			// Another delivery of the same charge built the order first.
			existing, findErr := s.orders.FindByProviderRef(ctx, in.Authorization.ID)
			if findErr == nil {
				return existing, LinkedToExistingOrder, nil
			}
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			return nil, Ignored, nil
		}
		return nil, "", err
	}
	if linkErr := s.auths.LinkOrder(ctx, in.Provider, in.Authorization.ID, order.ID); linkErr != nil && s.logg != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "link ad hoc authorization to legacy order", linkErr)
	}
	return order, SynthesizedLegacyOrder, nil
}

// legacyBreakdown takes the breakdown from metadata when present, otherwise
// prices the charged amount as a subtotal-only order.
func legacyBreakdown(meta payments.OrderMetadata, auth *payments.Authorization) (fees.Breakdown, bool) {
	if meta.HasFeeBreakdown() {
		return fees.Breakdown{
			SubtotalCents:      meta.SubtotalCents,
			ServiceFeeCents:    meta.ServiceFeeCents,
			ProcessingFeeCents: meta.ProcessingFeeCents,
			TotalCents:         meta.TotalCents,
		}, true
	}
	amount := auth.SettledAmountCents()
	if amount <= 0 {
		return fees.Breakdown{}, false
	}
	return fees.Breakdown{SubtotalCents: amount, TotalCents: amount}, true
}

func (s *service) settlePaid(ctx context.Context, in Input, order *models.Order) (*Outcome, error) {
	mismatch := amountMismatch(order, in.Authorization)
	switch order.Status {
	case enums.OrderStatusPending:
	case enums.OrderStatusPaid, enums.OrderStatusRefunded:
		// A settled order is never moved by a later charge, but a charge that
		// disagrees with its total is still reported.
		if mismatch != nil {
			return s.flagMismatch(ctx, in, order, mismatch)
		}
		return s.alreadyMoved(ctx, in, order.ID, order.Status, enums.OrderStatusPaid), nil
	default:
		return s.alreadyMoved(ctx, in, order.ID, order.Status, enums.OrderStatusPaid), nil
	}
	if mismatch != nil {
		return s.flagMismatch(ctx, in, order, mismatch)
	}

	auth := in.Authorization
	updated, err := s.orders.Transition(ctx, orders.TransitionInput{
		OrderID: order.ID,
		From:    enums.OrderStatusPending,
		To:      enums.OrderStatusPaid,
		Source:  string(in.Source),
		Actor:   in.Actor,
		SideEffects: []orders.SideEffect{
			s.linkProviderRef(in.Provider, auth.ID),
			s.markListingSold(in),
			s.resolveAuthorization(in.Provider, auth.ID, enums.AuthorizationStatusSucceeded),
		},
	})
	if err != nil {
		if current, ok := orders.CurrentStatus(err); ok {
			return s.alreadyMoved(ctx, in, order.ID, current, enums.OrderStatusPaid), nil
		}
		return nil, err
	}

	s.logEvent(ctx, in, &updated.ID, "order marked paid")
	return &Outcome{Action: ActionMarkedPaid, OrderID: &updated.ID, Status: updated.Status}, nil
}

func (s *service) settleFailed(ctx context.Context, in Input, order *models.Order) (*Outcome, error) {
	if order.Status != enums.OrderStatusPending {
		return s.alreadyMoved(ctx, in, order.ID, order.Status, enums.OrderStatusFailed), nil
	}

	auth := in.Authorization
	updated, err := s.orders.Transition(ctx, orders.TransitionInput{
		OrderID: order.ID,
		From:    enums.OrderStatusPending,
		To:      enums.OrderStatusFailed,
		Source:  string(in.Source),
		Actor:   in.Actor,
		SideEffects: []orders.SideEffect{
			s.resolveAuthorization(in.Provider, auth.ID, enums.AuthorizationStatusFailed),
		},
	})
	if err != nil {
		if current, ok := orders.CurrentStatus(err); ok {
			return s.alreadyMoved(ctx, in, order.ID, current, enums.OrderStatusFailed), nil
		}
		return nil, err
	}

	s.logEvent(ctx, in, &updated.ID, "order marked failed")
	return &Outcome{Action: ActionMarkedFailed, OrderID: &updated.ID, Status: updated.Status}, nil
}

// alreadyMoved swallows a lost race: the order left pending before this
// outcome could be applied.
func (s *service) alreadyMoved(ctx context.Context, in Input, orderID uuid.UUID, current, target enums.OrderStatus) *Outcome {
	id := orderID
	if current == target || (target == enums.OrderStatusPaid && current == enums.OrderStatusRefunded) {
		return &Outcome{Action: ActionAlreadySettled, OrderID: &id, Status: current}
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":       id.String(),
			"provider":       in.Provider,
			"event_id":       in.EventID,
			"current_status": current,
			"target_status":  target,
		})
		s.logg.Warn(logCtx, "charge outcome conflicts with order status")
	}
	return &Outcome{Action: ActionStateConflict, OrderID: &id, Status: current}
}

type mismatch struct {
	ExpectedCents    int64  `json:"expected_cents"`
	ChargedCents     int64  `json:"charged_cents"`
	ExpectedCurrency string `json:"expected_currency"`
	ChargedCurrency  string `json:"charged_currency"`
}

func amountMismatch(order *models.Order, auth *payments.Authorization) *mismatch {
	charged := auth.SettledAmountCents()
	currency := strings.ToLower(strings.TrimSpace(auth.Currency))
	sameCurrency := currency == "" || strings.EqualFold(currency, order.Currency)
	if charged == order.TotalCents && sameCurrency {
		return nil
	}
	return &mismatch{
		ExpectedCents:    order.TotalCents,
		ChargedCents:     charged,
		ExpectedCurrency: order.Currency,
		ChargedCurrency:  currency,
	}
}

// flagMismatch leaves the order status untouched and records the discrepancy
// for an operator to resolve.
func (s *service) flagMismatch(ctx context.Context, in Input, order *models.Order, m *mismatch) (*Outcome, error) {
	s.metrics.IncAmountMismatch(string(in.Provider))
	if err := s.audit.Record(ctx, nil, audit.Entry{
		Action:   audit.ActionPaymentAmountMismatch,
		Entity:   "order",
		EntityID: order.ID.String(),
		Metadata: map[string]any{
			"provider":      in.Provider,
			"provider_ref":  in.Authorization.ID,
			"event_id":      in.EventID,
			"source":        in.Source,
			"amount_detail": m,
		},
	}); err != nil && s.logg != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "record amount mismatch audit", err)
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":       order.ID.String(),
			"provider":       in.Provider,
			"event_id":       in.EventID,
			"expected_cents": m.ExpectedCents,
			"charged_cents":  m.ChargedCents,
		})
		s.logg.Warn(logCtx, "charged amount does not match order total")
	}

	id := order.ID
	out := &Outcome{Action: ActionAmountMismatch, OrderID: &id, Status: order.Status}
	return out, pkgerrors.New(pkgerrors.CodeConflict, "charged amount does not match order total").
		WithDetails(map[string]any{
			"order_id":       id,
			"expected_cents": m.ExpectedCents,
			"charged_cents":  m.ChargedCents,
		})
}

func (s *service) linkProviderRef(provider enums.PaymentProvider, ref string) orders.SideEffect {
	return func(ctx context.Context, tx *gorm.DB, order *models.Order) error {
		if order.ProviderRef != nil && *order.ProviderRef == ref {
			return nil
		}
		if err := s.orders.SetProviderRef(ctx, tx, order.ID, provider, ref); err != nil {
			return err
		}
		p, r := provider, ref
		order.Provider = &p
		order.ProviderRef = &r
		return nil
	}
}

func (s *service) markListingSold(in Input) orders.SideEffect {
	return func(ctx context.Context, tx *gorm.DB, order *models.Order) error {
		outcome, err := s.listings.WithTx(tx).MarkSold(ctx, order.ListingID, order.BuyerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark listing sold")
		}
		if outcome != listings.SoldToAnotherBuyer {
			return nil
		}
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id":   order.ID.String(),
				"listing_id": order.ListingID.String(),
				"event_id":   in.EventID,
			})
			s.logg.Warn(logCtx, "listing already sold to another buyer")
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Action:   audit.ActionListingDoubleSale,
			Entity:   "listing",
			EntityID: order.ListingID.String(),
			Metadata: map[string]any{
				"order_id":     order.ID,
				"buyer_id":     order.BuyerID,
				"provider_ref": in.Authorization.ID,
			},
		})
	}
}

func (s *service) resolveAuthorization(provider enums.PaymentProvider, ref string, status enums.AuthorizationStatus) orders.SideEffect {
	return func(ctx context.Context, tx *gorm.DB, order *models.Order) error {
		if err := s.auths.WithTx(tx).ResolveActive(ctx, provider, ref, status); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve authorization")
		}
		return nil
	}
}

func (s *service) record(in Input, resolution Resolution, action Action) {
	s.metrics.IncSettlement(string(in.Source), string(resolution)+":"+string(action))
}

func (s *service) logEvent(ctx context.Context, in Input, orderID *uuid.UUID, msg string) {
	if s.logg == nil {
		return
	}
	fields := map[string]any{
		"provider": in.Provider,
		"event_id": in.EventID,
		"kind":     in.Kind,
		"source":   in.Source,
	}
	if in.Authorization != nil {
		fields["provider_ref"] = in.Authorization.ID
	}
	if orderID != nil {
		fields["order_id"] = orderID.String()
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), msg)
}
