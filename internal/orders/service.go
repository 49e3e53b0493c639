package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-payments/internal/audit"
	"github.com/angelmondragon/marketplace-payments/internal/fees"
	"github.com/angelmondragon/marketplace-payments/internal/listings"
	"github.com/angelmondragon/marketplace-payments/pkg/auth"
	"github.com/angelmondragon/marketplace-payments/pkg/db"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const providerRefConstraint = "orders_provider_ref_key"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the order lifecycle. Every status change goes through a
// conditional update so concurrent writers cannot both win.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	CreateLegacyOrder(ctx context.Context, input LegacyOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*StatusView, error)
	FindByProviderRef(ctx context.Context, ref string) (*models.Order, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	ForceStatus(ctx context.Context, operator auth.Operator, id uuid.UUID, to enums.OrderStatus, note string) (*models.Order, error)
	SetProviderRef(ctx context.Context, tx *gorm.DB, id uuid.UUID, provider enums.PaymentProvider, ref string) error
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error)
	ListAbandonedPending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	listings listings.Repository
	fees     fees.Calculator
	outbox   outboxPublisher
	audit    audit.Recorder
	logg     *logger.Logger
	now      func() time.Time
}

// ServiceParams groups the order service collaborators.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Listings listings.Repository
	Fees     fees.Calculator
	Outbox   outboxPublisher
	Audit    audit.Recorder
	Logger   *logger.Logger
}

// NewService builds the order service with the required dependencies.
func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Listings == nil {
		return nil, fmt.Errorf("listings repository required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	return &service{
		repo:     p.Repo,
		tx:       p.Tx,
		listings: p.Listings,
		fees:     p.Fees,
		outbox:   p.Outbox,
		audit:    p.Audit,
		logg:     p.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	if input.ListingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id required")
	}

	listing, err := s.listings.FindByID(ctx, input.ListingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
	}
	if listing.Status != enums.ListingStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeListingUnavailable, "listing is not available").
			WithDetails(map[string]any{"listing_status": listing.Status})
	}
	if listing.SellerID == input.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer cannot purchase their own listing")
	}
	if input.SellerID != nil && *input.SellerID != listing.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller does not match listing")
	}

	breakdown, err := s.fees.Calculate(listing.PriceCents)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:                 uuid.New(),
		BuyerID:            input.BuyerID,
		SellerID:           listing.SellerID,
		ListingID:          listing.ID,
		Item:               snapshotOf(listing),
		SubtotalCents:      breakdown.SubtotalCents,
		ServiceFeeCents:    breakdown.ServiceFeeCents,
		ProcessingFeeCents: breakdown.ProcessingFeeCents,
		TotalCents:         breakdown.TotalCents,
		Currency:           normalizeCurrency(listing.Currency),
		PaymentMethod:      "card",
		Status:             enums.OrderStatusPending,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: string(auth.RoleBuyer)},
			Data: payloads.OrderCreatedEvent{
				OrderID:    order.ID,
				BuyerID:    order.BuyerID,
				SellerID:   order.SellerID,
				ListingID:  order.ListingID,
				TotalCents: order.TotalCents,
				Currency:   order.Currency,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		s.logg.Info(logCtx, "order created")
	}
	return order, nil
}

// CreateLegacyOrder inserts a pending order for a charge that arrived without
// one. The provider ref is written with the row, so a concurrent attempt for
// the same charge fails on the unique index and surfaces as CONFLICT.
func (s *service) CreateLegacyOrder(ctx context.Context, input LegacyOrderInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil || input.ListingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer and listing ids required")
	}
	if strings.TrimSpace(input.ProviderRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider ref required")
	}

	snapshot := models.ItemSnapshot{PriceCents: input.Breakdown.SubtotalCents}
	sellerID := input.SellerID
	if listing, err := s.listings.FindByID(ctx, input.ListingID); err == nil {
		snapshot = snapshotOf(listing)
		snapshot.PriceCents = input.Breakdown.SubtotalCents
		if sellerID == uuid.Nil {
			sellerID = listing.SellerID
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
	}
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}

	provider := input.Provider
	ref := input.ProviderRef
	order := &models.Order{
		ID:                 uuid.New(),
		BuyerID:            input.BuyerID,
		SellerID:           sellerID,
		ListingID:          input.ListingID,
		Item:               snapshot,
		SubtotalCents:      input.Breakdown.SubtotalCents,
		ServiceFeeCents:    input.Breakdown.ServiceFeeCents,
		ProcessingFeeCents: input.Breakdown.ProcessingFeeCents,
		TotalCents:         input.Breakdown.TotalCents,
		Currency:           normalizeCurrency(input.Currency),
		PaymentMethod:      "card",
		Provider:           &provider,
		ProviderRef:        &ref,
		Status:             enums.OrderStatusPending,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			if isProviderRefViolation(err) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "provider ref already linked to an order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create legacy order")
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Action:   audit.ActionLegacyOrderSynthesized,
			Entity:   "order",
			EntityID: order.ID.String(),
			After:    map[string]any{"provider": provider, "provider_ref": ref, "total_cents": order.TotalCents},
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return order, nil
}

func (s *service) GetStatus(ctx context.Context, id uuid.UUID) (*StatusView, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return statusViewFrom(order), nil
}

func (s *service) FindByProviderRef(ctx context.Context, ref string) (*models.Order, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider ref required")
	}
	order, err := s.repo.FindByProviderRef(ctx, ref)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return order, nil
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.From.CanTransitionTo(input.To) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "illegal order transition").
			WithDetails(map[string]any{"from": input.From, "to": input.To})
	}

	var out *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.compareAndSet(ctx, tx, input.OrderID, input.From, input.To, input.Updates)
		if err != nil {
			return err
		}
		for _, effect := range input.SideEffects {
			if effect == nil {
				continue
			}
			if err := effect(ctx, tx, order); err != nil {
				return err
			}
		}
		if err := s.emitTransition(ctx, tx, order, input.From, false, input.Source, input.Actor); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id": out.ID.String(),
			"from":     input.From,
			"to":       input.To,
			"source":   input.Source,
		})
		s.logg.Info(logCtx, "order transitioned")
	}
	return out, nil
}

// ForceStatus lets an operator move an order off the normal edges. The
// update is still conditional on the status read in the same transaction.
func (s *service) ForceStatus(ctx context.Context, operator auth.Operator, id uuid.UUID, to enums.OrderStatus, note string) (*models.Order, error) {
	if err := operator.Require(auth.PermOrdersForceStatus); err != nil {
		return nil, err
	}
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !to.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}
	if to == enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orders cannot be forced back to pending")
	}
	note = strings.TrimSpace(note)

	actor := &outbox.ActorRef{UserID: operator.ID, Role: string(operator.Role)}
	var out *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.WithTx(tx).FindByID(ctx, id)
		if err != nil {
			return mapLoadError(err)
		}
		if current.Status == to {
			out = current
			return nil
		}

		updates := map[string]any{}
		if note != "" {
			updates["notes"] = note
		}
		order, err := s.compareAndSet(ctx, tx, id, current.Status, to, updates)
		if err != nil {
			return err
		}

		operatorID := operator.ID
		if err := s.audit.Record(ctx, tx, audit.Entry{
			Action:   audit.ActionOrderForceStatus,
			Entity:   "order",
			EntityID: id.String(),
			ActorID:  &operatorID,
			Before:   map[string]any{"status": current.Status},
			After:    map[string]any{"status": to},
			Metadata: map[string]any{"note": note, "role": operator.Role},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit")
		}

		if err := s.emitTransition(ctx, tx, order, current.Status, true, "operator", actor); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":    id.String(),
			"operator_id": operator.ID.String(),
			"to":          to,
		})
		s.logg.Warn(logCtx, "order status forced")
	}
	return out, nil
}

// SetProviderRef links the order to a provider charge inside tx. The ref is
// written at most once; a different existing ref is a CONFLICT.
func (s *service) SetProviderRef(ctx context.Context, tx *gorm.DB, id uuid.UUID, provider enums.PaymentProvider, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider ref required")
	}
	repo := s.repo.WithTx(tx)
	ok, err := repo.SetProviderRef(ctx, id, provider, ref)
	if err != nil {
		if isProviderRefViolation(err) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "provider ref already linked to another order")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set provider ref")
	}
	if ok {
		return nil
	}

	order, err := repo.FindByID(ctx, id)
	if err != nil {
		return mapLoadError(err)
	}
	existing := ""
	if order.ProviderRef != nil {
		existing = *order.ProviderRef
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "order already linked to a different provider ref").
		WithDetails(map[string]any{"existing_ref": existing, "attempted_ref": ref})
}

// ListStalePending returns pending orders older than olderThan that already
// carry a provider ref, oldest first.
func (s *service) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error) {
	orders, err := s.repo.ListPendingBefore(ctx, s.now().Add(-olderThan), true, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale pending orders")
	}
	return orders, nil
}

// ListAbandonedPending returns pending orders older than olderThan that never
// reached a provider.
func (s *service) ListAbandonedPending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error) {
	orders, err := s.repo.ListPendingBefore(ctx, s.now().Add(-olderThan), false, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list abandoned pending orders")
	}
	return orders, nil
}

func (s *service) compareAndSet(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (*models.Order, error) {
	repo := s.repo.WithTx(tx)
	ok, err := repo.CompareAndSetStatus(ctx, id, from, to, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	order, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	if !ok {
		return nil, StateConflict(order.Status, from)
	}
	return order, nil
}

func (s *service) emitTransition(ctx context.Context, tx *gorm.DB, order *models.Order, from enums.OrderStatus, forced bool, source string, actor *outbox.ActorRef) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStateChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderStateChangedEvent{
			OrderID: order.ID,
			From:    from,
			To:      order.Status,
			Forced:  forced,
			Source:  source,
		},
	}); err != nil {
		return err
	}
	if order.Status != enums.OrderStatusPaid {
		return nil
	}

	paid := payloads.OrderPaidEvent{
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		SellerID:   order.SellerID,
		ListingID:  order.ListingID,
		TotalCents: order.TotalCents,
		Currency:   order.Currency,
	}
	if order.Provider != nil {
		paid.Provider = *order.Provider
	}
	if order.ProviderRef != nil {
		paid.ProviderRef = *order.ProviderRef
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data:          paid,
	})
}

// StateConflict builds the error returned when the order is not in the
// expected status.
func StateConflict(current, expected enums.OrderStatus) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not in the expected status").
		WithDetails(map[string]any{
			"current_status":  current,
			"expected_status": expected,
		})
}

// CurrentStatus extracts current_status from a STATE_CONFLICT error.
func CurrentStatus(err error) (enums.OrderStatus, bool) {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		return "", false
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		return "", false
	}
	status, ok := details["current_status"].(enums.OrderStatus)
	return status, ok
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}

func isProviderRefViolation(err error) bool {
	return db.IsUniqueViolation(err, providerRefConstraint) || db.IsUniqueViolation(err, "orders.provider_ref")
}

func snapshotOf(listing *models.Listing) models.ItemSnapshot {
	snap := models.ItemSnapshot{
		Title:      listing.Title,
		PriceCents: listing.PriceCents,
	}
	if listing.ImageURL != nil {
		snap.ImageURL = *listing.ImageURL
	}
	return snap
}

func normalizeCurrency(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "usd"
	}
	return c
}
