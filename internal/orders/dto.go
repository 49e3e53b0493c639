package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/marketplace-payments/internal/fees"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateOrderInput is a buyer's request to purchase one listing. SellerID is
// optional; when present it must match the listing's seller.
type CreateOrderInput struct {
	BuyerID   uuid.UUID
	ListingID uuid.UUID
	SellerID  *uuid.UUID
}

// LegacyOrderInput describes an order reconstructed from a charge that was
// created without one.
type LegacyOrderInput struct {
	BuyerID     uuid.UUID
	ListingID   uuid.UUID
	SellerID    uuid.UUID
	Breakdown   fees.Breakdown
	Currency    string
	Provider    enums.PaymentProvider
	ProviderRef string
}

// SideEffect runs inside the transition transaction after the status write
// succeeded. Returning an error rolls back the transition.
type SideEffect func(ctx context.Context, tx *gorm.DB, order *models.Order) error

// TransitionInput is a compare-and-set status change.
type TransitionInput struct {
	OrderID     uuid.UUID
	From        enums.OrderStatus
	To          enums.OrderStatus
	Updates     map[string]any
	Source      string
	Actor       *outbox.ActorRef
	SideEffects []SideEffect
}

// StatusView is the polling projection of an order.
type StatusView struct {
	OrderID     uuid.UUID         `json:"orderId"`
	Status      enums.OrderStatus `json:"status"`
	Method      string            `json:"method"`
	TotalCents  int64             `json:"totalCents"`
	Currency    string            `json:"currency"`
	ProviderRef *string           `json:"providerRef,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func statusViewFrom(order *models.Order) *StatusView {
	return &StatusView{
		OrderID:     order.ID,
		Status:      order.Status,
		Method:      order.PaymentMethod,
		TotalCents:  order.TotalCents,
		Currency:    order.Currency,
		ProviderRef: order.ProviderRef,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
}

// BreakdownOf returns the amounts stored on the order.
func BreakdownOf(order *models.Order) fees.Breakdown {
	return fees.Breakdown{
		SubtotalCents:      order.SubtotalCents,
		ServiceFeeCents:    order.ServiceFeeCents,
		ProcessingFeeCents: order.ProcessingFeeCents,
		TotalCents:         order.TotalCents,
	}
}
