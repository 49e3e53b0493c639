package payloads

import (
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/google/uuid"
)

// OrderCreatedEvent announces a new pending order.
type OrderCreatedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	BuyerID    uuid.UUID `json:"buyer_id"`
	SellerID   uuid.UUID `json:"seller_id"`
	ListingID  uuid.UUID `json:"listing_id"`
	TotalCents int64     `json:"total_cents"`
	Currency   string    `json:"currency"`
}

// OrderStateChangedEvent is emitted for every committed status transition.
type OrderStateChangedEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
	Forced  bool              `json:"forced,omitempty"`
	Source  string            `json:"source,omitempty"`
}

// OrderPaidEvent carries the settled amounts once a charge succeeds.
type OrderPaidEvent struct {
	OrderID     uuid.UUID             `json:"order_id"`
	BuyerID     uuid.UUID             `json:"buyer_id"`
	SellerID    uuid.UUID             `json:"seller_id"`
	ListingID   uuid.UUID             `json:"listing_id"`
	Provider    enums.PaymentProvider `json:"provider"`
	ProviderRef string                `json:"provider_ref"`
	TotalCents  int64                 `json:"total_cents"`
	Currency    string                `json:"currency"`
}

// OrderRefundedEvent records money returned to the buyer.
type OrderRefundedEvent struct {
	OrderID          uuid.UUID             `json:"order_id"`
	Provider         enums.PaymentProvider `json:"provider"`
	ProviderRefundID string                `json:"provider_refund_id"`
	AmountCents      int64                 `json:"amount_cents"`
	Reason           string                `json:"reason,omitempty"`
}
