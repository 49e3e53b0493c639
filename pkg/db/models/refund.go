package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-payments/pkg/enums"
)

// Refund is an immutable record of money returned to the buyer.
type Refund struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	Provider         enums.PaymentProvider `gorm:"column:provider;not null"`
	ProviderRefundID string                `gorm:"column:provider_refund_id;not null"`
	AmountCents      int64                 `gorm:"column:amount_cents;not null"`
	Kind             enums.RefundKind      `gorm:"column:kind;not null"`
	Concurrent       bool                  `gorm:"column:concurrent;not null;default:false"`
	Reason           *string               `gorm:"column:reason"`
	OperatorID       uuid.UUID             `gorm:"column:operator_id;type:uuid;not null"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
}
