package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-payments/pkg/enums"
)

// PaymentAuthorization is the local reference to a provider charge
// authorization. At most one row per order is active.
type PaymentAuthorization struct {
	ID                 uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID            *uuid.UUID                `gorm:"column:order_id;type:uuid"`
	Provider           enums.PaymentProvider     `gorm:"column:provider;not null"`
	ProviderRef        string                    `gorm:"column:provider_ref;not null"`
	ClientSecret       string                    `gorm:"column:client_secret;not null;default:''"`
	IdempotencyKey     string                    `gorm:"column:idempotency_key;not null"`
	SubtotalCents      int64                     `gorm:"column:subtotal_cents;not null"`
	ServiceFeeCents    int64                     `gorm:"column:service_fee_cents;not null"`
	ProcessingFeeCents int64                     `gorm:"column:processing_fee_cents;not null"`
	TotalCents         int64                     `gorm:"column:total_cents;not null"`
	Currency           string                    `gorm:"column:currency;not null"`
	ConnectedAccountID *string                   `gorm:"column:connected_account_id"`
	Status             enums.AuthorizationStatus `gorm:"column:status;not null;default:'active'"`
	CreatedAt          time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
