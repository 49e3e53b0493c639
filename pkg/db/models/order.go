package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-payments/pkg/enums"
)

// Order is a buyer's purchase of a single listing and the authoritative record
// of what the buyer owes.
type Order struct {
	ID                 uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID            uuid.UUID              `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID           uuid.UUID              `gorm:"column:seller_id;type:uuid;not null"`
	ListingID          uuid.UUID              `gorm:"column:listing_id;type:uuid;not null"`
	Item               ItemSnapshot           `gorm:"column:item_snapshot;type:jsonb;not null"`
	SubtotalCents      int64                  `gorm:"column:subtotal_cents;not null"`
	ServiceFeeCents    int64                  `gorm:"column:service_fee_cents;not null"`
	ProcessingFeeCents int64                  `gorm:"column:processing_fee_cents;not null"`
	TotalCents         int64                  `gorm:"column:total_cents;not null"`
	Currency           string                 `gorm:"column:currency;not null;default:'usd'"`
	PaymentMethod      string                 `gorm:"column:payment_method;not null;default:'card'"`
	Provider           *enums.PaymentProvider `gorm:"column:provider"`
	ProviderRef        *string                `gorm:"column:provider_ref"`
	Status             enums.OrderStatus      `gorm:"column:status;type:order_status;not null;default:'pending'"`
	Notes              *string                `gorm:"column:notes"`
	CreatedAt          time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// ItemSnapshot freezes the listing fields the buyer saw at purchase time.
type ItemSnapshot struct {
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
	ImageURL   string `json:"image_url,omitempty"`
}

// Value implements driver.Valuer.
func (s ItemSnapshot) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *ItemSnapshot) Scan(value any) error {
	if value == nil {
		*s = ItemSnapshot{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported item snapshot type %T", value)
	}
	if len(raw) == 0 {
		*s = ItemSnapshot{}
		return nil
	}
	return json.Unmarshal(raw, s)
}
