package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-payments/pkg/enums"
)

// Listing is owned by the catalog; payments only reads it and marks it sold.
type Listing struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID   uuid.UUID           `gorm:"column:seller_id;type:uuid;not null"`
	Title      string              `gorm:"column:title;not null"`
	PriceCents int64               `gorm:"column:price_cents;not null"`
	Currency   string              `gorm:"column:currency;not null;default:'usd'"`
	ImageURL   *string             `gorm:"column:image_url"`
	Status     enums.ListingStatus `gorm:"column:status;not null;default:'active'"`
	SoldTo     *uuid.UUID          `gorm:"column:sold_to;type:uuid"`
	SoldAt     *time.Time          `gorm:"column:sold_at"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
