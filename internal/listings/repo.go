package listings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
)

// SaleOutcome reports what MarkSold did to the listing.
type SaleOutcome int

const (
	// SaleRecorded means the listing moved active -> sold for this buyer.
	SaleRecorded SaleOutcome = iota
	// SaleAlreadyRecorded means the listing was already sold to this buyer.
	SaleAlreadyRecorded
	// SoldToAnotherBuyer means the listing is sold, but not to this buyer.
	SoldToAnotherBuyer
	// SaleNotApplicable means the listing is missing or not in a sellable state.
	SaleNotApplicable
)

// Repository is the narrow listing contract payments relies on.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	MarkSold(ctx context.Context, listingID, buyerID uuid.UUID) (SaleOutcome, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a listings repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&listing).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

// MarkSold performs the single active -> sold move with a conditional update,
// then inspects the row when nothing changed.
func (r *repository) MarkSold(ctx context.Context, listingID, buyerID uuid.UUID) (SaleOutcome, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND status = ?", listingID, enums.ListingStatusActive).
		Updates(map[string]any{
			"status":     enums.ListingStatusSold,
			"sold_to":    buyerID,
			"sold_at":    now,
			"updated_at": now,
		})
	if res.Error != nil {
		return SaleNotApplicable, res.Error
	}
	if res.RowsAffected == 1 {
		return SaleRecorded, nil
	}

	listing, err := r.FindByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SaleNotApplicable, nil
		}
		return SaleNotApplicable, err
	}
	if listing.Status != enums.ListingStatusSold {
		return SaleNotApplicable, nil
	}
	if listing.SoldTo != nil && *listing.SoldTo == buyerID {
		return SaleAlreadyRecorded, nil
	}
	return SoldToAnotherBuyer, nil
}
