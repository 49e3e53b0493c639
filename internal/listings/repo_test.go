package listings

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-payments/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
)

func seedListing(t *testing.T, db *gorm.DB, status enums.ListingStatus) *models.Listing {
	t.Helper()
	listing := &models.Listing{
		ID:         uuid.New(),
		SellerID:   uuid.New(),
		Title:      "Vintage lamp",
		PriceCents: 1000,
		Currency:   "usd",
		Status:     status,
	}
	require.NoError(t, db.Create(listing).Error)
	return listing
}

func TestMarkSoldOutcomes(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	listing := seedListing(t, db, enums.ListingStatusActive)
	buyer := uuid.New()

	outcome, err := repo.MarkSold(ctx, listing.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, SaleRecorded, outcome)

	outcome, err = repo.MarkSold(ctx, listing.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, SaleAlreadyRecorded, outcome)

	outcome, err = repo.MarkSold(ctx, listing.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, SoldToAnotherBuyer, outcome)

	stored, err := repo.FindByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ListingStatusSold, stored.Status)
	require.NotNil(t, stored.SoldTo)
	assert.Equal(t, buyer, *stored.SoldTo)
	assert.NotNil(t, stored.SoldAt)
}

func TestMarkSoldIgnoresArchivedAndMissing(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	archived := seedListing(t, db, enums.ListingStatusArchived)
	outcome, err := repo.MarkSold(ctx, archived.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, SaleNotApplicable, outcome)

	outcome, err = repo.MarkSold(ctx, uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, SaleNotApplicable, outcome)
}
