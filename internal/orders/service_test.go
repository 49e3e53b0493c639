package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-payments/internal/audit"
	"github.com/angelmondragon/marketplace-payments/internal/fees"
	"github.com/angelmondragon/marketplace-payments/internal/listings"
	"github.com/angelmondragon/marketplace-payments/pkg/auth"
	"github.com/angelmondragon/marketplace-payments/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox"
)

type fixture struct {
	db     *gorm.DB
	svc    Service
	outbox *outbox.Repository
	audit  *audit.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	outboxRepo := outbox.NewRepository(db)
	auditSvc := audit.NewService(db)
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(db),
		Tx:       dbtest.TxRunner{DB: db},
		Listings: listings.NewRepository(db),
		Fees:     fees.DefaultCalculator(),
		Outbox:   outbox.NewService(outboxRepo, nil),
		Audit:    auditSvc,
	})
	require.NoError(t, err)
	return fixture{db: db, svc: svc, outbox: outboxRepo, audit: auditSvc}
}

func (f fixture) listing(t *testing.T, status enums.ListingStatus, price int64) *models.Listing {
	t.Helper()
	listing := &models.Listing{
		ID:         uuid.New(),
		SellerID:   uuid.New(),
		Title:      "Road bike",
		PriceCents: price,
		Currency:   "USD",
		Status:     status,
	}
	require.NoError(t, f.db.Create(listing).Error)
	return listing
}

func codeOf(t *testing.T, err error) pkgerrors.Code {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	return typed.Code()
}

func TestCreateOrderSnapshotsListingAndPrices(t *testing.T) {
	f := newFixture(t)
	listing := f.listing(t, enums.ListingStatusActive, 1000)
	buyer := uuid.New()

	order, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{BuyerID: buyer, ListingID: listing.ID})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, int64(1000), order.SubtotalCents)
	assert.Equal(t, int64(50), order.ServiceFeeCents)
	assert.Equal(t, int64(25), order.ProcessingFeeCents)
	assert.Equal(t, int64(1075), order.TotalCents)
	assert.Equal(t, "usd", order.Currency)
	assert.Equal(t, listing.SellerID, order.SellerID)
	assert.Equal(t, "Road bike", order.Item.Title)

	stored, err := f.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.TotalCents, stored.TotalCents)
	assert.Equal(t, int64(1000), stored.Item.PriceCents)

	count, err := f.outbox.CountForAggregate(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCreateOrderRejectsInactiveListing(t *testing.T) {
	f := newFixture(t)
	listing := f.listing(t, enums.ListingStatusSold, 1000)

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{BuyerID: uuid.New(), ListingID: listing.ID})
	assert.Equal(t, pkgerrors.CodeListingUnavailable, codeOf(t, err))

	var count int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	listing := f.listing(t, enums.ListingStatusActive, 1000)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, CreateOrderInput{BuyerID: listing.SellerID, ListingID: listing.ID})
	assert.Equal(t, pkgerrors.CodeValidation, codeOf(t, err))

	other := uuid.New()
	_, err = f.svc.CreateOrder(ctx, CreateOrderInput{BuyerID: uuid.New(), ListingID: listing.ID, SellerID: &other})
	assert.Equal(t, pkgerrors.CodeValidation, codeOf(t, err))

	_, err = f.svc.CreateOrder(ctx, CreateOrderInput{BuyerID: uuid.New(), ListingID: uuid.New()})
	assert.Equal(t, pkgerrors.CodeNotFound, codeOf(t, err))
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetOrder(context.Background(), uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, codeOf(t, err))
}

func TestGetStatusProjectsPollingFields(t *testing.T) {
	f := newFixture(t)
	listing := f.listing(t, enums.ListingStatusActive, 1000)
	order, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{BuyerID: uuid.New(), ListingID: listing.ID})
	require.NoError(t, err)

	view, err := f.svc.GetStatus(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, view.OrderID)
	assert.Equal(t, enums.OrderStatusPending, view.Status)
	assert.Equal(t, "card", view.Method)
	assert.Equal(t, int64(1075), view.TotalCents)
	assert.False(t, view.CreatedAt.IsZero())
	assert.False(t, view.UpdatedAt.IsZero())
}

func TestTransitionRunsSideEffectsAndEmits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusPending, time.Now(), nil)

	var seen *models.Order
	out, err := f.svc.Transition(ctx, TransitionInput{
		OrderID: order.ID,
		From:    enums.OrderStatusPending,
		To:      enums.OrderStatusPaid,
		Source:  "webhook",
		SideEffects: []SideEffect{
			func(ctx context.Context, tx *gorm.DB, o *models.Order) error {
				seen = o
				return f.svc.SetProviderRef(ctx, tx, o.ID, enums.PaymentProviderStripe, "pi_fx")
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, out.Status)
	require.NotNil(t, seen)

	stored, err := f.svc.FindByProviderRef(ctx, "pi_fx")
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)

	count, err := f.outbox.CountForAggregate(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "state change plus paid")
}

func TestTransitionSideEffectFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusPending, time.Now(), nil)

	boom := errors.New("boom")
	_, err := f.svc.Transition(ctx, TransitionInput{
		OrderID: order.ID,
		From:    enums.OrderStatusPending,
		To:      enums.OrderStatusPaid,
		SideEffects: []SideEffect{
			func(context.Context, *gorm.DB, *models.Order) error { return boom },
		},
	})
	require.ErrorIs(t, err, boom)

	stored, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, stored.Status)

	count, err := f.outbox.CountForAggregate(ctx, order.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTransitionStateConflictCarriesCurrentStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusFailed, time.Now(), nil)

	_, err := f.svc.Transition(ctx, TransitionInput{
		OrderID: order.ID,
		From:    enums.OrderStatusPending,
		To:      enums.OrderStatusPaid,
	})
	assert.Equal(t, pkgerrors.CodeStateConflict, codeOf(t, err))
	current, ok := CurrentStatus(err)
	require.True(t, ok)
	assert.Equal(t, enums.OrderStatusFailed, current)
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusPaid, time.Now(), nil)

	_, err := f.svc.Transition(ctx, TransitionInput{OrderID: order.ID, From: enums.OrderStatusPaid, To: enums.OrderStatusPending})
	assert.Equal(t, pkgerrors.CodeStateConflict, codeOf(t, err))

	_, err = f.svc.Transition(ctx, TransitionInput{OrderID: uuid.New(), From: enums.OrderStatusPending, To: enums.OrderStatusPaid})
	assert.Equal(t, pkgerrors.CodeNotFound, codeOf(t, err))
}

func TestForceStatusRequiresPermissionAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusFailed, time.Now(), nil)

	support := auth.NewOperator(uuid.New(), auth.RoleSupport)
	_, err := f.svc.ForceStatus(ctx, support, order.ID, enums.OrderStatusPaid, "")
	assert.Equal(t, pkgerrors.CodeForbidden, codeOf(t, err))

	admin := auth.NewOperator(uuid.New(), auth.RoleAdmin)
	_, err = f.svc.ForceStatus(ctx, admin, order.ID, enums.OrderStatusPending, "")
	assert.Equal(t, pkgerrors.CodeValidation, codeOf(t, err))

	out, err := f.svc.ForceStatus(ctx, admin, order.ID, enums.OrderStatusPaid, "bank confirmed transfer")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, out.Status)
	require.NotNil(t, out.Notes)
	assert.Equal(t, "bank confirmed transfer", *out.Notes)

	trail, err := f.audit.ListForEntity(ctx, "order", order.ID.String())
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.ActionOrderForceStatus, trail[0].Action)
	assert.JSONEq(t, `{"status":"failed"}`, string(trail[0].Before))
	assert.JSONEq(t, `{"status":"paid"}`, string(trail[0].After))
}

func TestSetProviderRefConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusPending, time.Now(), strPtr("pi_a"))

	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.SetProviderRef(ctx, tx, order.ID, enums.PaymentProviderStripe, "pi_b")
	})
	assert.Equal(t, pkgerrors.CodeConflict, codeOf(t, err))

	stored, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_a", *stored.ProviderRef)
}

func TestCreateLegacyOrderConflictsOnSameRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listing := f.listing(t, enums.ListingStatusActive, 1000)
	breakdown, err := fees.Calculate(1000)
	require.NoError(t, err)

	input := LegacyOrderInput{
		BuyerID:     uuid.New(),
		ListingID:   listing.ID,
		Breakdown:   breakdown,
		Currency:    "usd",
		Provider:    enums.PaymentProviderStripe,
		ProviderRef: "pi_legacy",
	}
	order, err := f.svc.CreateLegacyOrder(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, listing.SellerID, order.SellerID)
	assert.Equal(t, enums.OrderStatusPending, order.Status)

	_, err = f.svc.CreateLegacyOrder(ctx, input)
	assert.Equal(t, pkgerrors.CodeConflict, codeOf(t, err))
}

func TestListStaleAndAbandonedPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := time.Now().Add(-3 * time.Hour)
	stale := seedOrder(t, f.db, enums.OrderStatusPending, old, strPtr("pi_stale"))
	abandoned := seedOrder(t, f.db, enums.OrderStatusPending, old, nil)

	got, err := f.svc.ListStalePending(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)

	got, err = f.svc.ListAbandonedPending(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, abandoned.ID, got[0].ID)
}
