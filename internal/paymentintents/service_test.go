package paymentintents

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
	"github.com/angelmondragon/marketplace-payments/internal/orders"
	"github.com/angelmondragon/marketplace-payments/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox"
	"github.com/angelmondragon/marketplace-payments/pkg/payments"
	"github.com/angelmondragon/marketplace-payments/pkg/payments/paymentstest"
)

type fixture struct {
	db       *gorm.DB
	svc      Service
	orders   orders.Service
	repo     Repository
	provider *paymentstest.Provider
}

func newFixture(t *testing.T, timeout time.Duration) fixture {
	t.Helper()
	db := dbtest.Open(t)
	tx := dbtest.TxRunner{DB: db}
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:     orders.NewRepository(db),
		Tx:       tx,
		Listings: listings.NewRepository(db),
		Fees:     fees.DefaultCalculator(),
		Outbox:   outbox.NewService(outbox.NewRepository(db), nil),
		Audit:    audit.NewService(db),
	})
	require.NoError(t, err)

	provider := paymentstest.New(enums.PaymentProviderStripe)
	repo := NewRepository(db)
	svc, err := NewService(ServiceParams{
		Repo:            repo,
		Tx:              tx,
		Orders:          orderSvc,
		Providers:       payments.NewRegistry(provider),
		Fees:            fees.DefaultCalculator(),
		ProviderTimeout: timeout,
	})
	require.NoError(t, err)
	return fixture{db: db, svc: svc, orders: orderSvc, repo: repo, provider: provider}
}

func (f fixture) order(t *testing.T, price int64) *models.Order {
	t.Helper()
	listing := &models.Listing{
		ID:         uuid.New(),
		SellerID:   uuid.New(),
		Title:      "Desk lamp",
		PriceCents: price,
		Currency:   "usd",
		Status:     enums.ListingStatusActive,
	}
	require.NoError(t, f.db.Create(listing).Error)
	order, err := f.orders.CreateOrder(context.Background(), orders.CreateOrderInput{
		BuyerID:   uuid.New(),
		ListingID: listing.ID,
	})
	require.NoError(t, err)
	return order
}

func codeOf(t *testing.T, err error) pkgerrors.Code {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	return typed.Code()
}

func TestCreateForOrderChargesStoredTotal(t *testing.T) {
	f := newFixture(t, time.Second)
	order := f.order(t, 1000)
	ctx := context.Background()

	res, err := f.svc.CreateChargeAuthorization(ctx, Input{OrderID: &order.ID})
	require.NoError(t, err)

	assert.Equal(t, "auth_1", res.AuthorizationID)
	assert.Equal(t, "auth_1_secret", res.ClientSecret)
	assert.False(t, res.Reused)
	assert.Equal(t, int64(1075), res.Breakdown.TotalCents)

	params := f.provider.LastCreateParams()
	assert.Equal(t, int64(1075), params.AmountCents)
	assert.Equal(t, "order:"+order.ID.String()+":authorization", params.IdempotencyKey)
	assert.Equal(t, order.ID.String(), params.Metadata[payments.MetaOrderID])
	assert.Equal(t, "50", params.Metadata[payments.MetaServiceFeeCents])
	assert.Empty(t, params.ConnectedAccountID)
	assert.Zero(t, params.ApplicationFee)

	stored, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ProviderRef)
	assert.Equal(t, "auth_1", *stored.ProviderRef)

	row, err := f.repo.FindActiveByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "auth_1", row.ProviderRef)
	assert.Equal(t, int64(1075), row.TotalCents)
}

func TestCreateForOrderReusesActiveAuthorization(t *testing.T) {
	f := newFixture(t, time.Second)
	order := f.order(t, 1000)
	ctx := context.Background()

	first, err := f.svc.CreateChargeAuthorization(ctx, Input{OrderID: &order.ID})
	require.NoError(t, err)
	second, err := f.svc.CreateChargeAuthorization(ctx, Input{OrderID: &order.ID, IdempotencyKey: "different-key"})
	require.NoError(t, err)

	assert.Equal(t, first.AuthorizationID, second.AuthorizationID)
	assert.Equal(t, first.ClientSecret, second.ClientSecret)
	assert.True(t, second.Reused)
	assert.Equal(t, 1, f.provider.CreateCalls)
	assert.Equal(t, 1, f.provider.RetrieveCalls)

	var count int64
	require.NoError(t, f.db.Model(&models.PaymentAuthorization{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateForOrderSplitsWithConnectedAccount(t *testing.T) {
	f := newFixture(t, time.Second)
	order := f.order(t, 1000)

	_, err := f.svc.CreateChargeAuthorization(context.Background(), Input{
		OrderID:            &order.ID,
		ConnectedAccountID: "acct_seller",
	})
	require.NoError(t, err)

	params := f.provider.LastCreateParams()
	assert.Equal(t, "acct_seller", params.ConnectedAccountID)
	assert.Equal(t, int64(75), params.ApplicationFee)
}

func TestCreateForOrderRejectsProcessedOrder(t *testing.T) {
	f := newFixture(t, time.Second)
	order := f.order(t, 1000)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("status", enums.OrderStatusPaid).Error)

	_, err := f.svc.CreateChargeAuthorization(context.Background(), Input{OrderID: &order.ID})
	assert.Equal(t, pkgerrors.CodeOrderAlreadyProcessed, codeOf(t, err))
	assert.Zero(t, f.provider.CreateCalls)
}

func TestCreateForOrderRejectsDriftedAmounts(t *testing.T) {
	f := newFixture(t, time.Second)
	order := f.order(t, 1000)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Updates(map[string]any{"service_fee_cents": 40, "total_cents": 1065}).Error)

	_, err := f.svc.CreateChargeAuthorization(context.Background(), Input{OrderID: &order.ID})
	assert.Equal(t, pkgerrors.CodeConflict, codeOf(t, err))
	assert.Zero(t, f.provider.CreateCalls)
}

func TestCreateForOrderUnknownOrder(t *testing.T) {
	f := newFixture(t, time.Second)
	id := uuid.New()

	_, err := f.svc.CreateChargeAuthorization(context.Background(), Input{OrderID: &id})
	assert.Equal(t, pkgerrors.CodeNotFound, codeOf(t, err))
}

func TestCreateForOrderProviderFailureLeavesNoRow(t *testing.T) {
	f := newFixture(t, time.Second)
	order := f.order(t, 1000)
	f.provider.CreateErr = errors.New("card network unavailable")

	_, err := f.svc.CreateChargeAuthorization(context.Background(), Input{OrderID: &order.ID})
	assert.Equal(t, pkgerrors.CodeProvider, codeOf(t, err))

	_, err = f.repo.FindActiveByOrder(context.Background(), order.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCreateForOrderProviderTimeout(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	order := f.order(t, 1000)
	f.provider.CreateDelay = time.Second

	_, err := f.svc.CreateChargeAuthorization(context.Background(), Input{OrderID: &order.ID})
	assert.Equal(t, pkgerrors.CodeProvider, codeOf(t, err))
}

func TestCreateAdHocSameKeyReturnsSameAuthorization(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	in := Input{AdHoc: &AdHocInput{AmountCents: 2000}, IdempotencyKey: "checkout-42"}

	first, err := f.svc.CreateChargeAuthorization(ctx, in)
	require.NoError(t, err)
	second, err := f.svc.CreateChargeAuthorization(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.AuthorizationID, second.AuthorizationID)
	assert.True(t, second.Reused)
	assert.Nil(t, first.OrderID)
	assert.Equal(t, int64(2125), first.Breakdown.TotalCents)

	row, err := f.repo.FindByProviderRef(ctx, enums.PaymentProviderStripe, first.AuthorizationID)
	require.NoError(t, err)
	assert.Nil(t, row.OrderID)
	assert.Equal(t, "usd", row.Currency)
}

func TestCreateAdHocValidation(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	id := uuid.New()

	_, err := f.svc.CreateChargeAuthorization(ctx, Input{AdHoc: &AdHocInput{AmountCents: 0}})
	assert.Equal(t, pkgerrors.CodeInvalidAmount, codeOf(t, err))

	_, err = f.svc.CreateChargeAuthorization(ctx, Input{})
	assert.Equal(t, pkgerrors.CodeValidation, codeOf(t, err))

	_, err = f.svc.CreateChargeAuthorization(ctx, Input{OrderID: &id, AdHoc: &AdHocInput{AmountCents: 100}})
	assert.Equal(t, pkgerrors.CodeValidation, codeOf(t, err))

	_, err = f.svc.CreateChargeAuthorization(ctx, Input{AdHoc: &AdHocInput{AmountCents: 100}, Provider: "paypal"})
	assert.Equal(t, pkgerrors.CodeValidation, codeOf(t, err))
	assert.Zero(t, f.provider.CreateCalls)
}
