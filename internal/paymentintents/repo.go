package paymentintents

import (
	"context"
	"time"

	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists local references to provider charge authorizations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, auth *models.PaymentAuthorization) error
	FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentAuthorization, error)
	FindByProviderRef(ctx context.Context, provider enums.PaymentProvider, ref string) (*models.PaymentAuthorization, error)
	ResolveActive(ctx context.Context, provider enums.PaymentProvider, ref string, status enums.AuthorizationStatus) error
	LinkOrder(ctx context.Context, provider enums.PaymentProvider, ref string, orderID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an authorization repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, auth *models.PaymentAuthorization) error {
	if auth.ID == uuid.Nil {
		auth.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(auth).Error
}

func (r *repository) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentAuthorization, error) {
	var auth models.PaymentAuthorization
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.AuthorizationStatusActive).
		First(&auth).Error
	if err != nil {
		return nil, err
	}
	return &auth, nil
}

func (r *repository) FindByProviderRef(ctx context.Context, provider enums.PaymentProvider, ref string) (*models.PaymentAuthorization, error) {
	var auth models.PaymentAuthorization
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_ref = ?", provider, ref).
		First(&auth).Error
	if err != nil {
		return nil, err
	}
	return &auth, nil
}

// ResolveActive closes the active authorization with a terminal local status.
// Rows already resolved are left untouched.
func (r *repository) ResolveActive(ctx context.Context, provider enums.PaymentProvider, ref string, status enums.AuthorizationStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentAuthorization{}).
		Where("provider = ? AND provider_ref = ? AND status = ?", provider, ref, enums.AuthorizationStatusActive).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

// LinkOrder attaches an ad hoc authorization to the order later built for it.
func (r *repository) LinkOrder(ctx context.Context, provider enums.PaymentProvider, ref string, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentAuthorization{}).
		Where("provider = ? AND provider_ref = ? AND order_id IS NULL", provider, ref).
		Updates(map[string]any{
			"order_id":   orderID,
			"updated_at": time.Now().UTC(),
		}).Error
}
