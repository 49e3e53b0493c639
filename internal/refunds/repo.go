package refunds

import (
	"context"

	"github.com/angelmondragon/marketplace-payments/internal/repo"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository stores immutable refund records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, refund *models.Refund) error
	FindByProviderRefundID(ctx context.Context, id string) (*models.Refund, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, refund *models.Refund) error {
	if refund.ID == uuid.Nil {
		refund.ID = uuid.New()
	}
	return r.DB(ctx).Create(refund).Error
}

func (r *repository) FindByProviderRefundID(ctx context.Context, id string) (*models.Refund, error) {
	var refund models.Refund
	if err := r.First(ctx, &refund, "provider_refund_id = ?", id); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	var rows []models.Refund
	err := r.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
