package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByProviderRef(ctx context.Context, ref string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("provider_ref = ?", ref).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// CompareAndSetStatus moves the order from -> to only if it is still in from.
// It reports false when no row matched.
func (r *repository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to
	values["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetProviderRef writes the provider reference once. Re-writing the same
// value matches; a different existing value does not.
func (r *repository) SetProviderRef(ctx context.Context, id uuid.UUID, provider enums.PaymentProvider, ref string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND (provider_ref IS NULL OR provider_ref = ?)", id, ref).
		Updates(map[string]any{
			"provider_ref": ref,
			"provider":     provider,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, withProviderRef bool, limit int) ([]models.Order, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff)
	if withProviderRef {
		q = q.Where("provider_ref IS NOT NULL")
	} else {
		q = q.Where("provider_ref IS NULL")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var orders []models.Order
	if err := q.Order("created_at ASC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
