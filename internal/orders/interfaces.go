package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for the orders table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByProviderRef(ctx context.Context, ref string) (*models.Order, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	SetProviderRef(ctx context.Context, id uuid.UUID, provider enums.PaymentProvider, ref string) (bool, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, withProviderRef bool, limit int) ([]models.Order, error)
}
