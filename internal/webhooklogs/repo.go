package webhooklogs

import (
	"context"

	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists webhook logs and their append-only attempt history.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Insert(ctx context.Context, log *models.WebhookLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookLog, error) {
	var log models.WebhookLog
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&log).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *Repository) FindByEvent(ctx context.Context, provider enums.PaymentProvider, eventID string) (*models.WebhookLog, error) {
	var log models.WebhookLog
	err := r.db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", provider, eventID).
		First(&log).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindLatestForOrder returns the most recent log linked to orderID.
func (r *Repository) FindLatestForOrder(ctx context.Context, orderID uuid.UUID) (*models.WebhookLog, error) {
	var log models.WebhookLog
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("received_at DESC").
		First(&log).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *Repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookLog{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// NextAttempt returns the number the next attempt for logID should carry.
func (r *Repository) NextAttempt(ctx context.Context, logID uuid.UUID) (int, error) {
	var last int
	err := r.db.WithContext(ctx).
		Model(&models.WebhookLogAttempt{}).
		Where("log_id = ?", logID).
		Select("COALESCE(MAX(attempt), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (r *Repository) AppendAttempt(ctx context.Context, attempt *models.WebhookLogAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *Repository) ListAttempts(ctx context.Context, logID uuid.UUID) ([]models.WebhookLogAttempt, error) {
	var rows []models.WebhookLogAttempt
	err := r.db.WithContext(ctx).
		Where("log_id = ?", logID).
		Order("attempt ASC").
		Find(&rows).Error
	return rows, err
}

// List returns logs newest first using cursor pagination.
func (r *Repository) List(ctx context.Context, opts listQuery) ([]models.WebhookLog, error) {
	query := r.db.WithContext(ctx).Model(&models.WebhookLog{})
	if opts.status != nil {
		query = query.Where("status = ?", *opts.status)
	}
	if opts.provider != nil {
		query = query.Where("provider = ?", *opts.provider)
	}
	if opts.cursor != nil {
		query = query.Where("(received_at < ?) OR (received_at = ? AND id < ?)", opts.cursor.At, opts.cursor.At, opts.cursor.ID)
	}

	query = query.Order("received_at DESC").Order("id DESC").Limit(opts.limit)

	var rows []models.WebhookLog
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
