package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/types"
)

// maxErrorText bounds stored error strings on both outbox tables.
const maxErrorText = 1024

var errTxRequired = errors.New("outbox: transaction required")

// Repository persists outbox_events rows. Writes take the caller's
// transaction so events commit with the state change that produced them.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&event).Error
}

// FetchUnpublishedForPublish returns the oldest undelivered rows below the
// attempt ceiling. On postgres the rows stay locked with SKIP LOCKED until
// the transaction ends, so parallel relays split the backlog.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	q := tx.Where("published_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	err := q.Order("created_at, id").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return update(tx, id, map[string]any{"published_at": time.Now().UTC(), "last_error": nil})
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error {
	return update(tx, id, map[string]any{"last_error": errorText(cause), "attempt_count": gorm.Expr("attempt_count + 1")})
}

// MarkTerminalTx sets attempt_count to the ceiling so the row drops out of
// FetchUnpublishedForPublish.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error {
	return update(tx, id, map[string]any{"last_error": errorText(cause), "attempt_count": ceiling})
}

// DeletePublishedBefore prunes delivered rows and dead rows older than cutoff.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttempts int) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	delivered := tx.Where("published_at IS NOT NULL AND published_at < ?", cutoff)
	dead := tx.Where("published_at IS NULL AND attempt_count >= ? AND created_at < ?", minAttempts, cutoff)
	res := tx.WithContext(ctx).Where(delivered).Or(dead).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func (r *Repository) CountForAggregate(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("aggregate_id = ?", aggregateID).Count(&n).Error
	return n, err
}

func update(tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(fields).Error
}

// DLQRepository stores rows the relay stopped retrying.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errTxRequired
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

func errorText(err error) any {
	if err == nil {
		return nil
	}
	return truncate(err.Error())
}

func truncate(s string) string {
	return types.Truncate(s, maxErrorText)
}
