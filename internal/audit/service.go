package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
)

// Well-known audit actions.
const (
	ActionOrderForceStatus       = "order.force_status"
	ActionOrderRefunded          = "order.refunded"
	ActionRefundConcurrent       = "order.refund_concurrent"
	ActionWebhookReprocessed     = "webhook_log.reprocessed"
	ActionWebhookReplayed        = "order.webhook_replayed"
	ActionPaymentAmountMismatch  = "payment.amount_mismatch"
	ActionListingDoubleSale      = "listing.double_sale"
	ActionLegacyOrderSynthesized = "order.legacy_synthesized"
)

// Entry is one audit record. Before/After/Metadata are marshalled to JSON.
type Entry struct {
	Action   string
	Entity   string
	EntityID string
	ActorID  *uuid.UUID
	Before   any
	After    any
	Metadata any
}

// Recorder writes audit entries inside the caller's transaction.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
}

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Record persists entry using tx, or the service's own connection when tx is nil.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit action, entity and entity id are required")
	}
	conn := tx
	if conn == nil {
		conn = s.db
	}
	if conn == nil {
		return errors.New("audit connection required")
	}

	row := models.AuditLog{
		ID:       uuid.New(),
		Action:   entry.Action,
		Entity:   entry.Entity,
		EntityID: entry.EntityID,
		ActorID:  entry.ActorID,
	}
	var err error
	if row.Before, err = marshalOptional(entry.Before); err != nil {
		return fmt.Errorf("marshal audit before: %w", err)
	}
	if row.After, err = marshalOptional(entry.After); err != nil {
		return fmt.Errorf("marshal audit after: %w", err)
	}
	if row.Metadata, err = marshalOptional(entry.Metadata); err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	return conn.WithContext(ctx).Create(&row).Error
}

// ListForEntity returns the audit trail for one entity, oldest first.
func (s *Service) ListForEntity(ctx context.Context, entity, entityID string) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("entity = ? AND entity_id = ?", entity, entityID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func marshalOptional(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
