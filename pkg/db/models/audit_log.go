package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog captures who changed what on a financial entity.
type AuditLog struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Action    string          `gorm:"column:action;not null"`
	Entity    string          `gorm:"column:entity;not null"`
	EntityID  string          `gorm:"column:entity_id;not null"`
	ActorID   *uuid.UUID      `gorm:"column:actor_id;type:uuid"`
	Before    json.RawMessage `gorm:"column:before_state;type:jsonb"`
	After     json.RawMessage `gorm:"column:after_state;type:jsonb"`
	Metadata  json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}
