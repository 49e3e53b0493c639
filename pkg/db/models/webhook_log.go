package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-payments/pkg/enums"
)

// WebhookLog records every verified provider event and its latest processing state.
type WebhookLog struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider         enums.PaymentProvider  `gorm:"column:provider;not null"`
	EventID          string                 `gorm:"column:event_id;not null"`
	EventType        string                 `gorm:"column:event_type;not null"`
	OrderID          *uuid.UUID             `gorm:"column:order_id;type:uuid"`
	AuthorizationRef *string                `gorm:"column:authorization_ref"`
	Status           enums.WebhookLogStatus `gorm:"column:status;not null;default:'pending'"`
	RetryCount       int                    `gorm:"column:retry_count;not null;default:0"`
	Payload          json.RawMessage        `gorm:"column:payload;type:jsonb;not null"`
	Error            *string                `gorm:"column:error"`
	DurationMS       int64                  `gorm:"column:duration_ms;not null;default:0"`
	ReceivedAt       time.Time              `gorm:"column:received_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// WebhookLogAttempt is an append-only entry in a webhook log's retry history.
type WebhookLogAttempt struct {
	ID         uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	LogID      uuid.UUID                   `gorm:"column:log_id;type:uuid;not null"`
	Attempt    int                         `gorm:"column:attempt;not null"`
	Trigger    enums.WebhookAttemptTrigger `gorm:"column:trigger;not null"`
	Status     enums.WebhookLogStatus      `gorm:"column:status;not null"`
	Error      *string                     `gorm:"column:error"`
	DurationMS int64                       `gorm:"column:duration_ms;not null;default:0"`
	OperatorID *uuid.UUID                  `gorm:"column:operator_id;type:uuid"`
	CreatedAt  time.Time                   `gorm:"column:created_at;autoCreateTime"`
}
