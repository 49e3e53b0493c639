package webhooklogs

import (
	"time"

	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgpagination "github.com/angelmondragon/marketplace-payments/pkg/pagination"
	"github.com/google/uuid"
)

type ListParams struct {
	Status   *enums.WebhookLogStatus
	Provider *enums.PaymentProvider
	pkgpagination.Params
}

type ListResult struct {
	Items  []ListItem `json:"items"`
	Cursor string     `json:"cursor"`
}

type ListItem struct {
	ID               uuid.UUID              `json:"id"`
	Provider         enums.PaymentProvider  `json:"provider"`
	EventID          string                 `json:"event_id"`
	EventType        string                 `json:"event_type"`
	OrderID          *uuid.UUID             `json:"order_id,omitempty"`
	AuthorizationRef *string                `json:"authorization_ref,omitempty"`
	Status           enums.WebhookLogStatus `json:"status"`
	RetryCount       int                    `json:"retry_count"`
	Error            *string                `json:"error,omitempty"`
	DurationMS       int64                  `json:"duration_ms"`
	ReceivedAt       time.Time              `json:"received_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

type listQuery struct {
	status   *enums.WebhookLogStatus
	provider *enums.PaymentProvider
	limit    int
	cursor   *pkgpagination.Keyset
}

func toListItem(m models.WebhookLog) ListItem {
	return ListItem{
		ID:               m.ID,
		Provider:         m.Provider,
		EventID:          m.EventID,
		EventType:        m.EventType,
		OrderID:          m.OrderID,
		AuthorizationRef: m.AuthorizationRef,
		Status:           m.Status,
		RetryCount:       m.RetryCount,
		Error:            m.Error,
		DurationMS:       m.DurationMS,
		ReceivedAt:       m.ReceivedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
