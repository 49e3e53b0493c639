// Package webhooklogs records every verified provider event and each attempt
// to process it. Attempts are appended, never rewritten.
package webhooklogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-payments/pkg/db"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	pkgpagination "github.com/angelmondragon/marketplace-payments/pkg/pagination"
	"github.com/angelmondragon/marketplace-payments/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxErrorLen = 2000

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// BeginInput identifies a freshly verified event.
type BeginInput struct {
	Provider         enums.PaymentProvider
	EventID          string
	EventType        string
	OrderID          *uuid.UUID
	AuthorizationRef string
	Payload          json.RawMessage
}

// FinishInput closes one processing attempt.
type FinishInput struct {
	LogID      uuid.UUID
	Trigger    enums.WebhookAttemptTrigger
	Err        error
	Duration   time.Duration
	OrderID    *uuid.UUID
	OperatorID *uuid.UUID
}

// Service manages webhook log entries.
type Service struct {
	repo *Repository
	tx   txRunner
	now  func() time.Time
}

func NewService(repo *Repository, tx txRunner) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("webhook log repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &Service{repo: repo, tx: tx, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Begin records a delivery. It returns the existing entry for a redelivered
// event, and done is true when that entry already processed successfully.
func (s *Service) Begin(ctx context.Context, in BeginInput) (*models.WebhookLog, bool, error) {
	if in.Provider == "" || in.EventID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "provider and event id required")
	}
	payload := in.Payload
	if len(payload) == 0 || !json.Valid(payload) {
		payload = json.RawMessage(`{}`)
	}
	now := s.now()
	entry := &models.WebhookLog{
		ID:         uuid.New(),
		Provider:   in.Provider,
		EventID:    in.EventID,
		EventType:  in.EventType,
		OrderID:    in.OrderID,
		Status:     enums.WebhookLogStatusPending,
		Payload:    payload,
		ReceivedAt: now,
		UpdatedAt:  now,
	}
	if in.AuthorizationRef != "" {
		ref := in.AuthorizationRef
		entry.AuthorizationRef = &ref
	}

	err := s.repo.Insert(ctx, entry)
	if err == nil {
		return entry, false, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert webhook log")
	}

	existing, err := s.repo.FindByEvent(ctx, in.Provider, in.EventID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load webhook log")
	}
	return existing, existing.Status == enums.WebhookLogStatusSuccess, nil
}

// Finish appends the attempt and moves the entry to success or failed.
func (s *Service) Finish(ctx context.Context, in FinishInput) (*models.WebhookLog, error) {
	status := enums.WebhookLogStatusSuccess
	var errText *string
	if in.Err != nil {
		status = enums.WebhookLogStatusFailed
		msg := types.Truncate(in.Err.Error(), maxErrorLen)
		errText = &msg
	}
	trigger := in.Trigger
	if trigger == "" {
		trigger = enums.WebhookAttemptDelivery
	}

	var out *models.WebhookLog
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		attempt, err := repo.NextAttempt(ctx, in.LogID)
		if err != nil {
			return err
		}
		if err := repo.AppendAttempt(ctx, &models.WebhookLogAttempt{
			LogID:      in.LogID,
			Attempt:    attempt,
			Trigger:    trigger,
			Status:     status,
			Error:      errText,
			DurationMS: in.Duration.Milliseconds(),
			OperatorID: in.OperatorID,
			CreatedAt:  s.now(),
		}); err != nil {
			return err
		}

		updates := map[string]any{
			"status":      status,
			"error":       errText,
			"duration_ms": in.Duration.Milliseconds(),
			"retry_count": attempt - 1,
			"updated_at":  s.now(),
		}
		if in.OrderID != nil {
			updates["order_id"] = *in.OrderID
		}
		if err := repo.Update(ctx, in.LogID, updates); err != nil {
			return err
		}
		out, err = repo.FindByID(ctx, in.LogID)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "webhook log not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finish webhook log")
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.WebhookLog, error) {
	log, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return log, nil
}

// LatestForOrder returns the newest log linked to the order, if any.
func (s *Service) LatestForOrder(ctx context.Context, orderID uuid.UUID) (*models.WebhookLog, error) {
	log, err := s.repo.FindLatestForOrder(ctx, orderID)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return log, nil
}

func (s *Service) Attempts(ctx context.Context, id uuid.UUID) ([]models.WebhookLogAttempt, error) {
	rows, err := s.repo.ListAttempts(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list webhook attempts")
	}
	return rows, nil
}

func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	cursor, err := pkgpagination.Decode(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pkgpagination.Limit(params.Limit)

	rows, err := s.repo.List(ctx, listQuery{
		status:   params.Status,
		provider: params.Provider,
		limit:    limit + 1,
		cursor:   cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list webhook logs")
	}

	rows, next := pkgpagination.Trim(rows, limit, func(m models.WebhookLog) pkgpagination.Keyset {
		return pkgpagination.Keyset{At: m.ReceivedAt, ID: m.ID}
	})
	result := &ListResult{Items: make([]ListItem, 0, len(rows)), Cursor: next}
	for _, row := range rows {
		result.Items = append(result.Items, toListItem(row))
	}
	return result, nil
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "webhook log not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load webhook log")
}
