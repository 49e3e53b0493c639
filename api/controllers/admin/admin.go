// Package admin exposes operator actions: refunds, webhook replay and
// reprocessing, forced status changes and webhook log browsing.
package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-payments/api/middleware"
	"github.com/angelmondragon/marketplace-payments/api/responses"
	"github.com/angelmondragon/marketplace-payments/api/validators"
	"github.com/angelmondragon/marketplace-payments/internal/reconciliation"
	"github.com/angelmondragon/marketplace-payments/internal/refunds"
	"github.com/angelmondragon/marketplace-payments/internal/settlement"
	"github.com/angelmondragon/marketplace-payments/internal/webhooklogs"
	"github.com/angelmondragon/marketplace-payments/pkg/auth"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	"github.com/angelmondragon/marketplace-payments/pkg/pagination"
)

type refunder interface {
	Refund(ctx context.Context, operator auth.Operator, orderID uuid.UUID, amountCents int64, reason string) (*refunds.Result, error)
}

type reconciler interface {
	ReprocessWebhookLog(ctx context.Context, operator auth.Operator, logID uuid.UUID, in reconciliation.ReprocessInput) (*reconciliation.ReprocessResult, error)
	ReplayOrderWebhook(ctx context.Context, operator auth.Operator, orderID uuid.UUID, provider string) (*settlement.Outcome, error)
}

type statusForcer interface {
	ForceStatus(ctx context.Context, operator auth.Operator, id uuid.UUID, to enums.OrderStatus, note string) (*models.Order, error)
}

type logLister interface {
	List(ctx context.Context, params webhooklogs.ListParams) (*webhooklogs.ListResult, error)
}

type refundRequest struct {
	AmountCents int64  `json:"amountCents" validate:"min=0"`
	Reason      string `json:"reason,omitempty" validate:"max=500"`
}

type replayRequest struct {
	Provider string `json:"provider,omitempty" validate:"omitempty,oneof=stripe square"`
}

type forceStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=paid failed cancelled refunded"`
	Note   string `json:"note,omitempty" validate:"max=500"`
}

type reprocessRequest struct {
	OrderID         *string `json:"orderId,omitempty" validate:"omitempty,uuid"`
	AuthorizationID string  `json:"authorizationId,omitempty" validate:"omitempty,max=255"`
}

// Refund returns money for a paid order. Routed behind the Idempotency
// middleware, so retries with the same key replay the first response.
func Refund(svc refunder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}
		orderID, ok := pathUUID(w, r, "orderId", logg)
		if !ok {
			return
		}
		var req refundRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.Refund(r.Context(), middleware.OperatorFromContext(r.Context()), orderID, req.AmountCents, validators.SanitizeString(req.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

// ReplayWebhook re-runs settlement for an order from the provider's current
// charge state.
func ReplayWebhook(svc reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}
		orderID, ok := pathUUID(w, r, "orderId", logg)
		if !ok {
			return
		}
		var req replayRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome, err := svc.ReplayOrderWebhook(r.Context(), middleware.OperatorFromContext(r.Context()), orderID, req.Provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}

func ForceStatus(svc statusForcer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		orderID, ok := pathUUID(w, r, "orderId", logg)
		if !ok {
			return
		}
		var req forceStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.ForceStatus(r.Context(), middleware.OperatorFromContext(r.Context()), orderID, enums.OrderStatus(req.Status), validators.SanitizeString(req.Note, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"orderId": order.ID,
			"status":  order.Status,
		})
	}
}

func ReprocessWebhookLog(svc reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}
		logID, ok := pathUUID(w, r, "logId", logg)
		if !ok {
			return
		}
		var req reprocessRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		in := reconciliation.ReprocessInput{AuthorizationID: strings.TrimSpace(req.AuthorizationID)}
		if req.OrderID != nil {
			id := uuid.MustParse(*req.OrderID)
			in.OrderID = &id
		}
		res, err := svc.ReprocessWebhookLog(r.Context(), middleware.OperatorFromContext(r.Context()), logID, in)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

// ListWebhookLogs pages through delivery logs, newest first.
func ListWebhookLogs(svc logLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook log service unavailable"))
			return
		}
		if err := middleware.OperatorFromContext(r.Context()).Require(auth.PermWebhookLogsRead); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := webhooklogs.ListParams{
			Params: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseWebhookLogStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			params.Status = &status
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("provider")); raw != "" {
			provider, err := enums.ParsePaymentProvider(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider filter"))
				return
			}
			params.Provider = &provider
		}

		list, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string, logg *logger.Logger) (uuid.UUID, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, name+" is required"))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// decodeOptionalBody accepts an empty body as the zero request.
func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return validators.ValidateStruct(dest)
	}
	return validators.DecodeJSONBody(r, dest)
}
