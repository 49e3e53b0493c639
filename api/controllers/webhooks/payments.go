package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/marketplace-payments/api/responses"
	internalwebhooks "github.com/angelmondragon/marketplace-payments/internal/webhooks"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
)

const defaultMaxBodyBytes = 1 << 20

type eventHandler interface {
	HandleEvent(ctx context.Context, provider string, raw []byte, header http.Header) (*internalwebhooks.Result, error)
}

type receipt struct {
	Received bool `json:"received"`
}

// Payments receives provider charge notifications. The body is read raw for
// signature verification; once verified the delivery is always acknowledged
// so the provider stops retrying, and failures are left to the webhook log.
func Payments(handler eventHandler, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if handler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook body too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
		res, err := handler.HandleEvent(ctx, provider, payload, r.Header)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil && res != nil {
			logCtx := logg.WithFields(ctx, map[string]any{
				"event_id":  res.EventID,
				"log_id":    res.LogID.String(),
				"duplicate": res.Duplicate,
			})
			logg.Info(logCtx, "webhook acknowledged")
		}
		responses.WriteJSON(w, http.StatusOK, receipt{Received: true})
	}
}
