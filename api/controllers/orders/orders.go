package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-payments/api/responses"
	"github.com/angelmondragon/marketplace-payments/api/validators"
	internalorders "github.com/angelmondragon/marketplace-payments/internal/orders"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
)

type orderService interface {
	CreateOrder(ctx context.Context, input internalorders.CreateOrderInput) (*models.Order, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*internalorders.StatusView, error)
}

type createOrderRequest struct {
	BuyerID   string  `json:"buyerId" validate:"required,uuid"`
	ListingID string  `json:"listingId" validate:"required,uuid"`
	SellerID  *string `json:"sellerId,omitempty" validate:"omitempty,uuid"`
}

type createOrderResponse struct {
	OrderID            uuid.UUID `json:"orderId"`
	Status             string    `json:"status"`
	AmountCents        int64     `json:"amountCents"`
	ServiceFeeCents    int64     `json:"serviceFeeCents"`
	ProcessingFeeCents int64     `json:"processingFeeCents"`
	TotalCents         int64     `json:"totalCents"`
	Currency           string    `json:"currency"`
}

// CreateOrder opens a pending order for one listing.
func CreateOrder(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internalorders.CreateOrderInput{
			BuyerID:   uuid.MustParse(req.BuyerID),
			ListingID: uuid.MustParse(req.ListingID),
		}
		if req.SellerID != nil {
			sellerID := uuid.MustParse(*req.SellerID)
			input.SellerID = &sellerID
		}

		order, err := svc.CreateOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, createOrderResponse{
			OrderID:            order.ID,
			Status:             string(order.Status),
			AmountCents:        order.SubtotalCents,
			ServiceFeeCents:    order.ServiceFeeCents,
			ProcessingFeeCents: order.ProcessingFeeCents,
			TotalCents:         order.TotalCents,
			Currency:           order.Currency,
		})
	}
}

// OrderStatus is polled by clients after confirming a charge.
func OrderStatus(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		orderID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "orderId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}
		view, err := svc.GetStatus(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
