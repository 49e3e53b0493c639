package paymentintents

import (
	"cmp"
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-payments/api/responses"
	"github.com/angelmondragon/marketplace-payments/api/validators"
	internalpi "github.com/angelmondragon/marketplace-payments/internal/paymentintents"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
)

type authorizer interface {
	CreateChargeAuthorization(ctx context.Context, input internalpi.Input) (*internalpi.Result, error)
}

// createRequest carries either orderId or a legacy ad hoc body. The legacy
// subtotal comes from amountCents, its older alias amount, or the sum of items.
type createRequest struct {
	OrderID            *string      `json:"orderId,omitempty" validate:"omitempty,uuid"`
	AmountCents        int64        `json:"amountCents,omitempty" validate:"omitempty,min=1"`
	Amount             int64        `json:"amount,omitempty" validate:"omitempty,min=1"`
	Items              []legacyItem `json:"items,omitempty" validate:"omitempty,max=50,dive"`
	Currency           string       `json:"currency,omitempty" validate:"omitempty,len=3"`
	ListingID          *string      `json:"listingId,omitempty" validate:"omitempty,uuid"`
	BuyerID            *string      `json:"buyerId,omitempty" validate:"omitempty,uuid"`
	SellerID           *string      `json:"sellerId,omitempty" validate:"omitempty,uuid"`
	ConnectedAccountID string       `json:"connectedAccountId,omitempty" validate:"omitempty,max=255"`
	Provider           string       `json:"provider,omitempty" validate:"omitempty,oneof=stripe square"`
	SourceID           string       `json:"sourceId,omitempty" validate:"omitempty,max=255"`
}

type legacyItem struct {
	ListingID  *string `json:"listingId,omitempty" validate:"omitempty,uuid"`
	PriceCents int64   `json:"priceCents" validate:"required,min=1,max=100000000"`
	Quantity   int64   `json:"quantity,omitempty" validate:"omitempty,min=1,max=1000"`
}

// legacySubtotal resolves the ad hoc amount and, for a single-listing cart,
// the listing it belongs to.
func (req createRequest) legacySubtotal() (int64, *string) {
	if amount := cmp.Or(req.AmountCents, req.Amount); amount > 0 || len(req.Items) == 0 {
		return amount, req.ListingID
	}
	var subtotal int64
	listingID := req.ListingID
	for _, item := range req.Items {
		subtotal += item.PriceCents * max(item.Quantity, 1)
	}
	if listingID == nil && len(req.Items) == 1 {
		listingID = req.Items[0].ListingID
	}
	return subtotal, listingID
}

// Create opens (or reuses) the provider authorization for an order. The
// optional Idempotency-Key header is forwarded to the provider.
func Create(svc authorizer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment intent service unavailable"))
			return
		}

		var req createRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internalpi.Input{
			IdempotencyKey:     strings.TrimSpace(r.Header.Get("Idempotency-Key")),
			ConnectedAccountID: strings.TrimSpace(req.ConnectedAccountID),
			Provider:           req.Provider,
			SourceID:           strings.TrimSpace(req.SourceID),
		}
		switch {
		case req.OrderID != nil:
			id := uuid.MustParse(*req.OrderID)
			input.OrderID = &id
		default:
			amount, listingID := req.legacySubtotal()
			if amount <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "orderId, amountCents or items is required"))
				return
			}
			input.AdHoc = &internalpi.AdHocInput{
				AmountCents: amount,
				Currency:    strings.ToLower(req.Currency),
				ListingID:   parseOptional(listingID),
				BuyerID:     parseOptional(req.BuyerID),
				SellerID:    parseOptional(req.SellerID),
			}
		}

		res, err := svc.CreateChargeAuthorization(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusCreated
		if res.Reused {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, res)
	}
}

func parseOptional(raw *string) *uuid.UUID {
	if raw == nil {
		return nil
	}
	id := uuid.MustParse(*raw)
	return &id
}
