package payments

import (
	"strconv"

	"github.com/google/uuid"
)

// Metadata keys attached to every authorization so webhooks can be linked back
// to an order, or an order synthesized for legacy charges.
const (
	MetaOrderID            = "order_id"
	MetaBuyerID            = "buyer_id"
	MetaSellerID           = "seller_id"
	MetaListingID          = "listing_id"
	MetaSubtotalCents      = "subtotal_cents"
	MetaServiceFeeCents    = "service_fee_cents"
	MetaProcessingFeeCents = "processing_fee_cents"
	MetaTotalCents         = "total_cents"
)

// OrderMetadata is the typed view of authorization metadata.
type OrderMetadata struct {
	OrderID            *uuid.UUID
	BuyerID            *uuid.UUID
	SellerID           *uuid.UUID
	ListingID          *uuid.UUID
	SubtotalCents      int64
	ServiceFeeCents    int64
	ProcessingFeeCents int64
	TotalCents         int64
}

// Map renders the metadata for a provider call, skipping unset fields.
func (m OrderMetadata) Map() map[string]string {
	out := map[string]string{}
	putID(out, MetaOrderID, m.OrderID)
	putID(out, MetaBuyerID, m.BuyerID)
	putID(out, MetaSellerID, m.SellerID)
	putID(out, MetaListingID, m.ListingID)
	putAmount(out, MetaSubtotalCents, m.SubtotalCents)
	putAmount(out, MetaServiceFeeCents, m.ServiceFeeCents)
	putAmount(out, MetaProcessingFeeCents, m.ProcessingFeeCents)
	putAmount(out, MetaTotalCents, m.TotalCents)
	return out
}

// ParseOrderMetadata reads the well-known keys. Malformed values are treated
// as absent.
func ParseOrderMetadata(raw map[string]string) OrderMetadata {
	return OrderMetadata{
		OrderID:            parseID(raw, MetaOrderID),
		BuyerID:            parseID(raw, MetaBuyerID),
		SellerID:           parseID(raw, MetaSellerID),
		ListingID:          parseID(raw, MetaListingID),
		SubtotalCents:      parseAmount(raw, MetaSubtotalCents),
		ServiceFeeCents:    parseAmount(raw, MetaServiceFeeCents),
		ProcessingFeeCents: parseAmount(raw, MetaProcessingFeeCents),
		TotalCents:         parseAmount(raw, MetaTotalCents),
	}
}

// HasFeeBreakdown reports whether all amounts were supplied and are consistent.
func (m OrderMetadata) HasFeeBreakdown() bool {
	return m.SubtotalCents > 0 &&
		m.TotalCents == m.SubtotalCents+m.ServiceFeeCents+m.ProcessingFeeCents
}

func putID(out map[string]string, key string, id *uuid.UUID) {
	if id != nil && *id != uuid.Nil {
		out[key] = id.String()
	}
}

func putAmount(out map[string]string, key string, v int64) {
	if v > 0 {
		out[key] = strconv.FormatInt(v, 10)
	}
}

func parseID(raw map[string]string, key string) *uuid.UUID {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	id, err := uuid.Parse(v)
	if err != nil || id == uuid.Nil {
		return nil
	}
	return &id
}

func parseAmount(raw map[string]string, key string) int64 {
	v, ok := raw[key]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
