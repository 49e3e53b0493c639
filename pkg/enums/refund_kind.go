package enums

// RefundKind says whether a refund returned the whole charge.
type RefundKind string

const (
	RefundKindPartial RefundKind = "partial"
	RefundKindFull    RefundKind = "full"
)
