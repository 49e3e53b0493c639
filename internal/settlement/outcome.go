package settlement

import (
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox"
	"github.com/angelmondragon/marketplace-payments/pkg/payments"
	"github.com/google/uuid"
)

// Source names the path that delivered a provider outcome.
type Source string

const (
	SourceWebhook   Source = "webhook"
	SourceReprocess Source = "reprocess"
	SourceReplay    Source = "replay"
	SourceSweep     Source = "sweep"
)

// Resolution says how a provider charge was matched to an order.
type Resolution string

const (
	LinkedToExistingOrder  Resolution = "linked"
	SynthesizedLegacyOrder Resolution = "synthesized"
	Ignored                Resolution = "ignored"
)

// Action is what Apply did to the resolved order.
type Action string

const (
	ActionMarkedPaid     Action = "marked_paid"
	ActionMarkedFailed   Action = "marked_failed"
	ActionAlreadySettled Action = "already_settled"
	ActionStateConflict  Action = "state_conflict"
	ActionAmountMismatch Action = "amount_mismatch"
	ActionNoop           Action = "noop"
)

// Input is one normalized provider outcome.
type Input struct {
	Provider      enums.PaymentProvider
	Kind          payments.EventKind
	Authorization *payments.Authorization
	Source        Source
	EventID       string
	// OrderID overrides the order id carried in the charge metadata.
	OrderID *uuid.UUID
	Actor   *outbox.ActorRef
}

// Outcome is the tagged result of Apply.
type Outcome struct {
	Resolution Resolution
	Action     Action
	OrderID    *uuid.UUID
	Status     enums.OrderStatus
	Reason     string
}

// KindForStatus maps a terminal authorization status to the event kind
// settlement understands. Non-terminal statuses map to EventChargeUpdated.
func KindForStatus(status payments.AuthorizationStatus) payments.EventKind {
	switch status {
	case payments.StatusSucceeded:
		return payments.EventChargeSucceeded
	case payments.StatusFailed, payments.StatusCanceled:
		return payments.EventChargeFailed
	default:
		return payments.EventChargeUpdated
	}
}
