// Package registry maps outbox event types to their topic and payload schema
// and decodes stored rows before the relay publishes them.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-payments/pkg/config"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox"
	"github.com/angelmondragon/marketplace-payments/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	decode func(json.RawMessage) (any, error)
}

// ResolvedEvent is a validated outbox row with its typed payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := cfg.OrderEventsTopic
	if topic == "" {
		return nil, errors.New("registry: order events topic required")
	}
	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	register[payloads.OrderCreatedEvent](reg, enums.EventOrderCreated, enums.AggregateOrder, topic)
	register[payloads.OrderStateChangedEvent](reg, enums.EventOrderStateChanged, enums.AggregateOrder, topic)
	register[payloads.OrderPaidEvent](reg, enums.EventOrderPaid, enums.AggregateOrder, topic)
	register[payloads.OrderRefundedEvent](reg, enums.EventOrderRefunded, enums.AggregateOrder, topic)
	return reg, nil
}

func register[T any](reg *EventRegistry, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) {
	reg.entries[eventType] = EventDescriptor{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(raw json.RawMessage) (any, error) {
			v := new(T)
			if err := json.Unmarshal(raw, v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is permanent: retrying the same bytes cannot succeed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, permanentf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, permanentf("event %s belongs to %s, got %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, permanentf("event %s has no aggregate id", event.EventType)
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return nil, permanentf("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, permanentf("event %s has an empty payload", event.EventType)
	}
	payload, err := desc.decode(env.Data)
	if err != nil {
		return nil, permanentf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: env, Payload: payload}, nil
}

// NonRetryableError marks a delivery failure that goes straight to the DLQ.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// IsNonRetryable reports whether err or anything it wraps is a NonRetryableError.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}

func permanentf(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}
