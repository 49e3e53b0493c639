package enums

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const AggregateOrder OutboxAggregateType = "order"

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated      OutboxEventType = "order_created"
	EventOrderStateChanged OutboxEventType = "order_state_changed"
	EventOrderPaid         OutboxEventType = "order_paid"
	EventOrderRefunded     OutboxEventType = "order_refunded"
)

// OutboxDLQErrorReason says why a row stopped being retried.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)
