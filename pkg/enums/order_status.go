package enums

import "slices"

// OrderStatus tracks the lifecycle of a marketplace order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusFailed,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// orderTransitions lists the only edges the state machine accepts.
// failed, cancelled and refunded are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusRefunded},
}

func (s OrderStatus) String() string { return string(s) }

func (s OrderStatus) IsValid() bool { return slices.Contains(orderStatuses, s) }

// CanTransitionTo reports whether s -> to is a legal edge.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	return slices.Contains(orderTransitions[s], to)
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s.IsValid() && len(orderTransitions[s]) == 0
}
