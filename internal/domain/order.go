package domain

import "time"

// OrderSide indicates whether the broker order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// PositionSide maps the fill direction of an entry order to the position
// side it opens.
func (s OrderSide) PositionSide() PositionSide {
	if s == OrderSideBuy {
		return SideLong
	}
	return SideShort
}

// OrderStatus tracks the order lifecycle from local submission to the
// broker-confirmed terminal state.
type OrderStatus string

const (
	// OrderStatusSent means the order was handed to the broker but no
	// broker id or status has been observed yet.
	OrderStatusSent      OrderStatus = "SENT"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusTimeout   OrderStatus = "TIMEOUT"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusTimeout:
		return true
	default:
		return false
	}
}

// OrderRole describes what the order is for in the position lifecycle.
type OrderRole string

const (
	RoleEntry OrderRole = "ENTRY"
	RoleExit  OrderRole = "EXIT"
	RoleStop  OrderRole = "STOP"
)

// Order is one brokerage order. LocalID is assigned at submission time and
// never changes; BrokerID is filled in once the broker accepts the order.
// History lookups always key on LocalID so an id swap can never lose the
// record.
type Order struct {
	LocalID        string
	BrokerID       string
	Side           OrderSide
	Quantity       int
	RequestedPrice float64
	FilledPrice    float64
	Status         OrderStatus
	Role           OrderRole
	// Pattern and Confidence carry the oracle signal behind an entry
	// order; zero for exits and stops.
	Pattern     string
	Confidence  int
	SubmittedAt time.Time
	FilledAt    *time.Time
	// PnL is the realized profit for EXIT fills, zero otherwise.
	PnL float64
}

// ID returns the broker id when known, else the local id.
func (o Order) ID() string {
	if o.BrokerID != "" {
		return o.BrokerID
	}
	return o.LocalID
}
