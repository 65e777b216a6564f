package domain

import "time"

// BrokerOrder is the broker's authoritative view of one order, as returned
// by the order book endpoints. Platform packages convert their wire types
// into this before anything in the engine sees them.
type BrokerOrder struct {
	ID            string
	Side          OrderSide
	Status        OrderStatus
	Quantity      int
	FilledQty     int
	AveragePrice  float64
	LimitPrice    float64
	TriggerPrice  float64
	IsStop        bool
	// TriggerPending is set when a stop order is resting at the exchange
	// waiting for its trigger.
	TriggerPending bool
	PlacedAt       time.Time
	StatusMessage  string
}

// BrokerPosition is one row of the broker's short-term positions book.
type BrokerPosition struct {
	InstrumentKey string
	Quantity      int // signed: positive long, negative short
	AveragePrice  float64
}
