package domain

import "time"

// TradeRecord is one row of the durable trade log. Records are created in
// SENT state when an order is submitted and updated in place as the order
// reaches a terminal status; ID follows Order.LocalID until the broker id
// is known.
type TradeRecord struct {
	ID            string      `json:"id"`
	BrokerOrderID string      `json:"broker_order_id,omitempty"`
	Date          string      `json:"date"` // session date, YYYY-MM-DD
	Side          OrderSide   `json:"side"`
	Role          OrderRole   `json:"role"`
	Quantity      int         `json:"quantity"`
	OrderedPrice  float64     `json:"ordered_price"`
	ExecutedPrice float64     `json:"executed_price,omitempty"`
	Status        OrderStatus `json:"status"`
	PnL           float64     `json:"pnl"`
	Tag           string      `json:"tag,omitempty"`
	Pattern       string      `json:"pattern,omitempty"`
	Confidence    int         `json:"confidence,omitempty"`
	ExecutedAt    time.Time   `json:"executed_at,omitempty"`
	// Replay holds the tick buffer captured during the trade and the
	// post-exit watch window. Persisted with the record, archived to blob
	// storage when the watch window closes.
	Replay *ReplayBuffer `json:"replay,omitempty"`
}
