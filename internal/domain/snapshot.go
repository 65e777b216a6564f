package domain

import "time"

// Snapshot is the durable document describing the bot's complete mutable
// state. It is written to the persistence gateway on every terminal order
// transition and reloaded at startup, so a crash mid-verification cannot
// silently lose a fill.
type Snapshot struct {
	Position       Position   `json:"position"`
	StopOrderID    string     `json:"stop_order_id,omitempty"`
	PendingOrderID string     `json:"pending_order_id,omitempty"`
	TotalPnL       float64    `json:"total_pnl"`
	TradingEnabled bool       `json:"trading_enabled"`
	LastExitAt     time.Time  `json:"last_exit_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// View is the read-only projection handed to presentation layers. It adds
// live-derived fields on top of the snapshot.
type View struct {
	Snapshot
	LastPrice     float64 `json:"last_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	FeedConnected bool    `json:"feed_connected"`
	Online        bool    `json:"online"`
}
