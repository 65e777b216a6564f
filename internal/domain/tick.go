package domain

import "time"

// Tick is one last-traded-price observation from the market data feed.
// Ticks are ephemeral: they drive the trailing stop and target checks and
// are only retained inside replay buffers for post-trade analysis.
type Tick struct {
	InstrumentKey string    `json:"instrument_key,omitempty"`
	Price         float64   `json:"price"`
	Timestamp     time.Time `json:"ts"`
}

// ReplayBuffer accumulates the ticks observed during one trade (and the
// watch window after its exit) so the closed trade can be replayed later.
type ReplayBuffer struct {
	OrderID string `json:"order_id"`
	Ticks   []Tick `json:"ticks"`
	// HighAfter/LowAfter track the price extremes seen after the exit.
	HighAfter float64 `json:"high_after,omitempty"`
	LowAfter  float64 `json:"low_after,omitempty"`
}

// Record appends a tick and updates the post-exit extremes.
func (b *ReplayBuffer) Record(t Tick) {
	b.Ticks = append(b.Ticks, t)
	if b.HighAfter == 0 || t.Price > b.HighAfter {
		b.HighAfter = t.Price
	}
	if b.LowAfter == 0 || t.Price < b.LowAfter {
		b.LowAfter = t.Price
	}
}

// Len returns the number of recorded ticks.
func (b *ReplayBuffer) Len() int { return len(b.Ticks) }
