package domain

import "time"

// PositionSide is the direction of the single open position, or Flat/Exiting.
type PositionSide string

const (
	SideFlat    PositionSide = "FLAT"
	SideLong    PositionSide = "LONG"
	SideShort   PositionSide = "SHORT"
	SideExiting PositionSide = "EXITING"
)

// Position is the singleton position for the traded instrument. It is owned
// and mutated only by the trader state machine; everything else sees copies.
type Position struct {
	Side       PositionSide `json:"side"`
	EntryPrice float64      `json:"entry_price"`
	Quantity   int          `json:"quantity"`
	// CurrentStop is the trailing stop level currently asserted at the
	// broker. Zero when no stop is installed.
	CurrentStop float64 `json:"current_stop,omitempty"`
	// CurrentTarget is the oracle-provided profit target. Nil when no
	// target is armed.
	CurrentTarget *float64 `json:"current_target,omitempty"`
	// PreExitSide remembers the open side while an exit is in flight so a
	// failed or slipped exit can restore it.
	PreExitSide PositionSide `json:"pre_exit_side,omitempty"`
	OpenedAt    time.Time    `json:"opened_at,omitempty"`
}

// IsOpen reports whether a position is held (including one mid-exit).
func (p Position) IsOpen() bool {
	return p.Side == SideLong || p.Side == SideShort || p.Side == SideExiting
}

// HeldSide returns the direction the position is actually exposed in: the
// live side, or the pre-exit side while an exit order is pending.
func (p Position) HeldSide() PositionSide {
	if p.Side == SideExiting {
		return p.PreExitSide
	}
	return p.Side
}

// UnrealizedPnL computes the open P&L at the given price. Flat positions
// return zero.
func (p Position) UnrealizedPnL(price float64) float64 {
	switch p.HeldSide() {
	case SideLong:
		return (price - p.EntryPrice) * float64(p.Quantity)
	case SideShort:
		return (p.EntryPrice - price) * float64(p.Quantity)
	default:
		return 0
	}
}

// Flatten resets the position to the flat state.
func (p *Position) Flatten() {
	*p = Position{Side: SideFlat}
}
