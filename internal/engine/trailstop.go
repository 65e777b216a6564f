// Package engine contains the position state machine, the trailing stop
// calculator, and the order lifecycle manager. Everything in this package
// mutates the single Position through one mutex; broker and store calls are
// reached only through the narrow interfaces declared in broker.go.
package engine

import (
	"math"

	"github.com/arvindrk/silverbot/internal/domain"
)

// TrailConfig tunes the trailing stop ratchet. Margin is an absolute
// price-point hysteresis, not a percentage: the instrument's tick value is
// roughly constant intraday, so a fixed tolerance is what stops the bot
// from spamming the broker with one-point stop modifications.
type TrailConfig struct {
	// Multiplier scales the volatility estimate into the trailing gap.
	Multiplier float64
	// Margin is the minimum improvement, in points, before a new stop
	// level is accepted.
	Margin float64
}

// TrailStop proposes a new trailing stop for the position at the given
// price and volatility. It returns the new level and true when the stop
// should move, or the current stop and false otherwise.
//
// The stop is a one-directional ratchet: long stops only rise, short stops
// only fall, and a proposal must beat the current stop by strictly more
// than the hysteresis margin to be accepted. The caller pushes accepted
// levels to the broker; this function never talks to the broker itself.
func TrailStop(cfg TrailConfig, side domain.PositionSide, price, volatility, currentStop float64) (float64, bool) {
	if volatility <= 0 {
		return currentStop, false
	}

	gap := cfg.Multiplier * volatility

	switch side {
	case domain.SideLong:
		level := price - gap
		if level-currentStop > cfg.Margin {
			return level, true
		}
	case domain.SideShort:
		level := price + gap
		if currentStop-level > cfg.Margin {
			return level, true
		}
	}
	return currentStop, false
}

// FallbackStop derives the initial structural stop when the oracle does not
// supply one: entry ∓ multiplier×ATR, with the ATR floored so a dead-quiet
// tape cannot produce a stop inside the noise band. The level is rounded to
// a whole point because the exchange rejects fractional trigger prices.
func FallbackStop(side domain.OrderSide, entryPrice, atr, multiplier, atrFloor, atrDefault float64) float64 {
	vol := atr
	if vol <= 0 {
		vol = atrDefault
	}
	if vol < atrFloor {
		vol = atrFloor
	}

	points := math.Round(vol * multiplier)
	if side == domain.OrderSideBuy {
		return math.Round(entryPrice - points)
	}
	return math.Round(entryPrice + points)
}
