// Package indicator implements the volatility and trend calculations used
// for stop sizing. All functions are pure over an ordered candle series.
package indicator

import (
	"math"

	"github.com/arvindrk/silverbot/internal/domain"
)

// Trend is the supertrend direction for one bar.
type Trend int

const (
	TrendUp   Trend = 1
	TrendDown Trend = -1
)

// Band is one supertrend output bar: the active band level and the trend
// direction after evaluating that bar's close.
type Band struct {
	Timestamp int64
	Value     float64
	Direction Trend
	ATR       float64
}

// ATR computes the Wilder-smoothed average true range over the candle
// series. The result is aligned to candles[period:]; the first value is the
// simple average of the first `period` true ranges. It returns nil when
// there are not enough candles.
func ATR(candles []domain.Candle, period int) []float64 {
	if period < 1 || len(candles) <= period {
		return nil
	}

	trs := make([]float64, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trs[i-1] = trueRange(candles[i], candles[i-1].Close)
	}

	out := make([]float64, 0, len(trs)-period+1)
	var sum float64
	for i := 0; i < period; i++ {
		sum += trs[i]
	}
	atr := sum / float64(period)
	out = append(out, atr)

	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
		out = append(out, atr)
	}
	return out
}

func trueRange(c domain.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low,
		math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// SuperTrend computes the supertrend bands over the candle series with the
// given ATR period and band multiplier.
//
// The final bands ratchet toward price: the upper band only moves down and
// the lower band only moves up, unless the previous close escaped through
// the band, which resets it to the fresh basic band. Direction flips when
// the close crosses the active band, and the active band switches to the
// opposite final band at its fresh basic value. The first bar has no prior
// band and seeds from its own basic bands.
func SuperTrend(candles []domain.Candle, period int, multiplier float64) []Band {
	atrs := ATR(candles, period)
	if len(atrs) == 0 {
		return nil
	}

	// ATR values align to the tail of the candle series.
	offset := len(candles) - len(atrs)

	var (
		finalUpper float64
		finalLower float64
		direction  = TrendUp
	)

	out := make([]Band, 0, len(atrs))
	for i, atr := range atrs {
		c := candles[i+offset]
		mid := (c.High + c.Low) / 2
		basicUpper := mid + multiplier*atr
		basicLower := mid - multiplier*atr

		prevUpper := finalUpper
		prevLower := finalLower
		prevClose := c.Close
		if i == 0 {
			prevUpper = basicUpper
			prevLower = basicLower
		} else {
			prevClose = candles[i+offset-1].Close
		}

		if basicUpper < prevUpper || prevClose > prevUpper {
			finalUpper = basicUpper
		} else {
			finalUpper = prevUpper
		}

		if basicLower > prevLower || prevClose < prevLower {
			finalLower = basicLower
		} else {
			finalLower = prevLower
		}

		value := finalLower
		if direction == TrendUp {
			if c.Close < finalLower {
				direction = TrendDown
				value = finalUpper
			}
		} else {
			value = finalUpper
			if c.Close > finalUpper {
				direction = TrendUp
				value = finalLower
			}
		}

		out = append(out, Band{
			Timestamp: c.Timestamp.UnixMilli(),
			Value:     value,
			Direction: direction,
			ATR:       atr,
		})
	}
	return out
}

// LatestATR returns the most recent ATR value for the series, or 0 when the
// series is too short.
func LatestATR(candles []domain.Candle, period int) float64 {
	atrs := ATR(candles, period)
	if len(atrs) == 0 {
		return 0
	}
	return atrs[len(atrs)-1]
}
