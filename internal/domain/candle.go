package domain

import (
	"sort"
	"time"
)

// Candle is one OHLCV bar from the historical/intraday candle source.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// MergeCandles merges candle series, deduplicating by timestamp (later
// series win, so intraday bars replace their historical duplicates) and
// returning the result ordered oldest first.
func MergeCandles(series ...[]Candle) []Candle {
	merged := make(map[int64]Candle)
	for _, s := range series {
		for _, c := range s {
			merged[c.Timestamp.UnixMilli()] = c
		}
	}

	out := make([]Candle, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// SessionCandles filters candles to those at or after the session start.
// Overnight bars are excluded so gap artifacts never feed the indicators
// or the oracle.
func SessionCandles(candles []Candle, sessionStart time.Time) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if !c.Timestamp.Before(sessionStart) {
			out = append(out, c)
		}
	}
	return out
}
