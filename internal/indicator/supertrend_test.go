package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvindrk/silverbot/internal/domain"
)

func candle(i int, high, low, close float64) domain.Candle {
	return domain.Candle{
		Timestamp: time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC).Add(time.Duration(i) * 5 * time.Minute),
		Open:      close,
		High:      high,
		Low:       low,
		Close:     close,
	}
}

func TestATR_WilderSmoothing(t *testing.T) {
	candles := []domain.Candle{
		candle(0, 110, 90, 100),
		candle(1, 120, 100, 110), // TR = 20
		candle(2, 115, 105, 110), // TR = 10
		candle(3, 130, 110, 120), // TR = 20
	}

	atrs := ATR(candles, 2)
	require.Len(t, atrs, 2)
	// Seed is the simple average of the first two true ranges.
	assert.Equal(t, 15.0, atrs[0])
	// Wilder: (15*1 + 20) / 2.
	assert.Equal(t, 17.5, atrs[1])
}

func TestATR_GapTrueRange(t *testing.T) {
	candles := []domain.Candle{
		candle(0, 105, 95, 100),
		// Gapped open: the range against the prior close dominates the
		// bar's own high-low span.
		candle(1, 140, 132, 135),
	}

	atrs := ATR(candles, 1)
	require.Len(t, atrs, 1)
	assert.Equal(t, 40.0, atrs[0]) // |140 - 100|
}

func TestATR_NotEnoughCandles(t *testing.T) {
	candles := []domain.Candle{
		candle(0, 110, 90, 100),
		candle(1, 120, 100, 110),
	}
	assert.Nil(t, ATR(candles, 2))
	assert.Nil(t, ATR(nil, 8))
	assert.Nil(t, ATR(candles, 0))
}

func TestLatestATR(t *testing.T) {
	candles := []domain.Candle{
		candle(0, 110, 90, 100),
		candle(1, 120, 100, 110),
		candle(2, 115, 105, 110),
		candle(3, 130, 110, 120),
	}
	assert.Equal(t, 17.5, LatestATR(candles, 2))
	assert.Equal(t, 0.0, LatestATR(candles[:2], 2))
}

func TestSuperTrend_UptrendAndFlip(t *testing.T) {
	candles := []domain.Candle{
		candle(0, 10, 10, 10),
		candle(1, 12, 10, 11),
		candle(2, 14, 12, 13),
		candle(3, 13, 5, 6), // crash through the lower band
	}

	bands := SuperTrend(candles, 1, 1)
	require.Len(t, bands, 3)

	// Rising bars keep the trend up; the lower band ratchets with price.
	assert.Equal(t, TrendUp, bands[0].Direction)
	assert.Equal(t, 9.0, bands[0].Value)
	assert.Equal(t, TrendUp, bands[1].Direction)
	assert.Equal(t, 10.0, bands[1].Value)

	// The crash closes below the lower band: direction flips and the
	// upper band becomes the active level.
	assert.Equal(t, TrendDown, bands[2].Direction)
	assert.Equal(t, 13.0, bands[2].Value)
	assert.Equal(t, 8.0, bands[2].ATR)
}

func TestSuperTrend_LowerBandNeverFallsInUptrend(t *testing.T) {
	// A steady climb with one soft bar: the lower band must hold its
	// ratcheted level rather than follow the pullback down.
	candles := []domain.Candle{
		candle(0, 100, 100, 100),
		candle(1, 104, 100, 103),
		candle(2, 108, 104, 107),
		candle(3, 106, 103, 105), // pullback, still above the band
		candle(4, 112, 107, 111),
	}

	bands := SuperTrend(candles, 2, 1)
	require.NotEmpty(t, bands)

	prev := 0.0
	for _, b := range bands {
		require.Equal(t, TrendUp, b.Direction)
		assert.GreaterOrEqual(t, b.Value, prev, "uptrend band must only rise")
		prev = b.Value
	}
}

func TestSuperTrend_NotEnoughCandles(t *testing.T) {
	assert.Nil(t, SuperTrend([]domain.Candle{candle(0, 10, 9, 10)}, 8, 2.9))
}
