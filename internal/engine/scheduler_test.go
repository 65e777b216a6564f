package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvindrk/silverbot/internal/domain"
	"github.com/arvindrk/silverbot/internal/indicator"
	"github.com/arvindrk/silverbot/internal/metrics"
)

// testCandles returns twenty 5-minute bars ending just before now, enough
// for indicator warm-up and the session-candle minimum.
func testCandles(now time.Time) []domain.Candle {
	out := make([]domain.Candle, 0, 20)
	ts := now.Add(-20 * 5 * time.Minute)
	price := 72000.0
	for i := 0; i < 20; i++ {
		out = append(out, domain.Candle{
			Timestamp: ts,
			Open:      price,
			High:      price + 120,
			Low:       price - 80,
			Close:     price + 40,
			Volume:    100,
		})
		price += 40
		ts = ts.Add(5 * time.Minute)
	}
	return out
}

func testSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:          time.Second,
		FeedStaleAfter:    3 * time.Minute,
		CandlePeriod:      5 * time.Minute,
		MinSessionCandles: 5,
		MinConfidence:     80,
		ATRPeriod:         8,
		ATRMultiplier:     2.9,
		APIStartMinute:    330,
		MarketOpenMinute:  540,
		MarketCloseMinute: 1430,
		Location:          time.UTC,
	}
}

func newTestScheduler(broker *fakeBroker, oracle *fakeOracle, feed *fakeFeed, at time.Time) (*Scheduler, *Trader) {
	tr, _, _ := newTestTrader(broker)
	src := &fakeCandleSource{candles: testCandles(at)}
	s := NewScheduler(testSchedulerConfig(), tr, src, oracle, feed, nil, testLogger())
	s.SetClock(func() time.Time { return at })
	return s, tr
}

func TestStep_SubmitsActionableSignal(t *testing.T) {
	broker := newFakeBroker()
	broker.limitID = "B1"
	broker.stopID = "S1"
	broker.script("B1", filledReply("B1", domain.OrderSideBuy, 1, 72100))
	oracle := &fakeOracle{dec: domain.Decision{Pattern: "breakout", Action: domain.ActionBuy, Confidence: 90}}

	s, tr := newTestScheduler(broker, oracle, &fakeFeed{connected: true}, tuesday(600, 5))
	tr.OnTick(context.Background(), tick(72100))
	s.Step(context.Background())
	tr.Wait()

	assert.Equal(t, 1, oracle.callCount())
	assert.Equal(t, domain.SideLong, tr.Position().Side)
	// The candle refresh published a live ATR before the entry.
	assert.Greater(t, tr.Position().CurrentStop, 0.0)
}

func TestStep_OneOracleCallPerCandle(t *testing.T) {
	oracle := &fakeOracle{dec: domain.Decision{Action: domain.ActionWait}}
	s, _ := newTestScheduler(newFakeBroker(), oracle, &fakeFeed{connected: true}, tuesday(600, 5))

	s.Step(context.Background())
	s.Step(context.Background())

	assert.Equal(t, 1, oracle.callCount(), "same candle bucket must not re-ask the oracle")
}

func TestStep_CandleBoundaryGate(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
	}{
		{"off-boundary minute", tuesday(602, 5)},
		{"past the opening window", tuesday(600, 45)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &fakeOracle{dec: domain.Decision{Action: domain.ActionBuy, Confidence: 90}}
			s, _ := newTestScheduler(newFakeBroker(), oracle, &fakeFeed{connected: true}, tt.at)
			s.Step(context.Background())
			assert.Zero(t, oracle.callCount())
		})
	}
}

func TestStep_ConfidenceMustExceedThreshold(t *testing.T) {
	broker := newFakeBroker()
	oracle := &fakeOracle{dec: domain.Decision{Action: domain.ActionBuy, Confidence: 80}}

	s, tr := newTestScheduler(broker, oracle, &fakeFeed{connected: true}, tuesday(600, 5))
	s.Step(context.Background())
	tr.Wait()

	assert.Equal(t, 1, oracle.callCount())
	assert.Equal(t, domain.SideFlat, tr.Position().Side)
	assert.Empty(t, broker.limits, "confidence at the threshold is not a signal")
}

func TestStep_SessionTooYoung(t *testing.T) {
	oracle := &fakeOracle{dec: domain.Decision{Action: domain.ActionBuy, Confidence: 90}}
	tr, _, _ := newTestTrader(newFakeBroker())

	// Only three bars since the open.
	at := tuesday(600, 5)
	src := &fakeCandleSource{candles: testCandles(at)[len(testCandles(at))-3:]}
	s := NewScheduler(testSchedulerConfig(), tr, src, oracle, &fakeFeed{connected: true}, nil, testLogger())
	s.SetClock(func() time.Time { return at })

	s.Step(context.Background())

	assert.Zero(t, oracle.callCount())
}

func TestStep_OracleErrorSuppressesEntry(t *testing.T) {
	broker := newFakeBroker()
	oracle := &fakeOracle{err: errors.New("analysis unavailable")}

	s, tr := newTestScheduler(broker, oracle, &fakeFeed{connected: true}, tuesday(600, 5))
	s.Step(context.Background())
	tr.Wait()

	assert.Equal(t, domain.SideFlat, tr.Position().Side)
	assert.Empty(t, broker.limits)
}

func TestStep_IdleBeforeAPIHours(t *testing.T) {
	oracle := &fakeOracle{dec: domain.Decision{Action: domain.ActionBuy, Confidence: 90}}
	feed := &fakeFeed{connected: false}

	// 04:00 is before the broker API comes up.
	s, _ := newTestScheduler(newFakeBroker(), oracle, feed, tuesday(240, 0))
	s.Step(context.Background())

	assert.Zero(t, oracle.callCount())
	assert.Zero(t, feed.reconnectCount())
}

func TestWatchFeed_ReconnectsDisconnectedFeed(t *testing.T) {
	feed := &fakeFeed{connected: false}
	s, _ := newTestScheduler(newFakeBroker(), &fakeOracle{dec: domain.Decision{Action: domain.ActionWait}}, feed, tuesday(600, 5))

	s.Step(context.Background())

	assert.Equal(t, 1, feed.reconnectCount())
}

func TestWatchFeed_IgnoresFeedOutsideMarketHours(t *testing.T) {
	feed := &fakeFeed{connected: false}

	// 05:40 is inside API hours but before the market open.
	s, _ := newTestScheduler(newFakeBroker(), &fakeOracle{}, feed, tuesday(340, 0))
	s.Step(context.Background())

	assert.Zero(t, feed.reconnectCount())
}

func TestWatchFeed_ReconnectsSilentFeed(t *testing.T) {
	feed := &fakeFeed{connected: true}
	broker := newFakeBroker()
	s, tr := newTestScheduler(broker, &fakeOracle{dec: domain.Decision{Action: domain.ActionWait}}, feed, tuesday(600, 5))

	// Last tick arrived ten minutes ago.
	tr.SetClock(func() time.Time { return tuesday(590, 0) })
	tr.OnTick(context.Background(), tick(72000))
	tr.SetClock(func() time.Time { return tuesday(600, 5) })

	s.Step(context.Background())
	tr.Wait()

	assert.Equal(t, 1, feed.reconnectCount())
}

func TestStep_PublishesVolatilityToTrader(t *testing.T) {
	broker := newFakeBroker()
	s, tr := newTestScheduler(broker, &fakeOracle{dec: domain.Decision{Action: domain.ActionWait}}, &fakeFeed{connected: true}, tuesday(600, 5))

	s.Step(context.Background())

	// The published ATR now sizes the trailing stop: with a resting long
	// the next tick ratchets using the live value, not the default.
	tr.Restore(openLongSnapshot())
	tr.OnTick(context.Background(), tick(72500))
	tr.Wait()

	pos := tr.Position()
	require.Equal(t, domain.SideLong, pos.Side)
	assert.NotEqual(t, 70400.0, pos.CurrentStop, "live ATR should have moved the stop")
}

func TestStep_PublishesTrendDirection(t *testing.T) {
	broker := newFakeBroker()
	tr, _, _ := newTestTrader(broker)
	at := tuesday(600, 5)
	src := &fakeCandleSource{candles: testCandles(at)}
	m := metrics.New()
	s := NewScheduler(testSchedulerConfig(), tr, src, &fakeOracle{dec: domain.Decision{Action: domain.ActionWait}}, &fakeFeed{connected: true}, m, testLogger())
	s.SetClock(func() time.Time { return at })

	require.Equal(t, indicator.Trend(0), s.Trend())
	s.Step(context.Background())

	// Steadily rising closes keep price above the lower band.
	assert.Equal(t, indicator.TrendUp, s.Trend())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Trend))
}
