package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/arvindrk/silverbot/internal/domain"
	"github.com/arvindrk/silverbot/internal/indicator"
	"github.com/arvindrk/silverbot/internal/metrics"
)

// SchedulerConfig tunes the periodic safety-and-signal loop.
type SchedulerConfig struct {
	Interval time.Duration
	// FeedStaleAfter is how long without a tick before the feed is
	// reconnected during market hours.
	FeedStaleAfter time.Duration

	CandlePeriod      time.Duration
	MinSessionCandles int
	MinConfidence     int

	ATRPeriod     int
	ATRMultiplier float64

	APIStartMinute    int
	MarketOpenMinute  int
	MarketCloseMinute int

	Location *time.Location
}

// Scheduler runs the fixed-interval loop: feed watchdog, trader safety
// checks, indicator refresh, and oracle-driven entry evaluation. Signal
// evaluation is gated to the opening seconds of each candle so one candle
// yields at most one oracle call.
type Scheduler struct {
	cfg     SchedulerConfig
	trader  *Trader
	candles domain.CandleSource
	oracle  Oracle
	feed    FeedController
	metrics *metrics.Metrics // optional
	logger  *slog.Logger
	clock   func() time.Time

	lastEvalBucket time.Time
	trend          indicator.Trend
}

// NewScheduler wires the periodic loop. feed and m may be nil.
func NewScheduler(
	cfg SchedulerConfig,
	trader *Trader,
	candles domain.CandleSource,
	oracle Oracle,
	feed FeedController,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.FeedStaleAfter <= 0 {
		cfg.FeedStaleAfter = 3 * time.Minute
	}
	return &Scheduler{
		cfg:     cfg,
		trader:  trader,
		candles: candles,
		oracle:  oracle,
		feed:    feed,
		metrics: m,
		logger:  logger.With(slog.String("component", "scheduler")),
		clock:   time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *Scheduler) SetClock(clock func() time.Time) { s.clock = clock }

// Run blocks until ctx is cancelled, executing Step on each tick. An
// immediate first step brings state current after startup.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", slog.Duration("interval", s.cfg.Interval))
	s.Step(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Step(ctx)
		}
	}
}

// Step executes one scheduler pass.
func (s *Scheduler) Step(ctx context.Context) {
	now := s.clock().In(s.cfg.Location)
	minutes := now.Hour()*60 + now.Minute()

	if minutes < s.cfg.APIStartMinute {
		return
	}

	s.watchFeed(ctx, now, minutes)
	s.trader.OnScheduleTick(ctx)

	if !s.marketOpen(now, minutes) {
		return
	}

	candles, err := s.refreshIndicators(ctx, now)
	if err != nil {
		s.logger.Warn("candle refresh failed", slog.String("error", err.Error()))
		return
	}

	s.evaluateEntry(ctx, now, candles)
}

// watchFeed restarts the market data stream when it is down or silent
// during market hours.
func (s *Scheduler) watchFeed(ctx context.Context, now time.Time, minutes int) {
	if s.feed == nil || !s.marketOpen(now, minutes) {
		return
	}

	stale := false
	if last := s.trader.LastTickAt(); !last.IsZero() {
		stale = s.clock().Sub(last) > s.cfg.FeedStaleAfter
	}

	if s.feed.Connected() && !stale {
		return
	}

	s.logger.Warn("feed unhealthy, reconnecting",
		slog.Bool("connected", s.feed.Connected()),
		slog.Bool("stale", stale),
	)
	if s.metrics != nil {
		s.metrics.FeedReconnects.Inc()
	}
	if err := s.feed.Reconnect(ctx); err != nil {
		s.logger.Error("feed reconnect failed", slog.String("error", err.Error()))
	}
}

// refreshIndicators pulls the candle history and republishes the live ATR
// and supertrend direction.
func (s *Scheduler) refreshIndicators(ctx context.Context, now time.Time) ([]domain.Candle, error) {
	// Two days back covers the previous session for indicator warm-up
	// across the open.
	from := now.AddDate(0, 0, -2)
	candles, err := s.candles.Candles(ctx, from, now)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, nil
	}

	if atr := indicator.LatestATR(candles, s.cfg.ATRPeriod); atr > 0 {
		s.trader.SetVolatility(atr)
	}

	if bands := indicator.SuperTrend(candles, s.cfg.ATRPeriod, s.cfg.ATRMultiplier); len(bands) > 0 {
		latest := bands[len(bands)-1]
		if latest.Direction != s.trend {
			s.logger.Info("supertrend direction changed",
				slog.Int("direction", int(latest.Direction)),
				slog.Float64("band", latest.Value),
			)
			s.trend = latest.Direction
		}
		if s.metrics != nil {
			s.metrics.Trend.Set(float64(latest.Direction))
		}
	}
	return candles, nil
}

// Trend returns the latest published supertrend direction, zero before the
// first indicator refresh.
func (s *Scheduler) Trend() indicator.Trend { return s.trend }

// evaluateEntry asks the oracle for a decision once per candle, inside the
// candle's opening window, and submits any actionable decision.
func (s *Scheduler) evaluateEntry(ctx context.Context, now time.Time, candles []domain.Candle) {
	if !s.trader.CanEnter() {
		return
	}

	// Candle-boundary gate: only in the first 40 seconds of a fresh
	// candle, and only once per bucket.
	periodMin := int(s.cfg.CandlePeriod / time.Minute)
	if periodMin <= 0 {
		periodMin = 5
	}
	if now.Minute()%periodMin != 0 || now.Second() >= 40 {
		return
	}
	bucket := now.Truncate(s.cfg.CandlePeriod)
	if bucket.Equal(s.lastEvalBucket) {
		return
	}
	s.lastEvalBucket = bucket

	sessionStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.cfg.Location).
		Add(time.Duration(s.cfg.MarketOpenMinute) * time.Minute)
	session := domain.SessionCandles(candles, sessionStart)
	if len(session) < s.cfg.MinSessionCandles {
		s.logger.Info("session too young for signal evaluation",
			slog.Int("session_candles", len(session)),
			slog.Int("required", s.cfg.MinSessionCandles),
		)
		return
	}

	dec, err := s.oracle.Evaluate(ctx, candles)
	if err != nil {
		s.logger.Warn("oracle evaluation failed", slog.String("error", err.Error()))
		if s.metrics != nil {
			s.metrics.OracleCalls.WithLabelValues("error").Inc()
		}
		return
	}

	if !dec.Actionable(s.cfg.MinConfidence) {
		s.logger.Info("oracle declined",
			slog.String("action", string(dec.Action)),
			slog.Int("confidence", dec.Confidence),
		)
		if s.metrics != nil {
			s.metrics.OracleCalls.WithLabelValues("wait").Inc()
		}
		return
	}

	if s.metrics != nil {
		s.metrics.OracleCalls.WithLabelValues("signal").Inc()
	}
	if err := s.trader.SubmitEntry(ctx, dec); err != nil {
		s.logger.Info("entry not submitted", slog.String("reason", err.Error()))
	}
}

func (s *Scheduler) marketOpen(now time.Time, minutes int) bool {
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	return minutes >= s.cfg.MarketOpenMinute && minutes < s.cfg.MarketCloseMinute
}
