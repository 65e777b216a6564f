package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/arvindrk/silverbot/internal/domain"
	"github.com/arvindrk/silverbot/internal/metrics"
)

// Config tunes the trader state machine.
type Config struct {
	InstrumentKey string
	Quantity      int

	Trail          TrailConfig
	StopMultiplier float64
	ATRFloor       float64
	ATRDefault     float64
	// GhostStopBuffer is how far past the recorded stop the price must
	// move before an unconfirmed exchange stop is treated as possibly
	// ghost-filled and force-verified.
	GhostStopBuffer float64
	// ReconcileStopGap is the stop distance re-derived at startup when an
	// open position has no resting stop order at the broker.
	ReconcileStopGap float64

	MarketOpenMinute  int
	MarketCloseMinute int
	NoEntryMinute     int
	ForceExitMinute   int

	Cooldown      time.Duration
	PostExitWatch time.Duration
	Location      *time.Location
}

// Trader owns the canonical Position and drives it through the
// FLAT → LONG/SHORT → EXITING → FLAT lifecycle. Tick updates, scheduler
// ticks, and verification completions all mutate state through the one
// mutex, so the Position is a single-writer resource no matter which timer
// fired.
type Trader struct {
	cfg       Config
	lifecycle *Lifecycle
	broker    Broker
	snapshots domain.SnapshotStore
	trades    domain.TradeStore
	archiver  domain.ReplayArchiver // optional
	metrics   *metrics.Metrics      // optional
	logger    *slog.Logger
	clock     func() time.Time

	mu             sync.Mutex
	pos            domain.Position
	stopOrderID    string
	stopPlacing    bool
	pendingExit    *domain.Order
	ordering       bool
	tradingEnabled bool
	totalPnL       float64
	lastExitAt     time.Time
	lastPrice      float64
	lastTickAt     time.Time
	volatility     float64
	tradeTicks     []domain.Tick
	postExit       *postExitWatch

	wg sync.WaitGroup
}

// postExitWatch records ticks for a fixed window after an exit so the
// closed trade's replay buffer covers the aftermath too.
type postExitWatch struct {
	recordID string
	date     string
	until    time.Time
	buf      domain.ReplayBuffer
}

// NewTrader creates the position state machine. archiver and m may be nil.
func NewTrader(
	cfg Config,
	lifecycle *Lifecycle,
	broker Broker,
	snapshots domain.SnapshotStore,
	trades domain.TradeStore,
	archiver domain.ReplayArchiver,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Trader {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Trader{
		cfg:            cfg,
		lifecycle:      lifecycle,
		broker:         broker,
		snapshots:      snapshots,
		trades:         trades,
		archiver:       archiver,
		metrics:        m,
		logger:         logger.With(slog.String("component", "trader")),
		clock:          time.Now,
		pos:            domain.Position{Side: domain.SideFlat},
		tradingEnabled: true,
	}
}

// SetClock overrides the time source. Test hook.
func (t *Trader) SetClock(clock func() time.Time) { t.clock = clock }

// Wait blocks until all in-flight submissions and verifications finish.
func (t *Trader) Wait() { t.wg.Wait() }

// ---------------------------------------------------------------------------
// Exposed operations
// ---------------------------------------------------------------------------

// OnTick processes one feed tick: replay recording, target breach, stop
// placement retry, and the trailing stop ratchet. It never blocks on broker
// I/O; stop modifications are dispatched asynchronously carrying the
// monotonic stop value, so last-write-wins at the broker is safe.
func (t *Trader) OnTick(ctx context.Context, tick domain.Tick) {
	if tick.InstrumentKey != "" && tick.InstrumentKey != t.cfg.InstrumentKey {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastPrice = tick.Price
	t.lastTickAt = t.clock()
	if t.metrics != nil {
		t.metrics.ObserveTick(tick.Price)
	}

	if t.pos.IsOpen() {
		t.tradeTicks = append(t.tradeTicks, tick)
	}
	t.recordPostExitLocked(ctx, tick)

	if t.pos.Side != domain.SideLong && t.pos.Side != domain.SideShort {
		return
	}

	// Target breach. The target is cleared before the exit is submitted
	// so ticks arriving before the exit registers cannot double-fire.
	if tgt := t.pos.CurrentTarget; tgt != nil {
		hit := (t.pos.Side == domain.SideLong && tick.Price >= *tgt) ||
			(t.pos.Side == domain.SideShort && tick.Price <= *tgt)
		if hit && !t.ordering {
			t.logger.Info("target hit",
				slog.Float64("price", tick.Price),
				slog.Float64("target", *tgt),
			)
			t.pos.CurrentTarget = nil
			t.beginExitLocked(ctx, tick.Price, "target hit")
			return
		}
	}

	// A stop that failed to place earlier is retried on the next tick,
	// never in a tight loop.
	if t.pos.CurrentStop > 0 && t.stopOrderID == "" && !t.stopPlacing && !t.ordering {
		t.placeStopLocked(ctx)
	}

	// Trailing stop ratchet.
	vol := t.volatility
	if vol <= 0 {
		vol = t.cfg.ATRDefault
	}
	if newStop, ok := TrailStop(t.cfg.Trail, t.pos.Side, tick.Price, vol, t.pos.CurrentStop); ok {
		oldStop := t.pos.CurrentStop
		t.pos.CurrentStop = newStop
		t.logger.Info("trailing stop",
			slog.Float64("from", math.Round(oldStop)),
			slog.Float64("to", math.Round(newStop)),
		)
		if t.metrics != nil {
			t.metrics.StopMoves.Inc()
		}
		t.modifyStopAsync(ctx, t.stopOrderID, t.pos.Quantity, newStop)
	}
}

// OnScheduleTick runs the scheduler-driven safety checks: the forced
// time-window exit and the defensive ghost-stop verification. Entry
// evaluation lives in the Scheduler, which calls SubmitEntry.
func (t *Trader) OnScheduleTick(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock().In(t.cfg.Location)
	minutes := now.Hour()*60 + now.Minute()

	// Forced intraday square-off. The EXITING state guards re-firing on
	// overlapping scheduler ticks.
	if minutes >= t.cfg.ForceExitMinute &&
		(t.pos.Side == domain.SideLong || t.pos.Side == domain.SideShort) &&
		!t.ordering {
		t.logger.Info("intraday time limit reached, forcing square-off",
			slog.Int("minute_of_day", minutes),
		)
		t.beginExitLocked(ctx, t.lastPrice, "time limit")
		return
	}

	// An exit that slipped earlier is still outstanding; keep verifying
	// it until it resolves.
	if t.pendingExit != nil && !t.ordering {
		t.verifyExitAsync(ctx, *t.pendingExit, domain.RoleExit)
		return
	}

	// Ghost stop check: price is through the stop by more than the safety
	// buffer yet no fill event arrived. Force a verification poll of the
	// resting stop order; a fill found there flows through the normal
	// exit path.
	if (t.pos.Side == domain.SideLong || t.pos.Side == domain.SideShort) &&
		t.pos.CurrentStop > 0 && t.stopOrderID != "" && !t.ordering {
		breached := (t.pos.Side == domain.SideLong && t.lastPrice < t.pos.CurrentStop-t.cfg.GhostStopBuffer) ||
			(t.pos.Side == domain.SideShort && t.lastPrice > t.pos.CurrentStop+t.cfg.GhostStopBuffer)
		if breached {
			t.logger.Warn("price crossed stop with no fill event, verifying stop order",
				slog.Float64("price", t.lastPrice),
				slog.Float64("stop", t.pos.CurrentStop),
			)
			ord := domain.Order{
				LocalID:  t.stopOrderID,
				BrokerID: t.stopOrderID,
				Side:     exitSide(t.pos.Side),
				Quantity: t.pos.Quantity,
				Role:     domain.RoleStop,
			}
			t.verifyExitAsync(ctx, ord, domain.RoleStop)
		}
	}
}

// SubmitEntry places an entry order for an actionable oracle decision. The
// observable state transition (SENT order, ordering guard up) happens
// before this returns; fill confirmation is asynchronous.
func (t *Trader) SubmitEntry(ctx context.Context, dec domain.Decision) error {
	t.mu.Lock()
	if t.pos.Side != domain.SideFlat {
		t.mu.Unlock()
		return domain.ErrOrderInFlight
	}
	if t.ordering {
		t.mu.Unlock()
		return domain.ErrOrderInFlight
	}
	t.ordering = true
	side := dec.OrderSide()
	qty := t.cfg.Quantity
	price := t.lastPrice
	t.mu.Unlock()

	t.logger.Info("entry signal accepted",
		slog.String("pattern", dec.Pattern),
		slog.String("action", string(dec.Action)),
		slog.Int("confidence", dec.Confidence),
		slog.Float64("ltp", price),
	)

	t.wg.Add(1)
	go t.runEntry(context.WithoutCancel(ctx), side, qty, price, dec)
	return nil
}

// SubmitManualExit closes the open position at market on operator request.
func (t *Trader) SubmitManualExit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pos.Side != domain.SideLong && t.pos.Side != domain.SideShort {
		return domain.ErrNoPosition
	}
	if t.ordering {
		return domain.ErrOrderInFlight
	}
	t.beginExitLocked(ctx, t.lastPrice, "manual exit")
	return nil
}

// Snapshot returns the durable state document.
func (t *Trader) Snapshot() domain.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// View returns the presentation projection with live-derived fields.
func (t *Trader) View(feedConnected, online bool) domain.View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.View{
		Snapshot:      t.snapshotLocked(),
		LastPrice:     t.lastPrice,
		UnrealizedPnL: t.pos.UnrealizedPnL(t.lastPrice),
		FeedConnected: feedConnected,
		Online:        online,
	}
}

// CanEnter reports whether a new entry is currently allowed: flat, no order
// in flight, trading enabled, inside the session, before the entry cutoff,
// and past the post-exit cooldown.
func (t *Trader) CanEnter() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock().In(t.cfg.Location)
	minutes := now.Hour()*60 + now.Minute()

	if t.pos.Side != domain.SideFlat || t.ordering || !t.tradingEnabled {
		return false
	}
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	if minutes < t.cfg.MarketOpenMinute || minutes >= t.cfg.MarketCloseMinute {
		return false
	}
	if minutes >= t.cfg.NoEntryMinute {
		return false
	}
	if !t.lastExitAt.IsZero() && t.clock().Sub(t.lastExitAt) < t.cfg.Cooldown {
		return false
	}
	return true
}

// SetVolatility updates the live volatility estimate used for trailing and
// fallback stop sizing. Called by the scheduler after each indicator pass.
func (t *Trader) SetVolatility(atr float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volatility = atr
}

// SetTradingEnabled toggles entry evaluation without touching open state.
func (t *Trader) SetTradingEnabled(ctx context.Context, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tradingEnabled = enabled
	t.persistSnapshotLocked(ctx)
	t.logger.Info("trading toggled", slog.Bool("enabled", enabled))
}

// LastPrice returns the most recent tick price.
func (t *Trader) LastPrice() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPrice
}

// LastTickAt returns the arrival time of the most recent tick.
func (t *Trader) LastTickAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTickAt
}

// ---------------------------------------------------------------------------
// Boot: restore and reconcile
// ---------------------------------------------------------------------------

// Restore loads a persisted snapshot into the trader. Missing documents are
// fine: the trader starts flat.
func (t *Trader) Restore(snap domain.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pos = snap.Position
	if t.pos.Side == "" {
		t.pos.Side = domain.SideFlat
	}
	t.stopOrderID = snap.StopOrderID
	t.totalPnL = snap.TotalPnL
	t.tradingEnabled = snap.TradingEnabled
	t.lastExitAt = snap.LastExitAt
}

// Reconcile aligns local state with broker truth at startup: the broker's
// positions book decides whether a position is open, and an existing
// trigger-pending stop order is adopted rather than replaced.
func (t *Trader) Reconcile(ctx context.Context) error {
	positions, err := t.broker.Positions(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var found *domain.BrokerPosition
	for i := range positions {
		if positions[i].InstrumentKey == t.cfg.InstrumentKey {
			found = &positions[i]
			break
		}
	}

	if found == nil || found.Quantity == 0 {
		if t.pos.IsOpen() {
			t.logger.Warn("broker reports flat, clearing local position")
		}
		t.pos.Flatten()
		t.stopOrderID = ""
		t.persistSnapshotLocked(ctx)
		return nil
	}

	side := domain.SideLong
	if found.Quantity < 0 {
		side = domain.SideShort
	}
	t.pos.Side = side
	t.pos.Quantity = int(math.Abs(float64(found.Quantity)))
	t.pos.EntryPrice = found.AveragePrice

	orders, err := t.broker.OpenOrders(ctx)
	if err != nil {
		t.logger.Warn("open order sync failed", slog.String("error", err.Error()))
		orders = nil
	}

	var stop *domain.BrokerOrder
	for i := range orders {
		if orders[i].IsStop && orders[i].TriggerPending {
			stop = &orders[i]
			break
		}
	}

	if stop != nil {
		t.pos.CurrentStop = stop.TriggerPrice
		t.stopOrderID = stop.ID
		t.logger.Info("adopted existing stop order",
			slog.String("order_id", stop.ID),
			slog.Float64("trigger", stop.TriggerPrice),
		)
	} else {
		ref := t.lastPrice
		if ref == 0 {
			ref = t.pos.EntryPrice
		}
		if side == domain.SideLong {
			t.pos.CurrentStop = ref - t.cfg.ReconcileStopGap
		} else {
			t.pos.CurrentStop = ref + t.cfg.ReconcileStopGap
		}
		t.stopOrderID = ""
	}

	t.persistSnapshotLocked(ctx)
	t.logger.Info("reconciled position from broker",
		slog.String("side", string(side)),
		slog.Int("qty", t.pos.Quantity),
		slog.Float64("entry", t.pos.EntryPrice),
		slog.Float64("stop", t.pos.CurrentStop),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Entry path
// ---------------------------------------------------------------------------

func (t *Trader) runEntry(ctx context.Context, side domain.OrderSide, qty int, refPrice float64, dec domain.Decision) {
	defer t.wg.Done()

	ord, err := t.lifecycle.Submit(ctx, side, qty, refPrice, domain.RoleEntry, dec)
	if err != nil {
		t.logger.Error("entry submission failed", slog.String("error", err.Error()))
		t.mu.Lock()
		t.ordering = false
		t.pos.Flatten()
		t.mu.Unlock()
		return
	}

	res := t.lifecycle.Verify(ctx, ord, domain.RoleEntry)
	t.applyEntryResult(ctx, res, dec)
}

func (t *Trader) applyEntryResult(ctx context.Context, res VerifyResult, dec domain.Decision) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ordering = false

	switch res.Outcome {
	case VerifyFilled:
		if res.AlreadyApplied {
			return
		}
		now := t.clock()
		t.pos = domain.Position{
			Side:       res.Order.Side.PositionSide(),
			EntryPrice: res.Order.FilledPrice,
			Quantity:   res.Order.Quantity,
			OpenedAt:   now,
		}
		t.tradeTicks = nil

		if dec.Target > 0 {
			tgt := dec.Target
			t.pos.CurrentTarget = &tgt
			t.logger.Info("target locked", slog.Float64("target", tgt))
		}

		if dec.Stop > 0 {
			t.pos.CurrentStop = dec.Stop
			t.logger.Info("using structural stop", slog.Float64("stop", dec.Stop))
		} else {
			t.pos.CurrentStop = FallbackStop(
				res.Order.Side, res.Order.FilledPrice,
				t.volatility, t.cfg.StopMultiplier,
				t.cfg.ATRFloor, t.cfg.ATRDefault,
			)
			t.logger.Info("using volatility fallback stop",
				slog.Float64("stop", t.pos.CurrentStop),
				slog.Float64("atr", t.volatility),
			)
		}

		if t.metrics != nil {
			t.metrics.Entries.Inc()
		}
		t.persistSnapshotLocked(ctx)
		t.placeStopLocked(ctx)

	case VerifyFailed, VerifyTimeout, VerifySlippage:
		// The entry never happened; the bot is flat.
		t.pos.Flatten()
		t.persistSnapshotLocked(ctx)
	}
}

// ---------------------------------------------------------------------------
// Exit path
// ---------------------------------------------------------------------------

// exitSide maps an exposed position side to the order side that closes it.
func exitSide(side domain.PositionSide) domain.OrderSide {
	if side == domain.SideLong {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

// beginExitLocked flips the position to EXITING and dispatches the exit
// order. Caller must hold t.mu and have checked the ordering guard.
func (t *Trader) beginExitLocked(ctx context.Context, refPrice float64, reason string) {
	t.ordering = true
	t.pos.PreExitSide = t.pos.Side
	t.pos.Side = domain.SideExiting

	side := exitSide(t.pos.PreExitSide)
	qty := t.pos.Quantity

	t.logger.Info("exiting position",
		slog.String("reason", reason),
		slog.String("side", string(side)),
		slog.Int("qty", qty),
	)

	t.wg.Add(1)
	go t.runExit(context.WithoutCancel(ctx), side, qty, refPrice)
}

func (t *Trader) runExit(ctx context.Context, side domain.OrderSide, qty int, refPrice float64) {
	defer t.wg.Done()

	ord, err := t.lifecycle.Submit(ctx, side, qty, refPrice, domain.RoleExit, domain.Decision{})
	if err != nil {
		t.logger.Error("exit submission failed", slog.String("error", err.Error()))
		t.mu.Lock()
		t.ordering = false
		if t.pos.Side == domain.SideExiting {
			t.pos.Side = t.pos.PreExitSide
		}
		t.mu.Unlock()
		return
	}

	res := t.lifecycle.Verify(ctx, ord, domain.RoleExit)
	t.applyExitResult(ctx, res)
}

// verifyExitAsync re-verifies an outstanding exit-causing order (a slipped
// exit or a possibly ghost-filled stop) on the serialized state path.
// Caller must hold t.mu.
func (t *Trader) verifyExitAsync(ctx context.Context, ord domain.Order, role domain.OrderRole) {
	t.ordering = true
	if t.pos.Side == domain.SideLong || t.pos.Side == domain.SideShort {
		t.pos.PreExitSide = t.pos.Side
		t.pos.Side = domain.SideExiting
	}
	t.wg.Add(1)
	vctx := context.WithoutCancel(ctx)
	go func() {
		defer t.wg.Done()
		res := t.lifecycle.Verify(vctx, ord, role)
		t.applyExitResult(vctx, res)
	}()
}

func (t *Trader) applyExitResult(ctx context.Context, res VerifyResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ordering = false

	switch res.Outcome {
	case VerifyFilled:
		if res.AlreadyApplied {
			return
		}
		t.finishExitLocked(ctx, res.Order)

	case VerifyFailed:
		// The exit never happened: the bot must not believe it is flat.
		if t.pos.Side == domain.SideExiting {
			t.pos.Side = t.pos.PreExitSide
		}
		t.pendingExit = nil
		t.logger.Warn("exit order failed, position retained",
			slog.String("side", string(t.pos.Side)),
		)
		t.persistSnapshotLocked(ctx)

	case VerifySlippage:
		// A pending exit order proves the position is still open.
		if res.ImpliedSide != "" {
			t.pos.Side = res.ImpliedSide
		} else if t.pos.Side == domain.SideExiting {
			t.pos.Side = t.pos.PreExitSide
		}
		ord := res.Order
		t.pendingExit = &ord
		t.logger.Warn("exit slipped, monitoring continues",
			slog.String("side", string(t.pos.Side)),
			slog.String("order_id", ord.ID()),
		)

	case VerifyTimeout:
		if t.pos.Side == domain.SideExiting {
			t.pos.Side = t.pos.PreExitSide
		}
		t.logger.Error("exit verification timed out, state reverted for recovery",
			slog.String("side", string(t.pos.Side)),
		)
		t.persistSnapshotLocked(ctx)
	}
}

// finishExitLocked books the realized P&L, cancels the resting stop, starts
// the post-exit watch, and flattens the position. Caller must hold t.mu.
func (t *Trader) finishExitLocked(ctx context.Context, ord domain.Order) {
	now := t.clock()

	var pnl float64
	if ord.Side == domain.OrderSideSell {
		pnl = (ord.FilledPrice - t.pos.EntryPrice) * float64(ord.Quantity)
	} else {
		pnl = (t.pos.EntryPrice - ord.FilledPrice) * float64(ord.Quantity)
	}
	t.totalPnL += pnl

	t.logger.Info("position closed",
		slog.Float64("exit_price", ord.FilledPrice),
		slog.Float64("pnl", pnl),
		slog.Float64("total_pnl", t.totalPnL),
	)
	if t.metrics != nil {
		t.metrics.Exits.Inc()
		t.metrics.RealizedPnL.Set(t.totalPnL)
	}

	// Persist the final trade record with P&L and the in-trade replay.
	buf := domain.ReplayBuffer{OrderID: ord.ID(), Ticks: t.tradeTicks}
	ord.PnL = pnl
	rec := domain.TradeRecord{
		ID:            ord.LocalID,
		BrokerOrderID: ord.BrokerID,
		Date:          now.In(t.cfg.Location).Format("2006-01-02"),
		Side:          ord.Side,
		Role:          ord.Role,
		Quantity:      ord.Quantity,
		OrderedPrice:  ord.RequestedPrice,
		ExecutedPrice: ord.FilledPrice,
		Status:        domain.OrderStatusFilled,
		PnL:           pnl,
		Tag:           "API_BOT",
		ExecutedAt:    now,
		Replay:        &buf,
	}
	if err := t.trades.SaveTrade(ctx, rec); err != nil {
		t.logger.Warn("trade record save failed", slog.String("error", err.Error()))
	}

	// The stop is no longer needed; cancellation failure is benign (the
	// stop may be what filled).
	stopID := t.stopOrderID
	t.stopOrderID = ""
	if stopID != "" && stopID != ord.BrokerID {
		go t.lifecycle.CancelStop(context.WithoutCancel(ctx), stopID)
	}

	// Watch the aftermath for the configured window.
	t.postExit = &postExitWatch{
		recordID: rec.ID,
		date:     rec.Date,
		until:    now.Add(t.cfg.PostExitWatch),
		buf:      domain.ReplayBuffer{OrderID: ord.ID()},
	}

	t.pos.Flatten()
	t.tradeTicks = nil
	t.pendingExit = nil
	t.lastExitAt = now
	t.persistSnapshotLocked(ctx)
}

// ---------------------------------------------------------------------------
// Stop order management
// ---------------------------------------------------------------------------

// placeStopLocked submits the physical stop order for the open position.
// Caller must hold t.mu. At most one placement is in flight at a time so
// only one resting stop can ever exist at the broker; failures clear the
// guard and the next tick retries.
func (t *Trader) placeStopLocked(ctx context.Context) {
	if t.stopPlacing {
		return
	}
	if t.pos.Side != domain.SideLong && t.pos.Side != domain.SideShort {
		return
	}
	trigger := math.Round(t.pos.CurrentStop)
	if trigger <= 0 {
		t.logger.Error("invalid stop trigger price", slog.Float64("trigger", trigger))
		return
	}

	side := exitSide(t.pos.Side)
	qty := t.pos.Quantity
	oldStop := t.stopOrderID
	t.stopPlacing = true

	t.wg.Add(1)
	pctx := context.WithoutCancel(ctx)
	go func() {
		defer t.wg.Done()

		if oldStop != "" {
			t.lifecycle.CancelStop(pctx, oldStop)
		}

		id, err := t.broker.PlaceStopOrder(pctx, side, qty, trigger)
		if err != nil {
			t.logger.Error("stop placement failed, retrying on next tick",
				slog.String("error", err.Error()),
			)
			t.mu.Lock()
			t.stopPlacing = false
			t.mu.Unlock()
			return
		}

		t.mu.Lock()
		t.stopPlacing = false
		if !t.pos.IsOpen() {
			// The position closed while the stop was in flight.
			t.mu.Unlock()
			t.lifecycle.CancelStop(pctx, id)
			return
		}
		t.stopOrderID = id
		if t.metrics != nil {
			t.metrics.OrdersPlaced.WithLabelValues(string(domain.RoleStop)).Inc()
		}
		t.logger.Info("stop order placed",
			slog.String("order_id", id),
			slog.Float64("trigger", trigger),
		)
		t.persistSnapshotLocked(pctx)
		t.mu.Unlock()
	}()
}

// modifyStopAsync pushes a new trigger price to the resting stop order.
// Each request carries the monotonic stop value, so out-of-order delivery
// at the broker is harmless.
func (t *Trader) modifyStopAsync(ctx context.Context, stopOrderID string, qty int, trigger float64) {
	if stopOrderID == "" {
		return
	}
	t.wg.Add(1)
	mctx := context.WithoutCancel(ctx)
	go func() {
		defer t.wg.Done()
		if err := t.broker.ModifyStopOrder(mctx, stopOrderID, qty, math.Round(trigger)); err != nil {
			t.logger.Warn("stop modify failed, next tick re-evaluates",
				slog.String("order_id", stopOrderID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// ---------------------------------------------------------------------------
// Post-exit replay recording
// ---------------------------------------------------------------------------

// recordPostExitLocked appends ticks to the post-exit watch buffer and
// finalizes the watch when its window closes. Caller must hold t.mu.
func (t *Trader) recordPostExitLocked(ctx context.Context, tick domain.Tick) {
	if t.postExit == nil {
		return
	}

	if t.clock().Before(t.postExit.until) {
		t.postExit.buf.Record(tick)
		return
	}

	watch := *t.postExit
	t.postExit = nil
	t.logger.Info("post-exit watch finished",
		slog.String("record_id", watch.recordID),
		slog.Int("ticks", watch.buf.Len()),
	)

	// Persist and archive off the tick path.
	t.wg.Add(1)
	fctx := context.WithoutCancel(ctx)
	go func() {
		defer t.wg.Done()

		rec, err := t.trades.GetTrade(fctx, watch.recordID)
		if err == nil {
			if rec.Replay != nil {
				rec.Replay.Ticks = append(rec.Replay.Ticks, watch.buf.Ticks...)
				rec.Replay.HighAfter = watch.buf.HighAfter
				rec.Replay.LowAfter = watch.buf.LowAfter
			} else {
				rec.Replay = &watch.buf
			}
			if err := t.trades.SaveTrade(fctx, rec); err != nil {
				t.logger.Warn("post-exit trade save failed", slog.String("error", err.Error()))
			}
		} else {
			t.logger.Warn("post-exit trade lookup failed",
				slog.String("record_id", watch.recordID),
				slog.String("error", err.Error()),
			)
		}

		if t.archiver != nil && watch.buf.Len() > 0 {
			if _, err := t.archiver.ArchiveReplay(fctx, watch.date, watch.buf); err != nil {
				t.logger.Warn("replay archive failed", slog.String("error", err.Error()))
			}
		}
	}()
}

// ---------------------------------------------------------------------------
// Snapshot helpers
// ---------------------------------------------------------------------------

// snapshotLocked builds the durable state document. Caller must hold t.mu.
func (t *Trader) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		Position:       t.pos,
		StopOrderID:    t.stopOrderID,
		TotalPnL:       t.totalPnL,
		TradingEnabled: t.tradingEnabled,
		LastExitAt:     t.lastExitAt,
		UpdatedAt:      t.clock(),
	}
	if t.pendingExit != nil {
		snap.PendingOrderID = t.pendingExit.ID()
	}
	return snap
}

// persistSnapshotLocked writes the state document. Durability is best
// effort: a failed write is a warning, never a trading stop.
func (t *Trader) persistSnapshotLocked(ctx context.Context) {
	if err := t.snapshots.SaveSnapshot(ctx, t.snapshotLocked()); err != nil {
		t.logger.Warn("snapshot save failed", slog.String("error", err.Error()))
	}
}

// TotalPnL returns the accumulated realized P&L.
func (t *Trader) TotalPnL() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalPnL
}

// Position returns a copy of the current position.
func (t *Trader) Position() domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}
