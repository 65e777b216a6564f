package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/arvindrk/silverbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tuesday returns a fixed weekday clock at the given minute of day (UTC).
func tuesday(minuteOfDay, second int) time.Time {
	// 2026-01-06 is a Tuesday.
	return time.Date(2026, 1, 6, minuteOfDay/60, minuteOfDay%60, second, 0, time.UTC)
}

type placedOrder struct {
	ID      string
	Side    domain.OrderSide
	Qty     int
	Price   float64
	Trigger float64
}

type orderReply struct {
	order domain.BrokerOrder
	err   error
}

// fakeBroker scripts broker behavior per order id: each Order call consumes
// the next queued reply, and the last reply repeats once the queue drains.
type fakeBroker struct {
	mu sync.Mutex

	limitID   string
	limitErr  error
	stopID    string
	stopErr   error
	stopDelay time.Duration

	limits    []placedOrder
	stops     []placedOrder
	modifies  []placedOrder
	cancels   []string
	replies   map[string][]orderReply
	open      []domain.BrokerOrder
	positions []domain.BrokerPosition
	latestID  string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{replies: make(map[string][]orderReply)}
}

func (b *fakeBroker) script(id string, rs ...orderReply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[id] = append(b.replies[id], rs...)
}

func filledReply(id string, side domain.OrderSide, qty int, price float64) orderReply {
	return orderReply{order: domain.BrokerOrder{
		ID: id, Side: side, Status: domain.OrderStatusFilled,
		Quantity: qty, FilledQty: qty, AveragePrice: price,
	}}
}

func statusReply(id string, status domain.OrderStatus) orderReply {
	return orderReply{order: domain.BrokerOrder{ID: id, Status: status}}
}

func (b *fakeBroker) PlaceLimitOrder(_ context.Context, side domain.OrderSide, qty int, limitPrice float64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limitErr != nil {
		return "", b.limitErr
	}
	b.limits = append(b.limits, placedOrder{ID: b.limitID, Side: side, Qty: qty, Price: limitPrice})
	return b.limitID, nil
}

func (b *fakeBroker) PlaceStopOrder(_ context.Context, side domain.OrderSide, qty int, triggerPrice float64) (string, error) {
	b.mu.Lock()
	delay := b.stopDelay
	b.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopErr != nil {
		return "", b.stopErr
	}
	b.stops = append(b.stops, placedOrder{ID: b.stopID, Side: side, Qty: qty, Trigger: triggerPrice})
	return b.stopID, nil
}

func (b *fakeBroker) ModifyStopOrder(_ context.Context, orderID string, qty int, triggerPrice float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modifies = append(b.modifies, placedOrder{ID: orderID, Qty: qty, Trigger: triggerPrice})
	return nil
}

func (b *fakeBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, orderID)
	return nil
}

func (b *fakeBroker) Order(_ context.Context, orderID string) (domain.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.replies[orderID]
	if len(q) == 0 {
		return domain.BrokerOrder{}, domain.ErrNotFound
	}
	r := q[0]
	if len(q) > 1 {
		b.replies[orderID] = q[1:]
	}
	return r.order, r.err
}

func (b *fakeBroker) OpenOrders(context.Context) ([]domain.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open, nil
}

func (b *fakeBroker) LatestOrderID(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latestID, nil
}

func (b *fakeBroker) Positions(context.Context) ([]domain.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions, nil
}

func (b *fakeBroker) stopTriggers() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float64, len(b.stops))
	for i, s := range b.stops {
		out[i] = s.Trigger
	}
	return out
}

func (b *fakeBroker) modifyTriggers() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float64, len(b.modifies))
	for i, m := range b.modifies {
		out[i] = m.Trigger
	}
	return out
}

func (b *fakeBroker) cancelled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancels...)
}

// memTradeStore is an in-memory trade log.
type memTradeStore struct {
	mu   sync.Mutex
	recs map[string]domain.TradeRecord
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{recs: make(map[string]domain.TradeRecord)}
}

func (s *memTradeStore) SaveTrade(_ context.Context, rec domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec
	return nil
}

func (s *memTradeStore) GetTrade(_ context.Context, id string) (domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return domain.TradeRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *memTradeStore) ListTrades(_ context.Context, limit int) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TradeRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memTradeStore) byStatus(status domain.OrderStatus) []domain.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeRecord
	for _, rec := range s.recs {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}

// memSnapshotStore keeps the latest snapshot in memory.
type memSnapshotStore struct {
	mu    sync.Mutex
	snap  domain.Snapshot
	saved bool
}

func (s *memSnapshotStore) SaveSnapshot(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.saved = true
	return nil
}

func (s *memSnapshotStore) LoadSnapshot(context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.saved {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return s.snap, nil
}

type fakeOracle struct {
	mu    sync.Mutex
	dec   domain.Decision
	err   error
	calls int
}

func (o *fakeOracle) Evaluate(context.Context, []domain.Candle) (domain.Decision, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return o.dec, o.err
}

func (o *fakeOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type fakeArchiver struct {
	mu   sync.Mutex
	keys []string
}

func (a *fakeArchiver) ArchiveReplay(_ context.Context, tradeDate string, buf domain.ReplayBuffer) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := "replays/" + tradeDate + "/" + buf.OrderID + ".json"
	a.keys = append(a.keys, key)
	return key, nil
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.keys)
}

type fakeCandleSource struct {
	candles []domain.Candle
	err     error
}

func (s *fakeCandleSource) Candles(context.Context, time.Time, time.Time) ([]domain.Candle, error) {
	return s.candles, s.err
}

type fakeFeed struct {
	mu         sync.Mutex
	connected  bool
	reconnects int
}

func (f *fakeFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeFeed) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	f.connected = true
	return nil
}

func (f *fakeFeed) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

// testConfig mirrors the production silver contract tuning with fast
// polling so verification loops finish in milliseconds.
func testConfig() Config {
	return Config{
		InstrumentKey:     "MCX_FO|12345",
		Quantity:          1,
		Trail:             TrailConfig{Multiplier: 2.5, Margin: 50},
		StopMultiplier:    2.0,
		ATRFloor:          500,
		ATRDefault:        800,
		GhostStopBuffer:   200,
		ReconcileStopGap:  1200,
		MarketOpenMinute:  540,
		MarketCloseMinute: 1430,
		NoEntryMinute:     1380,
		ForceExitMinute:   1395,
		Cooldown:          5 * time.Minute,
		PostExitWatch:     10 * time.Minute,
		Location:          time.UTC,
	}
}

func testLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		PollInterval:   time.Millisecond,
		MaxAttempts:    5,
		StuckAttempt:   3,
		RateLimitPause: time.Millisecond,
		EntryBufferPct: 0.003,
	}
}

// newTestTrader wires a trader over the fakes with a fixed weekday clock
// inside market hours.
func newTestTrader(broker *fakeBroker) (*Trader, *memTradeStore, *memSnapshotStore) {
	trades := newMemTradeStore()
	snaps := &memSnapshotStore{}
	lc := NewLifecycle(testLifecycleConfig(), broker, trades, nil, testLogger())
	tr := NewTrader(testConfig(), lc, broker, snaps, trades, nil, nil, testLogger())
	tr.SetClock(func() time.Time { return tuesday(720, 0) })
	return tr, trades, snaps
}

func tick(price float64) domain.Tick {
	return domain.Tick{InstrumentKey: "MCX_FO|12345", Price: price, Timestamp: tuesday(720, 0)}
}
