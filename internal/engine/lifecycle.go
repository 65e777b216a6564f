package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arvindrk/silverbot/internal/domain"
	"github.com/arvindrk/silverbot/internal/metrics"
)

// LifecycleConfig tunes order submission and verification polling.
type LifecycleConfig struct {
	// PollInterval is the wait between broker status polls.
	PollInterval time.Duration
	// MaxAttempts bounds the verification poll (~30s at 2s intervals).
	MaxAttempts int
	// StuckAttempt is the attempt number from which a still-open exit
	// order is treated as slippage.
	StuckAttempt int
	// RateLimitPause is the extra wait after a 429; rate-limit responses
	// extend the poll rather than consuming an attempt.
	RateLimitPause time.Duration
	// EntryBufferPct is the limit-price buffer applied in the order's
	// favor to bias toward a fill.
	EntryBufferPct float64
}

// DefaultLifecycleConfig returns the tuned production polling parameters.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		PollInterval:   2 * time.Second,
		MaxAttempts:    15,
		StuckAttempt:   6,
		RateLimitPause: 5 * time.Second,
		EntryBufferPct: 0.003,
	}
}

// VerifyOutcome classifies the result of a verification poll.
type VerifyOutcome string

const (
	// VerifyFilled: the broker confirmed the fill.
	VerifyFilled VerifyOutcome = "FILLED"
	// VerifyFailed: the order terminated rejected or cancelled.
	VerifyFailed VerifyOutcome = "FAILED"
	// VerifySlippage: an exit order is still open past the stuck
	// threshold; the position is therefore still held. Non-terminal.
	VerifySlippage VerifyOutcome = "SLIPPAGE"
	// VerifyTimeout: the attempt budget ran out with no terminal status.
	VerifyTimeout VerifyOutcome = "TIMEOUT"
)

// VerifyResult is the outcome of one verification poll.
type VerifyResult struct {
	Outcome VerifyOutcome
	Order   domain.Order
	// ImpliedSide is the position side proven by a stuck exit order: an
	// unfilled SELL exit means the position is still long, and vice
	// versa. Only set for VerifySlippage.
	ImpliedSide domain.PositionSide
	// AlreadyApplied is set when this FILLED result was delivered before;
	// the caller must not double-count P&L or duplicate the trade record.
	AlreadyApplied bool
}

// Lifecycle submits orders and reconciles their eventual broker state. It
// owns the trade log writes for order transitions; position mutations stay
// with the Trader, which consumes VerifyResults on the serialized state
// path.
type Lifecycle struct {
	cfg     LifecycleConfig
	broker  Broker
	trades  domain.TradeStore
	metrics *metrics.Metrics // optional
	logger  *slog.Logger
	clock   func() time.Time

	mu      sync.Mutex
	applied map[string]struct{}
}

// NewLifecycle creates an order lifecycle manager. m may be nil.
func NewLifecycle(cfg LifecycleConfig, broker Broker, trades domain.TradeStore, m *metrics.Metrics, logger *slog.Logger) *Lifecycle {
	if cfg.PollInterval <= 0 {
		cfg = DefaultLifecycleConfig()
	}
	return &Lifecycle{
		cfg:     cfg,
		broker:  broker,
		trades:  trades,
		metrics: m,
		logger:  logger.With(slog.String("component", "lifecycle")),
		clock:   time.Now,
		applied: make(map[string]struct{}),
	}
}

// SetClock overrides the time source. Test hook.
func (m *Lifecycle) SetClock(clock func() time.Time) { m.clock = clock }

// Submit places a limit order with a favorable price buffer and returns the
// order in SENT state. The local id is assigned before the broker is
// contacted so the trade record exists even if the submission itself fails;
// fill confirmation is the caller's asynchronous Verify step. dec annotates
// the trade record with the oracle signal behind an entry; exits pass the
// zero Decision.
func (m *Lifecycle) Submit(ctx context.Context, side domain.OrderSide, qty int, refPrice float64, role domain.OrderRole, dec domain.Decision) (domain.Order, error) {
	limit := m.bufferedLimit(side, refPrice)

	ord := domain.Order{
		LocalID:        "ORD-" + uuid.NewString(),
		Side:           side,
		Quantity:       qty,
		RequestedPrice: limit,
		Status:         domain.OrderStatusSent,
		Role:           role,
		Pattern:        dec.Pattern,
		Confidence:     dec.Confidence,
		SubmittedAt:    m.clock(),
	}

	m.logger.Info("submitting order",
		slog.String("local_id", ord.LocalID),
		slog.String("side", string(side)),
		slog.String("role", string(role)),
		slog.Int("qty", qty),
		slog.Float64("ltp", refPrice),
		slog.Float64("limit", limit),
	)

	m.saveTrade(ctx, ord)

	brokerID, err := m.broker.PlaceLimitOrder(ctx, side, qty, limit)
	if err != nil {
		ord.Status = domain.OrderStatusRejected
		m.saveTrade(ctx, ord)
		return ord, fmt.Errorf("lifecycle: place %s order: %w", role, err)
	}

	if brokerID == "" {
		// Some gateways acknowledge without an id; the newest order on
		// the book is ours.
		brokerID, err = m.broker.LatestOrderID(ctx)
		if err != nil || brokerID == "" {
			ord.Status = domain.OrderStatusRejected
			m.saveTrade(ctx, ord)
			return ord, fmt.Errorf("lifecycle: no order id from broker: %w", err)
		}
	}

	ord.BrokerID = brokerID
	m.saveTrade(ctx, ord)
	if m.metrics != nil {
		m.metrics.OrdersPlaced.WithLabelValues(string(role)).Inc()
	}
	return ord, nil
}

// Verify polls the broker for the order's status on a fixed interval up to
// the bounded attempt budget and returns the terminal (or slippage)
// outcome. Rate-limit responses extend the wait without consuming an
// attempt. Every terminal transition is persisted to the trade log before
// Verify returns.
func (m *Lifecycle) Verify(ctx context.Context, ord domain.Order, role domain.OrderRole) VerifyResult {
	log := m.logger.With(
		slog.String("order_id", ord.ID()),
		slog.String("role", string(role)),
	)
	log.Info("verifying order")

	attempt := 0
	for attempt < m.cfg.MaxAttempts {
		if err := m.wait(ctx, m.cfg.PollInterval); err != nil {
			break
		}
		attempt++
		if m.metrics != nil {
			m.metrics.OrderVerifies.Inc()
		}

		bo, err := m.broker.Order(ctx, ord.BrokerID)
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			log.Warn("broker rate limited, extending poll")
			attempt-- // backoff, not a failed attempt
			if werr := m.wait(ctx, m.cfg.RateLimitPause); werr != nil {
				attempt = m.cfg.MaxAttempts
			}
			continue
		case errors.Is(err, domain.ErrNotFound):
			log.Debug("order not on book yet", slog.Int("attempt", attempt))
			continue
		case err != nil:
			log.Warn("verification poll failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch bo.Status {
		case domain.OrderStatusFilled:
			ord.Status = domain.OrderStatusFilled
			ord.FilledPrice = bo.AveragePrice
			if bo.FilledQty > 0 {
				ord.Quantity = bo.FilledQty
			}
			now := m.clock()
			ord.FilledAt = &now
			m.saveTrade(ctx, ord)

			res := VerifyResult{Outcome: VerifyFilled, Order: ord}
			if !m.markApplied(ord.BrokerID) {
				res.AlreadyApplied = true
			}
			log.Info("order filled",
				slog.Float64("price", ord.FilledPrice),
				slog.Bool("already_applied", res.AlreadyApplied),
			)
			return res

		case domain.OrderStatusRejected, domain.OrderStatusCancelled:
			ord.Status = bo.Status
			m.saveTrade(ctx, ord)
			log.Warn("order terminated without fill",
				slog.String("status", string(bo.Status)),
				slog.String("message", bo.StatusMessage),
			)
			return VerifyResult{Outcome: VerifyFailed, Order: ord}

		case domain.OrderStatusOpen:
			if role != domain.RoleEntry && attempt >= m.cfg.StuckAttempt {
				// A pending exit order proves the position is still
				// open: the price gapped through our limit.
				log.Warn("slippage detected: exit order still open",
					slog.Int("attempt", attempt),
				)
				implied := domain.SideLong
				if ord.Side == domain.OrderSideBuy {
					implied = domain.SideShort
				}
				ord.Status = domain.OrderStatusOpen
				return VerifyResult{Outcome: VerifySlippage, Order: ord, ImpliedSide: implied}
			}
		}
	}

	log.Error("verification timed out", slog.Int("attempts", attempt))
	ord.Status = domain.OrderStatusTimeout
	m.saveTrade(ctx, ord)
	return VerifyResult{Outcome: VerifyTimeout, Order: ord}
}

// CancelStop cancels the resting stop order, best effort. A failure here is
// expected when the stop already filled in the race with a manual exit, so
// it is logged and swallowed.
func (m *Lifecycle) CancelStop(ctx context.Context, stopOrderID string) {
	if stopOrderID == "" {
		return
	}
	if err := m.broker.CancelOrder(ctx, stopOrderID); err != nil {
		m.logger.Warn("stop cancel failed (may already be executed)",
			slog.String("order_id", stopOrderID),
			slog.String("error", err.Error()),
		)
	}
}

// markApplied records that a FILLED result for the broker id has been
// delivered. It returns false when the id was already recorded.
func (m *Lifecycle) markApplied(brokerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.applied[brokerID]; ok {
		return false
	}
	m.applied[brokerID] = struct{}{}
	return true
}

// bufferedLimit applies the fixed percentage buffer in the order's favor
// and rounds to a whole point for the exchange.
func (m *Lifecycle) bufferedLimit(side domain.OrderSide, refPrice float64) float64 {
	buffer := refPrice * m.cfg.EntryBufferPct
	if side == domain.OrderSideBuy {
		return math.Round(refPrice + buffer)
	}
	return math.Round(refPrice - buffer)
}

// saveTrade writes the order's trade record. Durability is best effort:
// persistence failures are logged and trading continues.
func (m *Lifecycle) saveTrade(ctx context.Context, ord domain.Order) {
	rec := domain.TradeRecord{
		ID:            ord.LocalID,
		BrokerOrderID: ord.BrokerID,
		Date:          m.clock().Format("2006-01-02"),
		Side:          ord.Side,
		Role:          ord.Role,
		Quantity:      ord.Quantity,
		OrderedPrice:  ord.RequestedPrice,
		ExecutedPrice: ord.FilledPrice,
		Status:        ord.Status,
		PnL:           ord.PnL,
		Tag:           "API_BOT",
		Pattern:       ord.Pattern,
		Confidence:    ord.Confidence,
		ExecutedAt:    m.clock(),
	}
	if err := m.trades.SaveTrade(ctx, rec); err != nil {
		m.logger.Warn("trade record save failed",
			slog.String("order_id", ord.LocalID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Lifecycle) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
