package engine

import (
	"context"

	"github.com/arvindrk/silverbot/internal/domain"
)

// Broker is the execution surface the engine needs from the brokerage REST
// API. It is implemented by the platform client; tests substitute a fake.
type Broker interface {
	// PlaceLimitOrder submits a day limit order and returns the broker
	// order id. The id may be empty when the broker acknowledges without
	// one; callers fall back to LatestOrderID.
	PlaceLimitOrder(ctx context.Context, side domain.OrderSide, qty int, limitPrice float64) (string, error)

	// PlaceStopOrder submits a stop-market order resting at triggerPrice.
	PlaceStopOrder(ctx context.Context, side domain.OrderSide, qty int, triggerPrice float64) (string, error)

	// ModifyStopOrder moves an existing stop order to a new trigger price.
	ModifyStopOrder(ctx context.Context, orderID string, qty int, triggerPrice float64) error

	// CancelOrder cancels an order. Cancelling an already-filled order
	// returns an error the caller may ignore.
	CancelOrder(ctx context.Context, orderID string) error

	// Order returns the broker's view of one order, or domain.ErrNotFound
	// when the order book does not list it yet.
	Order(ctx context.Context, orderID string) (domain.BrokerOrder, error)

	// OpenOrders returns every order the broker lists for the session.
	OpenOrders(ctx context.Context) ([]domain.BrokerOrder, error)

	// LatestOrderID returns the most recently placed order's id.
	LatestOrderID(ctx context.Context) (string, error)

	// Positions returns the short-term positions book.
	Positions(ctx context.Context) ([]domain.BrokerPosition, error)
}

// Oracle is the external pattern-recognition decision service, consumed as
// a black box.
type Oracle interface {
	Evaluate(ctx context.Context, candles []domain.Candle) (domain.Decision, error)
}

// FeedController lets the scheduler's watchdog observe and restart the
// market data stream.
type FeedController interface {
	Connected() bool
	Reconnect(ctx context.Context) error
}
