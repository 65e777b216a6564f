// Package metrics exposes the bot's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the bot publishes. One instance is wired
// at startup and shared by the engine and server.
type Metrics struct {
	TicksTotal  prometheus.Counter
	LastPrice   prometheus.Gauge
	Entries     prometheus.Counter
	Exits       prometheus.Counter
	StopMoves   prometheus.Counter
	RealizedPnL prometheus.Gauge
	Trend       prometheus.Gauge

	OrdersPlaced   *prometheus.CounterVec
	OrderVerifies  prometheus.Counter
	FeedReconnects prometheus.Counter
	OracleCalls    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "silverbot_ticks_total",
			Help: "Feed ticks processed.",
		}),
		LastPrice: factory.NewGauge(prometheus.GaugeOpts{
			Name: "silverbot_last_price",
			Help: "Most recent traded price.",
		}),
		Entries: factory.NewCounter(prometheus.CounterOpts{
			Name: "silverbot_entries_total",
			Help: "Filled entry orders.",
		}),
		Exits: factory.NewCounter(prometheus.CounterOpts{
			Name: "silverbot_exits_total",
			Help: "Filled exit orders.",
		}),
		StopMoves: factory.NewCounter(prometheus.CounterOpts{
			Name: "silverbot_stop_moves_total",
			Help: "Trailing stop ratchet advances.",
		}),
		RealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "silverbot_realized_pnl",
			Help: "Accumulated realized P&L in points.",
		}),
		Trend: factory.NewGauge(prometheus.GaugeOpts{
			Name: "silverbot_supertrend_direction",
			Help: "Supertrend direction: 1 up, -1 down.",
		}),
		OrdersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "silverbot_orders_placed_total",
			Help: "Orders submitted to the broker by role.",
		}, []string{"role"}),
		OrderVerifies: factory.NewCounter(prometheus.CounterOpts{
			Name: "silverbot_order_verify_polls_total",
			Help: "Order status verification polls.",
		}),
		FeedReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "silverbot_feed_reconnects_total",
			Help: "Market data feed reconnect attempts.",
		}),
		OracleCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "silverbot_oracle_calls_total",
			Help: "Decision oracle evaluations by outcome.",
		}, []string{"outcome"}),
		registry: reg,
	}
}

// ObserveTick records one processed feed tick.
func (m *Metrics) ObserveTick(price float64) {
	m.TicksTotal.Inc()
	m.LastPrice.Set(price)
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
