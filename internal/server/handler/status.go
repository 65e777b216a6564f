package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/arvindrk/silverbot/internal/domain"
)

// StateProvider is the read surface of the trader the handlers need.
type StateProvider interface {
	View(feedConnected, online bool) domain.View
}

// FeedStatus reports whether the market data stream is up.
type FeedStatus interface {
	Connected() bool
}

// StatusHandler serves the health and snapshot endpoints.
type StatusHandler struct {
	state  StateProvider
	feed   FeedStatus // may be nil in monitor mode
	trades domain.TradeStore
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(state StateProvider, feed FeedStatus, trades domain.TradeStore, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{state: state, feed: feed, trades: trades, logger: logger}
}

// Health responds with a simple liveness document.
// GET /api/health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Snapshot responds with the full bot state view.
// GET /api/snapshot
func (h *StatusHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	connected := h.feed != nil && h.feed.Connected()
	writeJSON(w, http.StatusOK, h.state.View(connected, true))
}

// Trades responds with the most recent trade log rows.
// GET /api/trades?limit=
func (h *StatusHandler) Trades(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)

	trades, err := h.trades.ListTrades(r.Context(), limit)
	if err != nil {
		h.logger.Error("list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "trade log unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}
