package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/arvindrk/silverbot/internal/domain"
)

// TradeController is the command surface of the trader the control
// endpoints need.
type TradeController interface {
	SubmitManualExit(ctx context.Context) error
	SetTradingEnabled(ctx context.Context, enabled bool)
}

// ControlHandler serves the operator command endpoints.
type ControlHandler struct {
	trader TradeController
	logger *slog.Logger
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(trader TradeController, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{trader: trader, logger: logger}
}

// Exit closes the open position at market.
// POST /api/exit
func (h *ControlHandler) Exit(w http.ResponseWriter, r *http.Request) {
	err := h.trader.SubmitManualExit(r.Context())
	switch {
	case errors.Is(err, domain.ErrNoPosition):
		writeError(w, http.StatusConflict, "no open position")
	case errors.Is(err, domain.ErrOrderInFlight):
		writeError(w, http.StatusConflict, "an order is already in flight")
	case err != nil:
		h.logger.Error("manual exit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "exit submission failed")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "exit submitted"})
	}
}

// Toggle enables or disables new entries.
// POST /api/toggle
func (h *ControlHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.trader.SetTradingEnabled(r.Context(), req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"enabled": req.Enabled})
}
