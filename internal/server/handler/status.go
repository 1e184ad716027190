package handler

import (
	"net/http"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// StatusService exposes the pieces of recovery state the dashboard shows.
type StatusService interface {
	State() domain.RecoveryState
	TradingHalted() bool
}

// StatusHandler serves the backend status (mode, recovery state) for the
// dashboard.
type StatusHandler struct {
	mode     string
	recovery StatusService
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, recovery StatusService) *StatusHandler {
	return &StatusHandler{mode: mode, recovery: recovery}
}

// GetStatus responds with the current mode and recovery state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"recovery_state": h.recovery.State(),
		"trading_halted": h.recovery.TradingHalted(),
	})
}
