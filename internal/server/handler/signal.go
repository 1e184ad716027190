package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// SignalSubmitter enqueues a signal for asynchronous pipeline processing.
type SignalSubmitter interface {
	Submit(sig domain.Signal) error
}

// SignalHandler accepts externally detected trade signals.
type SignalHandler struct {
	submitter SignalSubmitter
	logger    *slog.Logger
}

// NewSignalHandler creates a SignalHandler with the given submitter and logger.
func NewSignalHandler(submitter SignalSubmitter, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{
		submitter: submitter,
		logger:    logger,
	}
}

// SubmitSignal enqueues one signal for pipeline processing. Responds 202 on
// acceptance; the decision itself happens asynchronously and is observable
// through the positions and orders endpoints.
// POST /api/signals
func (h *SignalHandler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var sig domain.Signal
	if err := decodeJSON(r, &sig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid signal payload: "+err.Error())
		return
	}

	if sig.Symbol == "" || sig.Direction == "" || sig.EntryPrice <= 0 {
		writeError(w, http.StatusBadRequest, "symbol, direction and entry_price are required")
		return
	}
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.DetectedAt.IsZero() {
		sig.DetectedAt = time.Now().UTC()
	}

	if err := h.submitter.Submit(sig); err != nil {
		if errors.Is(err, domain.ErrQueueFull) {
			writeError(w, http.StatusTooManyRequests, "signal queue full")
			return
		}
		if errors.Is(err, domain.ErrTradingHalted) {
			writeError(w, http.StatusServiceUnavailable, "signal intake disabled: "+err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: submit signal failed",
			slog.String("signal_id", sig.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to submit signal")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"signal_id": sig.ID,
	})
}
