package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	OpenPositions() []domain.Position
	Get(id string) (domain.Position, error)
	Close(ctx context.Context, id, reason string) error
	Stats() domain.TradeStats
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns all open positions.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.OpenPositions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one open position by ID.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	p, err := h.positions.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// closePositionRequest carries an optional operator-supplied close reason.
type closePositionRequest struct {
	Reason string `json:"reason"`
}

// ClosePosition closes one open position at market.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req closePositionRequest
	_ = decodeJSON(r, &req) // body is optional
	if req.Reason == "" {
		req.Reason = "manual close"
	}

	if _, err := h.positions.Get(id); err != nil {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}

	if err := h.positions.Close(r.Context(), id, req.Reason); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: close position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to close position")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// GetStats returns rolling statistics over closed trades.
// GET /api/positions/stats
func (h *PositionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.positions.Stats())
}
