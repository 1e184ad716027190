package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// RecoveryService defines the recovery-system operations the operator API
// exposes.
type RecoveryService interface {
	RecentEvents(n int) []domain.ErrorEvent
	Resolve(eventID, action string) bool
	ResetBreaker(name string) bool
	ForceRecovery(ctx context.Context, name, reason string) bool
	EmergencyShutdown(ctx context.Context, reason string)
	TradingHalted() bool
}

// RecoveryHandler serves error-recovery endpoints.
type RecoveryHandler struct {
	recovery RecoveryService
	logger   *slog.Logger
}

// NewRecoveryHandler creates a RecoveryHandler with the given service and logger.
func NewRecoveryHandler(recovery RecoveryService, logger *slog.Logger) *RecoveryHandler {
	return &RecoveryHandler{recovery: recovery, logger: logger}
}

// listEventsResponse wraps the recent error events response.
type listEventsResponse struct {
	Events []domain.ErrorEvent `json:"events"`
}

// ListEvents returns recently reported fault events, newest first.
// GET /api/recovery/events?limit=
func (h *RecoveryHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	events := h.recovery.RecentEvents(limit)
	if events == nil {
		events = []domain.ErrorEvent{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}

// resolveRequest names the corrective action taken for an event.
type resolveRequest struct {
	Action string `json:"action"`
}

// ResolveEvent marks a fault event as resolved.
// POST /api/recovery/events/{id}/resolve
func (h *RecoveryHandler) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req resolveRequest
	_ = decodeJSON(r, &req)
	if req.Action == "" {
		req.Action = "operator resolved"
	}

	if !h.recovery.Resolve(id, req.Action) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// ResetBreaker force-closes a circuit breaker by name.
// POST /api/recovery/breakers/{name}/reset
func (h *RecoveryHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")

	if !h.recovery.ResetBreaker(name) {
		writeError(w, http.StatusNotFound, "breaker not found")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: breaker reset",
		slog.String("breaker", name),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// forceRecoveryRequest carries the operator's stated reason.
type forceRecoveryRequest struct {
	Reason string `json:"reason"`
}

// ForceRecovery kicks off recovery for a registered component.
// POST /api/recovery/components/{name}/recover
func (h *RecoveryHandler) ForceRecovery(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")

	var req forceRecoveryRequest
	_ = decodeJSON(r, &req)
	if req.Reason == "" {
		req.Reason = "operator requested"
	}

	if !h.recovery.ForceRecovery(r.Context(), name, req.Reason) {
		writeError(w, http.StatusNotFound, "component not found or not recoverable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recovery triggered"})
}

// emergencyStopRequest carries the operator's stated reason.
type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

// EmergencyStop halts trading and liquidates the book.
// POST /api/recovery/emergency-stop
func (h *RecoveryHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	if h.recovery.TradingHalted() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already halted"})
		return
	}

	var req emergencyStopRequest
	_ = decodeJSON(r, &req)
	if req.Reason == "" {
		req.Reason = "manual emergency stop"
	}

	h.logger.WarnContext(r.Context(), "handler: emergency stop requested",
		slog.String("reason", req.Reason),
	)
	h.recovery.EmergencyShutdown(r.Context(), req.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "halted"})
}
