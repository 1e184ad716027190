package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/breakoutlab/tradecore/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// writeJSON renders v with the given status. A marshal failure degrades to a
// canned 500 body so the client always receives valid JSON.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON decodes the request body into v, rejecting unknown fields so a
// client typo surfaces as an error instead of a silently defaulted value.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseListOpts reads limit/offset pagination from the query string.
func parseListOpts(r *http.Request) domain.ListOpts {
	return domain.ListOpts{
		Limit:  intQuery(r, "limit", defaultPageSize, maxPageSize),
		Offset: intQuery(r, "offset", 0, 0),
	}
}

// intQuery parses a non-negative integer query parameter, falling back to
// def when absent or invalid and clamping to max when max is positive.
func intQuery(r *http.Request, name string, def, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

// pathParam reads a named route parameter (Go 1.22 pattern routing).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
