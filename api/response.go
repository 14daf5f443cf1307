package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/relaydesk/relaydesk/internal/engine"
)

// writeJSON writes a JSON response with the given status code.
// If encoding fails after WriteHeader the status is already on the wire; the
// error is only logged.
func writeJSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string, logger *slog.Logger) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message}, logger)
}

// writeDomainError maps a domain error to its HTTP status and writes it.
// Unknown errors become 500 with a generic message so internals never leak.
func writeDomainError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), logger)
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), logger)
	case errors.Is(err, engine.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error(), logger)
	case errors.Is(err, engine.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error(), logger)
	case errors.Is(err, engine.ErrUnavailable):
		logger.Error("dependency unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable", logger)
	default:
		logger.Error("unhandled error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error", logger)
	}
}
