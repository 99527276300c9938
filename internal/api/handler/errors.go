// Package handler implements the HTTP endpoints of the Kepler API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/projectkepler/kepler/internal/api/response"
	"github.com/projectkepler/kepler/pkg/models"
)

// writeError maps a service error to its HTTP status. Only invalid-input
// messages reach the client verbatim; everything else gets a fixed message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthenticated), errors.Is(err, models.ErrInvalidCredential):
		response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required", nil)
	case errors.Is(err, models.ErrUnauthorized):
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "You do not have access to this resource", nil)
	case errors.Is(err, models.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, models.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", clientMessage(err, models.ErrInvalidInput), nil)
	case errors.Is(err, models.ErrConflict):
		response.Error(w, http.StatusConflict, "CONFLICT", clientMessage(err, models.ErrConflict), nil)
	case errors.Is(err, models.ErrUpstreamFailure):
		slog.Warn("upstream failure", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusBadGateway, "UPSTREAM_FAILURE", "A downstream service failed, try again later", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

// clientMessage strips the sentinel's own text from a wrapped error.
func clientMessage(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if msg == "" || msg == sentinel.Error() {
		return "Invalid request"
	}
	return msg
}

// decodeJSON reads a JSON body of at most limit bytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body is too large", nil)
			return false
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}
