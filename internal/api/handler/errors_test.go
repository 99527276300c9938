package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/projectkepler/kepler/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Error.Code, env.Error.Message
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthenticated", models.ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"invalid credential", models.ErrInvalidCredential, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"unauthorized", models.ErrUnauthorized, http.StatusForbidden, "FORBIDDEN"},
		{"not found", models.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"invalid input", fmt.Errorf("%w: limit must be a positive integer", models.ErrInvalidInput), http.StatusBadRequest, "INVALID_REQUEST"},
		{"conflict", fmt.Errorf("%w: username is taken", models.ErrConflict), http.StatusConflict, "CONFLICT"},
		{"upstream", fmt.Errorf("%w: dispatching job: timeout", models.ErrUpstreamFailure), http.StatusBadGateway, "UPSTREAM_FAILURE"},
		{"internal", errors.New("pq: connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest("GET", "/x", nil), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			code, _ := decodeError(t, rec)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteError_HidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest("GET", "/x", nil), errors.New("pq: password authentication failed"))

	_, msg := decodeError(t, rec)
	assert.Equal(t, "An unexpected error occurred", msg)
}

func TestWriteError_InvalidInputMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest("GET", "/x", nil), fmt.Errorf("%w: confidence must be between 0 and 1", models.ErrInvalidInput))

	_, msg := decodeError(t, rec)
	assert.Equal(t, "confidence must be between 0 and 1", msg)

	rec = httptest.NewRecorder()
	writeError(rec, httptest.NewRequest("GET", "/x", nil), models.ErrInvalidInput)
	_, msg = decodeError(t, rec)
	assert.Equal(t, "Invalid request", msg)
}

func TestHealthHandler_Degraded(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"database":  func(context.Context) error { return nil },
		"detection": func(context.Context) error { return errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var env struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, "DEGRADED", env.Error.Code)
	assert.Equal(t, map[string]string{"database": "ok", "detection": "degraded"}, env.Error.Details)
}

func TestEffectiveLimit(t *testing.T) {
	assert.Equal(t, 10, effectiveLimit(0))
	assert.Equal(t, 5, effectiveLimit(5))
	assert.Equal(t, 100, effectiveLimit(500))
}
