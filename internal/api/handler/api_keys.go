package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/projectkepler/kepler/internal/api/middleware"
	"github.com/projectkepler/kepler/internal/api/response"
	"github.com/projectkepler/kepler/pkg/models"
)

const maxKeyBody = 4 << 10

// APIKeys is the key management service as seen by the handlers.
type APIKeys interface {
	Create(ctx context.Context, ownerID, displayName string) (string, *models.APIKey, error)
	List(ctx context.Context, ownerID string) ([]*models.APIKey, error)
	Revoke(ctx context.Context, ownerID string, keyID uuid.UUID) error
	Delete(ctx context.Context, ownerID string, keyID uuid.UUID) error
}

type createKeyResponse struct {
	APIKey      string    `json:"apiKey"`
	KeyID       uuid.UUID `json:"keyId"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/api-keys.
// The plaintext key appears in this response only.
func NewCreateKeyHandler(svc APIKeys) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DisplayName string `json:"displayName"`
		}
		if !decodeJSON(w, r, maxKeyBody, &req) {
			return
		}

		plaintext, key, err := svc.Create(r.Context(), mw.PrincipalID(r), req.DisplayName)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.Created(w, createKeyResponse{
			APIKey:      plaintext,
			KeyID:       key.ID,
			DisplayName: key.DisplayName,
			CreatedAt:   key.CreatedAt,
		})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/api-keys.
func NewListKeysHandler(svc APIKeys) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := svc.List(r.Context(), mw.PrincipalID(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for POST /api/v1/api-keys/{keyID}/revoke.
func NewRevokeKeyHandler(svc APIKeys) http.HandlerFunc {
	return keyAction(svc.Revoke)
}

// NewDeleteKeyHandler returns an http.HandlerFunc for DELETE /api/v1/api-keys/{keyID}.
func NewDeleteKeyHandler(svc APIKeys) http.HandlerFunc {
	return keyAction(svc.Delete)
}

func keyAction(action func(ctx context.Context, ownerID string, keyID uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "keyId must be a UUID", nil)
			return
		}
		if err := action(r.Context(), mw.PrincipalID(r), keyID); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}
