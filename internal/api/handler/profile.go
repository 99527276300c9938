package handler

import (
	"context"
	"net/http"
	"strings"

	mw "github.com/projectkepler/kepler/internal/api/middleware"
	"github.com/projectkepler/kepler/internal/api/response"
	"github.com/projectkepler/kepler/internal/profile"
	"github.com/projectkepler/kepler/pkg/models"
)

const maxProfileBody = 16 << 10

// Profiles is the profile service as seen by the handlers.
type Profiles interface {
	Get(ctx context.Context, ownerID string) (*models.Profile, error)
	Update(ctx context.Context, ownerID string, u profile.Update) (*models.Profile, error)
	UsernameAvailable(ctx context.Context, ownerID, username string) (bool, error)
}

type updateProfileRequest struct {
	Email       *string `json:"email"`
	DisplayName *string `json:"displayName"`
	Username    *string `json:"username"`
	Bio         *string `json:"bio"`
	Address     *string `json:"address"`
	DateOfBirth *string `json:"dateOfBirth"`
	Gender      *string `json:"gender"`
}

// NewGetProfileHandler returns an http.HandlerFunc for GET /api/v1/profile.
func NewGetProfileHandler(svc Profiles) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Get(r.Context(), mw.PrincipalID(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, p)
	}
}

// NewUpdateProfileHandler returns an http.HandlerFunc for PUT /api/v1/profile.
// Fields left out of the body keep their current values.
func NewUpdateProfileHandler(svc Profiles) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateProfileRequest
		if !decodeJSON(w, r, maxProfileBody, &req) {
			return
		}

		p, err := svc.Update(r.Context(), mw.PrincipalID(r), profile.Update{
			Email:       req.Email,
			DisplayName: req.DisplayName,
			Username:    req.Username,
			Bio:         req.Bio,
			Address:     req.Address,
			DateOfBirth: req.DateOfBirth,
			Gender:      req.Gender,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, p)
	}
}

// NewUsernameAvailableHandler returns an http.HandlerFunc for
// GET /api/v1/profile/username-availability?username=...
func NewUsernameAvailableHandler(svc Profiles) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.URL.Query().Get("username"))
		ok, err := svc.UsernameAvailable(r.Context(), mw.PrincipalID(r), username)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"username": username, "available": ok})
	}
}
