package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/projectkepler/kepler/internal/api/response"
	"github.com/projectkepler/kepler/internal/apikey"
	"github.com/projectkepler/kepler/pkg/models"
)

// KeyVerifier resolves an API key to its owner.
type KeyVerifier interface {
	Verify(ctx context.Context, plaintext string) (string, uuid.UUID, error)
}

// TokenVerifier resolves an identity-provider token to its subject.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Auth provides authentication and credential-kind middleware.
type Auth struct {
	keys   KeyVerifier
	tokens TokenVerifier
}

// NewAuth creates a new Auth middleware.
func NewAuth(keys KeyVerifier, tokens TokenVerifier) *Auth {
	return &Auth{keys: keys, tokens: tokens}
}

// Authenticate accepts "Authorization: Bearer <credential>" where the
// credential is either an API key (pk_ prefix) or an ID token, and stores the
// resulting Principal in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := extractBearerToken(r)
		if credential == "" {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHENTICATED", "Missing or invalid Authorization header", nil)
			return
		}

		p, err := a.resolve(r.Context(), credential)
		if err != nil {
			if errors.Is(err, models.ErrInvalidCredential) || errors.Is(err, models.ErrUnauthenticated) {
				response.Error(w, http.StatusUnauthorized,
					"INVALID_TOKEN", "Invalid or expired credential", nil)
				return
			}
			slog.Error("authenticating request", "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate credential", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), p)))
	})
}

func (a *Auth) resolve(ctx context.Context, credential string) (Principal, error) {
	if strings.HasPrefix(credential, apikey.Prefix) {
		owner, keyID, err := a.keys.Verify(ctx, credential)
		if err != nil {
			return Principal{}, err
		}
		return Principal{ID: owner, Kind: CredentialAPIKey, KeyID: keyID}, nil
	}

	if a.tokens == nil {
		return Principal{}, models.ErrUnauthenticated
	}
	subject, err := a.tokens.Verify(ctx, credential)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ID: subject, Kind: CredentialSession}, nil
}

// RequireSession rejects requests authenticated with an API key. Key
// management is only available to interactive sessions.
func (a *Auth) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipal(r)
		if !ok || p.Kind != CredentialSession {
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "This endpoint requires a signed-in session", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
