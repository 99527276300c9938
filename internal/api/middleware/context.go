package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const principalKey contextKey = "principal"

// CredentialKind tells which credential authenticated the request.
type CredentialKind string

const (
	CredentialSession CredentialKind = "session"
	CredentialAPIKey  CredentialKind = "api_key"
)

// Principal is the authenticated caller. KeyID is set only for API keys.
type Principal struct {
	ID    string
	Kind  CredentialKind
	KeyID uuid.UUID
}

func SetPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func GetPrincipal(r *http.Request) (Principal, bool) {
	p, ok := r.Context().Value(principalKey).(Principal)
	return p, ok && p.ID != ""
}

// PrincipalID returns the caller id or "" when unauthenticated.
func PrincipalID(r *http.Request) string {
	p, _ := GetPrincipal(r)
	return p.ID
}
