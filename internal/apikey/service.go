// Package apikey issues and verifies ProjectKepler API keys.
//
// A key is "pk_" followed by 32 base62 characters. Only a bcrypt hash and a
// truncated SHA-256 lookup digest are stored; the plaintext is returned once
// by Create.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/projectkepler/kepler/internal/metrics"
	"github.com/projectkepler/kepler/internal/store"
	"github.com/projectkepler/kepler/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	Prefix       = "pk_"
	secretLength = 32
	// lookupLen is the number of hex characters of SHA-256 kept for lookup.
	lookupLen = 16

	usageWriteTimeout = 2 * time.Second
)

const base62 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Service manages API keys.
type Service struct {
	store    store.Store
	metrics  *metrics.Metrics
	validate *validator.Validate
	cost     int
}

// NewService creates a new Service hashing with bcrypt.DefaultCost.
func NewService(st store.Store, m *metrics.Metrics) *Service {
	return &Service{
		store:    st,
		metrics:  m,
		validate: validator.New(),
		cost:     bcrypt.DefaultCost,
	}
}

type createInput struct {
	DisplayName string `validate:"min=3,max=50"`
}

// Create issues a key for ownerID and returns the plaintext alongside the
// stored metadata. The plaintext cannot be recovered later.
func (s *Service) Create(ctx context.Context, ownerID, displayName string) (string, *models.APIKey, error) {
	if ownerID == "" {
		return "", nil, models.ErrUnauthenticated
	}
	displayName = strings.TrimSpace(displayName)
	if err := s.validate.Struct(createInput{DisplayName: displayName}); err != nil {
		return "", nil, fmt.Errorf("%w: displayName must be 3-50 characters", models.ErrInvalidInput)
	}

	secret, err := generateSecret()
	if err != nil {
		return "", nil, fmt.Errorf("generating key: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", nil, fmt.Errorf("hashing key: %w", err)
	}

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		DisplayName: displayName,
		KeyHash:     string(hash),
		LookupHash:  LookupDigest(secret),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("storing key: %w", err)
	}

	slog.Info("api key created", "key_id", key.ID, "owner_id", ownerID)
	return secret, key, nil
}

// List returns ownerID's keys, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]*models.APIKey, error) {
	if ownerID == "" {
		return nil, models.ErrUnauthenticated
	}
	keys, err := s.store.ListAPIKeys(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	return keys, nil
}

// Verify resolves a plaintext key to its owner. Unknown, malformed or inactive
// keys yield ErrInvalidCredential. Usage accounting is best-effort and never
// changes the result.
func (s *Service) Verify(ctx context.Context, plaintext string) (string, uuid.UUID, error) {
	if !LooksLikeKey(plaintext) {
		s.metrics.APIKeyVerifications.WithLabelValues("invalid").Inc()
		return "", uuid.Nil, models.ErrInvalidCredential
	}

	candidates, err := s.store.GetAPIKeysByLookup(ctx, LookupDigest(plaintext))
	if err != nil {
		s.metrics.APIKeyVerifications.WithLabelValues("error").Inc()
		return "", uuid.Nil, fmt.Errorf("looking up key: %w", err)
	}

	for _, key := range candidates {
		if !key.IsActive {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(plaintext)) != nil {
			continue
		}
		s.recordUsage(ctx, key.ID)
		s.metrics.APIKeyVerifications.WithLabelValues("valid").Inc()
		return key.OwnerID, key.ID, nil
	}

	s.metrics.APIKeyVerifications.WithLabelValues("invalid").Inc()
	return "", uuid.Nil, models.ErrInvalidCredential
}

func (s *Service) recordUsage(ctx context.Context, id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageWriteTimeout)
	defer cancel()
	if err := s.store.RecordAPIKeyUsage(ctx, id); err != nil {
		slog.Warn("failed to record api key usage", "key_id", id, "error", err)
	}
}

// Revoke deactivates a key so it no longer verifies. The key stays listed.
func (s *Service) Revoke(ctx context.Context, ownerID string, keyID uuid.UUID) error {
	if err := s.authorize(ctx, ownerID, keyID); err != nil {
		return err
	}
	if err := s.store.DeactivateAPIKey(ctx, keyID); err != nil {
		return mapStoreErr("revoking key", err)
	}
	slog.Info("api key revoked", "key_id", keyID, "owner_id", ownerID)
	return nil
}

// Delete removes a key permanently.
func (s *Service) Delete(ctx context.Context, ownerID string, keyID uuid.UUID) error {
	if err := s.authorize(ctx, ownerID, keyID); err != nil {
		return err
	}
	if err := s.store.DeleteAPIKey(ctx, keyID); err != nil {
		return mapStoreErr("deleting key", err)
	}
	slog.Info("api key deleted", "key_id", keyID, "owner_id", ownerID)
	return nil
}

// authorize confirms the key exists before checking it belongs to ownerID.
func (s *Service) authorize(ctx context.Context, ownerID string, keyID uuid.UUID) error {
	if ownerID == "" {
		return models.ErrUnauthenticated
	}
	key, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return mapStoreErr("getting key", err)
	}
	if key.OwnerID != ownerID {
		return models.ErrUnauthorized
	}
	return nil
}

func mapStoreErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return models.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// LookupDigest returns the indexed digest used to find a key's row. It narrows
// candidates only; bcrypt still decides whether the key matches.
func LookupDigest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])[:lookupLen]
}

// LooksLikeKey reports whether s has the shape of an API key. Callers use it
// to route bearer tokens before any lookup.
func LooksLikeKey(s string) bool {
	if len(s) != len(Prefix)+secretLength || !strings.HasPrefix(s, Prefix) {
		return false
	}
	for i := len(Prefix); i < len(s); i++ {
		if strings.IndexByte(base62, s[i]) < 0 {
			return false
		}
	}
	return true
}

// generateSecret draws secretLength uniformly random base62 characters.
func generateSecret() (string, error) {
	var b strings.Builder
	b.Grow(len(Prefix) + secretLength)
	b.WriteString(Prefix)
	n62 := big.NewInt(int64(len(base62)))
	for i := 0; i < secretLength; i++ {
		n, err := rand.Int(rand.Reader, n62)
		if err != nil {
			return "", err
		}
		b.WriteByte(base62[n.Int64()])
	}
	return b.String(), nil
}
