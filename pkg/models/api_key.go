package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a long-lived credential for programmatic access.
// Raw keys are shown once at creation. Only the bcrypt hash and a SHA-256
// lookup digest are stored.
type APIKey struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	OwnerID     string     `db:"owner_id"     json:"ownerId"`
	DisplayName string     `db:"display_name" json:"displayName"`
	KeyHash     string     `db:"key_hash"     json:"-"`
	LookupHash  string     `db:"key_lookup"   json:"-"`
	IsActive    bool       `db:"is_active"    json:"isActive"`
	UsageCount  int64      `db:"usage_count"  json:"usageCount"`
	LastUsedAt  *time.Time `db:"last_used_at" json:"lastUsedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updatedAt"`
}
