package models

import "time"

// Profile holds the account details a signed-in user manages. Credentials are
// owned by the identity provider and never stored here.
type Profile struct {
	OwnerID     string    `db:"owner_id"      json:"ownerId"`
	Email       string    `db:"email"         json:"email"`
	DisplayName string    `db:"display_name"  json:"displayName"`
	Username    *string   `db:"username"      json:"username"`
	Bio         string    `db:"bio"           json:"bio"`
	Address     string    `db:"address"       json:"address"`
	DateOfBirth *string   `db:"date_of_birth" json:"dateOfBirth"`
	Gender      *string   `db:"gender"        json:"gender"`
	CreatedAt   time.Time `db:"created_at"    json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at"    json:"updatedAt"`
}
