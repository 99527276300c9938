package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/projectkepler/kepler/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.DetectionJob) error
	GetJob(ctx context.Context, id string) (*models.DetectionJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.DetectionJob, error)
	UpdateJobStatus(ctx context.Context, id string, status string, opts ...JobUpdateOption) error

	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	GetAPIKeysByLookup(ctx context.Context, lookup string) ([]*models.APIKey, error)
	ListAPIKeys(ctx context.Context, ownerID string) ([]*models.APIKey, error)
	RecordAPIKeyUsage(ctx context.Context, id uuid.UUID) error
	DeactivateAPIKey(ctx context.Context, id uuid.UUID) error
	DeleteAPIKey(ctx context.Context, id uuid.UUID) error
}

// ProfileStore persists user profiles, one row per principal.
type ProfileStore interface {
	GetProfile(ctx context.Context, ownerID string) (*models.Profile, error)
	// CreateProfile inserts p unless a profile for p.OwnerID already exists.
	CreateProfile(ctx context.Context, p *models.Profile) error
	UpdateProfile(ctx context.Context, p *models.Profile) error
	UsernameTaken(ctx context.Context, username, exceptOwner string) (bool, error)
}

// JobFilter selects an owner's jobs, newest first.
type JobFilter struct {
	OwnerID string
	Status  string
	Limit   int
}

// JobUpdate carries the optional fields of a terminal transition.
type JobUpdate struct {
	ErrorMessage *string
	Results      []models.DetectedObject
}

type JobUpdateOption func(*JobUpdate)

// NewJobUpdate applies opts to an empty JobUpdate. Store implementations
// outside this package use it to read the options they were given.
func NewJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ErrorMessage = &msg
	}
}

func WithResults(results []models.DetectedObject) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Results = results
	}
}
