package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/projectkepler/kepler/pkg/models"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// PostgresStore implements Store and ProfileStore using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Detection Jobs ---

const jobColumns = `id, owner_id, input_ref, confidence, overlap, model_variant, target_objects,
	status, results, error, created_at, updated_at, completed_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.DetectionJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO detection_jobs (id, owner_id, input_ref, confidence, overlap, model_variant, target_objects, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.OwnerID, job.InputRef, job.Parameters.Confidence, job.Parameters.Overlap,
		job.Parameters.ModelVariant, job.Parameters.TargetObjects, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.DetectionJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM detection_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.DetectionJob, error) {
	conditions := []string{"owner_id = $1"}
	args := []any{filter.OwnerID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := fmt.Sprintf(
		`SELECT %s FROM detection_jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		jobColumns, strings.Join(conditions, " AND "), argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.DetectionJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// validTransitions maps a target status to the statuses it may be reached from.
var validTransitions = map[string][]string{
	models.JobStatusCompleted: {models.JobStatusProcessing},
	models.JobStatusFailed:    {models.JobStatusProcessing},
}

// UpdateJobStatus moves a job to a terminal status. The transition check and the
// write happen in a single conditional UPDATE so concurrent writers cannot both win.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id string, status string, opts ...JobUpdateOption) error {
	params := NewJobUpdate(opts...)

	from, ok := validTransitions[status]
	if !ok {
		return fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, status)
	}

	now := time.Now().UTC()
	query := `UPDATE detection_jobs SET status = $2, updated_at = $3, completed_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	switch status {
	case models.JobStatusCompleted:
		results := params.Results
		if results == nil {
			results = []models.DetectedObject{}
		}
		raw, err := json.Marshal(results)
		if err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		query += fmt.Sprintf(", results = $%d", argIdx)
		args = append(args, raw)
		argIdx++
	case models.JobStatusFailed:
		msg := "unknown error"
		if params.ErrorMessage != nil {
			msg = *params.ErrorMessage
		}
		query += fmt.Sprintf(", error = $%d", argIdx)
		args = append(args, msg)
		argIdx++
	}

	query += fmt.Sprintf(" WHERE id = $1 AND status = ANY($%d)", argIdx)
	args = append(args, from)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM detection_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

func scanJob(row pgx.Row) (*models.DetectionJob, error) {
	var j models.DetectionJob
	var results []byte
	if err := row.Scan(&j.ID, &j.OwnerID, &j.InputRef, &j.Parameters.Confidence, &j.Parameters.Overlap,
		&j.Parameters.ModelVariant, &j.Parameters.TargetObjects, &j.Status, &results, &j.Error,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &j.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	return &j, nil
}

// --- API Keys ---

const apiKeyColumns = `id, owner_id, display_name, key_hash, key_lookup, is_active, usage_count,
	last_used_at, created_at, updated_at`

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner_id, display_name, key_hash, key_lookup, is_active, usage_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID, key.OwnerID, key.DisplayName, key.KeyHash, key.LookupHash, key.IsActive, key.UsageCount,
		key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
	key, err := scanAPIKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

func (s *PostgresStore) GetAPIKeysByLookup(ctx context.Context, lookup string) ([]*models.APIKey, error) {
	return s.queryAPIKeys(ctx, "get api keys by lookup",
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_lookup = $1 AND is_active`, lookup)
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, ownerID string) ([]*models.APIKey, error) {
	return s.queryAPIKeys(ctx, "list api keys",
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
}

func (s *PostgresStore) RecordAPIKeyUsage(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("record api key usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeactivateAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) queryAPIKeys(ctx context.Context, op, query string, args ...any) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	if err := row.Scan(&k.ID, &k.OwnerID, &k.DisplayName, &k.KeyHash, &k.LookupHash, &k.IsActive,
		&k.UsageCount, &k.LastUsedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return nil, err
	}
	return &k, nil
}

// --- Profiles ---

const profileColumns = `owner_id, email, display_name, username, bio, address,
	to_char(date_of_birth, 'YYYY-MM-DD'), gender, created_at, updated_at`

func (s *PostgresStore) GetProfile(ctx context.Context, ownerID string) (*models.Profile, error) {
	var p models.Profile
	err := s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE owner_id = $1`, ownerID).
		Scan(&p.OwnerID, &p.Email, &p.DisplayName, &p.Username, &p.Bio, &p.Address,
			&p.DateOfBirth, &p.Gender, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p *models.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (owner_id, email, display_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_id) DO NOTHING`,
		p.OwnerID, p.Email, p.DisplayName, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, p *models.Profile) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE profiles SET email = $2, display_name = $3, username = $4, bio = $5, address = $6,
		 date_of_birth = $7::date, gender = $8, updated_at = $9
		 WHERE owner_id = $1`,
		p.OwnerID, p.Email, p.DisplayName, p.Username, p.Bio, p.Address,
		p.DateOfBirth, p.Gender, p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UsernameTaken(ctx context.Context, username, exceptOwner string) (bool, error) {
	var taken bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM profiles WHERE lower(username) = lower($1) AND owner_id <> $2)`,
		username, exceptOwner).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return taken, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
