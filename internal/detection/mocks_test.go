package detection

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/projectkepler/kepler/internal/queue"
	"github.com/projectkepler/kepler/internal/store"
	"github.com/projectkepler/kepler/pkg/models"
)

// --- mocks ---

type mockStore struct {
	mu        sync.Mutex
	jobs      map[string]*models.DetectionJob
	createErr error
	getErr    error
	listErr   error
	// updateErr fails UpdateJobStatus for the listed target statuses.
	updateErr map[string]error
	updates   []string
	lastList  store.JobFilter
}

func newMockStore() *mockStore {
	return &mockStore{jobs: map[string]*models.DetectionJob{}, updateErr: map[string]error{}}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }
func (s *mockStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error { return nil }
func (s *mockStore) GetAPIKey(_ context.Context, _ uuid.UUID) (*models.APIKey, error) { return nil, store.ErrNotFound }
func (s *mockStore) GetAPIKeysByLookup(_ context.Context, _ string) ([]*models.APIKey, error) { return nil, nil }
func (s *mockStore) ListAPIKeys(_ context.Context, _ string) ([]*models.APIKey, error) { return nil, nil }
func (s *mockStore) RecordAPIKeyUsage(_ context.Context, _ uuid.UUID) error { return nil }
func (s *mockStore) DeactivateAPIKey(_ context.Context, _ uuid.UUID) error { return nil }
func (s *mockStore) DeleteAPIKey(_ context.Context, _ uuid.UUID) error { return nil }

func (s *mockStore) CreateJob(_ context.Context, job *models.DetectionJob) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *mockStore) GetJob(_ context.Context, id string) (*models.DetectionJob, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *mockStore) ListJobs(_ context.Context, f store.JobFilter) ([]*models.DetectionJob, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastList = f
	out := []*models.DetectionJob{}
	for _, j := range s.jobs {
		if j.OwnerID != f.OwnerID || (f.Status != "" && j.Status != f.Status) {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *mockStore) UpdateJobStatus(_ context.Context, id string, status string, opts ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, status)
	if err := s.updateErr[status]; err != nil {
		return err
	}
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != models.JobStatusProcessing {
		return store.ErrInvalidTransition
	}
	u := store.NewJobUpdate(opts...)
	now := time.Now().UTC()
	j.Status = status
	j.UpdatedAt = now
	j.CompletedAt = &now
	switch status {
	case models.JobStatusCompleted:
		j.Results = u.Results
		if j.Results == nil {
			j.Results = []models.DetectedObject{}
		}
	case models.JobStatusFailed:
		msg := "unknown error"
		if u.ErrorMessage != nil {
			msg = *u.ErrorMessage
		}
		j.Error = &msg
	}
	return nil
}

func (s *mockStore) job(id string) *models.DetectionJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

type mockCache struct {
	mu     sync.Mutex
	jobs   map[string]*models.DetectionJob
	getErr error
}

func newMockCache() *mockCache {
	return &mockCache{jobs: map[string]*models.DetectionJob{}}
}

func (c *mockCache) Ping(_ context.Context) error { return nil }
func (c *mockCache) IncrWindow(_ context.Context, _ string, w time.Duration) (int64, time.Duration, error) {
	return 0, w, nil
}

func (c *mockCache) SetJob(_ context.Context, job *models.DetectionJob, _ time.Duration) error {
	if !job.IsTerminal() {
		return errors.New("not terminal")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *job
	c.jobs[job.ID] = &cp
	return nil
}

func (c *mockCache) GetJob(_ context.Context, id string) (*models.DetectionJob, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok {
		return nil, false, nil
	}
	cp := *j
	return &cp, true, nil
}

type mockQueue struct {
	mu         sync.Mutex
	enqueued   []string
	enqueueErr error
	pending    []queue.Delivery
	acked      []string
}

func (q *mockQueue) Enqueue(_ context.Context, jobID string) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

// Receive hands out everything pending once, then idles until ctx is done.
func (q *mockQueue) Receive(ctx context.Context) ([]queue.Delivery, error) {
	q.mu.Lock()
	out := q.pending
	q.pending = nil
	q.mu.Unlock()
	if len(out) > 0 {
		return out, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (q *mockQueue) Ack(_ context.Context, d queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, d.JobID)
	return nil
}

func (q *mockQueue) ackedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

type mockImages struct {
	path        string
	contentType string
	data        []byte
	err         error
}

func (m *mockImages) Put(_ context.Context, data []byte, path, contentType string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.path, m.contentType, m.data = path, contentType, data
	return "https://cdn.test/" + path, nil
}
