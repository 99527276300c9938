// Package detection implements the detection job lifecycle: submission,
// asynchronous completion, status polling and history.
package detection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/projectkepler/kepler/internal/cache"
	"github.com/projectkepler/kepler/internal/metrics"
	"github.com/projectkepler/kepler/internal/queue"
	"github.com/projectkepler/kepler/internal/store"
	"github.com/projectkepler/kepler/pkg/models"
	"github.com/segmentio/ksuid"
)

const (
	// terminalCacheTTL bounds how long a finished job is served from Redis.
	terminalCacheTTL = time.Hour

	failureWriteTimeout = 10 * time.Second

	DefaultListLimit = 10
	MaxListLimit     = 100
)

// SubmitRequest is a validated-at-the-edge detection request. Exactly one of
// InputRef or ImageData is normally set; InputRef wins when both are.
type SubmitRequest struct {
	OwnerID   string
	InputRef  string
	ImageData []byte
	Params    ParamsInput
}

// Service orchestrates detection jobs.
type Service struct {
	store    store.Store
	cache    cache.Cache
	queue    queue.Queue
	detector models.Detector
	images   ImageStore
	metrics  *metrics.Metrics
	validate *validator.Validate
	timeout  time.Duration
	now      func() time.Time
}

// NewService creates a new Service. timeout bounds each Detect call.
func NewService(st store.Store, ca cache.Cache, q queue.Queue, det models.Detector, images ImageStore, m *metrics.Metrics, timeout time.Duration) *Service {
	return &Service{
		store:    st,
		cache:    ca,
		queue:    q,
		detector: det,
		images:   images,
		metrics:  m,
		validate: newValidator(),
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit persists a new processing job, hands it to the work queue and returns
// without waiting for detection to run.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.DetectionJob, error) {
	if req.OwnerID == "" {
		return nil, models.ErrUnauthenticated
	}

	params := req.Params.resolve()
	if err := s.validate.Struct(params); err != nil {
		return nil, validationError(err)
	}

	inputRef := strings.TrimSpace(req.InputRef)
	if inputRef == "" && len(req.ImageData) > 0 {
		url, err := s.storeImage(ctx, req.OwnerID, req.ImageData)
		if err != nil {
			return nil, err
		}
		inputRef = url
	}
	if inputRef == "" {
		return nil, fmt.Errorf("%w: inputRef or imageData is required", models.ErrInvalidInput)
	}

	now := s.now()
	job := &models.DetectionJob{
		ID:         NewJobID(req.OwnerID),
		OwnerID:    req.OwnerID,
		InputRef:   inputRef,
		Parameters: params,
		Status:     models.JobStatusProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	s.metrics.JobsSubmitted.Inc()

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		slog.Error("failed to enqueue detection job", "job_id", job.ID, "error", err)
		_ = s.fail(ctx, job.ID, fmt.Sprintf("dispatch failed: %v", err))
		return nil, fmt.Errorf("%w: dispatching job: %v", models.ErrUpstreamFailure, err)
	}

	slog.Info("detection job submitted", "job_id", job.ID, "owner_id", job.OwnerID)
	return job, nil
}

func (s *Service) storeImage(ctx context.Context, ownerID string, data []byte) (string, error) {
	if s.images == nil {
		return "", fmt.Errorf("%w: image uploads are not configured", models.ErrUpstreamFailure)
	}
	contentType, ext, err := sniffImage(data)
	if err != nil {
		return "", err
	}
	path := fmt.Sprintf("detection-images/%s/%d_detection%s", ownerID, s.now().UnixMilli(), ext)
	url, err := s.images.Put(ctx, data, path, contentType)
	if err != nil {
		return "", fmt.Errorf("%w: uploading image: %v", models.ErrUpstreamFailure, err)
	}
	return url, nil
}

// Process runs detection for one queued job and records its single terminal
// outcome. A job that is no longer processing is left untouched. The returned
// error is non-nil only when the job could not be loaded, in which case the
// delivery should be retried.
func (s *Service) Process(ctx context.Context, jobID string) (err error) {
	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("dropping delivery for unknown job", "job_id", jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading job %s: %w", jobID, err)
	}
	if job.Status != models.JobStatusProcessing {
		slog.Info("skipping job already in terminal state", "job_id", jobID, "status", job.Status)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing job", "job_id", jobID, "error", r)
			_ = s.fail(ctx, jobID, fmt.Sprintf("panic: %v", r))
			err = nil
		}
	}()

	detectCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		detectCtx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()

	start := time.Now()
	candidates, err := s.detector.Detect(detectCtx, job.InputRef, job.Parameters)
	s.metrics.DetectionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("detection failed", "job_id", jobID, "detector", s.detector.Name(), "error", err)
		_ = s.fail(ctx, jobID, fmt.Sprintf("detection failed: %v", err))
		return nil
	}

	results := filterDetections(candidates, job.Parameters)

	err = s.store.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted, store.WithResults(results))
	if errors.Is(err, store.ErrInvalidTransition) {
		slog.Warn("job finished elsewhere", "job_id", jobID)
		return nil
	}
	if err != nil {
		slog.Error("failed to store detection results", "job_id", jobID, "error", err)
		_ = s.fail(ctx, jobID, fmt.Sprintf("storing results: %v", err))
		return nil
	}

	s.metrics.JobsFinished.WithLabelValues(models.JobStatusCompleted).Inc()
	slog.Info("detection job completed", "job_id", jobID, "detections", len(results))
	return nil
}

// fail moves a job to failed. If that write fails too the job stays in
// processing; the error is logged and returned.
func (s *Service) fail(ctx context.Context, jobID, msg string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusFailed, store.WithErrorMessage(msg))
	if errors.Is(err, store.ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		slog.Error("failed to record job failure, job left processing", "job_id", jobID, "error", err)
		return err
	}
	s.metrics.JobsFinished.WithLabelValues(models.JobStatusFailed).Inc()
	return nil
}

// GetStatus returns the caller's job. A job owned by someone else yields
// ErrUnauthorized, checked only after the job is known to exist.
func (s *Service) GetStatus(ctx context.Context, ownerID, jobID string) (*models.DetectionJob, error) {
	if ownerID == "" {
		return nil, models.ErrUnauthenticated
	}
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", models.ErrInvalidInput)
	}

	job, found, err := s.cache.GetJob(ctx, jobID)
	if err != nil {
		slog.Warn("job cache read failed", "job_id", jobID, "error", err)
	}
	if !found {
		job, err = s.store.GetJob(ctx, jobID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("getting job: %w", err)
		}
		if job.IsTerminal() {
			if err := s.cache.SetJob(ctx, job, terminalCacheTTL); err != nil {
				slog.Warn("job cache write failed", "job_id", jobID, "error", err)
			}
		}
	}

	if job.OwnerID != ownerID {
		return nil, models.ErrUnauthorized
	}
	return job, nil
}

// ListForOwner returns the caller's jobs, newest first. A zero limit means the
// default and limits above MaxListLimit are capped; status, when set, must be
// a known job status.
func (s *Service) ListForOwner(ctx context.Context, ownerID string, limit int, status string) ([]*models.DetectionJob, error) {
	if ownerID == "" {
		return nil, models.ErrUnauthenticated
	}
	switch {
	case limit == 0:
		limit = DefaultListLimit
	case limit < 0:
		return nil, fmt.Errorf("%w: limit must be a positive integer", models.ErrInvalidInput)
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	if status != "" && !models.IsValidStatus(status) {
		return nil, fmt.Errorf("%w: status must be one of processing, completed, failed", models.ErrInvalidInput)
	}

	jobs, err := s.store.ListJobs(ctx, store.JobFilter{OwnerID: ownerID, Status: status, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// NewJobID returns "det_<owner digest>_<ksuid>". The KSUID's timestamp and 128
// random bits make collisions practically impossible; the owner digest keeps
// ids of different principals disjoint without exposing the principal id.
func NewJobID(ownerID string) string {
	sum := sha256.Sum256([]byte(ownerID))
	return "det_" + hex.EncodeToString(sum[:4]) + "_" + ksuid.New().String()
}
