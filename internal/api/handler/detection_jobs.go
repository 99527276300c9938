package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/projectkepler/kepler/internal/api/middleware"
	"github.com/projectkepler/kepler/internal/api/response"
	"github.com/projectkepler/kepler/internal/detection"
	"github.com/projectkepler/kepler/pkg/models"
)

// maxSubmitBody bounds POST /detection-jobs, which may carry a base64 image.
const maxSubmitBody = 20 << 20

// DetectionJobs is the detection service as seen by the handlers.
type DetectionJobs interface {
	Submit(ctx context.Context, req detection.SubmitRequest) (*models.DetectionJob, error)
	GetStatus(ctx context.Context, ownerID, jobID string) (*models.DetectionJob, error)
	ListForOwner(ctx context.Context, ownerID string, limit int, status string) ([]*models.DetectionJob, error)
}

type submitJobRequest struct {
	InputRef      string   `json:"inputRef"`
	ImageData     string   `json:"imageData"`
	Confidence    *float64 `json:"confidence"`
	Overlap       *float64 `json:"overlap"`
	ModelVariant  string   `json:"modelVariant"`
	TargetObjects []string `json:"targetObjects"`
}

type submitJobResponse struct {
	JobID     string    `json:"jobId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/detection-jobs.
func NewSubmitJobHandler(svc DetectionJobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := mw.PrincipalID(r)
		if owner == "" {
			writeError(w, r, models.ErrUnauthenticated)
			return
		}

		var req submitJobRequest
		if !decodeJSON(w, r, maxSubmitBody, &req) {
			return
		}

		var image []byte
		if req.InputRef == "" && req.ImageData != "" {
			b, err := detection.DecodeDataURL(req.ImageData)
			if err != nil {
				writeError(w, r, err)
				return
			}
			image = b
		}

		job, err := svc.Submit(r.Context(), detection.SubmitRequest{
			OwnerID:   owner,
			InputRef:  req.InputRef,
			ImageData: image,
			Params: detection.ParamsInput{
				Confidence:    req.Confidence,
				Overlap:       req.Overlap,
				ModelVariant:  req.ModelVariant,
				TargetObjects: req.TargetObjects,
			},
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.JSON(w, submitJobResponse{
			JobID:     job.ID,
			Status:    job.Status,
			CreatedAt: job.CreatedAt,
		})
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/detection-jobs/{jobID}.
func NewGetJobHandler(svc DetectionJobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.GetStatus(r.Context(), mw.PrincipalID(r), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/detection-jobs.
func NewListJobsHandler(svc DetectionJobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit := 0
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			limit = n
		}

		jobs, err := svc.ListForOwner(r.Context(), mw.PrincipalID(r), limit, q.Get("status"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if jobs == nil {
			jobs = []*models.DetectionJob{}
		}

		response.List(w, jobs, response.ListMeta{Limit: effectiveLimit(limit), Count: len(jobs)})
	}
}

func effectiveLimit(limit int) int {
	switch {
	case limit == 0:
		return detection.DefaultListLimit
	case limit > detection.MaxListLimit:
		return detection.MaxListLimit
	default:
		return limit
	}
}
