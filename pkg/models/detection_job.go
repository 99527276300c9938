package models

import (
	"encoding/json"
	"time"
)

const (
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// IsTerminalStatus reports whether status is completed or failed.
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// IsValidStatus reports whether status is one of the known job statuses.
func IsValidStatus(status string) bool {
	return status == JobStatusProcessing || IsTerminalStatus(status)
}

// DetectionJob tracks one detection request. The API returns the job id on
// POST /api/v1/detection-jobs; the client polls GET /api/v1/detection-jobs/{id}
// until status is completed or failed.
type DetectionJob struct {
	ID          string           `db:"id"           json:"id"`
	OwnerID     string           `db:"owner_id"     json:"ownerId"`
	InputRef    string           `db:"input_ref"    json:"inputRef"`
	Parameters  JobParameters    `db:"-"            json:"parameters"`
	Status      string           `db:"status"       json:"status"`
	Results     []DetectedObject `db:"results"      json:"results,omitempty"`
	Error       *string          `db:"error"        json:"error,omitempty"`
	CreatedAt   time.Time        `db:"created_at"   json:"createdAt"`
	UpdatedAt   time.Time        `db:"updated_at"   json:"updatedAt"`
	CompletedAt *time.Time       `db:"completed_at" json:"completedAt,omitempty"`
}

// MarshalJSON emits results only for completed jobs, as [] when nothing
// matched, so a terminal job always carries exactly one of results or error.
func (j DetectionJob) MarshalJSON() ([]byte, error) {
	type plain DetectionJob
	out := struct {
		plain
		Results *[]DetectedObject `json:"results,omitempty"`
	}{plain: plain(j)}
	if j.Status == JobStatusCompleted {
		results := j.Results
		if results == nil {
			results = []DetectedObject{}
		}
		out.Results = &results
	}
	return json.Marshal(out)
}

// IsTerminal reports whether the job has reached completed or failed.
func (j *DetectionJob) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// JobParameters is the fixed-shape detection configuration, immutable once submitted.
type JobParameters struct {
	Confidence    float64  `json:"confidence"    validate:"gte=0,lte=1"`
	Overlap       float64  `json:"overlap"       validate:"gte=0,lte=1"`
	ModelVariant  string   `json:"modelVariant"  validate:"oneof=default yolov8n yolov8s yolov8m yolov8l yolov8x"`
	TargetObjects []string `json:"targetObjects" validate:"min=1,dive,required,max=100"`
}

// DetectedObject is one entry of a completed job's results.
// Confidence is on a 0-100 scale; BBox is [x, y, width, height].
type DetectedObject struct {
	Name       string     `json:"name"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
	Color      string     `json:"color"`
}
