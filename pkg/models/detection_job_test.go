package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/projectkepler/kepler/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeJob(t *testing.T, job models.DetectionJob) map[string]any {
	t.Helper()
	b, err := json.Marshal(&job)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestDetectionJobJSON_ResultsOrError(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := "detection failed: timeout"

	tests := []struct {
		name        string
		job         models.DetectionJob
		wantResults any
		wantError   bool
	}{
		{
			name:        "completed with no matches",
			job:         models.DetectionJob{ID: "det_x", Status: models.JobStatusCompleted, Results: []models.DetectedObject{}, CompletedAt: &now},
			wantResults: []any{},
		},
		{
			name:        "completed with nil results",
			job:         models.DetectionJob{ID: "det_x", Status: models.JobStatusCompleted, CompletedAt: &now},
			wantResults: []any{},
		},
		{
			name: "completed with matches",
			job: models.DetectionJob{ID: "det_x", Status: models.JobStatusCompleted, CompletedAt: &now,
				Results: []models.DetectedObject{{Name: "Space Suit", Confidence: 87.3, Color: "cyan"}}},
			wantResults: []any{map[string]any{"name": "Space Suit", "confidence": 87.3, "bbox": []any{0.0, 0.0, 0.0, 0.0}, "color": "cyan"}},
		},
		{
			name:      "failed",
			job:       models.DetectionJob{ID: "det_x", Status: models.JobStatusFailed, Error: &msg, CompletedAt: &now},
			wantError: true,
		},
		{
			name: "processing",
			job:  models.DetectionJob{ID: "det_x", Status: models.JobStatusProcessing},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := encodeJob(t, tt.job)

			results, hasResults := out["results"]
			if tt.wantResults == nil {
				assert.False(t, hasResults)
			} else {
				require.True(t, hasResults)
				assert.Equal(t, tt.wantResults, results)
			}
			_, hasError := out["error"]
			assert.Equal(t, tt.wantError, hasError)
		})
	}
}

func TestDetectionJobJSON_RoundTripKeepsEmptyResults(t *testing.T) {
	job := models.DetectionJob{ID: "det_x", OwnerID: "alice", Status: models.JobStatusCompleted, Results: []models.DetectedObject{}}

	b, err := json.Marshal(job)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"results":[]`)

	var got models.DetectionJob
	require.NoError(t, json.Unmarshal(b, &got))
	assert.NotNil(t, got.Results)
	assert.Empty(t, got.Results)
	assert.Equal(t, "alice", got.OwnerID)
}
