package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/projectkepler/kepler/internal/detector/mock"
	"github.com/projectkepler/kepler/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredict_FiltersAndDoesNotCreateJob(t *testing.T) {
	f := newFixture(mock.NewMockDetector(0))

	got, err := f.svc.Predict(context.Background(), PredictRequest{
		OwnerID:  "alice",
		InputRef: "https://x/station.jpg",
		Params: ParamsInput{
			Confidence:    ptr(0.9),
			TargetObjects: []string{"Fire Extinguisher", "Space Suit"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "mock", got.Model)
	assert.Equal(t, "https://x/station.jpg", got.InputRef)
	require.Len(t, got.Detections, 1)
	assert.Equal(t, "Fire Extinguisher", got.Detections[0].Name)
	assert.Equal(t, 0.9, got.Parameters.Confidence)

	assert.Empty(t, f.store.jobs)
	assert.Empty(t, f.queue.enqueued)
}

func TestPredict_NoMatchesIsEmptySlice(t *testing.T) {
	f := newFixture(mock.NewMockDetector(0))

	got, err := f.svc.Predict(context.Background(), PredictRequest{
		OwnerID:  "alice",
		InputRef: "https://x/station.jpg",
		Params:   ParamsInput{TargetObjects: []string{"Toolbox"}},
	})
	require.NoError(t, err)
	assert.NotNil(t, got.Detections)
	assert.Empty(t, got.Detections)
}

func TestPredict_ModelType(t *testing.T) {
	tests := []struct {
		modelType string
		wantErr   bool
	}{
		{"", false},
		{"yolo", false},
		{" YOLO ", false},
		{"resnet", true},
	}
	for _, tt := range tests {
		t.Run(tt.modelType, func(t *testing.T) {
			f := newFixture(mock.NewMockDetector(0))
			_, err := f.svc.Predict(context.Background(), PredictRequest{
				OwnerID:   "alice",
				InputRef:  "https://x/img.jpg",
				ModelType: tt.modelType,
			})
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalidInput)
				assert.Contains(t, err.Error(), "unsupported model type")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPredict_StoresInlineImage(t *testing.T) {
	f := newFixture(mock.NewMockDetector(0))

	got, err := f.svc.Predict(context.Background(), PredictRequest{OwnerID: "alice", ImageData: pngHeader})
	require.NoError(t, err)

	assert.Equal(t, "image/png", f.images.contentType)
	assert.Contains(t, f.images.path, "detection-images/alice/")
	assert.Equal(t, "https://cdn.test/"+f.images.path, got.InputRef)
}

func TestPredict_Validation(t *testing.T) {
	f := newFixture(mock.NewMockDetector(0))
	ctx := context.Background()

	_, err := f.svc.Predict(ctx, PredictRequest{InputRef: "https://x/img.jpg"})
	assert.ErrorIs(t, err, models.ErrUnauthenticated)

	_, err = f.svc.Predict(ctx, PredictRequest{OwnerID: "alice"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.svc.Predict(ctx, PredictRequest{OwnerID: "alice", InputRef: "https://x/img.jpg", Params: ParamsInput{Confidence: ptr(1.5)}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestPredict_DetectorFailureIsUpstream(t *testing.T) {
	f := newFixture(mock.NewFailingDetector(errors.New("model server down")))

	_, err := f.svc.Predict(context.Background(), PredictRequest{OwnerID: "alice", InputRef: "https://x/img.jpg"})
	assert.ErrorIs(t, err, models.ErrUpstreamFailure)
}

func TestPredict_TimesOut(t *testing.T) {
	f := newFixture(mock.NewBlockingDetector())
	f.svc.timeout = 10 * time.Millisecond

	_, err := f.svc.Predict(context.Background(), PredictRequest{OwnerID: "alice", InputRef: "https://x/img.jpg"})
	assert.ErrorIs(t, err, models.ErrUpstreamFailure)
}
