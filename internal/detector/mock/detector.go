package mock

import (
	"context"
	"time"

	"github.com/projectkepler/kepler/pkg/models"
)

// MockDetector satisfies models.Detector without a model server. It backs the
// "mock" DETECTOR_BACKEND and the service tests.
type MockDetector struct {
	Name_      string
	Delay      time.Duration
	DetectFunc func(ctx context.Context, imageRef string, params models.JobParameters) ([]models.DetectedObject, error)
	ReadyFunc  func(ctx context.Context) error
}

func (m *MockDetector) Name() string { return m.Name_ }

func (m *MockDetector) Detect(ctx context.Context, imageRef string, params models.JobParameters) ([]models.DetectedObject, error) {
	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, imageRef, params)
	}
	return nil, nil
}

func (m *MockDetector) Ready(ctx context.Context) error {
	if m.ReadyFunc != nil {
		return m.ReadyFunc(ctx)
	}
	return nil
}

// SampleDetections is the fixed candidate set returned by NewMockDetector.
func SampleDetections() []models.DetectedObject {
	return []models.DetectedObject{
		{Name: "Fire Extinguisher", Confidence: 95.8, BBox: [4]float64{100, 100, 200, 300}, Color: "red"},
		{Name: "Space Suit", Confidence: 87.3, BBox: [4]float64{300, 150, 450, 400}, Color: "cyan"},
		{Name: "Oxygen Cylinder", Confidence: 92.1, BBox: [4]float64{50, 200, 150, 350}, Color: "green"},
	}
}

// NewMockDetector returns a detector that reports SampleDetections after delay.
func NewMockDetector(delay time.Duration) *MockDetector {
	return &MockDetector{
		Name_: "mock",
		Delay: delay,
		DetectFunc: func(_ context.Context, _ string, _ models.JobParameters) ([]models.DetectedObject, error) {
			return SampleDetections(), nil
		},
	}
}

// NewFailingDetector returns a detector whose Detect and Ready always fail with err.
func NewFailingDetector(err error) *MockDetector {
	return &MockDetector{
		Name_: "mock-failing",
		DetectFunc: func(_ context.Context, _ string, _ models.JobParameters) ([]models.DetectedObject, error) {
			return nil, err
		},
		ReadyFunc: func(_ context.Context) error { return err },
	}
}

// NewBlockingDetector returns a detector that blocks until ctx is cancelled.
func NewBlockingDetector() *MockDetector {
	return &MockDetector{
		Name_: "mock-blocking",
		DetectFunc: func(ctx context.Context, _ string, _ models.JobParameters) ([]models.DetectedObject, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

var _ models.Detector = (*MockDetector)(nil)
