package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/projectkepler/kepler/pkg/models"
)

// DefaultModelType is the only model family the inference backend serves.
const DefaultModelType = "yolo"

// PredictRequest asks for a synchronous detection without creating a job.
type PredictRequest struct {
	OwnerID   string
	InputRef  string
	ImageData []byte
	ModelType string
	Params    ParamsInput
}

// Prediction is the outcome of a synchronous detection.
type Prediction struct {
	InputRef    string                  `json:"inputRef"`
	Model       string                  `json:"model"`
	Parameters  models.JobParameters    `json:"parameters"`
	Detections  []models.DetectedObject `json:"detections"`
	InferenceMs int64                   `json:"inferenceMs"`
}

// Predict runs the detector inline and returns its filtered detections.
// Nothing is persisted apart from an inline image, which is stored so the
// detector can fetch it by URL.
func (s *Service) Predict(ctx context.Context, req PredictRequest) (*Prediction, error) {
	if req.OwnerID == "" {
		return nil, models.ErrUnauthenticated
	}

	modelType := strings.ToLower(strings.TrimSpace(req.ModelType))
	if modelType == "" {
		modelType = DefaultModelType
	}
	if modelType != DefaultModelType {
		return nil, fmt.Errorf("%w: unsupported model type %q", models.ErrInvalidInput, req.ModelType)
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
		return nil, fmt.Errorf("%w: imageUrl or image data is required", models.ErrInvalidInput)
	}

	detectCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		detectCtx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()

	start := time.Now()
	candidates, err := s.detector.Detect(detectCtx, inputRef, params)
	elapsed := time.Since(start)
	s.metrics.DetectionDuration.Observe(elapsed.Seconds())
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		slog.Warn("prediction failed", "owner_id", req.OwnerID, "detector", s.detector.Name(), "error", err)
		return nil, fmt.Errorf("%w: detection failed: %v", models.ErrUpstreamFailure, err)
	}

	return &Prediction{
		InputRef:    inputRef,
		Model:       s.detector.Name(),
		Parameters:  params,
		Detections:  filterDetections(candidates, params),
		InferenceMs: elapsed.Milliseconds(),
	}, nil
}
