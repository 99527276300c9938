// Package detector selects the Detection Backend at startup.
package detector

import (
	"fmt"

	"github.com/projectkepler/kepler/internal/config"
	"github.com/projectkepler/kepler/internal/detector/mock"
	"github.com/projectkepler/kepler/internal/detector/yolo"
	"github.com/projectkepler/kepler/pkg/models"
)

// NewDetector constructs the backend named by cfg.Backend.
// Called once at server startup.
func NewDetector(cfg config.DetectorConfig) (models.Detector, error) {
	switch cfg.Backend {
	case "yolo":
		return yolo.NewClient(cfg.YOLO.BaseURL, cfg.YOLO.APIKey, cfg.YOLO.Timeout,
			yolo.WithConfidenceScale(cfg.YOLO.ConfidenceScale)), nil
	case "mock":
		return mock.NewMockDetector(cfg.MockDelay), nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q: must be one of yolo, mock", cfg.Backend)
	}
}
