// Package models contains shared data models used across the Kepler codebase.
package models

import (
	"context"
)

// Detector is the core interface every detection backend must implement.
// Services receive it by injection and never call a backend directly.
type Detector interface {
	// Detect runs object detection on the image at imageRef and returns
	// unfiltered candidates. Confidence is on a 0-100 scale.
	Detect(ctx context.Context, imageRef string, params JobParameters) ([]DetectedObject, error)

	// Ready reports whether the backend is reachable.
	Ready(ctx context.Context) error

	// Name returns the backend identifier (e.g., "yolo", "mock").
	Name() string
}
