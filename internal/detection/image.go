package detection

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/projectkepler/kepler/pkg/models"
)

// ImageStore persists submitted image bytes and returns a URL the detection
// backend can fetch.
type ImageStore interface {
	Put(ctx context.Context, data []byte, path, contentType string) (string, error)
}

// DecodeDataURL decodes a base64 data URL ("data:image/png;base64,....").
// Bare base64 without the data: header is accepted too.
func DecodeDataURL(s string) ([]byte, error) {
	payload := s
	if strings.HasPrefix(s, "data:") {
		header, data, ok := strings.Cut(s, ",")
		if !ok {
			return nil, fmt.Errorf("%w: imageData is not a valid data URL", models.ErrInvalidInput)
		}
		if !strings.HasSuffix(header, ";base64") {
			return nil, fmt.Errorf("%w: imageData must be base64 encoded", models.ErrInvalidInput)
		}
		payload = data
	}

	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: imageData is not valid base64", models.ErrInvalidInput)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: imageData is empty", models.ErrInvalidInput)
	}
	return b, nil
}

// sniffImage returns the content type and file extension of data, rejecting
// anything that is not an image.
func sniffImage(data []byte) (string, string, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", "", fmt.Errorf("%w: imageData must be an image, got %s", models.ErrInvalidInput, mt.String())
	}
	ext := mt.Extension()
	if ext == "" {
		ext = ".img"
	}
	return mt.String(), ext, nil
}

var classColors = map[string]string{
	"Fire Extinguisher": "red",
	"Space Suit":        "cyan",
	"Oxygen Cylinder":   "green",
}

var palette = []string{"orange", "yellow", "purple", "blue", "pink", "lime"}

// colorFor picks a stable display color for a class the backend left uncolored.
func colorFor(class string) string {
	if c, ok := classColors[class]; ok {
		return c
	}
	var h uint32
	for i := 0; i < len(class); i++ {
		h = h*31 + uint32(class[i])
	}
	return palette[h%uint32(len(palette))]
}

// filterDetections keeps candidates whose class is one of the job's targets
// and whose confidence (0-100) meets the job's threshold (0-1).
func filterDetections(candidates []models.DetectedObject, params models.JobParameters) []models.DetectedObject {
	targets := make(map[string]bool, len(params.TargetObjects))
	for _, t := range params.TargetObjects {
		targets[t] = true
	}
	minConfidence := params.Confidence * 100

	out := []models.DetectedObject{}
	for _, c := range candidates {
		if !targets[c.Name] || c.Confidence < minConfidence {
			continue
		}
		if c.Color == "" {
			c.Color = colorFor(c.Name)
		}
		out = append(out, c)
	}
	return out
}
