package yolo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/projectkepler/kepler/pkg/models"
)

// Sentinel errors for detection backend failures.
var (
	ErrBackendUnavailable = errors.New("detection backend unavailable")
	ErrBackendError       = errors.New("detection backend error")
	ErrBackendTimeout     = errors.New("detection backend timeout")
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Confidence scales a model server may report in.
const (
	ScaleFraction = "fraction"
	ScalePercent  = "percent"
)

// Client implements models.Detector against the YOLO model server's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	confFactor float64
}

// Option configures a Client.
type Option func(*Client)

// WithConfidenceScale sets the scale the server reports confidence in:
// ScaleFraction (0-1, the default) or ScalePercent (0-100). Unknown values
// keep the default.
func WithConfidenceScale(scale string) Option {
	return func(c *Client) {
		if scale == ScalePercent {
			c.confFactor = 1
		}
	}
}

// NewClient creates a YOLO client. A trailing slash on baseURL is ignored.
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		client:     &http.Client{Timeout: timeout},
		confFactor: 100,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "yolo" }

func (c *Client) Detect(ctx context.Context, imageRef string, params models.JobParameters) ([]models.DetectedObject, error) {
	body, err := json.Marshal(predictRequest{
		ImageURL:      imageRef,
		Confidence:    params.Confidence,
		Overlap:       params.Overlap,
		ModelVariant:  params.ModelVariant,
		TargetObjects: params.TargetObjects,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/image/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrBackendError, resp.StatusCode, errorDetail(resp.Body))
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrBackendError, err)
	}

	return c.toDetections(pr.Detections), nil
}

func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: backend not ready (status %d)", ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// errorDetail extracts the server's message from a FastAPI-style
// {"detail": ...} or {"error": ...} body, falling back to the raw text.
func errorDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

// toDetections converts backend detections. Results carry confidence on a
// 0-100 scale whatever the server's configured scale is.
func (c *Client) toDetections(in []detection) []models.DetectedObject {
	out := make([]models.DetectedObject, 0, len(in))
	for _, d := range in {
		out = append(out, models.DetectedObject{
			Name:       d.Class,
			Confidence: d.Confidence * c.confFactor,
			BBox:       d.BBox,
			Color:      d.Color,
		})
	}
	return out
}

// --- YOLO wire types ---

type predictRequest struct {
	ImageURL      string   `json:"image_url"`
	Confidence    float64  `json:"confidence"`
	Overlap       float64  `json:"overlap"`
	ModelVariant  string   `json:"model_variant"`
	TargetObjects []string `json:"target_objects,omitempty"`
}

type predictResponse struct {
	Detections []detection `json:"detections"`
}

type detection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
	Color      string     `json:"color,omitempty"`
}

// Compile-time check that Client implements Detector.
var _ models.Detector = (*Client)(nil)
