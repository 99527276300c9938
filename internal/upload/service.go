// Package upload accepts user media files and stores them in object storage.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/projectkepler/kepler/internal/objectstore"
	"github.com/projectkepler/kepler/pkg/models"
)

const (
	DefaultFolder   = "uploads"
	DefaultMaxBytes = 100 << 20
)

var folderPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ObjectStore is the subset of object storage the upload service needs.
type ObjectStore interface {
	Put(ctx context.Context, data []byte, path, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

// Uploaded describes a stored file.
type Uploaded struct {
	URL         string    `json:"url"`
	Path        string    `json:"path"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Service validates and stores uploads.
type Service struct {
	store    ObjectStore
	maxBytes int64
	now      func() time.Time
}

// NewService creates a Service. maxBytes <= 0 selects DefaultMaxBytes.
func NewService(store ObjectStore, maxBytes int64) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Service{
		store:    store,
		maxBytes: maxBytes,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// MaxBytes is the largest accepted upload.
func (s *Service) MaxBytes() int64 { return s.maxBytes }

// Upload stores an image or video under "<folder>/<owner>/".
func (s *Service) Upload(ctx context.Context, ownerID, fileName, folder string, data []byte) (*Uploaded, error) {
	if ownerID == "" {
		return nil, models.ErrUnauthenticated
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", models.ErrInvalidInput)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", models.ErrInvalidInput, s.maxBytes)
	}

	folder = strings.TrimSpace(folder)
	if folder == "" {
		folder = DefaultFolder
	}
	if !folderPattern.MatchString(folder) {
		return nil, fmt.Errorf("%w: folder may contain only lowercase letters, digits, '_' and '-'", models.ErrInvalidInput)
	}

	mt := mimetype.Detect(data)
	if !isMedia(mt) {
		return nil, fmt.Errorf("%w: unsupported file type %s", models.ErrInvalidInput, mt.String())
	}

	now := s.now()
	path := objectstore.GeneratePath(ownerID, fileName, folder, now)
	url, err := s.store.Put(ctx, data, path, mt.String())
	if err != nil {
		return nil, fmt.Errorf("%w: storing upload: %v", models.ErrUpstreamFailure, err)
	}

	slog.Info("file uploaded", "owner_id", ownerID, "path", path, "size", len(data))
	return &Uploaded{
		URL:         url,
		Path:        path,
		FileName:    fileName,
		ContentType: mt.String(),
		Size:        int64(len(data)),
		UploadedAt:  now,
	}, nil
}

// Remove deletes a file previously uploaded by ownerID.
func (s *Service) Remove(ctx context.Context, ownerID, path string) error {
	if ownerID == "" {
		return models.ErrUnauthenticated
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("%w: path is required", models.ErrInvalidInput)
	}
	if !ownedBy(path, ownerID) {
		return models.ErrUnauthorized
	}

	if err := s.store.Delete(ctx, path); err != nil {
		return fmt.Errorf("%w: deleting upload: %v", models.ErrUpstreamFailure, err)
	}
	slog.Info("file removed", "owner_id", ownerID, "path", path)
	return nil
}

func isMedia(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") || strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}

// ownedBy reports whether path has the shape "<folder>/<ownerID>/<name>".
func ownedBy(path, ownerID string) bool {
	parts := strings.SplitN(path, "/", 3)
	if len(parts) != 3 || parts[2] == "" {
		return false
	}
	if strings.Contains(path, "..") {
		return false
	}
	return folderPattern.MatchString(parts[0]) && parts[1] == ownerID
}
