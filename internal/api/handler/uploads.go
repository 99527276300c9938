package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	mw "github.com/projectkepler/kepler/internal/api/middleware"
	"github.com/projectkepler/kepler/internal/api/response"
	"github.com/projectkepler/kepler/internal/upload"
)

const (
	multipartMemory   = 32 << 20
	multipartOverhead = 1 << 20
)

// Uploads is the upload service as seen by the handlers.
type Uploads interface {
	Upload(ctx context.Context, ownerID, fileName, folder string, data []byte) (*upload.Uploaded, error)
	Remove(ctx context.Context, ownerID, path string) error
	MaxBytes() int64
}

// NewUploadHandler returns an http.HandlerFunc for POST /api/v1/uploads
// (multipart form with a "file" part and an optional "folder" field).
func NewUploadHandler(svc Uploads) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, svc.MaxBytes()+multipartOverhead)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "File is too large", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected a multipart form", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file is required", nil)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, svc.MaxBytes()+1))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Could not read file", nil)
			return
		}

		up, err := svc.Upload(r.Context(), mw.PrincipalID(r), header.Filename, r.FormValue("folder"), data)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, up)
	}
}

// NewDeleteUploadHandler returns an http.HandlerFunc for DELETE /api/v1/uploads?path=.
func NewDeleteUploadHandler(svc Uploads) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Remove(r.Context(), mw.PrincipalID(r), r.URL.Query().Get("path")); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}
