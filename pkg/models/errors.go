package models

import "errors"

// Error taxonomy shared by services. Handlers map these to HTTP status codes.
var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrConflict          = errors.New("conflict")
)
