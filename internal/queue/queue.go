// Package queue hands detection job ids from the API to the completion worker.
// Deliveries that are not acknowledged become visible again after the
// backend's visibility timeout, so pending work survives a process restart.
package queue

import (
	"context"
	"errors"
)

// ErrEmptyJobID is returned when Enqueue is called without a job id.
var ErrEmptyJobID = errors.New("queue: job id is required")

// Queue is a durable work queue of job ids.
type Queue interface {
	// Enqueue publishes a job id for processing.
	Enqueue(ctx context.Context, jobID string) error

	// Receive blocks until at least one delivery is available, the backend's
	// poll window elapses, or ctx is done. An empty slice is not an error.
	Receive(ctx context.Context) ([]Delivery, error)

	// Ack removes a delivery so it is never redelivered.
	Ack(ctx context.Context, d Delivery) error
}

// Delivery is one received message. Handle is backend-specific: a stream
// entry id for Redis, a receipt handle for SQS.
type Delivery struct {
	JobID  string
	Handle string
}

type message struct {
	JobID string `json:"jobId"`
}
