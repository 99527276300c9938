package detection

import (
	"context"
	"log/slog"
	"time"

	"github.com/projectkepler/kepler/internal/queue"
	"golang.org/x/sync/errgroup"
)

// Processor handles one queued job id.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// Worker consumes the work queue and completes jobs with bounded concurrency.
type Worker struct {
	queue       queue.Queue
	processor   Processor
	concurrency int
	retryDelay  time.Duration
}

// NewWorker creates a Worker running at most concurrency jobs at a time.
func NewWorker(q queue.Queue, p Processor, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		processor:   p,
		concurrency: concurrency,
		retryDelay:  time.Second,
	}
}

// Run receives deliveries until ctx is cancelled, then waits for in-flight
// jobs to finish. Jobs already started are not interrupted by cancellation;
// their detection call is still bounded by the service's inference timeout.
func (w *Worker) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(w.concurrency)

	slog.Info("detection worker started", "concurrency", w.concurrency)
	defer slog.Info("detection worker stopped")

	for ctx.Err() == nil {
		deliveries, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("receiving from work queue", "error", err)
			w.sleep(ctx)
			continue
		}

		for _, d := range deliveries {
			g.Go(func() error {
				w.handle(context.WithoutCancel(ctx), d)
				return nil
			})
		}
	}

	return g.Wait()
}

func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	if err := w.processor.Process(ctx, d.JobID); err != nil {
		// Left unacked; the queue redelivers it after the visibility timeout.
		slog.Error("processing job", "job_id", d.JobID, "error", err)
		return
	}
	if err := w.queue.Ack(ctx, d); err != nil {
		slog.Error("acking job", "job_id", d.JobID, "error", err)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
