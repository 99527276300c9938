package detection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/projectkepler/kepler/internal/detector/mock"
	"github.com/projectkepler/kepler/internal/queue"
	"github.com/projectkepler/kepler/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type processorFunc func(ctx context.Context, jobID string) error

func (f processorFunc) Process(ctx context.Context, jobID string) error { return f(ctx, jobID) }

func runWorker(t *testing.T, w *Worker) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func TestWorker_CompletesQueuedJobs(t *testing.T) {
	f := newFixture(mock.NewMockDetector(0))
	job := submit(t, f, "alice", ParamsInput{TargetObjects: []string{"Oxygen Cylinder"}})
	f.queue.pending = []queue.Delivery{{JobID: job.ID, Handle: "1-0"}}

	stop := runWorker(t, NewWorker(f.queue, f.svc, 2))
	require.Eventually(t, func() bool {
		return len(f.queue.ackedIDs()) == 1
	}, time.Second, 5*time.Millisecond)
	stop()

	got := f.store.job(job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "Oxygen Cylinder", got.Results[0].Name)
}

func TestWorker_DoesNotAckOnProcessError(t *testing.T) {
	q := &mockQueue{pending: []queue.Delivery{{JobID: "det_a"}}}
	var calls atomic.Int32
	p := processorFunc(func(_ context.Context, _ string) error {
		calls.Add(1)
		return errors.New("db down")
	})

	stop := runWorker(t, NewWorker(q, p, 1))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Empty(t, q.ackedIDs())
}

func TestWorker_BoundedConcurrency(t *testing.T) {
	var deliveries []queue.Delivery
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		deliveries = append(deliveries, queue.Delivery{JobID: id})
	}
	q := &mockQueue{pending: deliveries}

	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	p := processorFunc(func(_ context.Context, _ string) error {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	})

	stop := runWorker(t, NewWorker(q, p, 2))
	require.Eventually(t, func() bool { return len(q.ackedIDs()) == 6 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 2, peak)
}

func TestWorker_InFlightJobSurvivesShutdown(t *testing.T) {
	q := &mockQueue{pending: []queue.Delivery{{JobID: "det_slow"}}}
	started := make(chan struct{})
	var sawCancel atomic.Bool
	p := processorFunc(func(ctx context.Context, _ string) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		sawCancel.Store(ctx.Err() != nil)
		return nil
	})

	stop := runWorker(t, NewWorker(q, p, 1))
	<-started
	stop()

	assert.False(t, sawCancel.Load())
	assert.Equal(t, []string{"det_slow"}, q.ackedIDs())
}

type failingReceiveQueue struct {
	mockQueue
	calls atomic.Int32
}

func (q *failingReceiveQueue) Receive(ctx context.Context) ([]queue.Delivery, error) {
	q.calls.Add(1)
	return nil, errors.New("connection refused")
}

func TestWorker_BacksOffOnReceiveError(t *testing.T) {
	q := &failingReceiveQueue{}
	w := NewWorker(q, processorFunc(func(context.Context, string) error { return nil }), 1)
	w.retryDelay = 50 * time.Millisecond

	stop := runWorker(t, w)
	time.Sleep(120 * time.Millisecond)
	stop()

	assert.LessOrEqual(t, q.calls.Load(), int32(4))
}

func TestNewWorker_MinimumConcurrency(t *testing.T) {
	w := NewWorker(&mockQueue{}, processorFunc(func(context.Context, string) error { return nil }), 0)
	assert.Equal(t, 1, w.concurrency)
}
