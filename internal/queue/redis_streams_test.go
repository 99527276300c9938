package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/projectkepler/kepler/internal/queue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamQueue(t *testing.T, consumer string, visibility time.Duration) (*queue.RedisStreamQueue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := queue.NewRedisStreamQueue(context.Background(), client, queue.RedisStreamOptions{
		Stream:     "test:jobs",
		Group:      "workers",
		Consumer:   consumer,
		Visibility: visibility,
		Block:      10 * time.Millisecond,
	})
	require.NoError(t, err)
	return q, client
}

func TestRedisStream_EnqueueReceiveAck(t *testing.T) {
	q, client := newStreamQueue(t, "c1", 0)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "det_a"))
	require.NoError(t, q.Enqueue(ctx, "det_b"))

	got, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "det_a", got[0].JobID)
	assert.Equal(t, "det_b", got[1].JobID)
	assert.NotEmpty(t, got[0].Handle)

	for _, d := range got {
		require.NoError(t, q.Ack(ctx, d))
	}

	pending, err := client.XPending(ctx, "test:jobs", "workers").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestRedisStream_ReceiveEmpty(t *testing.T) {
	q, _ := newStreamQueue(t, "c1", 0)

	got, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStream_EnqueueEmptyID(t *testing.T) {
	q, _ := newStreamQueue(t, "c1", 0)
	assert.ErrorIs(t, q.Enqueue(context.Background(), ""), queue.ErrEmptyJobID)
}

func TestRedisStream_GroupCreationIdempotent(t *testing.T) {
	_, client := newStreamQueue(t, "c1", 0)

	_, err := queue.NewRedisStreamQueue(context.Background(), client, queue.RedisStreamOptions{
		Stream: "test:jobs", Group: "workers", Consumer: "c2",
	})
	assert.NoError(t, err)
}

func TestRedisStream_UnackedDeliveryIsReclaimed(t *testing.T) {
	q, client := newStreamQueue(t, "c1", time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "det_crashed"))

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// c1 never acks; a second consumer picks the entry up once it is idle.
	time.Sleep(20 * time.Millisecond)
	q2, err := queue.NewRedisStreamQueue(ctx, client, queue.RedisStreamOptions{
		Stream: "test:jobs", Group: "workers", Consumer: "c2",
		Visibility: time.Millisecond, Block: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	again, err := q2.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "det_crashed", again[0].JobID)
	assert.Equal(t, first[0].Handle, again[0].Handle)
}

func TestRedisStream_EntryWithoutJobIDIsDropped(t *testing.T) {
	q, client := newStreamQueue(t, "c1", 0)
	ctx := context.Background()

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: "test:jobs",
		Values: map[string]any{"other": "x"},
	}).Err())

	got, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	pending, err := client.XPending(ctx, "test:jobs", "workers").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}
