package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const jobIDField = "job_id"

// RedisStreamQueue implements Queue on a Redis stream with a consumer group.
// Entries read but not acked within the visibility timeout are reclaimed by the
// next Receive call of any consumer in the group.
type RedisStreamQueue struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	visibility time.Duration
	block      time.Duration
	batch      int64
}

// RedisStreamOptions configures a RedisStreamQueue.
type RedisStreamOptions struct {
	Stream     string
	Group      string
	Consumer   string
	Visibility time.Duration
	Block      time.Duration
	Batch      int64
}

// NewRedisStreamQueue creates the consumer group if needed and returns the queue.
func NewRedisStreamQueue(ctx context.Context, client *redis.Client, opts RedisStreamOptions) (*RedisStreamQueue, error) {
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 10
	}

	err := client.XGroupCreateMkStream(ctx, opts.Stream, opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("creating consumer group %s: %w", opts.Group, err)
	}

	return &RedisStreamQueue{
		client:     client,
		stream:     opts.Stream,
		group:      opts.Group,
		consumer:   opts.Consumer,
		visibility: opts.Visibility,
		block:      opts.Block,
		batch:      opts.Batch,
	}, nil
}

func (q *RedisStreamQueue) Enqueue(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrEmptyJobID
	}
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{jobIDField: jobID},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", q.stream, err)
	}
	return nil
}

func (q *RedisStreamQueue) Receive(ctx context.Context) ([]Delivery, error) {
	if q.visibility > 0 {
		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.visibility,
			Start:    "0-0",
			Count:    q.batch,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("xautoclaim %s: %w", q.stream, err)
		}
		if len(claimed) > 0 {
			return q.toDeliveries(ctx, claimed), nil
		}
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    q.batch,
		Block:    q.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", q.stream, err)
	}

	var deliveries []Delivery
	for _, s := range streams {
		deliveries = append(deliveries, q.toDeliveries(ctx, s.Messages)...)
	}
	return deliveries, nil
}

func (q *RedisStreamQueue) Ack(ctx context.Context, d Delivery) error {
	if err := q.client.XAck(ctx, q.stream, q.group, d.Handle).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", d.Handle, err)
	}
	return nil
}

// toDeliveries converts stream entries, acking any entry without a job id so
// it does not circulate forever.
func (q *RedisStreamQueue) toDeliveries(ctx context.Context, msgs []redis.XMessage) []Delivery {
	out := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		jobID, _ := m.Values[jobIDField].(string)
		if jobID == "" {
			_ = q.client.XAck(ctx, q.stream, q.group, m.ID).Err()
			continue
		}
		out = append(out, Delivery{JobID: jobID, Handle: m.ID})
	}
	return out
}

var _ Queue = (*RedisStreamQueue)(nil)
