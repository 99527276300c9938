package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

// SQSQueue implements Queue on an Amazon SQS queue. Deleting a message acks it;
// an undeleted message reappears after the visibility timeout.
type SQSQueue struct {
	client     sqsiface.SQSAPI
	queueURL   string
	visibility time.Duration
	waitTime   time.Duration
	batch      int64
}

// NewSQSQueue wraps an SQS client. waitTime is the long-poll window, capped by
// SQS at 20 seconds; batch is capped at 10 messages per receive.
func NewSQSQueue(client sqsiface.SQSAPI, queueURL string, visibility, waitTime time.Duration, batch int64) *SQSQueue {
	if waitTime <= 0 || waitTime > 20*time.Second {
		waitTime = 20 * time.Second
	}
	if batch <= 0 || batch > 10 {
		batch = 10
	}
	return &SQSQueue{
		client:     client,
		queueURL:   queueURL,
		visibility: visibility,
		waitTime:   waitTime,
		batch:      batch,
	}
}

func (q *SQSQueue) Enqueue(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrEmptyJobID
	}
	body, err := json.Marshal(message{JobID: jobID})
	if err != nil {
		return err
	}

	_, err = q.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context) ([]Delivery, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: aws.Int64(q.batch),
		WaitTimeSeconds:     aws.Int64(int64(q.waitTime / time.Second)),
	}
	if q.visibility > 0 {
		input.VisibilityTimeout = aws.Int64(int64(q.visibility / time.Second))
	}

	result, err := q.client.ReceiveMessageWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	deliveries := make([]Delivery, 0, len(result.Messages))
	for _, m := range result.Messages {
		var msg message
		if err := json.Unmarshal([]byte(aws.StringValue(m.Body)), &msg); err != nil || msg.JobID == "" {
			// Poison message: drop it rather than let it be redelivered forever.
			_, _ = q.client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(q.queueURL),
				ReceiptHandle: m.ReceiptHandle,
			})
			continue
		}
		deliveries = append(deliveries, Delivery{JobID: msg.JobID, Handle: aws.StringValue(m.ReceiptHandle)})
	}
	return deliveries, nil
}

func (q *SQSQueue) Ack(ctx context.Context, d Delivery) error {
	_, err := q.client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(d.Handle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

var _ Queue = (*SQSQueue)(nil)
