package queue

import (
	"context"
	"fmt"
)

// JobsQueueName is the durable queue carrying batch job lifecycle events.
const JobsQueueName = "batch.jobs"

// Publisher publishes job lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg JobMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg JobMessage) error

// Consumer consumes job lifecycle events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// DLQName returns the dead-letter queue for a work queue, e.g. dlq.batch.jobs.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}
