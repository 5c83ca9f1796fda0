package queue

import (
	"context"
	"errors"
	"fmt"
)

const (
	// BillingFailureQueue carries dunning triggers.
	BillingFailureQueue = "dunning.billing_failures"
	// JobQueue carries due scheduled jobs.
	JobQueue = "dunning.jobs"
)

// ErrInvalidMessage marks a delivery that can never be processed. The
// consumer dead-letters it instead of requeueing.
var ErrInvalidMessage = errors.New("invalid message")

// Message is anything the publisher can put on a queue.
type Message interface {
	Validate() error
	MessageID() string
	Correlation() string
}

// Publisher publishes messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
	Close() error
}

// Delivery is a consumed message body with its broker metadata.
type Delivery struct {
	Body          []byte
	MessageID     string
	CorrelationID string
	Redelivered   bool
	// DeliveryCount is the number of earlier deliveries of this message.
	DeliveryCount int
}

// DeliveryHandler handles a consumed delivery. Returning an error wrapping
// ErrInvalidMessage rejects the delivery; any other error requeues it.
type DeliveryHandler func(ctx context.Context, d Delivery) error

// Consumer consumes messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler DeliveryHandler) error
	Close() error
}

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.dunning.jobs.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	return []string{BillingFailureQueue, JobQueue}
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	queues := make([]string, 0, 2)
	for _, q := range WorkQueueNames() {
		queues = append(queues, DLQName(q))
	}
	return queues
}
