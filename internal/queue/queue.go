// Package queue provides at-least-once message delivery between pipeline
// stages.
//
// The contract mirrors a visibility-timeout queue: Receive leases messages
// for a caller-chosen duration, Delete acknowledges a lease, and a message
// whose lease lapses without acknowledgement is redelivered with an
// incremented delivery count. A message that reaches the queue's delivery
// limit is moved to a dead-letter sink instead of being handed out again.
//
// Consumers must therefore make their effects idempotent; the queue promises
// that no acknowledged message is lost, not that any message is seen once.
package queue

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxDeliveries is the delivery limit applied when a queue is opened
// without an explicit one.
const DefaultMaxDeliveries = 3

// ErrReceiptExpired is returned by Delete when the receipt no longer
// identifies a live lease, typically because the visibility timeout lapsed
// and the message was leased to someone else.
var ErrReceiptExpired = errors.New("queue: receipt expired")

// Message is a single leased delivery.
type Message struct {
	// ID is stable across redeliveries of the same message.
	ID string
	// Body is the payload exactly as passed to Send.
	Body []byte
	// Receipt identifies this particular lease and is required to Delete.
	Receipt string
	// DeliveryCount is 1 on first delivery.
	DeliveryCount int
}

// Queue is the transport between pipeline stages.
type Queue interface {
	// Send enqueues a message for immediate delivery.
	Send(ctx context.Context, body []byte) error

	// Receive leases up to max messages for the visibility duration.
	// It returns immediately with whatever is available, possibly nothing.
	Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error)

	// Delete acknowledges the lease identified by receipt and removes the
	// message permanently.
	Delete(ctx context.Context, receipt string) error
}

// DeadLetterReader exposes the dead-letter sink for inspection. Both
// adapters implement it alongside Queue.
type DeadLetterReader interface {
	// DeadLetters returns messages that exhausted their delivery limit,
	// oldest first.
	DeadLetters(ctx context.Context) ([]Message, error)
}
