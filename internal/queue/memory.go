package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryMessage struct {
	id            string
	body          []byte
	receipt       string
	visibleAt     time.Time
	deliveryCount int
}

// MemoryQueue is an in-process Queue used by tests and single-binary
// deployments. It is safe for concurrent use.
type MemoryQueue struct {
	mu            sync.Mutex
	messages      []*memoryMessage
	dead          []*memoryMessage
	maxDeliveries int
	now           func() time.Time
}

// NewMemoryQueue creates an empty queue with the given delivery limit.
// A limit of zero falls back to DefaultMaxDeliveries.
func NewMemoryQueue(maxDeliveries int) *MemoryQueue {
	if maxDeliveries <= 0 {
		maxDeliveries = DefaultMaxDeliveries
	}
	return &MemoryQueue{maxDeliveries: maxDeliveries, now: time.Now}
}

func (q *MemoryQueue) Send(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.messages = append(q.messages, &memoryMessage{
		id:   uuid.NewString(),
		body: append([]byte(nil), body...),
	})
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Message
	kept := q.messages[:0]
	for _, m := range q.messages {
		if len(out) >= max || now.Before(m.visibleAt) {
			kept = append(kept, m)
			continue
		}
		if m.deliveryCount >= q.maxDeliveries {
			m.receipt = ""
			q.dead = append(q.dead, m)
			continue
		}
		m.deliveryCount++
		m.receipt = uuid.NewString()
		m.visibleAt = now.Add(visibility)
		kept = append(kept, m)
		out = append(out, Message{
			ID:            m.id,
			Body:          append([]byte(nil), m.body...),
			Receipt:       m.receipt,
			DeliveryCount: m.deliveryCount,
		})
	}
	q.messages = kept
	return out, nil
}

func (q *MemoryQueue) Delete(ctx context.Context, receipt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for i, m := range q.messages {
		if m.receipt == receipt && now.Before(m.visibleAt) {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return nil
		}
	}
	return ErrReceiptExpired
}

func (q *MemoryQueue) DeadLetters(ctx context.Context) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Message, 0, len(q.dead))
	for _, m := range q.dead {
		out = append(out, Message{
			ID:            m.id,
			Body:          append([]byte(nil), m.body...),
			DeliveryCount: m.deliveryCount,
		})
	}
	return out, nil
}

// Len reports how many messages are pending or leased, excluding dead
// letters.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
