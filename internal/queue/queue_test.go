package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time instead of sleeping through visibility
// windows.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type deadLetterQueue interface {
	Queue
	DeadLetterReader
}

func forEachQueue(t *testing.T, maxDeliveries int, fn func(t *testing.T, q deadLetterQueue, clock *fakeClock)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		clock := newFakeClock()
		q := NewMemoryQueue(maxDeliveries)
		q.now = clock.Now
		fn(t, q, clock)
	})

	t.Run("sqlite", func(t *testing.T) {
		clock := newFakeClock()
		broker, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
		require.NoError(t, err)
		t.Cleanup(func() { broker.Close() })
		q := broker.Queue("dialogue", maxDeliveries)
		q.now = clock.Now
		fn(t, q, clock)
	})
}

func TestQueue_SendReceiveDelete(t *testing.T) {
	forEachQueue(t, 3, func(t *testing.T, q deadLetterQueue, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, q.Send(ctx, []byte("job-1")))
		require.NoError(t, q.Send(ctx, []byte("job-2")))

		msgs, err := q.Receive(ctx, 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "job-1", string(msgs[0].Body))
		assert.Equal(t, 1, msgs[0].DeliveryCount)

		for _, m := range msgs {
			require.NoError(t, q.Delete(ctx, m.Receipt))
		}

		msgs, err = q.Receive(ctx, 10, time.Minute)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestQueue_LeasedMessagesAreInvisible(t *testing.T) {
	forEachQueue(t, 3, func(t *testing.T, q deadLetterQueue, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, q.Send(ctx, []byte("job")))

		first, err := q.Receive(ctx, 1, time.Minute)
		require.NoError(t, err)
		require.Len(t, first, 1)

		// While leased the message is hidden from other receivers.
		second, err := q.Receive(ctx, 1, time.Minute)
		require.NoError(t, err)
		assert.Empty(t, second)
	})
}

func TestQueue_RedeliveryAfterVisibilityTimeout(t *testing.T) {
	forEachQueue(t, 3, func(t *testing.T, q deadLetterQueue, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, q.Send(ctx, []byte("job")))

		first, err := q.Receive(ctx, 1, time.Minute)
		require.NoError(t, err)
		require.Len(t, first, 1)

		clock.Advance(2 * time.Minute)

		second, err := q.Receive(ctx, 1, time.Minute)
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.Equal(t, first[0].ID, second[0].ID)
		assert.Equal(t, 2, second[0].DeliveryCount)
		assert.NotEqual(t, first[0].Receipt, second[0].Receipt)

		// The lapsed receipt can no longer acknowledge the message.
		assert.ErrorIs(t, q.Delete(ctx, first[0].Receipt), ErrReceiptExpired)
		assert.NoError(t, q.Delete(ctx, second[0].Receipt))
	})
}

func TestQueue_DeadLetterAfterDeliveryLimit(t *testing.T) {
	forEachQueue(t, 2, func(t *testing.T, q deadLetterQueue, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, q.Send(ctx, []byte("poison")))

		for i := 0; i < 2; i++ {
			msgs, err := q.Receive(ctx, 1, time.Minute)
			require.NoError(t, err)
			require.Len(t, msgs, 1, "delivery %d", i+1)
			clock.Advance(2 * time.Minute)
		}

		// Third receive moves the message to the dead-letter sink.
		msgs, err := q.Receive(ctx, 1, time.Minute)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		dead, err := q.DeadLetters(ctx)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, "poison", string(dead[0].Body))
		assert.Equal(t, 2, dead[0].DeliveryCount)

		// And it never comes back.
		msgs, err = q.Receive(ctx, 1, time.Minute)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestQueue_ReceiveHonorsMax(t *testing.T) {
	forEachQueue(t, 3, func(t *testing.T, q deadLetterQueue, clock *fakeClock) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			require.NoError(t, q.Send(ctx, []byte{byte('a' + i)}))
		}

		msgs, err := q.Receive(ctx, 3, time.Minute)
		require.NoError(t, err)
		assert.Len(t, msgs, 3)

		rest, err := q.Receive(ctx, 10, time.Minute)
		require.NoError(t, err)
		assert.Len(t, rest, 2)
	})
}

func TestSQLiteBroker_QueuesAreIsolated(t *testing.T) {
	ctx := context.Background()
	broker, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { broker.Close() })

	dialogue := broker.Queue("dialogue", 3)
	scoring := broker.Queue("scoring", 3)

	require.NoError(t, dialogue.Send(ctx, []byte("d")))

	msgs, err := scoring.Receive(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = dialogue.Receive(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
