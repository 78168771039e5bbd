package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialecticlabs/dialectic/internal/domain"
	"github.com/dialecticlabs/dialectic/internal/queue"
)

func fastConfig(name string) Config {
	return Config{
		Name:         name,
		Concurrency:  2,
		Visibility:   100 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
}

// runPool runs p in the background and returns a stop function that blocks
// until the pool exits.
func runPool(t *testing.T, p *Pool) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("pool did not stop")
		}
	}
}

func TestPool_ProcessesAndAcknowledges(t *testing.T) {
	q := queue.NewMemoryQueue(3)

	var mu sync.Mutex
	var seen []string
	p := NewPool(q, func(ctx context.Context, msg queue.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(msg.Body))
		return nil
	}, fastConfig("test"), nil)

	ctx := context.Background()
	for _, body := range []string{"a", "b", "c"} {
		require.NoError(t, q.Send(ctx, []byte(body)))
	}

	stop := runPool(t, p)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
	assert.Zero(t, q.Len(), "acknowledged messages must be gone")
}

func TestPool_FailedHandlerLeadsToRedelivery(t *testing.T) {
	q := queue.NewMemoryQueue(5)

	var mu sync.Mutex
	deliveries := 0
	p := NewPool(q, func(ctx context.Context, msg queue.Message) error {
		mu.Lock()
		defer mu.Unlock()
		deliveries++
		if deliveries < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastConfig("retry"), nil)

	require.NoError(t, q.Send(context.Background(), []byte("flaky")))

	stop := runPool(t, p)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries >= 3
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	assert.Zero(t, q.Len())
}

func TestPool_PoisonMessageDeadLetters(t *testing.T) {
	q := queue.NewMemoryQueue(2)

	p := NewPool(q, func(ctx context.Context, msg queue.Message) error {
		return errors.New("always fails")
	}, fastConfig("poison"), nil)

	require.NoError(t, q.Send(context.Background(), []byte("poison")))

	stop := runPool(t, p)
	require.Eventually(t, func() bool {
		dead, err := q.DeadLetters(context.Background())
		return err == nil && len(dead) == 1
	}, 5*time.Second, 10*time.Millisecond)
	stop()
}

func TestJobHandler_DecodesAndValidates(t *testing.T) {
	var got domain.ScoringJob
	handler := JobHandler(func(ctx context.Context, job domain.ScoringJob) error {
		got = job
		return nil
	})

	runID := uuid.NewString()
	body, err := domain.EncodeJob(domain.ScoringJob{RunID: runID, TurnIndex: 2})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), queue.Message{Body: body}))
	assert.Equal(t, runID, got.RunID)
	assert.Equal(t, 2, got.TurnIndex)

	// Garbage and invalid payloads error so the message dead-letters.
	assert.Error(t, handler(context.Background(), queue.Message{Body: []byte("{")}))
	invalid, err := domain.EncodeJob(domain.ScoringJob{RunID: "not-a-uuid"})
	require.NoError(t, err)
	assert.Error(t, handler(context.Background(), queue.Message{Body: invalid}))
}
