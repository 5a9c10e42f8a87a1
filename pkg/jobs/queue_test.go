package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPermanent = errors.New("permanent")

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{MaxAttempts: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1"}))
	q.Drain()
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueueExhaustsAfterMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	var exhausted []Job
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		return errors.New("transient")
	}, QueueConfig{
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		OnExhausted: func(ctx context.Context, job Job, err error) {
			mu.Lock()
			defer mu.Unlock()
			exhausted = append(exhausted, job)
		},
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1"}))
	q.Drain()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, exhausted, 1)
	assert.Equal(t, 3, exhausted[0].Attempt)
}

func TestQueueSkipsRetryForPermanentErrors(t *testing.T) {
	var calls int32
	var exhaustedErr error
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		return errPermanent
	}, QueueConfig{
		MaxAttempts: 5,
		RetryDelay:  time.Millisecond,
		ShouldRetry: func(err error) bool { return !errors.Is(err, errPermanent) },
		OnExhausted: func(ctx context.Context, job Job, err error) { exhaustedErr = err },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1"}))
	q.Drain()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.ErrorIs(t, exhaustedErr, errPermanent)
}

func TestEnqueueBeforeStartFails(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
}

func TestBackoffIsLinear(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Backoff(1, 100*time.Millisecond))
	assert.Equal(t, 300*time.Millisecond, Backoff(3, 100*time.Millisecond))
	assert.Equal(t, 100*time.Millisecond, Backoff(0, 100*time.Millisecond))
}
