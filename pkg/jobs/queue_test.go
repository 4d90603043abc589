package jobs

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	done := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1", Type: "mail"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueueReportsExhaustedJobs(t *testing.T) {
	var mu sync.Mutex
	var exhausted []Job
	done := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		return errors.New("permanent")
	}, QueueConfig{MaxRetries: 1, RetryDelay: time.Millisecond, OnExhausted: func(j Job, err error) {
		mu.Lock()
		exhausted = append(exhausted, j)
		mu.Unlock()
		close(done)
	}})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1", Type: "notify"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never exhausted")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, exhausted, 1)
	assert.Equal(t, 2, exhausted[0].Attempt)
}

func TestQueueRecoversFromPanics(t *testing.T) {
	done := make(chan error, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		panic("boom")
	}, QueueConfig{MaxRetries: 0, OnExhausted: func(j Job, err error) { done <- err }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1"}))
	select {
	case err := <-done:
		assert.Contains(t, err.Error(), "panicked")
	case <-time.After(2 * time.Second):
		t.Fatal("panic not reported")
	}
}

func TestEnqueueBeforeStartFails(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "1"}))
}

func TestQueueStopDrainsBufferedJobs(t *testing.T) {
	var handled int32
	var cancelled int32
	q := NewQueue("drain", func(ctx context.Context, job Job) error {
		time.Sleep(20 * time.Millisecond)
		if ctx.Err() != nil {
			atomic.AddInt32(&cancelled, 1)
		}
		atomic.AddInt32(&handled, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 8})
	q.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{ID: strconv.Itoa(i), Type: "notify"}))
	}
	q.Stop()

	assert.Equal(t, int32(5), atomic.LoadInt32(&handled))
	assert.Zero(t, atomic.LoadInt32(&cancelled))
	assert.Error(t, q.Enqueue(Job{ID: "late"}))
}

func TestQueueStopReportsUnfinishedJobs(t *testing.T) {
	var mu sync.Mutex
	var exhausted []string
	q := NewQueue("drain", func(ctx context.Context, job Job) error {
		return errors.New("provider down")
	}, QueueConfig{Workers: 1, BufferSize: 8, MaxRetries: 3, RetryDelay: time.Hour, OnExhausted: func(j Job, err error) {
		mu.Lock()
		exhausted = append(exhausted, j.ID)
		mu.Unlock()
	}})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "1", Type: "email"}))
	require.NoError(t, q.Enqueue(Job{ID: "2", Type: "email"}))
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"1", "2"}, exhausted)
}

func TestRouterDispatchesByType(t *testing.T) {
	r := NewRouter()
	var got string
	r.Register("email", func(ctx context.Context, job Job) error {
		got = job.ID
		return nil
	})

	require.NoError(t, r.Handle(context.Background(), Job{ID: "j1", Type: "email"}))
	assert.Equal(t, "j1", got)

	err := r.Handle(context.Background(), Job{ID: "j2", Type: "sms"})
	assert.ErrorIs(t, err, ErrNoHandler)
}
