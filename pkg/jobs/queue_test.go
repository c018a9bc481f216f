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

func startedQueue(t *testing.T, cfg QueueConfig) *Queue {
	t.Helper()
	q := NewQueue("test", cfg)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func TestSubmitBeforeStartFails(t *testing.T) {
	q := NewQueue("idle", QueueConfig{})
	_, err := q.Submit(context.Background(), "save", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestJobsNeverInterleave(t *testing.T) {
	q := startedQueue(t, QueueConfig{BufferSize: 16})

	var running int32
	var overlap int32
	var mu sync.Mutex
	var order []int

	tickets := make([]*Ticket, 0, 10)
	for i := 0; i < 10; i++ {
		i := i
		ticket, err := q.Submit(context.Background(), "save", func(context.Context) error {
			if atomic.AddInt32(&running, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&running, -1)
			return nil
		})
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}
	for _, ticket := range tickets {
		require.NoError(t, ticket.Wait(context.Background()))
	}

	assert.Equal(t, int32(0), atomic.LoadInt32(&overlap))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestDoReturnsJobError(t *testing.T) {
	q := startedQueue(t, QueueConfig{})
	boom := errors.New("disk full")
	err := q.Do(context.Background(), "save", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRetriesUntilSuccess(t *testing.T) {
	q := startedQueue(t, QueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond})
	var calls int32
	err := q.Do(context.Background(), "save", func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWaitHonoursContext(t *testing.T) {
	q := startedQueue(t, QueueConfig{})
	release := make(chan struct{})
	ticket, err := q.Submit(context.Background(), "slow", func(context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ticket.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, ticket.Wait(context.Background()))
}

func TestRetryIfStopsPermanentErrors(t *testing.T) {
	permanent := errors.New("malformed")
	q := startedQueue(t, QueueConfig{
		MaxRetries: 5,
		RetryDelay: time.Millisecond,
		RetryIf:    func(err error) bool { return !errors.Is(err, permanent) },
	})
	var calls int32
	err := q.Do(context.Background(), "load", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
