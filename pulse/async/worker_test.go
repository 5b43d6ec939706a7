package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/wakeup/errors"
)

func TestQueue_DedupAndCapacity(t *testing.T) {
	q := NewQueue(2)

	ok, err := q.Enqueue("a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Enqueue("a")
	require.NoError(t, err)
	assert.False(t, ok, "duplicate id while queued")

	ok, err = q.Enqueue("b")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = q.Enqueue("c")
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, 2, q.Len())

	<-q.C()
	q.Done("a")
	ok, err = q.Enqueue("a")
	require.NoError(t, err)
	assert.True(t, ok, "released ids can be queued again")
}

func TestWorkerPool_RunsTasks(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	wg.Add(3)

	pool := NewWorkerPool(WorkerPoolConfig{Workers: 2, QueueSize: 8}, func(ctx context.Context, id string) error {
		defer wg.Done()
		mu.Lock()
		seen[id]++
		mu.Unlock()
		if id == "bad" {
			return errors.New("delivery failed")
		}
		return nil
	}, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	for _, id := range []string{"one", "two", "bad"} {
		ok, err := pool.Submit(id)
		require.NoError(t, err)
		require.True(t, ok)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return pool.Stats().Processed == 3 }, time.Second, 5*time.Millisecond)
	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, map[string]int{"one": 1, "two": 1, "bad": 1}, seen)
}

func TestWorkerPool_DedupWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var runs int32

	pool := NewWorkerPool(WorkerPoolConfig{Workers: 1, QueueSize: 4}, func(ctx context.Context, id string) error {
		atomic.AddInt32(&runs, 1)
		started <- struct{}{}
		<-release
		return nil
	}, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	ok, err := pool.Submit("call-1")
	require.NoError(t, err)
	require.True(t, ok)
	<-started

	ok, err = pool.Submit("call-1")
	require.NoError(t, err)
	assert.False(t, ok, "running id is not queued twice")
	assert.Equal(t, int64(1), pool.Stats().Deduplicated)

	close(release)
	require.Eventually(t, func() bool { return pool.Stats().Processed == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestWorkerPool_QueueFull(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{Workers: 1, QueueSize: 1}, func(context.Context, string) error { return nil }, nil)

	ok, err := pool.Submit("a")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = pool.Submit("b")
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, int64(1), pool.Stats().Rejected)
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	errs := make(chan error, 1)
	pool := NewWorkerPool(WorkerPoolConfig{Workers: 1, TaskTimeout: 20 * time.Millisecond}, func(ctx context.Context, id string) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	}, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	_, err := pool.Submit("slow")
	require.NoError(t, err)

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(2 * time.Second):
		t.Fatal("task deadline not applied")
	}
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{Workers: 1}, func(ctx context.Context, id string) error {
		if id == "boom" {
			panic("unexpected")
		}
		return nil
	}, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	_, err := pool.Submit("boom")
	require.NoError(t, err)
	_, err = pool.Submit("fine")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pool.Stats().Processed == 2 }, time.Second, 5*time.Millisecond)
	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Panics)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestWorkerPool_RateLimit(t *testing.T) {
	var count int32
	pool := NewWorkerPool(WorkerPoolConfig{Workers: 2, RatePerSecond: 5}, func(context.Context, string) error {
		atomic.AddInt32(&count, 1)
		return nil
	}, nil)
	assert.Equal(t, 5.0, pool.Rate())

	pool.Start(context.Background())
	defer pool.Stop()

	for _, id := range []string{"a", "b", "c"} {
		_, err := pool.Submit(id)
		require.NoError(t, err)
	}
	time.Sleep(100 * time.Millisecond)
	assert.Less(t, atomic.LoadInt32(&count), int32(3), "starts are throttled")

	pool.SetRate(0)
	assert.Zero(t, pool.Rate())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerPool_StopCancelsTasks(t *testing.T) {
	cancelled := make(chan struct{})
	pool := NewWorkerPool(WorkerPoolConfig{Workers: 1}, func(ctx context.Context, id string) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}, nil)
	pool.Start(context.Background())

	_, err := pool.Submit("long")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pool.Stats().Running == 1 }, time.Second, 5*time.Millisecond)

	pool.Stop()
	select {
	case <-cancelled:
	default:
		t.Fatal("running task was not cancelled")
	}
	pool.Stop()
}

type recordingReleaser struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingReleaser) Release(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func TestWorkerPool_StopReleasesQueued(t *testing.T) {
	var ran atomic.Int64
	pool := NewWorkerPool(WorkerPoolConfig{Workers: 1, QueueSize: 8}, func(ctx context.Context, id string) error {
		ran.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	releaser := &recordingReleaser{}
	pool.SetReleaser(releaser)
	pool.Start(context.Background())

	_, err := pool.Submit("running")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pool.Stats().Running == 1 }, time.Second, 5*time.Millisecond)
	for _, id := range []string{"queued-1", "queued-2"} {
		ok, err := pool.Submit(id)
		require.NoError(t, err)
		require.True(t, ok)
	}

	pool.Stop()

	assert.Equal(t, int64(1), ran.Load(), "queued tasks never start after stop")
	assert.ElementsMatch(t, []string{"queued-1", "queued-2"}, releaser.ids)
	assert.Equal(t, int64(2), pool.Stats().Released)
	assert.Zero(t, pool.Stats().Queued)
}
