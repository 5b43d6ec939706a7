// Package async runs wake-up call executions on a bounded pool of workers.
package async

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/logger"
)

// Pool defaults
const (
	DefaultWorkers     = 4
	DefaultTaskTimeout = 60 * time.Second
	stopTimeout        = 30 * time.Second
	releaseTimeout     = 5 * time.Second
)

// Handler runs one task
type Handler func(ctx context.Context, id string) error

// Releaser takes back task ids that were accepted but never started
type Releaser interface {
	Release(ctx context.Context, id string) error
}

// pulseLogger marks pool lifecycle events with opening and closing glyphs
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Infow("✿ "+msg, keysAndValues...)
}

// Closing logs a closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Infow("❀ "+msg, keysAndValues...)
}

// WorkerPoolConfig configures a WorkerPool
type WorkerPoolConfig struct {
	Workers       int
	QueueSize     int
	TaskTimeout   time.Duration
	RatePerSecond float64 // task starts per second, 0 = unlimited
}

// WorkerPool pulls task ids off a Queue and runs them with Handler
type WorkerPool struct {
	queue       *Queue
	handler     Handler
	workers     int
	taskTimeout time.Duration
	limiter     *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	releaser Releaser

	running      atomic.Int64
	processed    atomic.Int64
	failed       atomic.Int64
	panics       atomic.Int64
	rejected     atomic.Int64
	deduplicated atomic.Int64
	released     atomic.Int64

	logger pulseLogger
}

// NewWorkerPool creates a pool. Call Start before submitting.
func NewWorkerPool(cfg WorkerPoolConfig, handler Handler, log *zap.SugaredLogger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &WorkerPool{
		queue:       NewQueue(cfg.QueueSize),
		handler:     handler,
		workers:     cfg.Workers,
		taskTimeout: cfg.TaskTimeout,
		limiter:     rate.NewLimiter(toLimit(cfg.RatePerSecond), 1),
		logger:      pulseLogger{log.Named("pulse.async")},
	}
}

func toLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

// Start launches the workers. Cancelling ctx stops them.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return
	}
	wp.started = true
	wp.ctx, wp.cancel = context.WithCancel(ctx)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Starting("Worker pool started",
		"workers", wp.workers,
		"queue_size", wp.queue.Cap(),
		"task_timeout", wp.taskTimeout,
	)
}

// SetReleaser sets who takes back ids still queued when the pool stops
func (wp *WorkerPool) SetReleaser(r Releaser) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.releaser = r
}

// Stop cancels running tasks and waits up to 30s for workers to exit. Ids
// still queued are handed to the Releaser.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return
	}
	wp.started = false
	wp.mu.Unlock()

	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		wp.logger.Warnw("Worker pool stop timed out, tasks may still be running", "timeout", stopTimeout)
	}

	n := wp.drain()
	wp.logger.Closing("Worker pool stopped", "released", n)
}

// drain empties the queue, releasing every id that never started
func (wp *WorkerPool) drain() int {
	n := 0
	for {
		select {
		case id := <-wp.queue.C():
			wp.release(id)
			n++
		default:
			return n
		}
	}
}

func (wp *WorkerPool) release(id string) {
	defer wp.queue.Done(id)

	wp.mu.Lock()
	r := wp.releaser
	wp.mu.Unlock()
	if r == nil {
		wp.logger.Warnw("Dropping unstarted task, no releaser set", logger.FieldCallID, id)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := r.Release(ctx, id); err != nil {
		wp.logger.Errorw("Failed to release unstarted task", logger.FieldCallID, id, logger.FieldError, err)
		return
	}
	wp.released.Add(1)
}

// Submit queues a task id without blocking. Returns false when the id is
// already queued or running, and ErrQueueFull when the queue is full.
func (wp *WorkerPool) Submit(id string) (bool, error) {
	ok, err := wp.queue.Enqueue(id)
	switch {
	case err != nil:
		wp.rejected.Add(1)
		return false, err
	case !ok:
		wp.deduplicated.Add(1)
		return false, nil
	}
	return true, nil
}

// HasCapacity reports whether Submit would find a free queue slot
func (wp *WorkerPool) HasCapacity() bool {
	return wp.queue.Len() < wp.queue.Cap()
}

// SetRate changes the task start rate. 0 removes the limit.
func (wp *WorkerPool) SetRate(perSecond float64) {
	wp.limiter.SetLimit(toLimit(perSecond))
	wp.logger.Infow("Worker rate limit changed", "rate_per_second", perSecond)
}

// Rate returns the current task start rate, 0 when unlimited
func (wp *WorkerPool) Rate() float64 {
	l := wp.limiter.Limit()
	if l == rate.Inf {
		return 0
	}
	return float64(l)
}

func (wp *WorkerPool) worker(n int) {
	defer wp.wg.Done()
	for {
		select {
		case <-wp.ctx.Done():
			return
		case id := <-wp.queue.C():
			// a stopping pool can still win the race for a queued id
			if wp.ctx.Err() != nil || wp.limiter.Wait(wp.ctx) != nil {
				wp.release(id)
				return
			}
			wp.run(n, id)
		}
	}
}

func (wp *WorkerPool) run(worker int, id string) {
	defer wp.queue.Done(id)
	wp.running.Add(1)
	defer wp.running.Add(-1)

	ctx, cancel := context.WithTimeout(logger.WithCallID(wp.ctx, id), wp.taskTimeout)
	defer cancel()

	err := wp.safeCall(ctx, id)
	wp.processed.Add(1)
	if err != nil {
		wp.failed.Add(1)
		wp.logger.Errorw("Task failed", "worker_id", worker, logger.FieldCallID, id, logger.FieldError, err)
	}
}

func (wp *WorkerPool) safeCall(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			wp.panics.Add(1)
			err = errors.Newf("task panicked: %v", r)
		}
	}()
	return wp.handler(ctx, id)
}

// Stats is a snapshot of pool activity
type Stats struct {
	Workers       int           `json:"workers"`
	Queued        int           `json:"queued"`
	QueueCapacity int           `json:"queue_capacity"`
	Running       int64         `json:"running"`
	Processed     int64         `json:"processed"`
	Failed        int64         `json:"failed"`
	Panics        int64         `json:"panics"`
	Rejected      int64         `json:"rejected"`
	Deduplicated  int64         `json:"deduplicated"`
	Released      int64         `json:"released"`
	RatePerSecond float64       `json:"rate_per_second"`
	System        SystemMetrics `json:"system"`
}

// Stats returns current counters and host memory usage
func (wp *WorkerPool) Stats() Stats {
	return Stats{
		Workers:       wp.workers,
		Queued:        wp.queue.Len(),
		QueueCapacity: wp.queue.Cap(),
		Running:       wp.running.Load(),
		Processed:     wp.processed.Load(),
		Failed:        wp.failed.Load(),
		Panics:        wp.panics.Load(),
		Rejected:      wp.rejected.Load(),
		Deduplicated:  wp.deduplicated.Load(),
		Released:      wp.released.Load(),
		RatePerSecond: wp.Rate(),
		System:        readSystemMetrics(),
	}
}
