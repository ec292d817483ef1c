package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/myplayer/myplayer-go/internal/monitoring"
)

// DefaultPollInterval bounds how long a worker waits on an empty queue
// before checking for shutdown
const DefaultPollInterval = 250 * time.Millisecond

// JobHandler processes one job. It must call done before reporting the
// job's completion to anyone; done is idempotent.
type JobHandler func(ctx context.Context, job Job, done func())

// Gate decides whether a dequeued job may run now. A positive delay makes
// the worker sleep that long and requeue the job.
type Gate func(job Job) (delay time.Duration, reason string)

// WorkerPool runs a fixed number of workers over one queue
type WorkerPool struct {
	lane         string
	maxWorkers   int
	queue        *JobQueue
	handler      JobHandler
	gate         Gate
	pollInterval time.Duration
	activeJobs   sync.Map // map[string]Job
	logger       *zap.Logger

	mu      sync.RWMutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// NewWorkerPool creates a new worker pool for a lane
func NewWorkerPool(lane string, maxWorkers int, queue *JobQueue, handler JobHandler, logger *zap.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerPool{
		lane:         lane,
		maxWorkers:   maxWorkers,
		queue:        queue,
		handler:      handler,
		pollInterval: DefaultPollInterval,
		logger:       logger.With(zap.String("lane", lane)),
	}
}

// SetGate installs the admission check run on every dequeued job
func (wp *WorkerPool) SetGate(gate Gate) {
	wp.mu.Lock()
	wp.gate = gate
	wp.mu.Unlock()
}

// SetPollInterval changes the queue poll timeout (must be called before Start)
func (wp *WorkerPool) SetPollInterval(d time.Duration) {
	if d > 0 {
		wp.pollInterval = d
	}
}

// Start spawns worker goroutines and begins processing jobs
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool already started")
	}

	if wp.handler == nil {
		return fmt.Errorf("job handler not set")
	}

	ctx, wp.cancel = context.WithCancel(ctx)
	wp.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < wp.maxWorkers; i++ {
		id := i
		wp.group.Go(func() error {
			return wp.worker(ctx, id)
		})
	}

	wp.started = true
	wp.logger.Debug("Worker pool started", zap.Int("workers", wp.maxWorkers))
	return nil
}

// worker is the main worker goroutine that processes jobs
func (wp *WorkerPool) worker(ctx context.Context, id int) error {
	logger := wp.logger.With(zap.Int("worker", id))
	logger.Debug("Worker started")

	for {
		if ctx.Err() != nil {
			logger.Debug("Worker shutting down")
			return nil
		}

		job, ok := wp.queue.Poll(ctx, wp.pollInterval)
		if !ok {
			continue
		}

		wp.mu.RLock()
		gate := wp.gate
		wp.mu.RUnlock()

		if gate != nil {
			if delay, reason := gate(job); delay > 0 {
				sleepCtx(ctx, delay)
				// The job is never dropped, even on shutdown
				wp.queue.Requeue(job)
				monitoring.RecordRequeue(wp.lane, reason)
				continue
			}
		}

		wp.processJob(ctx, job, logger)
	}
}

// processJob runs the handler and keeps the worker alive if it panics
func (wp *WorkerPool) processJob(ctx context.Context, job Job, logger *zap.Logger) {
	wp.activeJobs.Store(job.ID, job)

	var once sync.Once
	done := func() {
		once.Do(func() {
			wp.activeJobs.Delete(job.ID)
			wp.queue.Done(job)
		})
	}
	defer done()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job handler panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", r))
		}
	}()

	wp.handler(ctx, job, done)
}

// Stop cancels the workers and waits for them to finish their current job
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return
	}
	cancel, group := wp.cancel, wp.group
	wp.started = false
	wp.mu.Unlock()

	cancel()
	if err := group.Wait(); err != nil {
		wp.logger.Warn("Worker exited with error", zap.Error(err))
	}
	wp.logger.Debug("Worker pool stopped")
}

// GetActiveJobCount returns the number of jobs currently being processed
func (wp *WorkerPool) GetActiveJobCount() int {
	count := 0
	wp.activeJobs.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}


// GetMaxWorkers returns the maximum number of workers
func (wp *WorkerPool) GetMaxWorkers() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.maxWorkers
}

// Lane returns the lane label
func (wp *WorkerPool) Lane() string {
	return wp.lane
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
