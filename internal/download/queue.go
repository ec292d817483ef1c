package download

import (
	"context"
	"sync"
	"time"

	"github.com/myplayer/myplayer-go/internal/library"
)

// JobQueue is an unbounded FIFO safe for many producers and consumers.
// Put never blocks. A polled job stays counted as taken until Done or
// Requeue is called for it.
type JobQueue struct {
	mu     sync.Mutex
	items  []Job
	keys   map[library.Key]int
	taken  map[library.Key]int
	notify chan struct{}
}

// NewJobQueue creates an empty queue
func NewJobQueue() *JobQueue {
	return &JobQueue{
		keys:   make(map[library.Key]int),
		taken:  make(map[library.Key]int),
		notify: make(chan struct{}),
	}
}

// Put appends a job and wakes any waiting consumers
func (q *JobQueue) Put(job Job) {
	q.mu.Lock()
	q.put(job)
	q.mu.Unlock()
}

// Requeue puts back a job obtained from Poll
func (q *JobQueue) Requeue(job Job) {
	q.mu.Lock()
	q.release(job.Song.Key())
	q.put(job)
	q.mu.Unlock()
}

// Done marks a polled job as finished
func (q *JobQueue) Done(job Job) {
	q.mu.Lock()
	q.release(job.Song.Key())
	q.mu.Unlock()
}

func (q *JobQueue) put(job Job) {
	q.items = append(q.items, job)
	q.keys[job.Song.Key()]++
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *JobQueue) release(k library.Key) {
	if q.taken[k]--; q.taken[k] <= 0 {
		delete(q.taken, k)
	}
}

// Poll removes the oldest job, waiting at most timeout for one to arrive
func (q *JobQueue) Poll(ctx context.Context, timeout time.Duration) (Job, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = Job{}
			q.items = q.items[1:]
			k := job.Song.Key()
			if q.keys[k]--; q.keys[k] <= 0 {
				delete(q.keys, k)
			}
			q.taken[k]++
			q.mu.Unlock()
			return job, true
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return Job{}, false
		case <-ctx.Done():
			return Job{}, false
		}
	}
}

// Len returns the number of queued jobs
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Taken returns the number of polled jobs not yet marked done
func (q *JobQueue) Taken() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, c := range q.taken {
		n += c
	}
	return n
}

// Busy reports whether any job is queued or taken
func (q *JobQueue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0 || len(q.taken) > 0
}

// Contains reports whether a job for the song key is queued or taken
func (q *JobQueue) Contains(k library.Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.keys[k] > 0 || q.taken[k] > 0
}
