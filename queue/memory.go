package queue

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

// MemoryQueue is an in-process JobQueue with the same delivery semantics as
// the Redis backend. It backs tests and single-node development.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []*core.Job
	delayed map[string]delayedJob
	closed  bool
	wake    chan struct{}
	now     func() time.Time
}

type delayedJob struct {
	job    *core.Job
	fireAt time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		delayed: map[string]delayedJob{},
		wake:    make(chan struct{}, 1),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (q *MemoryQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return core.ErrQueueUnavailable
	}
	return nil
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *core.Job) error {
	return q.EnqueueBatch(ctx, []*core.Job{job})
}

func (q *MemoryQueue) EnqueueBatch(ctx context.Context, jobs []*core.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return core.ErrQueueUnavailable
	}
	q.pending = append(q.pending, jobs...)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, core.ErrQueueUnavailable
		}
		q.promoteDueLocked()
		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return &memoryDelivery{queue: q, job: job}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) ScheduleJob(ctx context.Context, job *core.Job, fireAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return core.ErrQueueUnavailable
	}
	q.delayed[job.ID] = delayedJob{job: job, fireAt: fireAt.UTC()}
	return nil
}

func (q *MemoryQueue) CancelJob(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.delayed, jobID)
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Advance promotes delayed jobs due at the supplied instant. Tests use it to
// fire scheduled work without waiting on wall-clock time.
func (q *MemoryQueue) Advance(at time.Time) {
	q.mu.Lock()
	q.now = func() time.Time { return at.UTC() }
	q.promoteDueLocked()
	q.mu.Unlock()
	q.signal()
}

func (q *MemoryQueue) promoteDueLocked() {
	now := q.now()
	for id, entry := range q.delayed {
		if !entry.fireAt.After(now) {
			q.pending = append(q.pending, entry.job)
			delete(q.delayed, id)
		}
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

type memoryDelivery struct {
	queue *MemoryQueue
	job   *core.Job
	once  sync.Once
}

func (d *memoryDelivery) Job() *core.Job {
	return d.job
}

func (d *memoryDelivery) Ack(ctx context.Context) error {
	d.once.Do(func() {})
	return nil
}

func (d *memoryDelivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	d.once.Do(func() {
		if !opts.Requeue {
			return
		}
		if opts.Delay > 0 {
			_ = d.queue.ScheduleJob(ctx, d.job, d.queue.nowFn().Add(opts.Delay))
			return
		}
		_ = d.queue.Enqueue(ctx, d.job)
	})
	return nil
}

func (q *MemoryQueue) nowFn() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.now()
}

var (
	_ core.JobQueue    = (*MemoryQueue)(nil)
	_ core.JobDelivery = (*memoryDelivery)(nil)
)
