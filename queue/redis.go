package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-dispatch/core"
)

const (
	defaultBlockTimeout  = 5 * time.Second
	defaultPromoteEvery  = time.Second
	deadLetterKeepAtMost = 10_000
)

// promoteScript moves due delayed jobs onto the pending list atomically so
// two pollers never double-promote one job.
// KEYS[1] delayed zset, KEYS[2] pending list; ARGV[1] now, ARGV[2] batch max.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
end
return #due
`)

// RedisQueue is the durable job queue: a pending list for ready work, a
// processing list for in-flight deliveries, and a delayed zset for retry
// backoff and one-shot scheduled jobs. Payloads live under their own key so
// list members stay small.
type RedisQueue struct {
	client       redis.UniversalClient
	name         string
	blockTimeout time.Duration
	promoteEvery time.Duration
	now          func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type RedisOption func(*RedisQueue)

func WithRedisClient(client redis.UniversalClient) RedisOption {
	return func(q *RedisQueue) {
		if client != nil {
			q.client = client
		}
	}
}

func WithBlockTimeout(timeout time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if timeout > 0 {
			q.blockTimeout = timeout
		}
	}
}

func WithPromoteInterval(interval time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if interval > 0 {
			q.promoteEvery = interval
		}
	}
}

func WithClock(now func() time.Time) RedisOption {
	return func(q *RedisQueue) {
		if now != nil {
			q.now = now
		}
	}
}

func NewRedisQueue(cfg core.QueueConfig, options ...RedisOption) (*RedisQueue, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("queue: queue name is required")
	}
	q := &RedisQueue{
		name:         name,
		blockTimeout: defaultBlockTimeout,
		promoteEvery: defaultPromoteEvery,
		now: func() time.Time {
			return time.Now().UTC()
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(q)
	}
	if q.client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, fmt.Errorf("queue: redis address is required")
		}
		q.client = redis.NewClient(&redis.Options{Addr: addr})
	}
	go q.promoteLoop()
	return q, nil
}

func (q *RedisQueue) pendingKey() string    { return q.name + ":pending" }
func (q *RedisQueue) processingKey() string { return q.name + ":processing" }
func (q *RedisQueue) delayedKey() string    { return q.name + ":delayed" }
func (q *RedisQueue) deadKey() string       { return q.name + ":dead" }
func (q *RedisQueue) jobKey(id string) string {
	return q.name + ":job:" + id
}

// Ping verifies the backend is reachable within a bounded timeout so setup
// can fail fast instead of accepting work it cannot persist.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if q == nil || q.client == nil {
		return core.ErrQueueUnavailable
	}
	pingCtx, cancel := context.WithTimeout(ctx, q.blockTimeout)
	defer cancel()
	if err := q.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *core.Job) error {
	return q.EnqueueBatch(ctx, []*core.Job{job})
}

// EnqueueBatch persists every payload and pushes the ids in one pipeline
// round trip, preserving resolution order.
func (q *RedisQueue) EnqueueBatch(ctx context.Context, jobs []*core.Job) error {
	if q == nil || q.client == nil {
		return core.ErrQueueUnavailable
	}
	if len(jobs) == 0 {
		return nil
	}
	pipe := q.client.TxPipeline()
	for _, job := range jobs {
		payload, err := encodeJob(job)
		if err != nil {
			return err
		}
		pipe.Set(ctx, q.jobKey(job.ID), payload, 0)
		pipe.LPush(ctx, q.pendingKey(), job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: enqueue: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

// Dequeue blocks until a job is ready or the context ends. The id moves to
// the processing list first so a crashed consumer leaves a visible orphan
// instead of a lost job.
func (q *RedisQueue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if q == nil || q.client == nil {
		return nil, core.ErrQueueUnavailable
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, err := q.client.BLMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT", q.blockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: dequeue: %v", core.ErrQueueUnavailable, err)
		}

		payload, err := q.client.Get(ctx, q.jobKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			// Payload was cancelled out from under the id; drop the orphan.
			_ = q.client.LRem(ctx, q.processingKey(), 1, id).Err()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: load job %s: %v", core.ErrQueueUnavailable, id, err)
		}
		job, err := decodeJob([]byte(payload))
		if err != nil {
			_ = q.client.LRem(ctx, q.processingKey(), 1, id).Err()
			_ = q.client.Del(ctx, q.jobKey(id)).Err()
			return nil, err
		}
		return &redisDelivery{queue: q, job: job}, nil
	}
}

// ScheduleJob upserts a one-shot delayed job keyed by its id: scheduling the
// same id again replaces both payload and fire time.
func (q *RedisQueue) ScheduleJob(ctx context.Context, job *core.Job, fireAt time.Time) error {
	if q == nil || q.client == nil {
		return core.ErrQueueUnavailable
	}
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), payload, 0)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(fireAt.UTC().Unix()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: schedule job: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

// CancelJob removes a delayed job. Cancelling an id that already fired or
// never existed is a no-op.
func (q *RedisQueue) CancelJob(ctx context.Context, jobID string) error {
	if q == nil || q.client == nil {
		return core.ErrQueueUnavailable
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.delayedKey(), jobID)
	pipe.Del(ctx, q.jobKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: cancel job: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	if q == nil {
		return nil
	}
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	<-q.done
	return q.client.Close()
}

func (q *RedisQueue) promoteLoop() {
	defer close(q.done)
	ticker := time.NewTicker(q.promoteEvery)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), q.blockTimeout)
			_ = promoteScript.Run(ctx, q.client,
				[]string{q.delayedKey(), q.pendingKey()},
				q.now().Unix(), 128,
			).Err()
			cancel()
		}
	}
}

type redisDelivery struct {
	queue *RedisQueue
	job   *core.Job
	once  sync.Once
}

func (d *redisDelivery) Job() *core.Job {
	return d.job
}

func (d *redisDelivery) Ack(ctx context.Context) error {
	var err error
	d.once.Do(func() {
		pipe := d.queue.client.TxPipeline()
		pipe.LRem(ctx, d.queue.processingKey(), 1, d.job.ID)
		pipe.Del(ctx, d.queue.jobKey(d.job.ID))
		_, err = pipe.Exec(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: ack: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

func (d *redisDelivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	var err error
	d.once.Do(func() {
		payload, encodeErr := encodeJob(d.job)
		if encodeErr != nil {
			err = encodeErr
			return
		}
		pipe := d.queue.client.TxPipeline()
		pipe.LRem(ctx, d.queue.processingKey(), 1, d.job.ID)
		switch {
		case opts.Requeue && opts.Delay > 0:
			pipe.Set(ctx, d.queue.jobKey(d.job.ID), payload, 0)
			pipe.ZAdd(ctx, d.queue.delayedKey(), redis.Z{
				Score:  float64(d.queue.now().Add(opts.Delay).Unix()),
				Member: d.job.ID,
			})
		case opts.Requeue:
			pipe.Set(ctx, d.queue.jobKey(d.job.ID), payload, 0)
			pipe.LPush(ctx, d.queue.pendingKey(), d.job.ID)
		case opts.DeadLetter:
			entry, encodeErr := encodeDeadEntry(d.job, opts.Reason, d.queue.now())
			if encodeErr != nil {
				err = encodeErr
				return
			}
			pipe.LPush(ctx, d.queue.deadKey(), entry)
			pipe.LTrim(ctx, d.queue.deadKey(), 0, deadLetterKeepAtMost-1)
			pipe.Del(ctx, d.queue.jobKey(d.job.ID))
		default:
			pipe.Del(ctx, d.queue.jobKey(d.job.ID))
		}
		_, err = pipe.Exec(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: nack: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

var (
	_ core.JobQueue    = (*RedisQueue)(nil)
	_ core.JobDelivery = (*redisDelivery)(nil)
)

type jobEnvelope struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Event        eventEnvelope   `json:"event"`
	Target       core.HookTarget `json:"target"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
}

type eventEnvelope struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Actor      actorEnvelope  `json:"actor"`
	Data       map[string]any `json:"data,omitempty"`
}

type actorEnvelope struct {
	Kind        string `json:"kind"`
	PrincipalID string `json:"principal_id,omitempty"`
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
}

func encodeJob(job *core.Job) ([]byte, error) {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return nil, fmt.Errorf("queue: job with an id is required")
	}
	return json.Marshal(jobEnvelope{
		ID:   job.ID,
		Name: job.Name,
		Event: eventEnvelope{
			ID:         job.Event.ID,
			Type:       string(job.Event.Type),
			OccurredAt: job.Event.OccurredAt.UTC(),
			Actor: actorEnvelope{
				Kind:        string(job.Event.Actor.Kind),
				PrincipalID: job.Event.Actor.PrincipalID,
				Email:       job.Event.Actor.Email,
				Name:        job.Event.Actor.Name,
			},
			Data: job.Event.Data,
		},
		Target:       job.Target,
		AttemptsMade: job.AttemptsMade,
		MaxAttempts:  job.MaxAttempts,
		EnqueuedAt:   job.EnqueuedAt.UTC(),
	})
}

func decodeJob(payload []byte) (*core.Job, error) {
	var envelope jobEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("queue: decode job payload: %w", err)
	}
	return &core.Job{
		ID:   envelope.ID,
		Name: envelope.Name,
		Event: core.Event{
			ID:         envelope.Event.ID,
			Type:       core.EventType(envelope.Event.Type),
			OccurredAt: envelope.Event.OccurredAt,
			Actor: core.Actor{
				Kind:        core.ActorKind(envelope.Event.Actor.Kind),
				PrincipalID: envelope.Event.Actor.PrincipalID,
				Email:       envelope.Event.Actor.Email,
				Name:        envelope.Event.Actor.Name,
			},
			Data: envelope.Event.Data,
		},
		Target:       envelope.Target,
		AttemptsMade: envelope.AttemptsMade,
		MaxAttempts:  envelope.MaxAttempts,
		EnqueuedAt:   envelope.EnqueuedAt,
	}, nil
}

func encodeDeadEntry(job *core.Job, reason string, failedAt time.Time) ([]byte, error) {
	payload, err := encodeJob(job)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"job":       json.RawMessage(payload),
		"reason":    reason,
		"failed_at": failedAt.UTC().Format(time.RFC3339),
	})
}
