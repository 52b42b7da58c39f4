package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

// Pool consumes durable jobs and drives them through their hook handlers.
// Each dequeue is one attempt; transient failures are re-queued with
// exponential backoff, permanent failures dead-letter immediately and are
// announced to failure listeners exactly once.
type Pool struct {
	dequeuer    core.JobDequeuer
	registry    *core.HookRegistry
	concurrency int
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	grace       time.Duration
	retention   time.Duration
	purgeEvery  time.Duration

	hooks          []core.JobWorkerHook
	listeners      []core.FailureListener
	deadLetters    core.DeadLetterStore
	obs            core.Instrumentation
	now            func() time.Time
	scheduledTypes map[string]struct{}
	scheduledSlots chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type Option func(*Pool)

func WithWorkerHooks(hooks ...core.JobWorkerHook) Option {
	return func(p *Pool) {
		for _, hook := range hooks {
			if hook != nil {
				p.hooks = append(p.hooks, hook)
			}
		}
	}
}

func WithFailureListeners(listeners ...core.FailureListener) Option {
	return func(p *Pool) {
		for _, listener := range listeners {
			if listener != nil {
				p.listeners = append(p.listeners, listener)
			}
		}
	}
}

func WithDeadLetterStore(store core.DeadLetterStore) Option {
	return func(p *Pool) {
		p.deadLetters = store
	}
}

func WithInstrumentation(obs core.Instrumentation) Option {
	return func(p *Pool) {
		p.obs = obs
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// WithScheduledHookTypes caps the named hook types at the queue's
// scheduled_concurrency instead of the full worker count. Scheduled jobs
// lean on the system of record, so they get a narrower lane.
func WithScheduledHookTypes(hookTypes ...string) Option {
	return func(p *Pool) {
		for _, hookType := range hookTypes {
			if hookType == "" {
				continue
			}
			if p.scheduledTypes == nil {
				p.scheduledTypes = map[string]struct{}{}
			}
			p.scheduledTypes[hookType] = struct{}{}
		}
	}
}

func New(dequeuer core.JobDequeuer, registry *core.HookRegistry, cfg core.QueueConfig, grace time.Duration, options ...Option) (*Pool, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("worker: dequeuer is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("worker: hook registry is required")
	}
	defaults := core.DefaultConfig()
	if cfg.Concurrency < 1 {
		cfg.Concurrency = defaults.Queue.Concurrency
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = defaults.Queue.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.Queue.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.Queue.MaxBackoff
	}
	if cfg.ScheduledConcurrency < 1 {
		cfg.ScheduledConcurrency = defaults.Queue.ScheduledConcurrency
	}
	if grace <= 0 {
		grace = defaults.ShutdownGrace
	}
	pool := &Pool{
		dequeuer:    dequeuer,
		registry:    registry,
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.InitialBackoff,
		maxBackoff:  cfg.MaxBackoff,
		grace:       grace,
		retention:   cfg.DeadLetterRetention,
		purgeEvery:  time.Hour,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(pool)
	}
	if len(pool.scheduledTypes) > 0 {
		pool.scheduledSlots = make(chan struct{}, cfg.ScheduledConcurrency)
	}
	return pool, nil
}

// Start launches the worker goroutines. It is idempotent.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		for i := 0; i < p.concurrency; i++ {
			p.wg.Add(1)
			go p.run(runCtx)
		}
		if p.deadLetters != nil && p.retention > 0 {
			p.wg.Add(1)
			go p.janitor(runCtx)
		}
	})
}

// Close stops dequeuing and waits up to the shutdown grace for in-flight
// deliveries to finish.
func (p *Pool) Close() error {
	var err error
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(p.grace):
			err = fmt.Errorf("worker: shutdown grace of %s elapsed with deliveries in flight", p.grace)
		}
	})
	return err
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		delivery, err := p.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.obs.Error(ctx, "dequeue failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		// Completing the in-flight job outlives pool cancellation; shutdown
		// waits on the grace period instead of abandoning it mid-delivery.
		p.process(context.WithoutCancel(ctx), delivery)
	}
}

func (p *Pool) process(ctx context.Context, delivery core.JobDelivery) {
	job := delivery.Job()
	if job == nil {
		_ = delivery.Ack(ctx)
		return
	}
	job.AttemptsMade++
	attempt := job.AttemptsMade
	startedAt := p.now()

	p.emit(ctx, (core.JobWorkerHook).OnStart, core.JobWorkerEvent{
		Job:       job,
		Attempt:   attempt,
		StartedAt: startedAt,
	})

	maxAttempts := job.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = p.maxAttempts
	}

	release := p.acquireScheduledSlot(ctx, job.Target.HookType)
	runErr := p.runHandler(ctx, job)
	release()
	duration := p.now().Sub(startedAt)
	event := core.JobWorkerEvent{
		Job:       job,
		Attempt:   attempt,
		Err:       runErr,
		StartedAt: startedAt,
		Duration:  duration,
	}

	switch {
	case runErr == nil:
		event.Outcome = core.JobOutcomeCompleted
		if err := delivery.Ack(ctx); err != nil {
			p.obs.Error(ctx, "ack failed", map[string]any{"job_id": job.ID, "error": err.Error()})
		}
		p.emit(ctx, (core.JobWorkerHook).OnSuccess, event)

	case core.Retryable(runErr) && attempt < maxAttempts:
		delay := p.backoff(attempt)
		event.Outcome = core.JobOutcomeRetryScheduled
		event.Delay = delay
		if err := delivery.Nack(ctx, core.JobNackOptions{
			Delay:   delay,
			Requeue: true,
			Reason:  runErr.Error(),
		}); err != nil {
			p.obs.Error(ctx, "retry nack failed", map[string]any{"job_id": job.ID, "error": err.Error()})
		}
		p.emit(ctx, (core.JobWorkerHook).OnRetry, event)

	default:
		if core.Retryable(runErr) {
			event.Outcome = core.JobOutcomeFailedExhausted
		} else {
			event.Outcome = core.JobOutcomeFailedNonRetryable
		}
		p.fail(ctx, delivery, event)
	}

	p.obs.ObserveOperation(ctx, startedAt, "job", runErr, map[string]any{
		"job_id":     job.ID,
		"job_name":   job.Name,
		"hook_type":  job.Target.HookType,
		"event_type": string(job.Event.Type),
		"event_id":   job.Event.ID,
		"attempt":    attempt,
		"outcome":    string(event.Outcome),
	})
}

// runHandler folds the two handler failure channels, a returned error and a
// failed HookResult, into one classified error.
func (p *Pool) runHandler(ctx context.Context, job *core.Job) error {
	handler, err := p.registry.Get(job.Target.HookType)
	if err != nil {
		return err
	}
	result, err := handler.Run(ctx, job.Event, job.Target)
	if err != nil {
		return err
	}
	if result.Success {
		return nil
	}
	if result.Err != nil {
		if result.ShouldRetry && !core.Retryable(result.Err) {
			return core.WrapRetryable(result.Err, "worker: handler requested retry")
		}
		return result.Err
	}
	if result.ShouldRetry {
		return core.NewRetryableError("worker: handler reported transient failure without cause")
	}
	return errors.New("worker: handler reported failure without cause")
}

func (p *Pool) fail(ctx context.Context, delivery core.JobDelivery, event core.JobWorkerEvent) {
	job := event.Job
	reason := ""
	if event.Err != nil {
		reason = event.Err.Error()
	}
	if err := delivery.Nack(ctx, core.JobNackOptions{
		DeadLetter: true,
		Reason:     reason,
	}); err != nil {
		p.obs.Error(ctx, "dead-letter nack failed", map[string]any{"job_id": job.ID, "error": err.Error()})
	}

	if p.deadLetters != nil {
		if err := p.deadLetters.Record(ctx, core.DeadLetter{
			JobID:     job.ID,
			JobName:   job.Name,
			HookType:  job.Target.HookType,
			EventID:   job.Event.ID,
			EventType: job.Event.Type,
			Attempts:  event.Attempt,
			Outcome:   event.Outcome,
			LastError: reason,
			Payload:   job.Event.Data,
			FailedAt:  p.now(),
		}); err != nil {
			p.obs.Error(ctx, "dead letter record failed", map[string]any{"job_id": job.ID, "error": err.Error()})
		}
	}

	failure := core.JobFailure{
		JobID:     job.ID,
		HookType:  job.Target.HookType,
		EventID:   job.Event.ID,
		EventType: job.Event.Type,
		WebhookID: webhookID(job),
		Attempts:  event.Attempt,
		Outcome:   event.Outcome,
		Err:       event.Err,
	}
	for _, listener := range p.listeners {
		listener.OnPermanentFailure(ctx, failure)
	}
	p.emit(ctx, (core.JobWorkerHook).OnFailure, event)
}

func (p *Pool) emit(ctx context.Context, fn func(core.JobWorkerHook, context.Context, core.JobWorkerEvent), event core.JobWorkerEvent) {
	for _, hook := range p.hooks {
		fn(hook, ctx, event)
	}
}

// acquireScheduledSlot blocks until a scheduled-work slot frees up, for
// hook types capped below the full worker count. The returned release is a
// no-op for everything else.
func (p *Pool) acquireScheduledSlot(ctx context.Context, hookType string) func() {
	if p.scheduledSlots == nil {
		return func() {}
	}
	if _, ok := p.scheduledTypes[hookType]; !ok {
		return func() {}
	}
	select {
	case p.scheduledSlots <- struct{}{}:
		return func() { <-p.scheduledSlots }
	case <-ctx.Done():
		// The handler run will fail fast on the same context.
		return func() {}
	}
}

// janitor trims the dead letter store down to the configured retention.
func (p *Pool) janitor(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.purgeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.purgeDeadLetters(ctx)
		}
	}
}

func (p *Pool) purgeDeadLetters(ctx context.Context) {
	cutoff := p.now().Add(-p.retention)
	purged, err := p.deadLetters.Purge(ctx, cutoff)
	if err != nil {
		p.obs.Error(ctx, "dead letter purge failed", map[string]any{"error": err.Error()})
		return
	}
	if purged > 0 {
		p.obs.Info(ctx, "dead letters purged", map[string]any{
			"purged": purged,
			"cutoff": cutoff,
		})
	}
}

// backoff grows exponentially from the configured base, capped at the
// configured maximum.
func (p *Pool) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.baseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.maxBackoff {
			return p.maxBackoff
		}
	}
	if delay > p.maxBackoff {
		return p.maxBackoff
	}
	return delay
}

// webhookID extracts the registration id for failure accounting; only
// webhook jobs carry one.
func webhookID(job *core.Job) string {
	if job.Target.HookType != "webhook" {
		return ""
	}
	return job.Target.ConfigString("webhook_id")
}
