package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Dispatcher turns domain occurrences into queued delivery jobs. It awaits
// target resolution only; hook execution happens on the worker pool. Errors
// are absorbed and logged: event delivery is a best-effort side channel and
// must never fail the primary domain action.
type Dispatcher struct {
	resolver    TargetResolver
	enqueuer    JobEnqueuer
	maxAttempts int
	obs         Instrumentation
	now         func() time.Time
	newID       func() string
}

func NewDispatcher(
	resolver TargetResolver,
	enqueuer JobEnqueuer,
	maxAttempts int,
	obs Instrumentation,
) (*Dispatcher, error) {
	if resolver == nil {
		return nil, fmt.Errorf("core: target resolver is required")
	}
	if enqueuer == nil {
		return nil, fmt.Errorf("core: job enqueuer is required")
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultConfig().Queue.MaxAttempts
	}
	return &Dispatcher{
		resolver:    resolver,
		enqueuer:    enqueuer,
		maxAttempts: maxAttempts,
		obs:         obs,
		now: func() time.Time {
			return time.Now().UTC()
		},
		newID: uuid.NewString,
	}, nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, eventType EventType, actor Actor, data map[string]any) {
	if d == nil {
		return
	}
	startedAt := time.Now()
	event := Event{
		ID:         d.newID(),
		Type:       eventType,
		OccurredAt: d.now(),
		Actor:      actor,
		Data:       data,
	}
	err := d.dispatchEvent(ctx, event)
	d.obs.ObserveOperation(ctx, startedAt, "dispatch", err, map[string]any{
		"event_type": string(eventType),
		"event_id":   event.ID,
	})
}

// DispatchEvent enqueues deliveries for a pre-built envelope. Used by the
// scheduler when a delayed job re-materializes its event at fire time.
func (d *Dispatcher) DispatchEvent(ctx context.Context, event Event) error {
	if d == nil {
		return fmt.Errorf("core: dispatcher is not configured")
	}
	return d.dispatchEvent(ctx, event)
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	targets := d.resolver.Resolve(ctx, event)
	if len(targets) == 0 {
		return nil
	}

	jobs := make([]*Job, 0, len(targets))
	for _, target := range targets {
		jobs = append(jobs, &Job{
			ID:          d.newID(),
			Name:        JobName(event.Type, target.HookType),
			Event:       event,
			Target:      target,
			MaxAttempts: d.maxAttempts,
			EnqueuedAt:  d.now(),
		})
	}
	if err := d.enqueuer.EnqueueBatch(ctx, jobs); err != nil {
		return fmt.Errorf("core: enqueue %d delivery jobs for event %s: %w", len(jobs), event.ID, err)
	}
	return nil
}

var _ EventDispatcher = (*Dispatcher)(nil)
