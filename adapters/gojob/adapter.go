package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-dispatch/core"
)

// RetryPolicy bounds nack behavior when the pipeline runs on a go-job
// backed queue, so a misbehaving caller cannot requeue forever.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces the bounds for one nack operation.
func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	return out
}

// ToExecutionMessage flattens a dispatch job into the go-job message
// contract. The delivery job travels in Parameters; the job id doubles as
// the idempotency key so a re-enqueued job replaces its pending twin.
func ToExecutionMessage(j *core.Job) *job.ExecutionMessage {
	if j == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(j.ID),
		Parameters:     jobToParameters(j),
		IdempotencyKey: strings.TrimSpace(j.ID),
	}
}

// FromExecutionMessage rebuilds a dispatch job from a go-job message.
func FromExecutionMessage(msg *job.ExecutionMessage) *core.Job {
	if msg == nil {
		return nil
	}
	return parametersToJob(strings.TrimSpace(msg.JobID), msg.Parameters)
}

func ToNackOptions(opts core.JobNackOptions) queue.NackOptions {
	return queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	}
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, j *core.Job) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if j == nil {
		return fmt.Errorf("gojob: job is required")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(j))
}

func (a *EnqueuerAdapter) EnqueueBatch(ctx context.Context, jobs []*core.Job) error {
	for _, j := range jobs {
		if err := a.Enqueue(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

type DeliveryAdapter struct {
	delivery queue.Delivery
	policy   RetryPolicy
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy) *DeliveryAdapter {
	return &DeliveryAdapter{delivery: delivery, policy: policy}
}

func (d *DeliveryAdapter) Job() *core.Job {
	if d == nil || d.delivery == nil {
		return nil
	}
	return FromExecutionMessage(d.delivery.Message())
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.delivery.Ack(ctx)
}

func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.JobNackOptions) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	attempt := 0
	if j := d.Job(); j != nil {
		attempt = j.AttemptsMade
	}
	normalized := d.policy.NormalizeAttempt(opts, attempt)
	return d.delivery.Nack(ctx, ToNackOptions(normalized))
}

type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return NewDeliveryAdapter(delivery, a.policy), nil
}

func jobToParameters(j *core.Job) map[string]any {
	return map[string]any{
		"name": j.Name,
		"event": map[string]any{
			"id":          j.Event.ID,
			"type":        string(j.Event.Type),
			"occurred_at": j.Event.OccurredAt.UTC().Format(time.RFC3339Nano),
			"actor": map[string]any{
				"kind":         string(j.Event.Actor.Kind),
				"principal_id": j.Event.Actor.PrincipalID,
				"email":        j.Event.Actor.Email,
				"name":         j.Event.Actor.Name,
			},
			"data": copyAnyMap(j.Event.Data),
		},
		"target": map[string]any{
			"hook_type": j.Target.HookType,
			"target":    copyAnyMap(j.Target.Target),
			"config":    copyAnyMap(j.Target.Config),
		},
		"attempts_made": j.AttemptsMade,
		"max_attempts":  j.MaxAttempts,
		"enqueued_at":   j.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	}
}

func parametersToJob(id string, params map[string]any) *core.Job {
	event := anyMap(params["event"])
	actor := anyMap(event["actor"])
	target := anyMap(params["target"])
	return &core.Job{
		ID:   id,
		Name: anyString(params["name"]),
		Event: core.Event{
			ID:         anyString(event["id"]),
			Type:       core.EventType(anyString(event["type"])),
			OccurredAt: anyTime(event["occurred_at"]),
			Actor: core.Actor{
				Kind:        core.ActorKind(anyString(actor["kind"])),
				PrincipalID: anyString(actor["principal_id"]),
				Email:       anyString(actor["email"]),
				Name:        anyString(actor["name"]),
			},
			Data: anyMap(event["data"]),
		},
		Target: core.HookTarget{
			HookType: anyString(target["hook_type"]),
			Target:   anyMap(target["target"]),
			Config:   anyMap(target["config"]),
		},
		AttemptsMade: anyInt(params["attempts_made"]),
		MaxAttempts:  anyInt(params["max_attempts"]),
		EnqueuedAt:   anyTime(params["enqueued_at"]),
	}
}

func anyMap(value any) map[string]any {
	if typed, ok := value.(map[string]any); ok {
		return typed
	}
	return map[string]any{}
}

func anyString(value any) string {
	if typed, ok := value.(string); ok {
		return typed
	}
	return ""
}

func anyInt(value any) int {
	switch typed := value.(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	default:
		return 0
	}
}

func anyTime(value any) time.Time {
	raw, ok := value.(string)
	if !ok {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobEnqueuer = (*EnqueuerAdapter)(nil)
	_ core.JobDelivery = (*DeliveryAdapter)(nil)
	_ core.JobDequeuer = (*DequeuerAdapter)(nil)
)
