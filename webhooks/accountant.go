package webhooks

import (
	"context"
	"fmt"

	"github.com/goliatone/go-dispatch/core"
)

// Accountant maintains webhook failure health. It listens for permanent
// delivery failures only; retries in flight never touch the counter, and
// the reference handler resets it on each successful delivery.
//
// The increment-and-compare runs inside the store so concurrent workers
// cannot disable a registration twice or skip past the threshold.
type Accountant struct {
	store     core.WebhookStore
	threshold int
	obs       core.Instrumentation
}

type Option func(*Accountant)

func WithInstrumentation(obs core.Instrumentation) Option {
	return func(a *Accountant) {
		a.obs = obs
	}
}

func NewAccountant(store core.WebhookStore, threshold int, options ...Option) (*Accountant, error) {
	if store == nil {
		return nil, fmt.Errorf("webhooks: webhook store is required")
	}
	if threshold < 1 {
		threshold = core.DefaultConfig().Webhook.DisableThreshold
	}
	accountant := &Accountant{store: store, threshold: threshold}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(accountant)
	}
	return accountant, nil
}

func (a *Accountant) OnPermanentFailure(ctx context.Context, failure core.JobFailure) {
	if a == nil || a.store == nil || failure.WebhookID == "" {
		return
	}
	disabled, err := a.store.RecordFailure(ctx, failure.WebhookID, failure.Err, a.threshold)
	if err != nil {
		a.obs.Error(ctx, "webhook failure bookkeeping failed", map[string]any{
			"webhook_id": failure.WebhookID,
			"job_id":     failure.JobID,
			"error":      err.Error(),
		})
		return
	}
	a.obs.Counter(ctx, "dispatch.webhook.permanent_failures", 1, map[string]string{
		"event_type": string(failure.EventType),
		"outcome":    string(failure.Outcome),
	})
	if disabled {
		a.obs.Error(ctx, "webhook auto-disabled after consecutive failures", map[string]any{
			"webhook_id": failure.WebhookID,
			"threshold":  a.threshold,
		})
		a.obs.Counter(ctx, "dispatch.webhook.auto_disabled", 1, nil)
	}
}

var _ core.FailureListener = (*Accountant)(nil)
