package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-dispatch/core"
)

const (
	// HookTypePublish is the internal hook type carried by delayed
	// changelog publish jobs.
	HookTypePublish = "scheduled_publish"

	publishJobPrefix = "changelog:"
)

// Publisher schedules delayed changelog publication through the durable
// queue. Each entry id maps to exactly one pending job: scheduling again
// replaces the fire time, cancelling removes it.
type Publisher struct {
	queue       core.DelayedJobEnqueuer
	maxAttempts int
	now         func() time.Time
	newID       func() string
}

// NewPublisher builds a publisher whose jobs carry the pipeline's configured
// attempt limit. A non-positive maxAttempts falls back to the default.
func NewPublisher(queue core.DelayedJobEnqueuer, maxAttempts int) (*Publisher, error) {
	if queue == nil {
		return nil, fmt.Errorf("scheduler: delayed enqueuer is required")
	}
	if maxAttempts < 1 {
		maxAttempts = core.DefaultConfig().Queue.MaxAttempts
	}
	return &Publisher{
		queue:       queue,
		maxAttempts: maxAttempts,
		now: func() time.Time {
			return time.Now().UTC()
		},
		newID: uuid.NewString,
	}, nil
}

func (p *Publisher) Schedule(ctx context.Context, entryID string, publishAt time.Time) error {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return fmt.Errorf("scheduler: changelog entry id is required")
	}
	job := &core.Job{
		ID:   publishJobPrefix + entryID,
		Name: "changelog.publish",
		Event: core.Event{
			ID:         p.newID(),
			Type:       core.EventChangelogPublished,
			OccurredAt: p.now(),
			Actor:      core.ServiceActor("scheduler"),
			Data:       map[string]any{"entry_id": entryID},
		},
		Target: core.HookTarget{
			HookType: HookTypePublish,
			Target:   map[string]any{"entry_id": entryID},
			Config:   map[string]any{},
		},
		MaxAttempts: p.maxAttempts,
		EnqueuedAt:  p.now(),
	}
	return p.queue.ScheduleJob(ctx, job, publishAt)
}

func (p *Publisher) Cancel(ctx context.Context, entryID string) error {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return fmt.Errorf("scheduler: changelog entry id is required")
	}
	return p.queue.CancelJob(ctx, publishJobPrefix+entryID)
}

// EventDispatcher is the slice of the dispatcher the publish handler needs.
type EventDispatcher interface {
	DispatchEvent(ctx context.Context, event core.Event) error
}

// PublishHandler fires when a delayed publish job becomes due. The entry is
// re-fetched from the system of record first: publication that was
// cancelled, already performed, or pushed to a later time since scheduling
// turns the job into a clean no-op.
type PublishHandler struct {
	reader     core.ChangelogReader
	dispatcher EventDispatcher
	now        func() time.Time
}

func NewPublishHandler(reader core.ChangelogReader, dispatcher EventDispatcher) (*PublishHandler, error) {
	if reader == nil {
		return nil, fmt.Errorf("scheduler: changelog reader is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("scheduler: event dispatcher is required")
	}
	return &PublishHandler{
		reader:     reader,
		dispatcher: dispatcher,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (h *PublishHandler) Name() string {
	return HookTypePublish
}

func (h *PublishHandler) Run(ctx context.Context, event core.Event, target core.HookTarget) (core.HookResult, error) {
	entryID := target.TargetString("entry_id")
	if entryID == "" {
		return core.HookResult{
			Err:         core.NewNonRetryableError("scheduler: publish job missing entry id"),
			ShouldRetry: false,
		}, nil
	}

	entry, err := h.reader.GetEntry(ctx, entryID)
	if err != nil {
		return core.HookResult{Err: err, ShouldRetry: core.Retryable(err)}, nil
	}
	if entry.ID == "" || entry.Published {
		return core.HookResult{Success: true}, nil
	}
	if entry.PublishAt == nil || entry.PublishAt.After(h.now()) {
		// Publication was cancelled or rescheduled after this job was queued.
		return core.HookResult{Success: true}, nil
	}

	publishedAt := h.now()
	dispatchEvent := core.Event{
		ID:         event.ID,
		Type:       core.EventChangelogPublished,
		OccurredAt: publishedAt,
		Actor:      core.ServiceActor("scheduler"),
		Data: core.ChangelogData{
			EntryID:     entry.ID,
			Title:       entry.Title,
			PublishedAt: publishedAt,
		}.Map(),
	}
	if err := h.dispatcher.DispatchEvent(ctx, dispatchEvent); err != nil {
		return core.HookResult{Err: err, ShouldRetry: core.Retryable(err)}, nil
	}
	return core.HookResult{Success: true, ExternalID: entry.ID}, nil
}

var _ core.HookHandler = (*PublishHandler)(nil)
