package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

type fakeDispatching struct {
	eventTypes []core.EventType
	actors     []core.Actor
}

func (d *fakeDispatching) Dispatch(ctx context.Context, eventType core.EventType, actor core.Actor, data map[string]any) {
	d.eventTypes = append(d.eventTypes, eventType)
	d.actors = append(d.actors, actor)
}

type fakeScheduling struct {
	scheduled map[string]time.Time
	cancelled []string
	err       error
}

func (s *fakeScheduling) Schedule(ctx context.Context, entryID string, publishAt time.Time) error {
	if s.err != nil {
		return s.err
	}
	if s.scheduled == nil {
		s.scheduled = map[string]time.Time{}
	}
	s.scheduled[entryID] = publishAt
	return nil
}

func (s *fakeScheduling) Cancel(ctx context.Context, entryID string) error {
	if s.err != nil {
		return s.err
	}
	s.cancelled = append(s.cancelled, entryID)
	return nil
}

type fakeEvaluationScheduling struct {
	upserts []core.EvaluationSchedule
	deletes []string
}

func (s *fakeEvaluationScheduling) Upsert(ctx context.Context, schedule core.EvaluationSchedule) error {
	s.upserts = append(s.upserts, schedule)
	return nil
}

func (s *fakeEvaluationScheduling) Delete(ctx context.Context, ownerID string) error {
	s.deletes = append(s.deletes, ownerID)
	return nil
}

type fakeRegistry struct {
	handler core.HookHandler
	err     error
}

func (r *fakeRegistry) Get(hookType string) (core.HookHandler, error) {
	return r.handler, r.err
}

type testableHandler struct {
	testErr error
	tested  []core.HookTarget
}

func (h *testableHandler) Name() string { return "webhook" }

func (h *testableHandler) Run(ctx context.Context, event core.Event, target core.HookTarget) (core.HookResult, error) {
	return core.HookResult{Success: true}, nil
}

func (h *testableHandler) TestConnection(ctx context.Context, target core.HookTarget) error {
	h.tested = append(h.tested, target)
	return h.testErr
}

type plainHandler struct{}

func (plainHandler) Name() string { return "email" }

func (plainHandler) Run(ctx context.Context, event core.Event, target core.HookTarget) (core.HookResult, error) {
	return core.HookResult{Success: true}, nil
}

func TestDispatchEventCommand(t *testing.T) {
	dispatcher := &fakeDispatching{}
	cmd := NewDispatchEventCommand(dispatcher)

	msg := DispatchEventMessage{
		EventType: core.EventPostCreated,
		Actor:     core.UserActor("user-1", "user@example.com"),
		Data:      map[string]any{"post_id": "post-1"},
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := cmd.Execute(context.Background(), msg); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(dispatcher.eventTypes) != 1 || dispatcher.eventTypes[0] != core.EventPostCreated {
		t.Fatalf("dispatch not forwarded: %v", dispatcher.eventTypes)
	}
}

func TestDispatchEventCommand_MissingDependency(t *testing.T) {
	cmd := NewDispatchEventCommand(nil)
	if err := cmd.Execute(context.Background(), DispatchEventMessage{}); err == nil {
		t.Fatalf("expected dependency error")
	}
}

func TestDispatchEventMessage_Validate(t *testing.T) {
	bad := DispatchEventMessage{EventType: "post.deleted", Actor: core.ServiceActor("svc")}
	if err := bad.Validate(); !errors.Is(err, core.ErrInvalidEventType) {
		t.Fatalf("expected invalid event type, got %v", err)
	}
	badActor := DispatchEventMessage{EventType: core.EventPostCreated}
	if err := badActor.Validate(); !errors.Is(err, core.ErrInvalidActor) {
		t.Fatalf("expected invalid actor, got %v", err)
	}
}

func TestScheduleDispatchCommand(t *testing.T) {
	scheduler := &fakeScheduling{}
	cmd := NewScheduleDispatchCommand(scheduler)

	publishAt := time.Date(2025, time.September, 1, 9, 0, 0, 0, time.UTC)
	msg := ScheduleDispatchMessage{EntryID: "entry-1", PublishAt: publishAt}
	if err := msg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := cmd.Execute(context.Background(), msg); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !scheduler.scheduled["entry-1"].Equal(publishAt) {
		t.Fatalf("schedule not forwarded: %v", scheduler.scheduled)
	}

	if err := (ScheduleDispatchMessage{PublishAt: publishAt}).Validate(); err == nil {
		t.Fatalf("missing entry id must fail validation")
	}
	if err := (ScheduleDispatchMessage{EntryID: "entry-1"}).Validate(); err == nil {
		t.Fatalf("missing publish time must fail validation")
	}
}

func TestCancelScheduledDispatchCommand(t *testing.T) {
	scheduler := &fakeScheduling{}
	cmd := NewCancelScheduledDispatchCommand(scheduler)

	if err := cmd.Execute(context.Background(), CancelScheduledDispatchMessage{EntryID: "entry-1"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(scheduler.cancelled) != 1 || scheduler.cancelled[0] != "entry-1" {
		t.Fatalf("cancel not forwarded: %v", scheduler.cancelled)
	}
}

func TestEvaluationScheduleCommands(t *testing.T) {
	scheduler := &fakeEvaluationScheduling{}
	upsert := NewUpsertEvaluationScheduleCommand(scheduler)
	remove := NewDeleteEvaluationScheduleCommand(scheduler)

	schedule := core.EvaluationSchedule{OwnerID: "segment-1", Pattern: "0 * * * *", Enabled: true}
	if err := upsert.Execute(context.Background(), UpsertEvaluationScheduleMessage{Schedule: schedule}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := remove.Execute(context.Background(), DeleteEvaluationScheduleMessage{OwnerID: "segment-1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(scheduler.upserts) != 1 || len(scheduler.deletes) != 1 {
		t.Fatalf("commands not forwarded: %+v", scheduler)
	}

	if err := (UpsertEvaluationScheduleMessage{}).Validate(); err == nil {
		t.Fatalf("empty schedule must fail validation")
	}
	if err := (DeleteEvaluationScheduleMessage{}).Validate(); err == nil {
		t.Fatalf("empty owner id must fail validation")
	}
}

func TestTestHookConnectionCommand(t *testing.T) {
	handler := &testableHandler{}
	cmd := NewTestHookConnectionCommand(&fakeRegistry{handler: handler})

	target := core.HookTarget{Target: map[string]any{"url": "https://example.com/hook"}}
	msg := TestHookConnectionMessage{HookType: "webhook", Target: target}
	if err := cmd.Execute(context.Background(), msg); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(handler.tested) != 1 {
		t.Fatalf("connection test not forwarded")
	}
}

func TestTestHookConnectionCommand_UnsupportedHandler(t *testing.T) {
	cmd := NewTestHookConnectionCommand(&fakeRegistry{handler: plainHandler{}})
	err := cmd.Execute(context.Background(), TestHookConnectionMessage{HookType: "email"})
	if err == nil {
		t.Fatalf("handlers without a tester must be rejected")
	}
}

func TestTestHookConnectionCommand_UnknownHookType(t *testing.T) {
	cmd := NewTestHookConnectionCommand(&fakeRegistry{err: core.ErrUnknownHookType})
	err := cmd.Execute(context.Background(), TestHookConnectionMessage{HookType: "telegram"})
	if !errors.Is(err, core.ErrUnknownHookType) {
		t.Fatalf("expected unknown hook type, got %v", err)
	}
}
