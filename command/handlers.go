package command

import (
	"context"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-dispatch/core"
)

// Dispatching is the write surface of the event pipeline the commands
// drive.
type Dispatching interface {
	Dispatch(ctx context.Context, eventType core.EventType, actor core.Actor, data map[string]any)
}

type Scheduling interface {
	Schedule(ctx context.Context, entryID string, publishAt time.Time) error
	Cancel(ctx context.Context, entryID string) error
}

type EvaluationScheduling interface {
	Upsert(ctx context.Context, schedule core.EvaluationSchedule) error
	Delete(ctx context.Context, ownerID string) error
}

type HandlerRegistry interface {
	Get(hookType string) (core.HookHandler, error)
}

type DispatchEventCommand struct {
	dispatcher Dispatching
}

func NewDispatchEventCommand(dispatcher Dispatching) *DispatchEventCommand {
	return &DispatchEventCommand{dispatcher: dispatcher}
}

func (c *DispatchEventCommand) Execute(ctx context.Context, msg DispatchEventMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: event dispatcher is required")
	}
	c.dispatcher.Dispatch(ctx, msg.EventType, msg.Actor, msg.Data)
	return nil
}

type ScheduleDispatchCommand struct {
	scheduler Scheduling
}

func NewScheduleDispatchCommand(scheduler Scheduling) *ScheduleDispatchCommand {
	return &ScheduleDispatchCommand{scheduler: scheduler}
}

func (c *ScheduleDispatchCommand) Execute(ctx context.Context, msg ScheduleDispatchMessage) error {
	if c == nil || c.scheduler == nil {
		return commandDependencyError("command: publish scheduler is required")
	}
	return c.scheduler.Schedule(ctx, msg.EntryID, msg.PublishAt)
}

type CancelScheduledDispatchCommand struct {
	scheduler Scheduling
}

func NewCancelScheduledDispatchCommand(scheduler Scheduling) *CancelScheduledDispatchCommand {
	return &CancelScheduledDispatchCommand{scheduler: scheduler}
}

func (c *CancelScheduledDispatchCommand) Execute(ctx context.Context, msg CancelScheduledDispatchMessage) error {
	if c == nil || c.scheduler == nil {
		return commandDependencyError("command: publish scheduler is required")
	}
	return c.scheduler.Cancel(ctx, msg.EntryID)
}

type UpsertEvaluationScheduleCommand struct {
	scheduler EvaluationScheduling
}

func NewUpsertEvaluationScheduleCommand(scheduler EvaluationScheduling) *UpsertEvaluationScheduleCommand {
	return &UpsertEvaluationScheduleCommand{scheduler: scheduler}
}

func (c *UpsertEvaluationScheduleCommand) Execute(ctx context.Context, msg UpsertEvaluationScheduleMessage) error {
	if c == nil || c.scheduler == nil {
		return commandDependencyError("command: evaluation scheduler is required")
	}
	return c.scheduler.Upsert(ctx, msg.Schedule)
}

type DeleteEvaluationScheduleCommand struct {
	scheduler EvaluationScheduling
}

func NewDeleteEvaluationScheduleCommand(scheduler EvaluationScheduling) *DeleteEvaluationScheduleCommand {
	return &DeleteEvaluationScheduleCommand{scheduler: scheduler}
}

func (c *DeleteEvaluationScheduleCommand) Execute(ctx context.Context, msg DeleteEvaluationScheduleMessage) error {
	if c == nil || c.scheduler == nil {
		return commandDependencyError("command: evaluation scheduler is required")
	}
	return c.scheduler.Delete(ctx, msg.OwnerID)
}

type TestHookConnectionCommand struct {
	registry HandlerRegistry
}

func NewTestHookConnectionCommand(registry HandlerRegistry) *TestHookConnectionCommand {
	return &TestHookConnectionCommand{registry: registry}
}

func (c *TestHookConnectionCommand) Execute(ctx context.Context, msg TestHookConnectionMessage) error {
	if c == nil || c.registry == nil {
		return commandDependencyError("command: hook registry is required")
	}
	handler, err := c.registry.Get(strings.TrimSpace(msg.HookType))
	if err != nil {
		return err
	}
	tester, ok := handler.(core.ConnectionTester)
	if !ok {
		return commandInvalidInputError("command: hook type does not support connection tests: " + msg.HookType)
	}
	if err := tester.TestConnection(ctx, msg.Target); err != nil {
		return err
	}
	storeResult(ctx, true)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
