package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

const (
	TypeDispatchEvent            = "dispatch.command.event.dispatch"
	TypeScheduleDispatch         = "dispatch.command.changelog.schedule"
	TypeCancelScheduledDispatch  = "dispatch.command.changelog.cancel"
	TypeUpsertEvaluationSchedule = "dispatch.command.schedule.upsert"
	TypeDeleteEvaluationSchedule = "dispatch.command.schedule.delete"
	TypeTestHookConnection       = "dispatch.command.hook.test"
)

type DispatchEventMessage struct {
	EventType core.EventType
	Actor     core.Actor
	Data      map[string]any
}

func (DispatchEventMessage) Type() string { return TypeDispatchEvent }

func (m DispatchEventMessage) Validate() error {
	if !m.EventType.Valid() {
		return fmt.Errorf("command: %w: %q", core.ErrInvalidEventType, m.EventType)
	}
	if err := m.Actor.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

type ScheduleDispatchMessage struct {
	EntryID   string
	PublishAt time.Time
}

func (ScheduleDispatchMessage) Type() string { return TypeScheduleDispatch }

func (m ScheduleDispatchMessage) Validate() error {
	if strings.TrimSpace(m.EntryID) == "" {
		return fmt.Errorf("command: changelog entry id is required")
	}
	if m.PublishAt.IsZero() {
		return fmt.Errorf("command: publish time is required")
	}
	return nil
}

type CancelScheduledDispatchMessage struct {
	EntryID string
}

func (CancelScheduledDispatchMessage) Type() string { return TypeCancelScheduledDispatch }

func (m CancelScheduledDispatchMessage) Validate() error {
	if strings.TrimSpace(m.EntryID) == "" {
		return fmt.Errorf("command: changelog entry id is required")
	}
	return nil
}

type UpsertEvaluationScheduleMessage struct {
	Schedule core.EvaluationSchedule
}

func (UpsertEvaluationScheduleMessage) Type() string { return TypeUpsertEvaluationSchedule }

func (m UpsertEvaluationScheduleMessage) Validate() error {
	if err := m.Schedule.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

type DeleteEvaluationScheduleMessage struct {
	OwnerID string
}

func (DeleteEvaluationScheduleMessage) Type() string { return TypeDeleteEvaluationSchedule }

func (m DeleteEvaluationScheduleMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return fmt.Errorf("command: schedule owner id is required")
	}
	return nil
}

type TestHookConnectionMessage struct {
	HookType string
	Target   core.HookTarget
}

func (TestHookConnectionMessage) Type() string { return TypeTestHookConnection }

func (m TestHookConnectionMessage) Validate() error {
	if strings.TrimSpace(m.HookType) == "" {
		return fmt.Errorf("command: hook type is required")
	}
	return nil
}
