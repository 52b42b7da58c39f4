package dispatch

import (
	"fmt"

	dispatchcommand "github.com/goliatone/go-dispatch/command"
)

// Commands groups the go-command handlers that drive the pipeline from
// application code or a message bus.
type Commands struct {
	DispatchEvent            *dispatchcommand.DispatchEventCommand
	ScheduleDispatch         *dispatchcommand.ScheduleDispatchCommand
	CancelScheduledDispatch  *dispatchcommand.CancelScheduledDispatchCommand
	UpsertEvaluationSchedule *dispatchcommand.UpsertEvaluationScheduleCommand
	DeleteEvaluationSchedule *dispatchcommand.DeleteEvaluationScheduleCommand
	TestHookConnection       *dispatchcommand.TestHookConnectionCommand
}

type Facade struct {
	pipeline *Pipeline
	commands Commands
}

func NewFacade(pipeline *Pipeline) (*Facade, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("dispatch: pipeline is required")
	}
	facade := &Facade{pipeline: pipeline}
	facade.commands = Commands{
		DispatchEvent:           dispatchcommand.NewDispatchEventCommand(pipeline.Dispatcher()),
		ScheduleDispatch:        dispatchcommand.NewScheduleDispatchCommand(pipeline.Publisher()),
		CancelScheduledDispatch: dispatchcommand.NewCancelScheduledDispatchCommand(pipeline.Publisher()),
		TestHookConnection:      dispatchcommand.NewTestHookConnectionCommand(pipeline.Registry()),
	}
	if cron := pipeline.CronScheduler(); cron != nil {
		facade.commands.UpsertEvaluationSchedule = dispatchcommand.NewUpsertEvaluationScheduleCommand(cron)
		facade.commands.DeleteEvaluationSchedule = dispatchcommand.NewDeleteEvaluationScheduleCommand(cron)
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Pipeline() *Pipeline {
	if f == nil {
		return nil
	}
	return f.pipeline
}
