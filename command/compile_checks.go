package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[DispatchEventMessage]            = (*DispatchEventCommand)(nil)
	_ gocmd.Commander[ScheduleDispatchMessage]         = (*ScheduleDispatchCommand)(nil)
	_ gocmd.Commander[CancelScheduledDispatchMessage]  = (*CancelScheduledDispatchCommand)(nil)
	_ gocmd.Commander[UpsertEvaluationScheduleMessage] = (*UpsertEvaluationScheduleCommand)(nil)
	_ gocmd.Commander[DeleteEvaluationScheduleMessage] = (*DeleteEvaluationScheduleCommand)(nil)
	_ gocmd.Commander[TestHookConnectionMessage]       = (*TestHookConnectionCommand)(nil)
)
