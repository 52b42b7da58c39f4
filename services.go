package dispatch

import (
	"context"

	"github.com/goliatone/go-dispatch/core"
)

type Config = core.Config

type QueueConfig = core.QueueConfig

type WebhookConfig = core.WebhookConfig

type Event = core.Event

type EventType = core.EventType

type Actor = core.Actor

type HookTarget = core.HookTarget

type HookResult = core.HookResult

type HookHandler = core.HookHandler

type Job = core.Job

type JobQueue = core.JobQueue

type Webhook = core.Webhook

type IntegrationMapping = core.IntegrationMapping

type EvaluationSchedule = core.EvaluationSchedule

type DeadLetter = core.DeadLetter

const (
	EventPostCreated        = core.EventPostCreated
	EventPostStatusChanged  = core.EventPostStatusChanged
	EventCommentCreated     = core.EventCommentCreated
	EventChangelogPublished = core.EventChangelogPublished
)

var (
	UserActor    = core.UserActor
	ServiceActor = core.ServiceActor
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

type ConfigProvider = core.ConfigProvider

type OptionsResolver = core.OptionsResolver

// ResolveConfig layers defaults, loaded configuration, and runtime
// overrides into a validated Config.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	return core.ResolveConfig(ctx, provider, resolver, runtime)
}
