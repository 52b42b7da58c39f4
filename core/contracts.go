package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// HookHandler is one pluggable delivery mechanism. Implementations report
// their outcome through HookResult; a returned error is classified by the
// worker exactly like HookResult.Err.
type HookHandler interface {
	Name() string
	Run(ctx context.Context, event Event, target HookTarget) (HookResult, error)
}

// ConnectionTester is optionally implemented by handlers that can probe a
// target without emitting a real delivery.
type ConnectionTester interface {
	TestConnection(ctx context.Context, target HookTarget) error
}

// HandlerConstructor builds a lazily registered handler. It runs at most
// once; a constructor error is cached and surfaces as a permanent failure.
type HandlerConstructor func() (HookHandler, error)

// IntegrationHandlerResolver is the extension point owned by the
// integrations subsystem, consulted after built-in and lazy handlers.
type IntegrationHandlerResolver interface {
	Resolve(hookType string) (HookHandler, bool)
}

// TargetResolver computes the fan-out set for an event from current domain
// state. It never fails upward: internal errors degrade to fewer targets.
type TargetResolver interface {
	Resolve(ctx context.Context, event Event) []HookTarget
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *Job) error
	EnqueueBatch(ctx context.Context, jobs []*Job) error
}

type JobDelivery interface {
	Job() *Job
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

// DelayedJobEnqueuer schedules one-shot jobs keyed by a caller supplied
// idempotency id. Scheduling an id again replaces the pending instance.
type DelayedJobEnqueuer interface {
	ScheduleJob(ctx context.Context, job *Job, fireAt time.Time) error
	CancelJob(ctx context.Context, jobID string) error
}

// JobQueue is the full durable queue surface. Ping verifies backend
// readiness with a bounded timeout and must be called before accepting work.
type JobQueue interface {
	JobEnqueuer
	JobDequeuer
	DelayedJobEnqueuer
	Ping(ctx context.Context) error
	Close() error
}

type JobWorkerEvent struct {
	Job       *Job
	Attempt   int
	Delay     time.Duration
	Outcome   JobOutcome
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

// FailureListener receives permanent failures only, never in-flight retries.
type FailureListener interface {
	OnPermanentFailure(ctx context.Context, failure JobFailure)
}

// WebhookStore is the persisted registration collaborator. RecordFailure
// must apply increment-and-compare atomically; it reports whether the
// registration crossed the disable threshold on this write.
type WebhookStore interface {
	ListActiveForEvent(ctx context.Context, eventType EventType) ([]Webhook, error)
	Get(ctx context.Context, id string) (Webhook, error)
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string, cause error, threshold int) (disabled bool, err error)
}

type IntegrationConfigStore interface {
	ListEnabledForEvent(ctx context.Context, eventType EventType) ([]IntegrationMapping, error)
}

// SubscriptionService is the collaborator that owns subscribers and their
// delivery preferences. Both batch lookups are single round trips.
type SubscriptionService interface {
	GetSubscribersForEvent(ctx context.Context, postID string, kind NotificationKind) ([]Subscriber, error)
	BatchGetNotificationPreferences(ctx context.Context, principalIDs []string) (map[string]NotificationPrefs, error)
	BatchGenerateUnsubscribeTokens(ctx context.Context, requests []UnsubscribeTokenRequest) (map[string]string, error)
}

// ChangelogReader re-fetches scheduled entries from the system of record at
// fire time.
type ChangelogReader interface {
	GetEntry(ctx context.Context, entryID string) (ChangelogEntry, error)
}

// FeatureGate answers per-board feature flags (e.g. AI enrichment).
type FeatureGate interface {
	Enabled(ctx context.Context, feature string, boardID string) bool
}

type ScheduleStore interface {
	ListEnabled(ctx context.Context) ([]EvaluationSchedule, error)
	Upsert(ctx context.Context, schedule EvaluationSchedule) error
	Delete(ctx context.Context, ownerID string) error
}

type DeadLetterStore interface {
	Record(ctx context.Context, letter DeadLetter) error
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, eventType EventType, actor Actor, data map[string]any)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}
