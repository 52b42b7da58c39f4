package dispatch

import (
	"context"
	"fmt"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/hooks"
	"github.com/goliatone/go-dispatch/queue"
	"github.com/goliatone/go-dispatch/resolver"
	"github.com/goliatone/go-dispatch/scheduler"
	sqlstore "github.com/goliatone/go-dispatch/store/sql"
	"github.com/goliatone/go-dispatch/webhooks"
	"github.com/goliatone/go-dispatch/worker"
)

// Pipeline is the assembled event dispatch system: dispatcher, durable
// queue, worker pool, and the time-based schedulers.
type Pipeline struct {
	cfg        core.Config
	obs        core.Instrumentation
	queue      core.JobQueue
	registry   *core.HookRegistry
	dispatcher *core.Dispatcher
	pool       *worker.Pool
	cron       *scheduler.CronScheduler
	publisher  *scheduler.Publisher

	ownsQueue bool
}

type SetupOption func(*setupOptions)

type setupOptions struct {
	logger       core.Logger
	metrics      core.MetricsRecorder
	queue        core.JobQueue
	cache        repositorycache.CacheService
	webhooks     core.WebhookStore
	integrations core.IntegrationConfigStore
	subs         core.SubscriptionService
	features     core.FeatureGate
	emailSender  hooks.EmailSender
	notifier     hooks.NotificationCreator
	enricher     hooks.Enricher
	changelog    core.ChangelogReader
	schedules    core.ScheduleStore
	runner       scheduler.EvaluationRunner
	deadLetters  core.DeadLetterStore
	workerHooks  []core.JobWorkerHook
	integResolve core.IntegrationHandlerResolver
}

func WithLogger(logger core.Logger) SetupOption {
	return func(o *setupOptions) { o.logger = logger }
}

func WithMetrics(metrics core.MetricsRecorder) SetupOption {
	return func(o *setupOptions) { o.metrics = metrics }
}

// WithJobQueue overrides the default Redis-backed queue. The pipeline will
// not close an injected queue.
func WithJobQueue(jobQueue core.JobQueue) SetupOption {
	return func(o *setupOptions) { o.queue = jobQueue }
}

// WithCacheService enables cached webhook registration reads.
func WithCacheService(cache repositorycache.CacheService) SetupOption {
	return func(o *setupOptions) { o.cache = cache }
}

func WithWebhookStore(store core.WebhookStore) SetupOption {
	return func(o *setupOptions) { o.webhooks = store }
}

func WithIntegrationConfigStore(store core.IntegrationConfigStore) SetupOption {
	return func(o *setupOptions) { o.integrations = store }
}

func WithSubscriptionService(service core.SubscriptionService) SetupOption {
	return func(o *setupOptions) { o.subs = service }
}

func WithFeatureGate(gate core.FeatureGate) SetupOption {
	return func(o *setupOptions) { o.features = gate }
}

func WithEmailSender(sender hooks.EmailSender) SetupOption {
	return func(o *setupOptions) { o.emailSender = sender }
}

func WithNotificationCreator(creator hooks.NotificationCreator) SetupOption {
	return func(o *setupOptions) { o.notifier = creator }
}

func WithEnricher(enricher hooks.Enricher) SetupOption {
	return func(o *setupOptions) { o.enricher = enricher }
}

func WithChangelogReader(reader core.ChangelogReader) SetupOption {
	return func(o *setupOptions) { o.changelog = reader }
}

func WithScheduleStore(store core.ScheduleStore) SetupOption {
	return func(o *setupOptions) { o.schedules = store }
}

func WithEvaluationRunner(runner scheduler.EvaluationRunner) SetupOption {
	return func(o *setupOptions) { o.runner = runner }
}

func WithDeadLetterStore(store core.DeadLetterStore) SetupOption {
	return func(o *setupOptions) { o.deadLetters = store }
}

func WithWorkerHooks(workerHooks ...core.JobWorkerHook) SetupOption {
	return func(o *setupOptions) { o.workerHooks = append(o.workerHooks, workerHooks...) }
}

// WithIntegrationHandlerResolver installs the integrations-owned secondary
// handler registry.
func WithIntegrationHandlerResolver(integrations core.IntegrationHandlerResolver) SetupOption {
	return func(o *setupOptions) { o.integResolve = integrations }
}

// Setup builds the full pipeline. The queue backend is pinged before any
// handler registration so a dead broker fails setup instead of silently
// dropping events later.
func Setup(ctx context.Context, cfg core.Config, opts ...SetupOption) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := setupOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&options)
	}
	if options.webhooks == nil {
		return nil, fmt.Errorf("dispatch: webhook store is required")
	}

	obs := core.ResolveInstrumentation(cfg.ServiceName, options.logger, options.metrics)

	jobQueue := options.queue
	ownsQueue := false
	if jobQueue == nil {
		redisQueue, err := queue.NewRedisQueue(cfg.Queue)
		if err != nil {
			return nil, err
		}
		jobQueue = redisQueue
		ownsQueue = true
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Queue.ReadyTimeout)
	defer cancel()
	if err := jobQueue.Ping(pingCtx); err != nil {
		if ownsQueue {
			_ = jobQueue.Close()
		}
		return nil, err
	}

	webhookStore := options.webhooks
	if options.cache != nil {
		cached, err := sqlstore.NewCachedWebhookStore(webhookStore, options.cache)
		if err != nil {
			return nil, err
		}
		webhookStore = cached
	}

	targetResolver := resolver.New(
		resolver.WithWebhookStore(webhookStore),
		resolver.WithIntegrationConfigStore(options.integrations),
		resolver.WithSubscriptionService(options.subs),
		resolver.WithFeatureGate(options.features),
		resolver.WithInstrumentation(obs),
	)

	dispatcher, err := core.NewDispatcher(targetResolver, jobQueue, cfg.Queue.MaxAttempts, obs)
	if err != nil {
		return nil, err
	}

	registry := core.NewHookRegistry()
	if options.integResolve != nil {
		registry.SetIntegrationResolver(options.integResolve)
	}
	if err := registerHandlers(registry, cfg, obs, webhookStore, dispatcher, options); err != nil {
		return nil, err
	}

	accountant, err := webhooks.NewAccountant(webhookStore, cfg.Webhook.DisableThreshold,
		webhooks.WithInstrumentation(obs))
	if err != nil {
		return nil, err
	}

	pool, err := worker.New(jobQueue, registry, cfg.Queue, cfg.ShutdownGrace,
		worker.WithFailureListeners(accountant),
		worker.WithDeadLetterStore(options.deadLetters),
		worker.WithWorkerHooks(options.workerHooks...),
		worker.WithScheduledHookTypes(scheduler.HookTypePublish),
		worker.WithInstrumentation(obs),
	)
	if err != nil {
		return nil, err
	}

	publisher, err := scheduler.NewPublisher(jobQueue, cfg.Queue.MaxAttempts)
	if err != nil {
		return nil, err
	}

	var cron *scheduler.CronScheduler
	if options.schedules != nil && options.runner != nil {
		cron, err = scheduler.NewCronScheduler(options.schedules, options.runner,
			scheduler.WithCronInstrumentation(obs))
		if err != nil {
			return nil, err
		}
	}

	return &Pipeline{
		cfg:        cfg,
		obs:        obs,
		queue:      jobQueue,
		registry:   registry,
		dispatcher: dispatcher,
		pool:       pool,
		cron:       cron,
		publisher:  publisher,
		ownsQueue:  ownsQueue,
	}, nil
}

// registerHandlers wires the built-in delivery handlers. The webhook handler
// is unconditional; optional channels register only when their collaborator
// was supplied.
func registerHandlers(
	registry *core.HookRegistry,
	cfg core.Config,
	obs core.Instrumentation,
	webhookStore core.WebhookStore,
	dispatcher *core.Dispatcher,
	options setupOptions,
) error {
	webhookHandler, err := hooks.NewWebhookHandler(webhookStore, cfg.Webhook.Timeout,
		hooks.WithWebhookInstrumentation(obs))
	if err != nil {
		return err
	}
	if err := registry.Register(resolver.HookTypeWebhook, webhookHandler); err != nil {
		return err
	}

	if options.emailSender != nil {
		emailHandler, err := hooks.NewEmailHandler(options.emailSender)
		if err != nil {
			return err
		}
		if err := registry.Register(resolver.HookTypeEmail, emailHandler); err != nil {
			return err
		}
	}
	if options.notifier != nil {
		notificationHandler, err := hooks.NewNotificationHandler(options.notifier)
		if err != nil {
			return err
		}
		if err := registry.Register(resolver.HookTypeNotification, notificationHandler); err != nil {
			return err
		}
	}
	if err := registry.Register("slack", hooks.NewSlackHandler()); err != nil {
		return err
	}
	if options.enricher != nil {
		aiHandler, err := hooks.NewAIHandler(options.enricher)
		if err != nil {
			return err
		}
		if err := registry.Register(resolver.HookTypeAI, aiHandler); err != nil {
			return err
		}
	}
	if options.changelog != nil {
		reader := options.changelog
		if err := registry.RegisterLazy(scheduler.HookTypePublish, func() (core.HookHandler, error) {
			return scheduler.NewPublishHandler(reader, dispatcher)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Start begins consuming jobs and firing schedules.
func (p *Pipeline) Start(ctx context.Context) error {
	if p == nil {
		return fmt.Errorf("dispatch: pipeline is nil")
	}
	p.pool.Start(ctx)
	if p.cron != nil {
		if err := p.cron.Start(ctx); err != nil {
			return err
		}
	}
	p.obs.Info(ctx, "dispatch pipeline started", map[string]any{
		"queue":                 p.cfg.Queue.Name,
		"concurrency":           p.cfg.Queue.Concurrency,
		"scheduled_concurrency": p.cfg.Queue.ScheduledConcurrency,
	})
	return nil
}

// Close drains the pipeline: schedulers stop first so no new work arrives,
// then workers finish within the shutdown grace, then the queue closes.
func (p *Pipeline) Close() error {
	if p == nil {
		return nil
	}
	var firstErr error
	if p.cron != nil {
		if err := p.cron.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.pool.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if p.ownsQueue {
		if err := p.queue.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pipeline) Dispatcher() *core.Dispatcher {
	if p == nil {
		return nil
	}
	return p.dispatcher
}

func (p *Pipeline) Registry() *core.HookRegistry {
	if p == nil {
		return nil
	}
	return p.registry
}

func (p *Pipeline) Publisher() *scheduler.Publisher {
	if p == nil {
		return nil
	}
	return p.publisher
}

func (p *Pipeline) CronScheduler() *scheduler.CronScheduler {
	if p == nil {
		return nil
	}
	return p.cron
}

func (p *Pipeline) Queue() core.JobQueue {
	if p == nil {
		return nil
	}
	return p.queue
}
