package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goliatone/go-dispatch/core"
)

// EvaluationRunner executes one owner's repeatable evaluation pass.
type EvaluationRunner interface {
	RunEvaluation(ctx context.Context, ownerID string) error
}

// EvaluationRunnerFunc adapts a function to EvaluationRunner.
type EvaluationRunnerFunc func(ctx context.Context, ownerID string) error

func (f EvaluationRunnerFunc) RunEvaluation(ctx context.Context, ownerID string) error {
	return f(ctx, ownerID)
}

// CronScheduler keeps one live cron entry per enabled evaluation schedule.
// Upserting replaces the entry in place; disabling removes it. Registered
// patterns survive restarts through the schedule store.
type CronScheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	parser  cron.Parser
	entries map[string]cron.EntryID
	store   core.ScheduleStore
	runner  EvaluationRunner
	obs     core.Instrumentation
	now     func() time.Time
}

type CronOption func(*CronScheduler)

func WithCronInstrumentation(obs core.Instrumentation) CronOption {
	return func(s *CronScheduler) {
		s.obs = obs
	}
}

func WithCronClock(now func() time.Time) CronOption {
	return func(s *CronScheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func NewCronScheduler(store core.ScheduleStore, runner EvaluationRunner, options ...CronOption) (*CronScheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("scheduler: schedule store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("scheduler: evaluation runner is required")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	scheduler := &CronScheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		parser:  parser,
		entries: map[string]cron.EntryID{},
		store:   store,
		runner:  runner,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(scheduler)
	}
	return scheduler, nil
}

// Start restores every enabled schedule from the store and begins firing.
func (s *CronScheduler) Start(ctx context.Context) error {
	schedules, err := s.store.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: restore schedules: %w", err)
	}
	for _, schedule := range schedules {
		if err := s.register(schedule); err != nil {
			// One corrupt pattern must not keep the rest from firing.
			s.obs.Error(ctx, "schedule restore skipped", map[string]any{
				"owner_id": schedule.OwnerID,
				"pattern":  schedule.Pattern,
				"error":    err.Error(),
			})
		}
	}
	s.cron.Start()
	return nil
}

// Upsert validates and persists the schedule, then replaces any live entry.
// A disabled schedule persists as disabled and stops firing.
func (s *CronScheduler) Upsert(ctx context.Context, schedule core.EvaluationSchedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	schedule.OwnerID = strings.TrimSpace(schedule.OwnerID)
	schedule.Pattern = strings.TrimSpace(schedule.Pattern)
	if schedule.Enabled {
		if _, err := s.parser.Parse(schedule.Pattern); err != nil {
			return fmt.Errorf("scheduler: invalid cron pattern %q: %w", schedule.Pattern, err)
		}
	}
	schedule.UpdatedAt = s.now()

	if err := s.store.Upsert(ctx, schedule); err != nil {
		return fmt.Errorf("scheduler: persist schedule: %w", err)
	}

	s.remove(schedule.OwnerID)
	if !schedule.Enabled {
		return nil
	}
	return s.register(schedule)
}

// Delete removes the schedule from the store and stops its entry.
func (s *CronScheduler) Delete(ctx context.Context, ownerID string) error {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return fmt.Errorf("scheduler: owner id is required")
	}
	if err := s.store.Delete(ctx, ownerID); err != nil {
		return fmt.Errorf("scheduler: delete schedule: %w", err)
	}
	s.remove(ownerID)
	return nil
}

// Close stops firing and waits for in-flight evaluations.
func (s *CronScheduler) Close() error {
	<-s.cron.Stop().Done()
	return nil
}

func (s *CronScheduler) register(schedule core.EvaluationSchedule) error {
	ownerID := strings.TrimSpace(schedule.OwnerID)
	entryID, err := s.cron.AddFunc(strings.TrimSpace(schedule.Pattern), func() {
		s.fire(ownerID)
	})
	if err != nil {
		return fmt.Errorf("scheduler: register schedule %s: %w", ownerID, err)
	}
	s.mu.Lock()
	s.entries[ownerID] = entryID
	s.mu.Unlock()
	return nil
}

func (s *CronScheduler) remove(ownerID string) {
	s.mu.Lock()
	entryID, ok := s.entries[ownerID]
	if ok {
		delete(s.entries, ownerID)
	}
	s.mu.Unlock()
	if ok {
		s.cron.Remove(entryID)
	}
}

func (s *CronScheduler) fire(ownerID string) {
	ctx := context.Background()
	startedAt := s.now()
	err := s.runner.RunEvaluation(ctx, ownerID)
	s.obs.ObserveOperation(ctx, startedAt, "evaluation", err, map[string]any{
		"owner_id": ownerID,
	})
}
