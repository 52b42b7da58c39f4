package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-dispatch/core"
)

// ScheduleStore persists evaluation schedules keyed by their owning entity.
type ScheduleStore struct {
	db *bun.DB
}

func NewScheduleStore(db *bun.DB) (*ScheduleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ScheduleStore{db: db}, nil
}

func (s *ScheduleStore) ListEnabled(ctx context.Context) ([]core.EvaluationSchedule, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: schedule store is not configured")
	}
	var records []evaluationScheduleRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("enabled = ?", true).
		Order("owner_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	schedules := make([]core.EvaluationSchedule, 0, len(records))
	for _, record := range records {
		schedules = append(schedules, core.EvaluationSchedule{
			OwnerID:   record.OwnerID,
			Pattern:   record.Pattern,
			Enabled:   record.Enabled,
			UpdatedAt: record.UpdatedAt,
		})
	}
	return schedules, nil
}

func (s *ScheduleStore) Upsert(ctx context.Context, schedule core.EvaluationSchedule) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: schedule store is not configured")
	}
	if err := schedule.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	record := &evaluationScheduleRecord{
		OwnerID:   strings.TrimSpace(schedule.OwnerID),
		Pattern:   strings.TrimSpace(schedule.Pattern),
		Enabled:   schedule.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (owner_id) DO UPDATE").
		Set("pattern = EXCLUDED.pattern").
		Set("enabled = EXCLUDED.enabled").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *ScheduleStore) Delete(ctx context.Context, ownerID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: schedule store is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return fmt.Errorf("sqlstore: schedule owner id is required")
	}
	_, err := s.db.NewDelete().
		Model((*evaluationScheduleRecord)(nil)).
		Where("owner_id = ?", ownerID).
		Exec(ctx)
	return err
}

var _ core.ScheduleStore = (*ScheduleStore)(nil)
