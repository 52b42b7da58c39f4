package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-dispatch/core"
)

// DeadLetterStore retains permanently failed jobs for operator inspection.
type DeadLetterStore struct {
	db   *bun.DB
	repo repository.Repository[*deadLetterRecord]
}

func NewDeadLetterStore(db *bun.DB) (*DeadLetterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deadLetterRecord](db, deadLetterHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dead letter repository wiring: %w", err)
		}
	}
	return &DeadLetterStore{db: db, repo: repo}, nil
}

func (s *DeadLetterStore) Record(ctx context.Context, letter core.DeadLetter) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if strings.TrimSpace(letter.JobID) == "" {
		return fmt.Errorf("sqlstore: dead letter job id is required")
	}
	failedAt := letter.FailedAt.UTC()
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}
	record := &deadLetterRecord{
		ID:        uuid.NewString(),
		JobID:     strings.TrimSpace(letter.JobID),
		JobName:   strings.TrimSpace(letter.JobName),
		HookType:  strings.TrimSpace(letter.HookType),
		EventID:   strings.TrimSpace(letter.EventID),
		EventType: string(letter.EventType),
		Attempts:  letter.Attempts,
		Outcome:   string(letter.Outcome),
		LastError: strings.TrimSpace(letter.LastError),
		Payload:   copyAnyMap(letter.Payload),
		FailedAt:  failedAt,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

// Purge removes dead letters older than the retention horizon and reports
// how many rows were deleted.
func (s *DeadLetterStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*deadLetterRecord)(nil)).
		Where("failed_at < ?", olderThan.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

var _ core.DeadLetterStore = (*DeadLetterStore)(nil)
