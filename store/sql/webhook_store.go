package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-dispatch/core"
)

// WebhookStore persists outbound webhook registrations and their failure
// health. Accounting mutations run as single UPDATE statements so concurrent
// workers serialize on the row instead of racing read-modify-write cycles.
type WebhookStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookRecord]
}

func NewWebhookStore(db *bun.DB) (*WebhookStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookRecord](db, webhookHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook repository wiring: %w", err)
		}
	}
	return &WebhookStore{db: db, repo: repo}, nil
}

// Create registers a webhook. Admin surfaces own the full CRUD lifecycle;
// the pipeline only reads and updates accounting fields.
func (s *WebhookStore) Create(ctx context.Context, webhook core.Webhook) (core.Webhook, error) {
	if s == nil || s.repo == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	if strings.TrimSpace(webhook.URL) == "" {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook url is required")
	}
	now := time.Now().UTC()
	record := webhookToRecord(webhook)
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = string(core.WebhookStatusActive)
	}
	record.CreatedAt = now
	record.UpdatedAt = now
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Webhook{}, err
	}
	return webhookFromRecord(created), nil
}

// ListActiveForEvent returns every active registration subscribed to the
// event type. Board filtering happens in the resolver where the event's
// board is known.
func (s *WebhookStore) ListActiveForEvent(ctx context.Context, eventType core.EventType) ([]core.Webhook, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	var records []webhookRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("status = ?", string(core.WebhookStatusActive)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	webhooks := make([]core.Webhook, 0, len(records))
	for _, record := range records {
		webhook := webhookFromRecord(&record)
		if containsEvent(webhook.Events, eventType) {
			webhooks = append(webhooks, webhook)
		}
	}
	return webhooks, nil
}

func (s *WebhookStore) Get(ctx context.Context, id string) (core.Webhook, error) {
	if s == nil || s.db == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook id is required")
	}
	record := new(webhookRecord)
	err := s.db.NewSelect().Model(record).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Webhook{}, fmt.Errorf("%w: %s", core.ErrWebhookNotFound, id)
	}
	if err != nil {
		return core.Webhook{}, err
	}
	return webhookFromRecord(record), nil
}

// RecordSuccess resets the consecutive failure counter and stamps the last
// successful delivery.
func (s *WebhookStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: webhook id is required")
	}
	_, err := s.db.NewUpdate().
		Model((*webhookRecord)(nil)).
		Set("failure_count = 0").
		Set("last_error = ?", "").
		Set("last_triggered_at = ?", at.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// RecordFailure increments the consecutive failure counter and disables the
// registration when the incremented count reaches the threshold, all in one
// statement. It reports whether this write performed the disable.
func (s *WebhookStore) RecordFailure(ctx context.Context, id string, cause error, threshold int) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("sqlstore: webhook id is required")
	}
	if threshold < 1 {
		return false, fmt.Errorf("sqlstore: disable threshold must be at least 1")
	}
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}

	var updated webhookRecord
	query := `
UPDATE webhook_registrations
SET failure_count = failure_count + 1,
    status = CASE
        WHEN failure_count + 1 >= ? AND status = ? THEN ?
        ELSE status
    END,
    last_error = ?,
    updated_at = ?
WHERE id = ?
RETURNING id, status, failure_count
`
	err := s.db.NewRaw(
		query,
		threshold,
		string(core.WebhookStatusActive),
		string(core.WebhookStatusDisabled),
		lastError,
		time.Now().UTC(),
		id,
	).Scan(ctx, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", core.ErrWebhookNotFound, id)
	}
	if err != nil {
		return false, err
	}

	disabled := updated.Status == string(core.WebhookStatusDisabled) && updated.FailureCount == threshold
	return disabled, nil
}

func webhookToRecord(webhook core.Webhook) *webhookRecord {
	return &webhookRecord{
		ID:              strings.TrimSpace(webhook.ID),
		URL:             strings.TrimSpace(webhook.URL),
		Secret:          webhook.Secret,
		Events:          eventTypesToStrings(webhook.Events),
		BoardIDs:        trimStrings(webhook.BoardIDs),
		Status:          string(webhook.Status),
		FailureCount:    webhook.FailureCount,
		LastTriggeredAt: webhook.LastTriggeredAt,
		LastError:       webhook.LastError,
		CreatedAt:       webhook.CreatedAt,
		UpdatedAt:       webhook.UpdatedAt,
	}
}

func webhookFromRecord(record *webhookRecord) core.Webhook {
	if record == nil {
		return core.Webhook{}
	}
	return core.Webhook{
		ID:              record.ID,
		URL:             record.URL,
		Secret:          record.Secret,
		Events:          stringsToEventTypes(record.Events),
		BoardIDs:        trimStrings(record.BoardIDs),
		Status:          core.WebhookStatus(record.Status),
		FailureCount:    record.FailureCount,
		LastTriggeredAt: record.LastTriggeredAt,
		LastError:       record.LastError,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

func eventTypesToStrings(events []core.EventType) []string {
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, string(event))
	}
	return out
}

func stringsToEventTypes(values []string) []core.EventType {
	out := make([]core.EventType, 0, len(values))
	for _, value := range values {
		out = append(out, core.EventType(strings.TrimSpace(value)))
	}
	return out
}

func trimStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func containsEvent(events []core.EventType, needle core.EventType) bool {
	for _, event := range events {
		if event == needle {
			return true
		}
	}
	return false
}

var _ core.WebhookStore = (*WebhookStore)(nil)
