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

// IntegrationConfigStore persists event-to-integration routing rows. Config
// blobs hold decrypted handler credentials; encryption at rest belongs to
// the surrounding application layer.
type IntegrationConfigStore struct {
	db   *bun.DB
	repo repository.Repository[*integrationMappingRecord]
}

func NewIntegrationConfigStore(db *bun.DB) (*IntegrationConfigStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*integrationMappingRecord](db, integrationMappingHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid integration mapping repository wiring: %w", err)
		}
	}
	return &IntegrationConfigStore{db: db, repo: repo}, nil
}

func (s *IntegrationConfigStore) Create(ctx context.Context, mapping core.IntegrationMapping) (core.IntegrationMapping, error) {
	if s == nil || s.repo == nil {
		return core.IntegrationMapping{}, fmt.Errorf("sqlstore: integration config store is not configured")
	}
	if strings.TrimSpace(mapping.HookType) == "" {
		return core.IntegrationMapping{}, fmt.Errorf("sqlstore: integration hook type is required")
	}
	now := time.Now().UTC()
	record := &integrationMappingRecord{
		ID:        strings.TrimSpace(mapping.ID),
		HookType:  strings.TrimSpace(mapping.HookType),
		ChannelID: strings.TrimSpace(mapping.ChannelID),
		Events:    eventTypesToStrings(mapping.Events),
		BoardIDs:  trimStrings(mapping.BoardIDs),
		Config:    copyAnyMap(mapping.Config),
		Enabled:   mapping.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.IntegrationMapping{}, err
	}
	return mappingFromRecord(created), nil
}

// ListEnabledForEvent returns every enabled mapping subscribed to the event
// type, oldest first so fan-out order is stable.
func (s *IntegrationConfigStore) ListEnabledForEvent(ctx context.Context, eventType core.EventType) ([]core.IntegrationMapping, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: integration config store is not configured")
	}
	var records []integrationMappingRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("enabled = ?", true).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	mappings := make([]core.IntegrationMapping, 0, len(records))
	for _, record := range records {
		mapping := mappingFromRecord(&record)
		if containsEvent(mapping.Events, eventType) {
			mappings = append(mappings, mapping)
		}
	}
	return mappings, nil
}

func mappingFromRecord(record *integrationMappingRecord) core.IntegrationMapping {
	if record == nil {
		return core.IntegrationMapping{}
	}
	return core.IntegrationMapping{
		ID:        record.ID,
		HookType:  record.HookType,
		ChannelID: record.ChannelID,
		Events:    stringsToEventTypes(record.Events),
		BoardIDs:  trimStrings(record.BoardIDs),
		Config:    copyAnyMap(record.Config),
		Enabled:   record.Enabled,
	}
}

var _ core.IntegrationConfigStore = (*IntegrationConfigStore)(nil)
