package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func webhookHandlers() repository.ModelHandlers[*webhookRecord] {
	return repository.ModelHandlers[*webhookRecord]{
		NewRecord: func() *webhookRecord {
			return &webhookRecord{}
		},
		GetID: func(record *webhookRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *webhookRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *webhookRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func integrationMappingHandlers() repository.ModelHandlers[*integrationMappingRecord] {
	return repository.ModelHandlers[*integrationMappingRecord]{
		NewRecord: func() *integrationMappingRecord {
			return &integrationMappingRecord{}
		},
		GetID: func(record *integrationMappingRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *integrationMappingRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *integrationMappingRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func deadLetterHandlers() repository.ModelHandlers[*deadLetterRecord] {
	return repository.ModelHandlers[*deadLetterRecord]{
		NewRecord: func() *deadLetterRecord {
			return &deadLetterRecord{}
		},
		GetID: func(record *deadLetterRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *deadLetterRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *deadLetterRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
