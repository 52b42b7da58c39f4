package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type webhookRecord struct {
	bun.BaseModel `bun:"table:webhook_registrations,alias:wr"`

	ID              string     `bun:"id,pk"`
	URL             string     `bun:"url,notnull"`
	Secret          string     `bun:"secret,notnull"`
	Events          []string   `bun:"events,type:jsonb,notnull"`
	BoardIDs        []string   `bun:"board_ids,type:jsonb,notnull"`
	Status          string     `bun:"status,notnull"`
	FailureCount    int        `bun:"failure_count,notnull"`
	LastTriggeredAt *time.Time `bun:"last_triggered_at,nullzero"`
	LastError       string     `bun:"last_error"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type integrationMappingRecord struct {
	bun.BaseModel `bun:"table:integration_mappings,alias:im"`

	ID        string         `bun:"id,pk"`
	HookType  string         `bun:"hook_type,notnull"`
	ChannelID string         `bun:"channel_id,notnull"`
	Events    []string       `bun:"events,type:jsonb,notnull"`
	BoardIDs  []string       `bun:"board_ids,type:jsonb,notnull"`
	Config    map[string]any `bun:"config,type:jsonb,notnull"`
	Enabled   bool           `bun:"enabled,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type evaluationScheduleRecord struct {
	bun.BaseModel `bun:"table:evaluation_schedules,alias:es"`

	OwnerID   string    `bun:"owner_id,pk"`
	Pattern   string    `bun:"pattern,notnull"`
	Enabled   bool      `bun:"enabled,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deadLetterRecord struct {
	bun.BaseModel `bun:"table:hook_dead_letters,alias:hdl"`

	ID        string         `bun:"id,pk"`
	JobID     string         `bun:"job_id,notnull"`
	JobName   string         `bun:"job_name,notnull"`
	HookType  string         `bun:"hook_type,notnull"`
	EventID   string         `bun:"event_id,notnull"`
	EventType string         `bun:"event_type,notnull"`
	Attempts  int            `bun:"attempts,notnull"`
	Outcome   string         `bun:"outcome,notnull"`
	LastError string         `bun:"last_error"`
	Payload   map[string]any `bun:"payload,type:jsonb,notnull"`
	FailedAt  time.Time      `bun:"failed_at,nullzero,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
