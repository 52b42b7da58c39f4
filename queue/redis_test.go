package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

func TestEncodeDecodeJob(t *testing.T) {
	occurred := time.Date(2025, time.August, 10, 12, 0, 0, 0, time.UTC)
	job := &core.Job{
		ID:   "job-1",
		Name: "comment.created:webhook",
		Event: core.Event{
			ID:         "event-1",
			Type:       core.EventCommentCreated,
			OccurredAt: occurred,
			Actor:      core.UserActor("user-1", "user@example.com"),
			Data:       map[string]any{"post_id": "post-1", "private": true},
		},
		Target: core.HookTarget{
			HookType: "webhook",
			Target:   map[string]any{"url": "https://example.com/hook"},
			Config:   map[string]any{"webhook_id": "wh-1", "secret": "shh"},
		},
		AttemptsMade: 1,
		MaxAttempts:  3,
		EnqueuedAt:   occurred.Add(time.Second),
	}

	payload, err := encodeJob(job)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := decodeJob(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.ID != job.ID || decoded.Name != job.Name {
		t.Fatalf("identity lost: %+v", decoded)
	}
	if decoded.Event.Type != core.EventCommentCreated || !decoded.Event.OccurredAt.Equal(occurred) {
		t.Fatalf("event envelope lost: %+v", decoded.Event)
	}
	if decoded.Event.Actor.Kind != core.ActorKindUser || decoded.Event.Actor.Email != "user@example.com" {
		t.Fatalf("actor lost: %+v", decoded.Event.Actor)
	}
	if private, _ := decoded.Event.Data["private"].(bool); !private {
		t.Fatalf("event data lost: %v", decoded.Event.Data)
	}
	if decoded.Target.ConfigString("webhook_id") != "wh-1" {
		t.Fatalf("target config lost: %v", decoded.Target.Config)
	}
	if decoded.AttemptsMade != 1 || decoded.MaxAttempts != 3 {
		t.Fatalf("attempt counters lost: %+v", decoded)
	}
}

func TestEncodeJob_RequiresID(t *testing.T) {
	if _, err := encodeJob(nil); err == nil {
		t.Fatalf("nil job must be rejected")
	}
	if _, err := encodeJob(&core.Job{Name: "x"}); err == nil {
		t.Fatalf("job without id must be rejected")
	}
}

func TestDecodeJob_RejectsGarbage(t *testing.T) {
	if _, err := decodeJob([]byte("not json")); err == nil {
		t.Fatalf("garbage payload must be rejected")
	}
}

func TestEncodeDeadEntry(t *testing.T) {
	job := testJob("dead")
	failedAt := time.Date(2025, time.August, 10, 12, 0, 0, 0, time.UTC)

	payload, err := encodeDeadEntry(job, "upstream 404", failedAt)
	if err != nil {
		t.Fatalf("encode dead entry: %v", err)
	}

	var entry struct {
		Job      json.RawMessage `json:"job"`
		Reason   string          `json:"reason"`
		FailedAt string          `json:"failed_at"`
	}
	if err := json.Unmarshal(payload, &entry); err != nil {
		t.Fatalf("decode dead entry: %v", err)
	}
	if entry.Reason != "upstream 404" {
		t.Fatalf("reason = %q", entry.Reason)
	}
	if entry.FailedAt != "2025-08-10T12:00:00Z" {
		t.Fatalf("failed_at = %q", entry.FailedAt)
	}
	inner, err := decodeJob(entry.Job)
	if err != nil {
		t.Fatalf("decode inner job: %v", err)
	}
	if inner.ID != "dead" {
		t.Fatalf("inner job id = %q", inner.ID)
	}
}

func TestNewRedisQueue_RequiresQueueName(t *testing.T) {
	cfg := core.DefaultConfig().Queue
	cfg.Name = " "
	if _, err := NewRedisQueue(cfg); err == nil {
		t.Fatalf("expected queue name requirement error")
	}
}
