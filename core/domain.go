package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidEventType   = errors.New("core: invalid event type")
	ErrInvalidActor       = errors.New("core: invalid actor")
	ErrUnknownHookType    = errors.New("core: unknown hook type")
	ErrWebhookNotFound    = errors.New("core: webhook not found")
	ErrScheduleNotFound   = errors.New("core: evaluation schedule not found")
	ErrQueueUnavailable   = errors.New("core: job queue is unavailable")
	ErrBlockedDestination = errors.New("core: destination address is blocked")
)

type EventType string

const (
	EventPostCreated        EventType = "post.created"
	EventPostStatusChanged  EventType = "post.status_changed"
	EventCommentCreated     EventType = "comment.created"
	EventChangelogPublished EventType = "changelog.published"
)

func EventTypes() []EventType {
	return []EventType{
		EventPostCreated,
		EventPostStatusChanged,
		EventCommentCreated,
		EventChangelogPublished,
	}
}

func ParseEventType(value string) (EventType, error) {
	candidate := EventType(strings.TrimSpace(strings.ToLower(value)))
	for _, known := range EventTypes() {
		if candidate == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEventType, value)
}

func (t EventType) Valid() bool {
	_, err := ParseEventType(string(t))
	return err == nil
}

type ActorKind string

const (
	ActorKindUser    ActorKind = "user"
	ActorKindService ActorKind = "service"
)

// Actor identifies who caused a domain event. A user actor carries a
// recipient identity and is excluded from subscriber fan-out; a service
// actor has no recipient identity and never is.
type Actor struct {
	Kind        ActorKind
	PrincipalID string
	Email       string
	Name        string
}

func UserActor(principalID string, email string) Actor {
	return Actor{
		Kind:        ActorKindUser,
		PrincipalID: strings.TrimSpace(principalID),
		Email:       strings.TrimSpace(strings.ToLower(email)),
	}
}

func ServiceActor(name string) Actor {
	return Actor{
		Kind: ActorKindService,
		Name: strings.TrimSpace(name),
	}
}

func (a Actor) Validate() error {
	switch a.Kind {
	case ActorKindUser:
		if strings.TrimSpace(a.PrincipalID) == "" && strings.TrimSpace(a.Email) == "" {
			return fmt.Errorf("%w: user actor requires a principal id or email", ErrInvalidActor)
		}
	case ActorKindService:
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("%w: service actor requires a name", ErrInvalidActor)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidActor, a.Kind)
	}
	return nil
}

// RecipientIdentity reports the identity used for self-notification
// exclusion. Service actors have none.
func (a Actor) RecipientIdentity() (principalID string, email string, ok bool) {
	if a.Kind != ActorKindUser {
		return "", "", false
	}
	return strings.TrimSpace(a.PrincipalID), strings.TrimSpace(strings.ToLower(a.Email)), true
}

// Event is the immutable envelope built once per domain occurrence.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time
	Actor      Actor
	Data       map[string]any
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("core: event id is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, e.Type)
	}
	if err := e.Actor.Validate(); err != nil {
		return err
	}
	return nil
}

func (e Event) dataString(key string) string {
	if len(e.Data) == 0 {
		return ""
	}
	value, ok := e.Data[key]
	if !ok {
		return ""
	}
	text := strings.TrimSpace(fmt.Sprint(value))
	if text == "<nil>" {
		return ""
	}
	return text
}

// BoardID returns the board the event belongs to, empty when the event is
// not board scoped (e.g. changelog.published).
func (e Event) BoardID() string {
	return e.dataString("board_id")
}

func (e Event) PostID() string {
	return e.dataString("post_id")
}

// Private reports whether the event refers to a private comment. Private
// events never reach external channels.
func (e Event) Private() bool {
	if len(e.Data) == 0 {
		return false
	}
	private, ok := e.Data["private"].(bool)
	return ok && private
}

type PostData struct {
	PostID   string
	BoardID  string
	Title    string
	Details  string
	AuthorID string
}

func (d PostData) Map() map[string]any {
	return map[string]any{
		"post_id":   strings.TrimSpace(d.PostID),
		"board_id":  strings.TrimSpace(d.BoardID),
		"title":     d.Title,
		"details":   d.Details,
		"author_id": strings.TrimSpace(d.AuthorID),
	}
}

type StatusChangeData struct {
	PostID     string
	BoardID    string
	FromStatus string
	ToStatus   string
	ChangerID  string
}

func (d StatusChangeData) Map() map[string]any {
	return map[string]any{
		"post_id":     strings.TrimSpace(d.PostID),
		"board_id":    strings.TrimSpace(d.BoardID),
		"from_status": strings.TrimSpace(d.FromStatus),
		"to_status":   strings.TrimSpace(d.ToStatus),
		"changer_id":  strings.TrimSpace(d.ChangerID),
	}
}

type CommentData struct {
	CommentID string
	PostID    string
	BoardID   string
	Body      string
	Private   bool
	AuthorID  string
}

func (d CommentData) Map() map[string]any {
	return map[string]any{
		"comment_id": strings.TrimSpace(d.CommentID),
		"post_id":    strings.TrimSpace(d.PostID),
		"board_id":   strings.TrimSpace(d.BoardID),
		"body":       d.Body,
		"private":    d.Private,
		"author_id":  strings.TrimSpace(d.AuthorID),
	}
}

type ChangelogData struct {
	EntryID     string
	Title       string
	PublishedAt time.Time
}

func (d ChangelogData) Map() map[string]any {
	return map[string]any{
		"entry_id":     strings.TrimSpace(d.EntryID),
		"title":        d.Title,
		"published_at": d.PublishedAt.UTC().Format(time.RFC3339),
	}
}

// HookTarget is one resolved fan-out destination. Target carries
// handler-specific addressing data, Config handler-specific secrets and
// context. Both are opaque to everything but the owning handler.
type HookTarget struct {
	HookType string
	Target   map[string]any
	Config   map[string]any
}

func (t HookTarget) TargetString(key string) string {
	return opaqueString(t.Target, key)
}

func (t HookTarget) ConfigString(key string) string {
	return opaqueString(t.Config, key)
}

func opaqueString(values map[string]any, key string) string {
	if len(values) == 0 {
		return ""
	}
	value, ok := values[key]
	if !ok {
		return ""
	}
	text := strings.TrimSpace(fmt.Sprint(value))
	if text == "<nil>" {
		return ""
	}
	return text
}

// HookResult is the uniform handler return contract. Success=true always
// terminates the job; ShouldRetry is only meaningful on failure.
type HookResult struct {
	Success     bool
	ExternalID  string
	ExternalURL string
	Err         error
	ShouldRetry bool
}

func (r HookResult) Retryable() bool {
	return !r.Success && r.ShouldRetry
}

type WebhookStatus string

const (
	WebhookStatusActive   WebhookStatus = "active"
	WebhookStatusDisabled WebhookStatus = "disabled"
)

// Webhook is the persisted outbound webhook registration. The pipeline
// mutates only failure accounting fields; admin surfaces own the rest.
type Webhook struct {
	ID              string
	URL             string
	Secret          string
	Events          []EventType
	BoardIDs        []string
	Status          WebhookStatus
	FailureCount    int
	LastTriggeredAt *time.Time
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Matches reports whether the registration covers the event type and board.
// An empty board filter matches every board.
func (w Webhook) Matches(eventType EventType, boardID string) bool {
	if w.Status != WebhookStatusActive {
		return false
	}
	if !containsEventType(w.Events, eventType) {
		return false
	}
	return boardFilterMatches(w.BoardIDs, boardID)
}

// IntegrationMapping is one enabled event-to-integration routing row. The
// decrypted Config is handler-specific (tokens, workspace, channel context).
type IntegrationMapping struct {
	ID        string
	HookType  string
	ChannelID string
	Events    []EventType
	BoardIDs  []string
	Config    map[string]any
	Enabled   bool
}

func (m IntegrationMapping) Matches(eventType EventType, boardID string) bool {
	if !m.Enabled {
		return false
	}
	if !containsEventType(m.Events, eventType) {
		return false
	}
	return boardFilterMatches(m.BoardIDs, boardID)
}

func containsEventType(haystack []EventType, needle EventType) bool {
	for _, candidate := range haystack {
		if candidate == needle {
			return true
		}
	}
	return false
}

func boardFilterMatches(filter []string, boardID string) bool {
	if len(filter) == 0 {
		return true
	}
	boardID = strings.TrimSpace(boardID)
	if boardID == "" {
		return false
	}
	for _, candidate := range filter {
		if strings.TrimSpace(candidate) == boardID {
			return true
		}
	}
	return false
}

// Job is the queue-durable unit of work: one (event, target) pair.
type Job struct {
	ID           string
	Name         string
	Event        Event
	Target       HookTarget
	AttemptsMade int
	MaxAttempts  int
	EnqueuedAt   time.Time
}

// JobName builds the queue job name for an event/hook pairing.
func JobName(eventType EventType, hookType string) string {
	return string(eventType) + ":" + strings.TrimSpace(hookType)
}

// JobOutcome is the single authoritative terminal (or scheduling) state of
// one worker pass over a job. Permanent failure is never inferred from
// attempt counters after the fact.
type JobOutcome string

const (
	JobOutcomeCompleted          JobOutcome = "completed"
	JobOutcomeRetryScheduled     JobOutcome = "retry_scheduled"
	JobOutcomeFailedExhausted    JobOutcome = "failed_exhausted"
	JobOutcomeFailedNonRetryable JobOutcome = "failed_non_retryable"
)

func (o JobOutcome) Permanent() bool {
	return o == JobOutcomeFailedExhausted || o == JobOutcomeFailedNonRetryable
}

// JobFailure describes a permanently failed delivery for failure accounting
// and operator logging.
type JobFailure struct {
	JobID     string
	HookType  string
	EventID   string
	EventType EventType
	WebhookID string
	Attempts  int
	Outcome   JobOutcome
	Err       error
}

// DeadLetter is the retained diagnostic record of a permanently failed job.
type DeadLetter struct {
	JobID     string
	JobName   string
	HookType  string
	EventID   string
	EventType EventType
	Attempts  int
	Outcome   JobOutcome
	LastError string
	Payload   map[string]any
	FailedAt  time.Time
}

// EvaluationSchedule is a cron-style repeatable job definition keyed by its
// owning entity (e.g. a segment id).
type EvaluationSchedule struct {
	OwnerID   string
	Pattern   string
	Enabled   bool
	UpdatedAt time.Time
}

func (s EvaluationSchedule) Validate() error {
	if strings.TrimSpace(s.OwnerID) == "" {
		return fmt.Errorf("core: schedule owner id is required")
	}
	if s.Enabled && strings.TrimSpace(s.Pattern) == "" {
		return fmt.Errorf("core: enabled schedule requires a cron pattern")
	}
	return nil
}

// Subscriber is a resolved notification recipient for a post.
type Subscriber struct {
	PrincipalID string
	UserID      string
	Email       string
	TeamMember  bool
}

type NotificationKind string

const (
	NotificationKindNewPost      NotificationKind = "new_post"
	NotificationKindStatusChange NotificationKind = "status_change"
	NotificationKindComment      NotificationKind = "comment"
)

type NotificationPrefs struct {
	EmailEnabled bool
	InAppEnabled bool
}

type UnsubscribeTokenRequest struct {
	PrincipalID string
	PostID      string
}

// ChangelogEntry is the system-of-record view re-fetched when a delayed
// publish job fires.
type ChangelogEntry struct {
	ID          string
	Title       string
	Published   bool
	PublishAt   *time.Time
	PublishedAt *time.Time
}
