package resolver

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

type fakeWebhookStore struct {
	webhooks []core.Webhook
	err      error
}

func (s *fakeWebhookStore) ListActiveForEvent(ctx context.Context, eventType core.EventType) ([]core.Webhook, error) {
	return s.webhooks, s.err
}

func (s *fakeWebhookStore) Get(ctx context.Context, id string) (core.Webhook, error) {
	return core.Webhook{}, core.ErrWebhookNotFound
}

func (s *fakeWebhookStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	return nil
}

func (s *fakeWebhookStore) RecordFailure(ctx context.Context, id string, cause error, threshold int) (bool, error) {
	return false, nil
}

type fakeIntegrationStore struct {
	mappings []core.IntegrationMapping
	err      error
}

func (s *fakeIntegrationStore) ListEnabledForEvent(ctx context.Context, eventType core.EventType) ([]core.IntegrationMapping, error) {
	return s.mappings, s.err
}

type fakeSubscriptions struct {
	subscribers []core.Subscriber
	prefs       map[string]core.NotificationPrefs
	tokens      map[string]string

	subscribersErr error
	prefsErr       error
	tokensErr      error

	prefsCalls  int
	tokensCalls int
}

func (s *fakeSubscriptions) GetSubscribersForEvent(ctx context.Context, postID string, kind core.NotificationKind) ([]core.Subscriber, error) {
	return s.subscribers, s.subscribersErr
}

func (s *fakeSubscriptions) BatchGetNotificationPreferences(ctx context.Context, principalIDs []string) (map[string]core.NotificationPrefs, error) {
	s.prefsCalls++
	return s.prefs, s.prefsErr
}

func (s *fakeSubscriptions) BatchGenerateUnsubscribeTokens(ctx context.Context, requests []core.UnsubscribeTokenRequest) (map[string]string, error) {
	s.tokensCalls++
	return s.tokens, s.tokensErr
}

type fakeFeatureGate struct {
	enabled map[string]bool
}

func (g *fakeFeatureGate) Enabled(ctx context.Context, feature string, boardID string) bool {
	return g.enabled[feature+":"+boardID]
}

func commentEvent(actor core.Actor, private bool) core.Event {
	return core.Event{
		ID:         "event-1",
		Type:       core.EventCommentCreated,
		OccurredAt: time.Now().UTC(),
		Actor:      actor,
		Data: core.CommentData{
			CommentID: "comment-1",
			PostID:    "post-1",
			BoardID:   "board-1",
			Body:      "Shipping next week",
			Private:   private,
			AuthorID:  "user-author",
		}.Map(),
	}
}

func hookTypes(targets []core.HookTarget) []string {
	out := make([]string, 0, len(targets))
	for _, target := range targets {
		out = append(out, target.HookType)
	}
	return out
}

func TestResolver_OrderedFanOut(t *testing.T) {
	resolver := New(
		WithIntegrationConfigStore(&fakeIntegrationStore{mappings: []core.IntegrationMapping{{
			ID:        "map-1",
			HookType:  "slack",
			ChannelID: "C123",
			Events:    []core.EventType{core.EventCommentCreated},
			Enabled:   true,
			Config:    map[string]any{"bot_token": "xoxb-1"},
		}}}),
		WithWebhookStore(&fakeWebhookStore{webhooks: []core.Webhook{{
			ID:     "wh-1",
			URL:    "https://example.com/hook",
			Secret: "shh",
			Status: core.WebhookStatusActive,
			Events: []core.EventType{core.EventCommentCreated},
		}}}),
		WithSubscriptionService(&fakeSubscriptions{
			subscribers: []core.Subscriber{{PrincipalID: "p-1", UserID: "u-1", Email: "sub@example.com"}},
			prefs:       map[string]core.NotificationPrefs{"p-1": {EmailEnabled: true, InAppEnabled: true}},
			tokens:      map[string]string{"p-1": "tok-1"},
		}),
		WithFeatureGate(&fakeFeatureGate{enabled: map[string]bool{"ai_enrichment:board-1": true}}),
	)

	targets := resolver.Resolve(context.Background(), commentEvent(core.ServiceActor("importer"), false))

	got := hookTypes(targets)
	want := []string{"slack", "webhook", "email", "notification", "ai"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for idx := range want {
		if got[idx] != want[idx] {
			t.Fatalf("unexpected fan-out order: got %v want %v", got, want)
		}
	}

	webhook := targets[1]
	if webhook.TargetString("url") != "https://example.com/hook" {
		t.Fatalf("webhook url lost: %v", webhook.Target)
	}
	if webhook.ConfigString("webhook_id") != "wh-1" || webhook.ConfigString("secret") != "shh" {
		t.Fatalf("webhook config lost: %v", webhook.Config)
	}
	email := targets[2]
	if email.ConfigString("unsubscribe_token") != "tok-1" {
		t.Fatalf("unsubscribe token lost: %v", email.Config)
	}
	if email.ConfigString("excerpt") != "Shipping next week" {
		t.Fatalf("excerpt lost: %v", email.Config)
	}
}

func TestResolver_PrivateEventsSkipExternalChannels(t *testing.T) {
	integrations := &fakeIntegrationStore{mappings: []core.IntegrationMapping{{
		ID: "map-1", HookType: "slack", Events: []core.EventType{core.EventCommentCreated}, Enabled: true,
	}}}
	webhooks := &fakeWebhookStore{webhooks: []core.Webhook{{
		ID: "wh-1", URL: "https://example.com/hook", Status: core.WebhookStatusActive,
		Events: []core.EventType{core.EventCommentCreated},
	}}}
	resolver := New(
		WithIntegrationConfigStore(integrations),
		WithWebhookStore(webhooks),
		WithSubscriptionService(&fakeSubscriptions{
			subscribers: []core.Subscriber{
				{PrincipalID: "p-team", UserID: "u-team", Email: "team@example.com", TeamMember: true},
				{PrincipalID: "p-outside", UserID: "u-outside", Email: "outside@example.com"},
			},
			prefs: map[string]core.NotificationPrefs{
				"p-team":    {InAppEnabled: true},
				"p-outside": {InAppEnabled: true},
			},
		}),
		WithFeatureGate(&fakeFeatureGate{enabled: map[string]bool{"ai_enrichment:board-1": true}}),
	)

	targets := resolver.Resolve(context.Background(), commentEvent(core.ServiceActor("importer"), true))

	for _, target := range targets {
		switch target.HookType {
		case HookTypeWebhook, "slack", HookTypeAI:
			t.Fatalf("private event leaked to %s", target.HookType)
		}
	}
	if len(targets) != 1 || targets[0].HookType != HookTypeNotification {
		t.Fatalf("expected single team notification, got %v", hookTypes(targets))
	}
	if targets[0].TargetString("principal_id") != "p-team" {
		t.Fatalf("non-team subscriber must be filtered: %v", targets[0].Target)
	}
}

func TestResolver_ActorNeverNotifiesThemselves(t *testing.T) {
	resolver := New(WithSubscriptionService(&fakeSubscriptions{
		subscribers: []core.Subscriber{
			{PrincipalID: "p-actor", UserID: "u-actor", Email: "actor@example.com"},
			{PrincipalID: "p-alias", UserID: "u-alias", Email: "Actor@Example.com"},
			{PrincipalID: "p-other", UserID: "u-other", Email: "other@example.com"},
		},
		prefs: map[string]core.NotificationPrefs{
			"p-actor": {InAppEnabled: true},
			"p-alias": {InAppEnabled: true},
			"p-other": {InAppEnabled: true},
		},
	}))

	targets := resolver.Resolve(context.Background(), commentEvent(core.UserActor("p-actor", "actor@example.com"), false))

	if len(targets) != 1 {
		t.Fatalf("expected only the unrelated subscriber, got %v", hookTypes(targets))
	}
	if targets[0].TargetString("principal_id") != "p-other" {
		t.Fatalf("self exclusion failed: %v", targets[0].Target)
	}
}

func TestResolver_SourceFailureDegrades(t *testing.T) {
	resolver := New(
		WithIntegrationConfigStore(&fakeIntegrationStore{err: fmt.Errorf("integrations down")}),
		WithWebhookStore(&fakeWebhookStore{webhooks: []core.Webhook{{
			ID: "wh-1", URL: "https://example.com/hook", Status: core.WebhookStatusActive,
			Events: []core.EventType{core.EventCommentCreated},
		}}}),
		WithSubscriptionService(&fakeSubscriptions{subscribersErr: fmt.Errorf("subscriptions down")}),
	)

	targets := resolver.Resolve(context.Background(), commentEvent(core.ServiceActor("importer"), false))

	if len(targets) != 1 || targets[0].HookType != HookTypeWebhook {
		t.Fatalf("surviving source must still resolve, got %v", hookTypes(targets))
	}
}

func TestResolver_TokenFailureDropsTokensNotEmails(t *testing.T) {
	subs := &fakeSubscriptions{
		subscribers: []core.Subscriber{{PrincipalID: "p-1", UserID: "u-1", Email: "sub@example.com"}},
		prefs:       map[string]core.NotificationPrefs{"p-1": {EmailEnabled: true}},
		tokensErr:   fmt.Errorf("token service down"),
	}
	resolver := New(WithSubscriptionService(subs))

	targets := resolver.Resolve(context.Background(), commentEvent(core.ServiceActor("importer"), false))

	if len(targets) != 1 || targets[0].HookType != HookTypeEmail {
		t.Fatalf("email target must survive token failure, got %v", hookTypes(targets))
	}
	if targets[0].ConfigString("unsubscribe_token") != "" {
		t.Fatalf("token must be empty on failure: %v", targets[0].Config)
	}
}

func TestResolver_BatchLookupsAreSingleRoundTrips(t *testing.T) {
	subs := &fakeSubscriptions{
		subscribers: []core.Subscriber{
			{PrincipalID: "p-1", UserID: "u-1", Email: "one@example.com"},
			{PrincipalID: "p-2", UserID: "u-2", Email: "two@example.com"},
			{PrincipalID: "p-3", UserID: "u-3", Email: "three@example.com"},
		},
		prefs: map[string]core.NotificationPrefs{
			"p-1": {EmailEnabled: true},
			"p-2": {EmailEnabled: true},
			"p-3": {EmailEnabled: true},
		},
		tokens: map[string]string{"p-1": "t1", "p-2": "t2", "p-3": "t3"},
	}
	resolver := New(WithSubscriptionService(subs))

	targets := resolver.Resolve(context.Background(), commentEvent(core.ServiceActor("importer"), false))

	if len(targets) != 3 {
		t.Fatalf("expected 3 email targets, got %v", hookTypes(targets))
	}
	if subs.prefsCalls != 1 || subs.tokensCalls != 1 {
		t.Fatalf("batch lookups fanned out: prefs=%d tokens=%d", subs.prefsCalls, subs.tokensCalls)
	}
}

func TestResolver_IntegrationMappingsDeduplicate(t *testing.T) {
	resolver := New(WithIntegrationConfigStore(&fakeIntegrationStore{mappings: []core.IntegrationMapping{
		{ID: "map-1", HookType: "slack", ChannelID: "C123", Events: []core.EventType{core.EventCommentCreated}, Enabled: true},
		{ID: "map-2", HookType: "slack", ChannelID: "C123", Events: []core.EventType{core.EventCommentCreated}, Enabled: true},
		{ID: "map-3", HookType: "slack", ChannelID: "C999", Events: []core.EventType{core.EventCommentCreated}, Enabled: true},
	}}))

	targets := resolver.Resolve(context.Background(), commentEvent(core.ServiceActor("importer"), false))

	if len(targets) != 2 {
		t.Fatalf("duplicate channel must fire once, got %v", hookTypes(targets))
	}
}

func TestResolver_AIRequiresFeatureFlag(t *testing.T) {
	gate := &fakeFeatureGate{enabled: map[string]bool{}}
	resolver := New(WithFeatureGate(gate))

	if targets := resolver.Resolve(context.Background(), commentEvent(core.ServiceActor("importer"), false)); len(targets) != 0 {
		t.Fatalf("disabled flag must produce no ai target, got %v", hookTypes(targets))
	}

	gate.enabled["ai_enrichment:board-1"] = true
	targets := resolver.Resolve(context.Background(), commentEvent(core.ServiceActor("importer"), false))
	if len(targets) != 1 || targets[0].HookType != HookTypeAI {
		t.Fatalf("expected ai target, got %v", hookTypes(targets))
	}

	statusEvent := core.Event{
		ID:    "event-2",
		Type:  core.EventPostStatusChanged,
		Actor: core.ServiceActor("importer"),
		Data:  core.StatusChangeData{PostID: "post-1", BoardID: "board-1", FromStatus: "open", ToStatus: "planned"}.Map(),
	}
	if targets := resolver.Resolve(context.Background(), statusEvent); len(targets) != 0 {
		t.Fatalf("status changes never enrich, got %v", hookTypes(targets))
	}
}

func TestDeriveEventFields_Excerpt(t *testing.T) {
	event := core.Event{
		Type: core.EventCommentCreated,
		Data: map[string]any{"body": "<p>Hello&nbsp;<b>world</b></p>"},
	}
	derived := deriveEventFields(event)
	if derived.Excerpt != "Hello world" {
		t.Fatalf("excerpt = %q", derived.Excerpt)
	}

	long := strings.Repeat("a", 400)
	derived = deriveEventFields(core.Event{Type: core.EventCommentCreated, Data: map[string]any{"body": long}})
	if got := len([]rune(derived.Excerpt)); got > excerptLimit {
		t.Fatalf("excerpt length %d exceeds limit %d", got, excerptLimit)
	}
	if !strings.HasSuffix(derived.Excerpt, "…") {
		t.Fatalf("truncated excerpt must end with ellipsis: %q", derived.Excerpt)
	}

	statusEvent := core.Event{
		Type: core.EventPostStatusChanged,
		Data: map[string]any{"from_status": "open", "to_status": "planned"},
	}
	if got := deriveEventFields(statusEvent).Excerpt; got != "open -> planned" {
		t.Fatalf("status excerpt = %q", got)
	}
}
