package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

const (
	HookTypeWebhook      = "webhook"
	HookTypeEmail        = "email"
	HookTypeNotification = "notification"
	HookTypeAI           = "ai"

	FeatureAIEnrichment = "ai_enrichment"

	excerptLimit = 280
)

// Resolver computes the fan-out set for one event from current domain
// state. Each source (integrations, webhooks, subscribers, feature gates)
// degrades independently: a broken collaborator costs its own targets only
// and never fails the triggering action.
type Resolver struct {
	webhooks      core.WebhookStore
	integrations  core.IntegrationConfigStore
	subscriptions core.SubscriptionService
	features      core.FeatureGate
	obs           core.Instrumentation
}

type Option func(*Resolver)

func WithWebhookStore(store core.WebhookStore) Option {
	return func(r *Resolver) {
		r.webhooks = store
	}
}

func WithIntegrationConfigStore(store core.IntegrationConfigStore) Option {
	return func(r *Resolver) {
		r.integrations = store
	}
}

func WithSubscriptionService(service core.SubscriptionService) Option {
	return func(r *Resolver) {
		r.subscriptions = service
	}
}

func WithFeatureGate(gate core.FeatureGate) Option {
	return func(r *Resolver) {
		r.features = gate
	}
}

func WithInstrumentation(obs core.Instrumentation) Option {
	return func(r *Resolver) {
		r.obs = obs
	}
}

func New(options ...Option) *Resolver {
	resolver := &Resolver{}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(resolver)
	}
	return resolver
}

// Resolve returns the ordered, deduplicated fan-out set: integration
// channels first, then webhooks, then subscriber email/notification, then
// AI enrichment. It never returns an error; sources that fail resolve to
// nothing.
func (r *Resolver) Resolve(ctx context.Context, event core.Event) []core.HookTarget {
	if r == nil {
		return nil
	}
	startedAt := time.Now()
	derived := deriveEventFields(event)

	targets := make([]core.HookTarget, 0, 8)
	if !event.Private() {
		targets = append(targets, r.integrationTargets(ctx, event)...)
		targets = append(targets, r.webhookTargets(ctx, event)...)
	}
	targets = append(targets, r.subscriberTargets(ctx, event, derived)...)
	targets = append(targets, r.aiTargets(ctx, event, derived)...)

	r.obs.Histogram(ctx, "dispatch.resolve.targets", float64(len(targets)), map[string]string{
		"event_type": string(event.Type),
	})
	r.obs.Histogram(ctx, "dispatch.resolve.duration_ms", float64(time.Since(startedAt).Milliseconds()), map[string]string{
		"event_type": string(event.Type),
	})
	return targets
}

func (r *Resolver) integrationTargets(ctx context.Context, event core.Event) []core.HookTarget {
	if r.integrations == nil {
		return nil
	}
	mappings, err := r.integrations.ListEnabledForEvent(ctx, event.Type)
	if err != nil {
		r.logSourceFailure(ctx, event, "integrations", err)
		return nil
	}

	boardID := event.BoardID()
	seen := make(map[string]struct{}, len(mappings))
	targets := make([]core.HookTarget, 0, len(mappings))
	for _, mapping := range mappings {
		if !mapping.Matches(event.Type, boardID) {
			continue
		}
		hookType := strings.TrimSpace(mapping.HookType)
		channelID := strings.TrimSpace(mapping.ChannelID)
		if hookType == "" {
			continue
		}
		// One destination can be matched by several mapping rows; fire once.
		dedupeKey := hookType + "\x00" + channelID
		if _, dup := seen[dedupeKey]; dup {
			continue
		}
		seen[dedupeKey] = struct{}{}
		targets = append(targets, core.HookTarget{
			HookType: hookType,
			Target: map[string]any{
				"channel_id": channelID,
				"mapping_id": strings.TrimSpace(mapping.ID),
			},
			Config: copyAnyMap(mapping.Config),
		})
	}
	return targets
}

func (r *Resolver) webhookTargets(ctx context.Context, event core.Event) []core.HookTarget {
	if r.webhooks == nil {
		return nil
	}
	registrations, err := r.webhooks.ListActiveForEvent(ctx, event.Type)
	if err != nil {
		r.logSourceFailure(ctx, event, "webhooks", err)
		return nil
	}

	boardID := event.BoardID()
	targets := make([]core.HookTarget, 0, len(registrations))
	for _, registration := range registrations {
		if !registration.Matches(event.Type, boardID) {
			continue
		}
		targets = append(targets, core.HookTarget{
			HookType: HookTypeWebhook,
			Target: map[string]any{
				"url": strings.TrimSpace(registration.URL),
			},
			Config: map[string]any{
				"webhook_id": strings.TrimSpace(registration.ID),
				"secret":     registration.Secret,
			},
		})
	}
	return targets
}

func (r *Resolver) subscriberTargets(ctx context.Context, event core.Event, derived derivedFields) []core.HookTarget {
	if r.subscriptions == nil {
		return nil
	}
	kind, ok := notificationKindFor(event.Type)
	if !ok {
		return nil
	}
	postID := event.PostID()
	if postID == "" {
		return nil
	}

	subscribers, err := r.subscriptions.GetSubscribersForEvent(ctx, postID, kind)
	if err != nil {
		r.logSourceFailure(ctx, event, "subscriptions", err)
		return nil
	}

	recipients := filterRecipients(subscribers, event)
	if len(recipients) == 0 {
		return nil
	}

	principalIDs := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		principalIDs = append(principalIDs, recipient.PrincipalID)
	}
	// One round trip per secondary lookup regardless of recipient count.
	prefs, err := r.subscriptions.BatchGetNotificationPreferences(ctx, principalIDs)
	if err != nil {
		r.logSourceFailure(ctx, event, "notification_preferences", err)
		return nil
	}

	tokenRequests := make([]core.UnsubscribeTokenRequest, 0, len(recipients))
	for _, recipient := range recipients {
		if prefs[recipient.PrincipalID].EmailEnabled {
			tokenRequests = append(tokenRequests, core.UnsubscribeTokenRequest{
				PrincipalID: recipient.PrincipalID,
				PostID:      postID,
			})
		}
	}
	tokens := map[string]string{}
	if len(tokenRequests) > 0 {
		tokens, err = r.subscriptions.BatchGenerateUnsubscribeTokens(ctx, tokenRequests)
		if err != nil {
			r.logSourceFailure(ctx, event, "unsubscribe_tokens", err)
			tokens = map[string]string{}
		}
	}

	emailTargets := make([]core.HookTarget, 0, len(recipients))
	notificationTargets := make([]core.HookTarget, 0, len(recipients))
	for _, recipient := range recipients {
		pref := prefs[recipient.PrincipalID]
		if pref.EmailEnabled && strings.TrimSpace(recipient.Email) != "" {
			emailTargets = append(emailTargets, core.HookTarget{
				HookType: HookTypeEmail,
				Target: map[string]any{
					"email":        strings.TrimSpace(recipient.Email),
					"principal_id": recipient.PrincipalID,
				},
				Config: map[string]any{
					"post_id":           postID,
					"kind":              string(kind),
					"excerpt":           derived.Excerpt,
					"unsubscribe_token": tokens[recipient.PrincipalID],
				},
			})
		}
		if pref.InAppEnabled {
			notificationTargets = append(notificationTargets, core.HookTarget{
				HookType: HookTypeNotification,
				Target: map[string]any{
					"user_id":      recipient.UserID,
					"principal_id": recipient.PrincipalID,
				},
				Config: map[string]any{
					"post_id": postID,
					"kind":    string(kind),
					"excerpt": derived.Excerpt,
				},
			})
		}
	}
	return append(emailTargets, notificationTargets...)
}

func (r *Resolver) aiTargets(ctx context.Context, event core.Event, derived derivedFields) []core.HookTarget {
	if r.features == nil || event.Private() {
		return nil
	}
	if event.Type != core.EventPostCreated && event.Type != core.EventCommentCreated {
		return nil
	}
	boardID := event.BoardID()
	if !r.features.Enabled(ctx, FeatureAIEnrichment, boardID) {
		return nil
	}
	return []core.HookTarget{{
		HookType: HookTypeAI,
		Target: map[string]any{
			"post_id":  event.PostID(),
			"board_id": boardID,
		},
		Config: map[string]any{
			"excerpt": derived.Excerpt,
		},
	}}
}

// filterRecipients applies the privacy and self-notification rules: private
// events reach team members only, and the triggering user never notifies
// themselves. Service actors have no recipient identity to exclude.
func filterRecipients(subscribers []core.Subscriber, event core.Event) []core.Subscriber {
	actorID, actorEmail, hasActor := event.Actor.RecipientIdentity()
	private := event.Private()

	out := make([]core.Subscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		if private && !subscriber.TeamMember {
			continue
		}
		if hasActor {
			if actorID != "" && (subscriber.PrincipalID == actorID || subscriber.UserID == actorID) {
				continue
			}
			if actorEmail != "" && strings.EqualFold(strings.TrimSpace(subscriber.Email), actorEmail) {
				continue
			}
		}
		out = append(out, subscriber)
	}
	return out
}

func notificationKindFor(eventType core.EventType) (core.NotificationKind, bool) {
	switch eventType {
	case core.EventPostCreated:
		return core.NotificationKindNewPost, true
	case core.EventPostStatusChanged:
		return core.NotificationKindStatusChange, true
	case core.EventCommentCreated:
		return core.NotificationKindComment, true
	default:
		return "", false
	}
}

func (r *Resolver) logSourceFailure(ctx context.Context, event core.Event, source string, err error) {
	r.obs.Error(ctx, "target resolution source failed", map[string]any{
		"source":     source,
		"event_type": string(event.Type),
		"event_id":   event.ID,
		"error":      err.Error(),
	})
	r.obs.Counter(ctx, "dispatch.resolve.source_failures", 1, map[string]string{
		"source":     source,
		"event_type": string(event.Type),
	})
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ core.TargetResolver = (*Resolver)(nil)
