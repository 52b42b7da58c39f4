package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-dispatch/core"
)

const webhookCacheKeyPrefix = "go-dispatch::webhooks::v1"

// CachedWebhookStore caches the hot ListActiveForEvent read, which runs on
// every dispatched event. Accounting writes invalidate every event-type key
// because a registration's failure state affects all of its subscriptions.
type CachedWebhookStore struct {
	base  core.WebhookStore
	cache repositorycache.CacheService
}

func NewCachedWebhookStore(base core.WebhookStore, cacheService repositorycache.CacheService) (*CachedWebhookStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base webhook store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: webhook cache service is required")
	}
	return &CachedWebhookStore{base: base, cache: cacheService}, nil
}

// WebhookListCacheKey returns the deterministic cache key for active
// registrations of one event type.
func WebhookListCacheKey(eventType core.EventType) string {
	return webhookCacheKeyPrefix + "::" + url.PathEscape(string(eventType))
}

func (s *CachedWebhookStore) ListActiveForEvent(ctx context.Context, eventType core.EventType) ([]core.Webhook, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	return repositorycache.GetOrFetch(ctx, s.cache, WebhookListCacheKey(eventType), func(ctx context.Context) ([]core.Webhook, error) {
		return s.base.ListActiveForEvent(ctx, eventType)
	})
}

func (s *CachedWebhookStore) Get(ctx context.Context, id string) (core.Webhook, error) {
	if s == nil || s.base == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	return s.base.Get(ctx, id)
}

func (s *CachedWebhookStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.base == nil {
		return fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	if err := s.base.RecordSuccess(ctx, id, at); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

func (s *CachedWebhookStore) RecordFailure(ctx context.Context, id string, cause error, threshold int) (bool, error) {
	if s == nil || s.base == nil {
		return false, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	disabled, err := s.base.RecordFailure(ctx, id, cause, threshold)
	if err != nil {
		return disabled, err
	}
	return disabled, s.invalidate(ctx)
}

func (s *CachedWebhookStore) invalidate(ctx context.Context) error {
	for _, eventType := range core.EventTypes() {
		if err := s.cache.Delete(ctx, WebhookListCacheKey(eventType)); err != nil {
			return err
		}
	}
	return nil
}

var _ core.WebhookStore = (*CachedWebhookStore)(nil)
