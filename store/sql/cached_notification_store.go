package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-notify/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const notificationCacheKeyPrefix = "go-notify::notification::v1"

// CachedNotificationStore caches notification reads by id. Writes go to the
// base store first and then evict the cached entry.
type CachedNotificationStore struct {
	base  core.NotificationStore
	cache repositorycache.CacheService
}

func NewCachedNotificationStore(
	base core.NotificationStore,
	cacheService repositorycache.CacheService,
) (*CachedNotificationStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base notification store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: notification cache service is required")
	}
	return &CachedNotificationStore{base: base, cache: cacheService}, nil
}

// NotificationCacheKey is go-notify::notification::v1::<id> with the id
// path escaped.
func NotificationCacheKey(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: notification id is required")
	}
	return notificationCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (s *CachedNotificationStore) Get(ctx context.Context, id string) (core.Notification, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Notification{}, errNotConfigured
	}
	cacheKey, err := NotificationCacheKey(id)
	if err != nil {
		return core.Notification{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Notification, error) {
		return s.base.Get(ctx, strings.TrimSpace(id))
	})
}

func (s *CachedNotificationStore) Create(ctx context.Context, notification core.Notification) (core.Notification, error) {
	if s == nil || s.base == nil {
		return core.Notification{}, errNotConfigured
	}
	return s.base.Create(ctx, notification)
}

func (s *CachedNotificationStore) FindNewsletter(
	ctx context.Context,
	userID string,
	notificationType core.NotificationType,
	entityCUI string,
) (core.Notification, error) {
	if s == nil || s.base == nil {
		return core.Notification{}, errNotConfigured
	}
	return s.base.FindNewsletter(ctx, userID, notificationType, entityCUI)
}

func (s *CachedNotificationStore) FindByHash(ctx context.Context, userID string, hash string) (core.Notification, error) {
	if s == nil || s.base == nil {
		return core.Notification{}, errNotConfigured
	}
	return s.base.FindByHash(ctx, userID, hash)
}

func (s *CachedNotificationStore) Update(ctx context.Context, notification core.Notification) (core.Notification, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Notification{}, errNotConfigured
	}
	updated, err := s.base.Update(ctx, notification)
	if err != nil {
		return core.Notification{}, err
	}
	if err := s.evict(ctx, notification.ID); err != nil {
		return core.Notification{}, err
	}
	return updated, nil
}

func (s *CachedNotificationStore) SetActive(ctx context.Context, id string, active bool) error {
	if s == nil || s.base == nil || s.cache == nil {
		return errNotConfigured
	}
	if err := s.base.SetActive(ctx, id, active); err != nil {
		return err
	}
	return s.evict(ctx, id)
}

func (s *CachedNotificationStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return errNotConfigured
	}
	if err := s.base.Delete(ctx, id); err != nil {
		return err
	}
	return s.evict(ctx, id)
}

func (s *CachedNotificationStore) evict(ctx context.Context, id string) error {
	cacheKey, err := NotificationCacheKey(id)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}
