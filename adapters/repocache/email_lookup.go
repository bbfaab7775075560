package repocache

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-notify/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const emailCacheKeyPrefix = "go-notify::email::v1"

// CachedEmailLookup memoizes address lookups per user. An empty address is
// cached like any other answer; lookup errors are not.
type CachedEmailLookup struct {
	base  core.EmailLookup
	cache repositorycache.CacheService
}

func NewCachedEmailLookup(base core.EmailLookup, cacheService repositorycache.CacheService) (*CachedEmailLookup, error) {
	if base == nil {
		return nil, fmt.Errorf("repocache: base email lookup is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("repocache: cache service is required")
	}
	return &CachedEmailLookup{base: base, cache: cacheService}, nil
}

func EmailCacheKey(userID string) (string, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return "", fmt.Errorf("repocache: user id is required")
	}
	return emailCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (l *CachedEmailLookup) GetEmail(ctx context.Context, userID string) (string, error) {
	if l == nil || l.base == nil || l.cache == nil {
		return "", fmt.Errorf("repocache: email lookup is not configured")
	}
	key, err := EmailCacheKey(userID)
	if err != nil {
		return "", err
	}
	return repositorycache.GetOrFetch(ctx, l.cache, key, func(ctx context.Context) (string, error) {
		return l.base.GetEmail(ctx, strings.TrimSpace(userID))
	})
}

// Invalidate drops the cached address, e.g. after the user changed it.
func (l *CachedEmailLookup) Invalidate(ctx context.Context, userID string) error {
	if l == nil || l.cache == nil {
		return fmt.Errorf("repocache: email lookup is not configured")
	}
	key, err := EmailCacheKey(userID)
	if err != nil {
		return err
	}
	return l.cache.Delete(ctx, key)
}

var _ core.EmailLookup = (*CachedEmailLookup)(nil)
