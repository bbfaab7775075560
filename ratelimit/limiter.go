package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	DefaultPerSecond = 2
	DefaultBurst     = 1
	DefaultKeyPrefix = "go-notify:ratelimit"
)

// LocalLimiter is a process local token bucket.
type LocalLimiter struct {
	limiter *rate.Limiter
}

func NewLocalLimiter(perSecond float64, burst int) *LocalLimiter {
	if perSecond <= 0 {
		perSecond = DefaultPerSecond
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &LocalLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *LocalLimiter) Wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: wait: %w", err)
	}
	return nil
}

// Counter is the part of a redis client the distributed limiter uses.
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisLimiter allows at most Limit calls per wall clock second across every
// process sharing the same redis and bucket.
type RedisLimiter struct {
	Client    Counter
	Bucket    string
	Limit     int
	KeyPrefix string
	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
}

func NewRedisLimiter(client Counter, bucket string, perSecond int) *RedisLimiter {
	if perSecond <= 0 {
		perSecond = DefaultPerSecond
	}
	return &RedisLimiter{
		Client:    client,
		Bucket:    strings.TrimSpace(bucket),
		Limit:     perSecond,
		KeyPrefix: DefaultKeyPrefix,
	}
}

func (l *RedisLimiter) Wait(ctx context.Context) error {
	if l == nil || l.Client == nil {
		return fmt.Errorf("ratelimit: redis limiter is not configured")
	}
	for {
		now := l.now()
		window := now.Unix()
		key := l.windowKey(window)
		count, err := l.Client.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("ratelimit: incr %s: %w", key, err)
		}
		if count == 1 {
			if err := l.Client.Expire(ctx, key, 2*time.Second).Err(); err != nil {
				return fmt.Errorf("ratelimit: expire %s: %w", key, err)
			}
		}
		if count <= int64(l.limit()) {
			return nil
		}

		retryAfter := time.Unix(window+1, 0).Sub(now)
		if deadline, ok := ctx.Deadline(); ok && deadline.Before(now.Add(retryAfter)) {
			return ThrottledError{Bucket: l.Bucket, RetryAfter: retryAfter}
		}
		if err := l.sleep(ctx, retryAfter); err != nil {
			return err
		}
	}
}

func (l *RedisLimiter) windowKey(window int64) string {
	prefix := strings.TrimSpace(l.KeyPrefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	bucket := l.Bucket
	if bucket == "" {
		bucket = "send"
	}
	return prefix + ":" + bucket + ":" + strconv.FormatInt(window, 10)
}

func (l *RedisLimiter) limit() int {
	if l.Limit <= 0 {
		return DefaultPerSecond
	}
	return l.Limit
}

func (l *RedisLimiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *RedisLimiter) sleep(ctx context.Context, d time.Duration) error {
	if l.Sleep != nil {
		return l.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	_ core.RateLimiter = (*LocalLimiter)(nil)
	_ core.RateLimiter = (*RedisLimiter)(nil)
	_ Counter          = (*redis.Client)(nil)
)
