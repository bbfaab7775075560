package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultTokenTTL = 365 * 24 * time.Hour

type UnsubscribeTokenStore struct {
	db   *bun.DB
	repo repository.Repository[*unsubscribeTokenRecord]
	now  func() time.Time
}

func NewUnsubscribeTokenStore(db *bun.DB) (*UnsubscribeTokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*unsubscribeTokenRecord](db, unsubscribeTokenHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid unsubscribe token repository wiring: %w", err)
		}
	}
	return &UnsubscribeTokenStore{db: db, repo: repo, now: time.Now}, nil
}

// GetOrCreateActive returns the newest unused, unexpired token for the pair
// or issues a new one valid for ttl.
func (s *UnsubscribeTokenStore) GetOrCreateActive(
	ctx context.Context,
	userID string,
	notificationID string,
	ttl time.Duration,
) (core.UnsubscribeToken, error) {
	if s == nil || s.repo == nil {
		return core.UnsubscribeToken{}, errNotConfigured
	}
	userID = strings.TrimSpace(userID)
	notificationID = strings.TrimSpace(notificationID)
	if userID == "" || notificationID == "" {
		return core.UnsubscribeToken{}, fmt.Errorf("sqlstore: token user id and notification id are required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := s.now().UTC()

	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.SelectBy("notification_id", "=", notificationID),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.used_at IS NULL").Where("?TableAlias.expires_at > ?", now)
		}),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.UnsubscribeToken{}, err
	}
	if len(records) > 0 {
		return records[0].toDomain(), nil
	}

	created, err := s.repo.Create(ctx, &unsubscribeTokenRecord{
		Token:          uuid.NewString(),
		UserID:         userID,
		NotificationID: notificationID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	})
	if err != nil {
		return core.UnsubscribeToken{}, err
	}
	return created.toDomain(), nil
}

func (s *UnsubscribeTokenStore) Get(ctx context.Context, token string) (core.UnsubscribeToken, error) {
	if s == nil || s.repo == nil {
		return core.UnsubscribeToken{}, errNotConfigured
	}
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return core.UnsubscribeToken{}, core.ErrNotFound
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("token", "=", trimmed),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.UnsubscribeToken{}, notFound(err)
	}
	if len(records) == 0 {
		return core.UnsubscribeToken{}, core.ErrNotFound
	}
	return records[0].toDomain(), nil
}

// MarkUsed stamps used_at once. The bool is false when the token was
// already used.
func (s *UnsubscribeTokenStore) MarkUsed(ctx context.Context, token string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNotConfigured
	}
	trimmed := strings.TrimSpace(token)
	result, err := s.db.NewUpdate().
		Model((*unsubscribeTokenRecord)(nil)).
		Set("used_at = ?", at.UTC()).
		Where("token = ?", trimmed).
		Where("used_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	if _, err := s.Get(ctx, trimmed); err != nil {
		return false, err
	}
	return false, nil
}
