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

type NotificationStore struct {
	db   *bun.DB
	repo repository.Repository[*notificationRecord]
}

func NewNotificationStore(db *bun.DB) (*NotificationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*notificationRecord](db, notificationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid notification repository wiring: %w", err)
		}
	}
	return &NotificationStore{db: db, repo: repo}, nil
}

func (s *NotificationStore) Get(ctx context.Context, id string) (core.Notification, error) {
	return s.findOne(ctx, repository.SelectBy("id", "=", strings.TrimSpace(id)))
}

func (s *NotificationStore) Create(ctx context.Context, notification core.Notification) (core.Notification, error) {
	if s == nil || s.repo == nil {
		return core.Notification{}, errNotConfigured
	}
	if strings.TrimSpace(notification.UserID) == "" {
		return core.Notification{}, fmt.Errorf("sqlstore: notification user id is required")
	}
	if strings.TrimSpace(notification.ID) == "" {
		notification.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = now
	}
	if notification.UpdatedAt.IsZero() {
		notification.UpdatedAt = notification.CreatedAt
	}
	record, err := notificationRecordFromDomain(notification)
	if err != nil {
		return core.Notification{}, err
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.Notification{}, core.ErrDuplicate
		}
		return core.Notification{}, err
	}
	return created.toDomain()
}

func (s *NotificationStore) FindNewsletter(
	ctx context.Context,
	userID string,
	notificationType core.NotificationType,
	entityCUI string,
) (core.Notification, error) {
	return s.findOne(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("notification_type", "=", string(notificationType)),
		repository.SelectBy("entity_cui", "=", strings.TrimSpace(entityCUI)),
		repository.OrderBy("created_at ASC"),
	)
}

func (s *NotificationStore) FindByHash(ctx context.Context, userID string, hash string) (core.Notification, error) {
	return s.findOne(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("hash", "=", strings.TrimSpace(hash)),
		repository.OrderBy("created_at ASC"),
	)
}

func (s *NotificationStore) Update(ctx context.Context, notification core.Notification) (core.Notification, error) {
	if s == nil || s.db == nil {
		return core.Notification{}, errNotConfigured
	}
	notification.UpdatedAt = time.Now().UTC()
	record, err := notificationRecordFromDomain(notification)
	if err != nil {
		return core.Notification{}, err
	}
	result, err := s.db.NewUpdate().
		Model(record).
		Column("config", "is_active", "hash", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return core.Notification{}, err
	}
	if err := requireAffected(result); err != nil {
		return core.Notification{}, err
	}
	return s.Get(ctx, notification.ID)
}

func (s *NotificationStore) SetActive(ctx context.Context, id string, active bool) error {
	if s == nil || s.db == nil {
		return errNotConfigured
	}
	result, err := s.db.NewUpdate().
		Model((*notificationRecord)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// Delete removes the notification together with its deliveries and tokens
// in one transaction.
func (s *NotificationStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errNotConfigured
	}
	trimmed := strings.TrimSpace(id)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*deliveryRecord)(nil)).
			Where("notification_id = ?", trimmed).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*unsubscribeTokenRecord)(nil)).
			Where("notification_id = ?", trimmed).
			Exec(ctx); err != nil {
			return err
		}
		result, err := tx.NewDelete().
			Model((*notificationRecord)(nil)).
			Where("id = ?", trimmed).
			Exec(ctx)
		if err != nil {
			return err
		}
		return requireAffected(result)
	})
}

func (s *NotificationStore) findOne(ctx context.Context, criteria ...repository.SelectCriteria) (core.Notification, error) {
	if s == nil || s.repo == nil {
		return core.Notification{}, errNotConfigured
	}
	criteria = append(criteria, repository.SelectPaginate(1, 0))
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return core.Notification{}, notFound(err)
	}
	if len(records) == 0 {
		return core.Notification{}, core.ErrNotFound
	}
	return records[0].toDomain()
}
