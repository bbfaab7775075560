package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

type SubscribeInput struct {
	UserID           string
	NotificationType NotificationType
	EntityCUI        string
	Config           NotificationConfig
}

type UpdateNotificationInput struct {
	Config   NotificationConfig
	IsActive *bool
}

// NotificationService manages the lifecycle of subscriptions.
type NotificationService struct {
	Store    NotificationStore
	Tokens   UnsubscribeTokenStore
	Observer Observer
	Now      func() time.Time
	NewID    func() string
}

// Subscribe creates a subscription or reactivates an existing match. Newsletters
// match on (user, type, entity), alerts on their content hash.
func (s *NotificationService) Subscribe(ctx context.Context, in SubscribeInput) (Notification, error) {
	if err := s.validate(); err != nil {
		return Notification{}, err
	}
	if strings.TrimSpace(in.UserID) == "" {
		return Notification{}, validationError("user_id", "user id is required")
	}
	entityCUI := strings.TrimSpace(in.EntityCUI)
	if in.NotificationType.IsAlert() {
		entityCUI = ""
	}
	if err := ValidateSubscription(in.NotificationType, entityCUI, in.Config); err != nil {
		return Notification{}, err
	}
	cfg := in.Config
	if in.NotificationType.IsNewsletter() {
		cfg = nil
	}
	hash, err := NotificationHash(in.NotificationType, entityCUI, cfg)
	if err != nil {
		return Notification{}, err
	}

	var existing Notification
	if in.NotificationType.IsNewsletter() {
		existing, err = s.Store.FindNewsletter(ctx, in.UserID, in.NotificationType, entityCUI)
	} else {
		existing, err = s.Store.FindByHash(ctx, in.UserID, hash)
	}
	switch {
	case err == nil:
		if existing.IsActive {
			return existing, nil
		}
		if err := s.Store.SetActive(ctx, existing.ID, true); err != nil {
			return Notification{}, err
		}
		existing.IsActive = true
		s.Observer.Info(ctx, "notification reactivated", map[string]any{
			"notification_id": existing.ID,
			"user_id":         existing.UserID,
		})
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return Notification{}, err
	}

	now := s.now()
	return s.Store.Create(ctx, Notification{
		ID:               s.NewID(),
		UserID:           strings.TrimSpace(in.UserID),
		NotificationType: in.NotificationType,
		EntityCUI:        entityCUI,
		Config:           cfg,
		IsActive:         true,
		Hash:             hash,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

func (s *NotificationService) Update(ctx context.Context, id string, in UpdateNotificationInput) (Notification, error) {
	if err := s.validate(); err != nil {
		return Notification{}, err
	}
	current, err := s.Store.Get(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if in.Config != nil {
		if !current.NotificationType.IsAlert() {
			return Notification{}, validationError("config", "newsletters do not carry a config")
		}
		if err := ValidateSubscription(current.NotificationType, "", in.Config); err != nil {
			return Notification{}, err
		}
		current.Config = in.Config
		hash, err := NotificationHash(current.NotificationType, current.EntityCUI, current.Config)
		if err != nil {
			return Notification{}, err
		}
		current.Hash = hash
	}
	if in.IsActive != nil {
		current.IsActive = *in.IsActive
	}
	current.UpdatedAt = s.now()
	return s.Store.Update(ctx, current)
}

func (s *NotificationService) Deactivate(ctx context.Context, id string) error {
	if err := s.validate(); err != nil {
		return err
	}
	return s.Store.SetActive(ctx, id, false)
}

// Delete removes the notification together with its deliveries and tokens.
func (s *NotificationService) Delete(ctx context.Context, id string) error {
	if err := s.validate(); err != nil {
		return err
	}
	return s.Store.Delete(ctx, id)
}

// Unsubscribe consumes a token and deactivates its notification. Using an
// already consumed token again is a no-op.
func (s *NotificationService) Unsubscribe(ctx context.Context, token string) (Notification, error) {
	if err := s.validate(); err != nil {
		return Notification{}, err
	}
	if s.Tokens == nil {
		return Notification{}, dependencyError("core: unsubscribe requires a token store")
	}
	record, err := s.Tokens.Get(ctx, strings.TrimSpace(token))
	if err != nil {
		return Notification{}, err
	}
	now := s.now()
	if record.UsedAt == nil {
		if !now.Before(record.ExpiresAt) {
			return Notification{}, ErrTokenExpired
		}
		if _, err := s.Tokens.MarkUsed(ctx, record.Token, now); err != nil {
			return Notification{}, err
		}
	}
	if err := s.Store.SetActive(ctx, record.NotificationID, false); err != nil {
		return Notification{}, err
	}
	notification, err := s.Store.Get(ctx, record.NotificationID)
	if err != nil {
		return Notification{}, err
	}
	s.Observer.Info(ctx, "notification unsubscribed", map[string]any{
		"notification_id": notification.ID,
		"user_id":         notification.UserID,
	})
	return notification, nil
}

func (s *NotificationService) validate() error {
	if s == nil || s.Store == nil {
		return dependencyError("core: notification service requires a notification store")
	}
	if s.NewID == nil {
		return dependencyError("core: notification service requires an id generator")
	}
	return nil
}

func (s *NotificationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
