package command

import (
	"strings"

	"github.com/goliatone/go-notify/core"
)

const (
	TypeSubscribe              = "notify.command.notification.subscribe"
	TypeUpdateNotification     = "notify.command.notification.update"
	TypeDeactivateNotification = "notify.command.notification.deactivate"
	TypeDeleteNotification     = "notify.command.notification.delete"
	TypeUnsubscribe            = "notify.command.notification.unsubscribe"
	TypeTrigger                = "notify.command.trigger"
)

type SubscribeMessage struct {
	Input core.SubscribeInput
}

func (SubscribeMessage) Type() string { return TypeSubscribe }

func (m SubscribeMessage) Validate() error {
	if strings.TrimSpace(m.Input.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	notificationType, err := core.ParseNotificationType(string(m.Input.NotificationType))
	if err != nil {
		return commandWrapValidation(err, "command: invalid notification type")
	}
	entityCUI := strings.TrimSpace(m.Input.EntityCUI)
	if notificationType.IsAlert() {
		entityCUI = ""
	}
	return core.ValidateSubscription(notificationType, entityCUI, m.Input.Config)
}

type UpdateNotificationMessage struct {
	NotificationID string
	Input          core.UpdateNotificationInput
}

func (UpdateNotificationMessage) Type() string { return TypeUpdateNotification }

func (m UpdateNotificationMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return commandValidationError("notification_id", "notification id is required")
	}
	if m.Input.Config == nil && m.Input.IsActive == nil {
		return commandInvalidInputError("command: update requires a config or an active flag")
	}
	return nil
}

type DeactivateNotificationMessage struct {
	NotificationID string
}

func (DeactivateNotificationMessage) Type() string { return TypeDeactivateNotification }

func (m DeactivateNotificationMessage) Validate() error {
	return requireNotificationID(m.NotificationID)
}

type DeleteNotificationMessage struct {
	NotificationID string
}

func (DeleteNotificationMessage) Type() string { return TypeDeleteNotification }

func (m DeleteNotificationMessage) Validate() error {
	return requireNotificationID(m.NotificationID)
}

type UnsubscribeMessage struct {
	Token string
}

func (UnsubscribeMessage) Type() string { return TypeUnsubscribe }

func (m UnsubscribeMessage) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return commandValidationError("token", "unsubscribe token is required")
	}
	return nil
}

type TriggerMessage struct {
	Request core.TriggerRequest
}

func (TriggerMessage) Type() string { return TypeTrigger }

func (m TriggerMessage) Validate() error {
	if _, err := core.ParseNotificationType(m.Request.NotificationType); err != nil {
		return commandWrapValidation(err, "command: invalid notification type")
	}
	if m.Request.Limit < 0 {
		return commandValidationError("limit", "limit must not be negative")
	}
	return nil
}

func requireNotificationID(id string) error {
	if strings.TrimSpace(id) == "" {
		return commandValidationError("notification_id", "notification id is required")
	}
	return nil
}
