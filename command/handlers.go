package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-notify/core"
)

// NotificationService is the subscription surface the commands drive.
// core.NotificationService satisfies it.
type NotificationService interface {
	Subscribe(ctx context.Context, in core.SubscribeInput) (core.Notification, error)
	Update(ctx context.Context, id string, in core.UpdateNotificationInput) (core.Notification, error)
	Deactivate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Unsubscribe(ctx context.Context, token string) (core.Notification, error)
}

type TriggerService interface {
	Trigger(ctx context.Context, req core.TriggerRequest) (core.TriggerResult, error)
}

type SubscribeCommand struct {
	service NotificationService
}

func NewSubscribeCommand(service NotificationService) *SubscribeCommand {
	return &SubscribeCommand{service: service}
}

func (c *SubscribeCommand) Execute(ctx context.Context, msg SubscribeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	out, err := c.service.Subscribe(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateNotificationCommand struct {
	service NotificationService
}

func NewUpdateNotificationCommand(service NotificationService) *UpdateNotificationCommand {
	return &UpdateNotificationCommand{service: service}
}

func (c *UpdateNotificationCommand) Execute(ctx context.Context, msg UpdateNotificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	out, err := c.service.Update(ctx, msg.NotificationID, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeactivateNotificationCommand struct {
	service NotificationService
}

func NewDeactivateNotificationCommand(service NotificationService) *DeactivateNotificationCommand {
	return &DeactivateNotificationCommand{service: service}
}

func (c *DeactivateNotificationCommand) Execute(ctx context.Context, msg DeactivateNotificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	return c.service.Deactivate(ctx, msg.NotificationID)
}

type DeleteNotificationCommand struct {
	service NotificationService
}

func NewDeleteNotificationCommand(service NotificationService) *DeleteNotificationCommand {
	return &DeleteNotificationCommand{service: service}
}

func (c *DeleteNotificationCommand) Execute(ctx context.Context, msg DeleteNotificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	return c.service.Delete(ctx, msg.NotificationID)
}

type UnsubscribeCommand struct {
	service NotificationService
}

func NewUnsubscribeCommand(service NotificationService) *UnsubscribeCommand {
	return &UnsubscribeCommand{service: service}
}

func (c *UnsubscribeCommand) Execute(ctx context.Context, msg UnsubscribeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	out, err := c.service.Unsubscribe(ctx, msg.Token)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type TriggerCommand struct {
	service TriggerService
}

func NewTriggerCommand(service TriggerService) *TriggerCommand {
	return &TriggerCommand{service: service}
}

func (c *TriggerCommand) Execute(ctx context.Context, msg TriggerMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: trigger service is required")
	}
	out, err := c.service.Trigger(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
