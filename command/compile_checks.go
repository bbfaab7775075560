package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-notify/core"
)

var (
	_ gocmd.Commander[SubscribeMessage]              = (*SubscribeCommand)(nil)
	_ gocmd.Commander[UpdateNotificationMessage]     = (*UpdateNotificationCommand)(nil)
	_ gocmd.Commander[DeactivateNotificationMessage] = (*DeactivateNotificationCommand)(nil)
	_ gocmd.Commander[DeleteNotificationMessage]     = (*DeleteNotificationCommand)(nil)
	_ gocmd.Commander[UnsubscribeMessage]            = (*UnsubscribeCommand)(nil)
	_ gocmd.Commander[TriggerMessage]                = (*TriggerCommand)(nil)

	_ NotificationService = (*core.NotificationService)(nil)
	_ TriggerService      = (*core.TriggerService)(nil)
)
