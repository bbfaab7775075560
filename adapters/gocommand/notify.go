package gocommand

import (
	"fmt"

	"github.com/goliatone/go-command/runner"
	notifycommand "github.com/goliatone/go-notify/command"
)

// RegisterNotificationCommands registers and subscribes the subscription
// management commands and the trigger command. A failure releases the
// subscriptions made so far.
func RegisterNotificationCommands(
	adapter *RegistryAdapter,
	notifications notifycommand.NotificationService,
	trigger notifycommand.TriggerService,
	runnerOpts ...runner.Option,
) error {
	if notifications == nil || trigger == nil {
		return fmt.Errorf("gocommand: notification and trigger services are required")
	}
	steps := []func() error{
		func() error {
			_, err := RegisterAndSubscribe(adapter, notifycommand.NewSubscribeCommand(notifications), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribe(adapter, notifycommand.NewUpdateNotificationCommand(notifications), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribe(adapter, notifycommand.NewDeactivateNotificationCommand(notifications), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribe(adapter, notifycommand.NewDeleteNotificationCommand(notifications), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribe(adapter, notifycommand.NewUnsubscribeCommand(notifications), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribe(adapter, notifycommand.NewTriggerCommand(trigger), runnerOpts...)
			return err
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			adapter.Close()
			return err
		}
	}
	return nil
}
