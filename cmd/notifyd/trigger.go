package main

import (
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-notify/adapters/gocommand"
	notifycommand "github.com/goliatone/go-notify/command"
	"github.com/goliatone/go-notify/core"
	"github.com/spf13/cobra"
)

func triggerCmd(configPath *string) *cobra.Command {
	var req core.TriggerRequest
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a notification run for a period",
		Long: `Enqueue the collect job for one notification type and period.

Examples:
  notifyd trigger --type newsletter_entity_monthly --period 2025-01
  notifyd trigger --type alert_series_static --period 2025-01 --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, _, closeAll, err := openRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer closeAll()
			if _, err := rt.RegisterCommands(nil); err != nil {
				return err
			}

			result, ok, err := gocommand.DispatchResult[notifycommand.TriggerMessage, core.TriggerResult](
				ctx, notifycommand.TriggerMessage{Request: req},
			)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("notifyd: trigger returned no result")
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}
	cmd.Flags().StringVarP(&req.NotificationType, "type", "t", "", "notification type")
	cmd.Flags().StringVarP(&req.PeriodKey, "period", "p", "", "period key, e.g. 2025-01 or 2025-Q1")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "count eligible notifications without enqueueing")
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", 0, "maximum notifications to collect")
	cmd.Flags().BoolVar(&req.Force, "force", false, "start a new run even if one exists for the period")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
