package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the notification schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, *configPath)
			if err != nil {
				return err
			}
			client, err := openClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			if err := client.Migrate(ctx); err != nil {
				return fmt.Errorf("notifyd: migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
