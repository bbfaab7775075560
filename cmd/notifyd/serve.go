package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the collect, compose and send workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, client, closeAll, err := openRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer closeAll()
			if migrate {
				if err := client.Migrate(ctx); err != nil {
					return err
				}
			}
			if _, err := rt.RegisterCommands(nil); err != nil {
				return err
			}

			observer := rt.Pipeline.Observer()
			server := &http.Server{
				Addr:              rt.Config.HTTP.Addr,
				Handler:           rt.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			var serveErr error
			var wg conc.WaitGroup
			wg.Go(func() {
				_ = rt.Run(ctx)
			})
			wg.Go(func() {
				observer.Info(ctx, "http server listening", map[string]any{"addr": server.Addr})
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr = err
					stop()
				}
			})

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				observer.Error(shutdownCtx, "http shutdown failed", map[string]any{"error": err.Error()})
			}
			wg.Wait()
			return serveErr
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before serving")
	return cmd
}
