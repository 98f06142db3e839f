package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ticketbot/internal/api"
	"ticketbot/internal/events"
	"ticketbot/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the automation HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := d.launcher.Close(); err != nil {
				d.logger.Warn("Failed to close browser", zap.Error(err))
			}
		}()

		pub, err := events.NewPublisher(cfg.Events, d.logger)
		if err != nil {
			return err
		}
		defer pub.Close()

		runner := session.WorkflowRunner(d.catalog, d.opts, resolverOptions(cfg), d.logger)
		registry := session.NewRegistry(d.launcher, runner, pub, d.logger)
		server := api.NewServer(registry, cfg.Ticket, d.logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		serveErr := server.ListenAndServe(ctx, cfg.Server.Addr)

		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := registry.CloseAll(closeCtx); err != nil {
			d.logger.Warn("Sessions did not stop in time", zap.Error(err))
		}
		d.logger.Info("Server stopped")
		return serveErr
	},
}
