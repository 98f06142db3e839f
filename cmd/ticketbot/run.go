package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ticketbot/internal/resolver"
	"ticketbot/internal/workflow"
)

var (
	flagTitle      string
	flagCustomer   string
	flagAssignedTo string
)

// errRunFailed makes the process exit non-zero after the result is printed.
var errRunFailed = errors.New("automation failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create one ticket with the configured credentials and print the result",
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

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ticket := workflow.Ticket{
			Title:      pick(flagTitle, cfg.Ticket.Title),
			Customer:   pick(flagCustomer, cfg.Ticket.Customer),
			AssignedTo: pick(flagAssignedTo, cfg.Ticket.AssignedTo),
		}
		res := runOnce(ctx, d, workflow.Credentials{
			Email:    cfg.Credentials.Email,
			Password: cfg.Credentials.Password,
		}, ticket)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.Success {
			return errRunFailed
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&flagTitle, "title", "", "ticket title (default from ticket.title)")
	runCmd.Flags().StringVar(&flagCustomer, "customer", "", "customer to set on the ticket")
	runCmd.Flags().StringVar(&flagAssignedTo, "assigned-to", "", "user to assign the ticket to")
}

func runOnce(ctx context.Context, d *deps, creds workflow.Credentials, ticket workflow.Ticket) workflow.Result {
	page, err := d.launcher.NewPage(ctx)
	if err != nil {
		return workflow.Result{Error: err.Error(), Err: err}
	}
	defer page.Close()

	res := resolver.New(d.catalog, resolver.NewMemory(), resolverOptions(cfg), d.logger)
	return workflow.New(page, res, d.opts, d.logger).Run(ctx, creds, ticket)
}

func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}
