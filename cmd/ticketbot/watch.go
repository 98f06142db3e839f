package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ticketbot/internal/events"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print session events published on NATS",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, err := events.NewNATSPublisher(cfg.Events)
		if err != nil {
			return err
		}
		defer pub.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		if _, err := pub.Subscribe(ctx, func(evt events.CanonicalEvent) {
			b, _ := json.Marshal(evt)
			fmt.Fprintf(out, "[%s] %s %s\n", time.Now().Format(time.RFC3339), evt.Type, b)
		}); err != nil {
			return fmt.Errorf("subscribe error: %w", err)
		}

		fmt.Fprintf(out, "listening on %s\n", pub.Subject(">"))
		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
