package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatline/internal/broker"
	"chatline/internal/domain"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print events from the RabbitMQ stream, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if cfg.Broker.StreamURL == "" {
			return errors.New("STREAM_URL is not configured")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return broker.TailStream(ctx, cfg.Broker.StreamURL, cfg.Broker.StreamName, logger, func(e *domain.OutboxEvent) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s\n",
				e.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"), e.ID, broker.RoutingKey(e.EventType), e.Payload)
		})
	},
}

