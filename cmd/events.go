/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mytube/apiserver/internal/mq"
)

// eventsCmd groups commands that work with the user event stream.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect user events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Subscribe to the events channel and log every user event",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		broker, err := mq.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if broker == nil {
			return errors.New("MQ_BACKEND is not set")
		}
		defer broker.Close()

		publisher := mq.NewEventPublisher(broker, cfg.EventsChannel)
		logger.Info("tailing user events", "channel", publisher.Channel())

		err = publisher.SubscribeUserEvents(cmd.Context(), logger, func(ctx context.Context, event mq.UserEvent) error {
			logger.InfoContext(ctx, "user event",
				"type", event.Type,
				"user_id", event.UserID,
				"username", event.Username,
				"at", event.At,
				"detail", event.Detail,
			)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
