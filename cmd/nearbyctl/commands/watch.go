package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gonearby/internal/server"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream endpoint/connection/payload events for the client named by --handle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireHandle(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			stream, err := streamServer[server.WatchEventsRequest, server.WatchEventsResponse](
				ctx, "WatchEvents", &server.WatchEventsRequest{ClientHandle: clientHandle})
			if err != nil {
				return fmt.Errorf("watch events: %w", err)
			}
			defer stream.Close()

			for stream.Receive() {
				line, err := formatWatchEvent(stream.Msg(), outputFormat)
				if err != nil {
					return err
				}
				fmt.Println(line)
			}

			if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watch events: %w", err)
			}

			return nil
		},
	}
}
