package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gonearby/internal/server"
)

// errHandleRequired indicates a handle-scoped command ran without --handle.
var errHandleRequired = errors.New("--handle flag is required (run 'client attach' first)")

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage attached client sessions",
	}

	cmd.AddCommand(clientAttachCmd())
	cmd.AddCommand(clientDetachCmd())

	return cmd
}

func clientAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach",
		Short: "Attach a new client session and print its handle",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := callUnary[server.AttachClientRequest, server.AttachClientResponse](
				context.Background(), "AttachClient", &server.AttachClientRequest{})
			if err != nil {
				return fmt.Errorf("attach client: %w", err)
			}

			fmt.Println(resp.ClientHandle)
			return nil
		},
	}
}

func clientDetachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detach",
		Short: "Detach the client session named by --handle",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := requireHandle(); err != nil {
				return err
			}

			_, err := callUnary[server.DetachClientRequest, server.DetachClientResponse](
				context.Background(), "DetachClient", &server.DetachClientRequest{ClientHandle: clientHandle})
			if err != nil {
				return fmt.Errorf("detach client: %w", err)
			}

			fmt.Println("detached")
			return nil
		},
	}
}
