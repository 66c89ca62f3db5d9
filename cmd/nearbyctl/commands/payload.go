package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gonearby/internal/server"
)

func payloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payload",
		Short: "Send or cancel payloads on connected endpoints",
	}

	cmd.AddCommand(payloadSendCmd())
	cmd.AddCommand(payloadCancelCmd())

	return cmd
}

func payloadSendCmd() *cobra.Command {
	var (
		endpointIDs []string
		body        string
		file        string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a payload to one or more connected endpoints",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := requireHandle(); err != nil {
				return err
			}

			payload := []byte(body)
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read payload file: %w", err)
				}
				payload = data
			}

			resp, err := callUnary[server.SendPayloadRequest, server.SendPayloadResponse](
				context.Background(), "SendPayload", &server.SendPayloadRequest{
					ClientHandle: clientHandle,
					EndpointIDs:  endpointIDs,
					Body:         payload,
				})
			if err != nil {
				return fmt.Errorf("send payload: %w", err)
			}

			fmt.Println(resp.PayloadID)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&endpointIDs, "endpoint", nil, "connected endpoint id, repeatable to fan a payload out to several peers (required)")
	flags.StringVar(&body, "body", "", "literal payload body")
	flags.StringVar(&file, "file", "", "path to a file to send as the payload body, overrides --body")
	cobra.CheckErr(cmd.MarkFlagRequired("endpoint"))

	return cmd
}

func payloadCancelCmd() *cobra.Command {
	var (
		endpointID string
		payloadID  int64
	)

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel an in-flight payload",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := requireHandle(); err != nil {
				return err
			}

			_, err := callUnary[server.CancelPayloadRequest, server.CancelPayloadResponse](
				context.Background(), "CancelPayload", &server.CancelPayloadRequest{
					ClientHandle: clientHandle,
					EndpointID:   endpointID,
					PayloadID:    payloadID,
				})
			if err != nil {
				return fmt.Errorf("cancel payload: %w", err)
			}

			fmt.Println("cancelled")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&endpointID, "endpoint", "", "connected endpoint id (required)")
	flags.Int64Var(&payloadID, "payload-id", 0, "payload id returned by 'payload send' (required)")
	cobra.CheckErr(cmd.MarkFlagRequired("endpoint"))
	cobra.CheckErr(cmd.MarkFlagRequired("payload-id"))

	return cmd
}
