package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gonearby/internal/server"
)

func connectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Request, accept, reject, or tear down endpoint connections",
	}

	cmd.AddCommand(connectionRequestCmd())
	cmd.AddCommand(connectionAcceptCmd())
	cmd.AddCommand(connectionRejectCmd())
	cmd.AddCommand(connectionDisconnectCmd())
	cmd.AddCommand(connectionStopAllCmd())
	cmd.AddCommand(connectionEndpointIDCmd())

	return cmd
}

func connectionRequestCmd() *cobra.Command {
	var (
		endpointID string
		target     string
		medium     string
		info       string
		keepAlive  time.Duration
		keepTime   time.Duration
		autoUpgrade bool
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request a connection to a discovered endpoint",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := requireHandle(); err != nil {
				return err
			}

			_, err := callUnary[server.RequestConnectionRequest, server.RequestConnectionResponse](
				context.Background(), "RequestConnection", &server.RequestConnectionRequest{
					ClientHandle:         clientHandle,
					EndpointID:           endpointID,
					Target:               target,
					Medium:               medium,
					EndpointInfo:         []byte(info),
					KeepAliveIntervalMS:  keepAlive.Milliseconds(),
					KeepAliveTimeoutMS:   keepTime.Milliseconds(),
					AutoUpgradeBandwidth: autoUpgrade,
				})
			if err != nil {
				return fmt.Errorf("request connection: %w", err)
			}

			fmt.Println("connection requested; watch for connection_initiated on 'nearbyctl watch'")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&endpointID, "endpoint", "", "target endpoint id, from endpoint_found (required)")
	flags.StringVar(&target, "target", "", "medium-specific dial address (required)")
	flags.StringVar(&medium, "medium", "WIFI_LAN", "medium to dial over")
	flags.StringVar(&info, "info", "", "opaque endpoint info sent to the peer")
	flags.DurationVar(&keepAlive, "keep-alive-interval", 5*time.Second, "KEEP_ALIVE write interval")
	flags.DurationVar(&keepTime, "keep-alive-timeout", 30*time.Second, "read timeout before the endpoint is aborted")
	flags.BoolVar(&autoUpgrade, "auto-upgrade", false, "automatically upgrade bandwidth once connected")
	cobra.CheckErr(cmd.MarkFlagRequired("endpoint"))
	cobra.CheckErr(cmd.MarkFlagRequired("target"))

	return cmd
}

func connectionAcceptCmd() *cobra.Command {
	return endpointScopedCmd("accept", "Accept a pending connection", "AcceptConnection",
		func(endpointID string) error {
			_, err := callUnary[server.AcceptConnectionRequest, server.AcceptConnectionResponse](
				context.Background(), "AcceptConnection", &server.AcceptConnectionRequest{
					ClientHandle: clientHandle, EndpointID: endpointID,
				})
			return err
		})
}

func connectionRejectCmd() *cobra.Command {
	return endpointScopedCmd("reject", "Reject a pending connection", "RejectConnection",
		func(endpointID string) error {
			_, err := callUnary[server.RejectConnectionRequest, server.RejectConnectionResponse](
				context.Background(), "RejectConnection", &server.RejectConnectionRequest{
					ClientHandle: clientHandle, EndpointID: endpointID,
				})
			return err
		})
}

func connectionDisconnectCmd() *cobra.Command {
	return endpointScopedCmd("disconnect", "Tear down one endpoint", "DisconnectFromEndpoint",
		func(endpointID string) error {
			_, err := callUnary[server.DisconnectFromEndpointRequest, server.DisconnectFromEndpointResponse](
				context.Background(), "DisconnectFromEndpoint", &server.DisconnectFromEndpointRequest{
					ClientHandle: clientHandle, EndpointID: endpointID,
				})
			return err
		})
}

func connectionStopAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Tear down every endpoint the client owns",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := requireHandle(); err != nil {
				return err
			}

			_, err := callUnary[server.StopAllEndpointsRequest, server.StopAllEndpointsResponse](
				context.Background(), "StopAllEndpoints", &server.StopAllEndpointsRequest{ClientHandle: clientHandle})
			if err != nil {
				return fmt.Errorf("stop all endpoints: %w", err)
			}

			fmt.Println("all endpoints stopped")
			return nil
		},
	}
}

func connectionEndpointIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "local-endpoint-id",
		Short: "Print the client's current local endpoint id",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := requireHandle(); err != nil {
				return err
			}

			resp, err := callUnary[server.GetLocalEndpointIDRequest, server.GetLocalEndpointIDResponse](
				context.Background(), "GetLocalEndpointID", &server.GetLocalEndpointIDRequest{ClientHandle: clientHandle})
			if err != nil {
				return fmt.Errorf("get local endpoint id: %w", err)
			}

			fmt.Println(resp.EndpointID)
			return nil
		},
	}
}

// endpointScopedCmd builds a cobra.Command taking a single positional
// endpoint id argument and running call against it, a shape shared by
// accept/reject/disconnect.
func endpointScopedCmd(use, short, verb string, call func(endpointID string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <endpoint-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := requireHandle(); err != nil {
				return err
			}

			if err := call(args[0]); err != nil {
				return fmt.Errorf("%s: %w", verb, err)
			}

			fmt.Printf("%s: ok\n", verb)
			return nil
		},
	}
}
