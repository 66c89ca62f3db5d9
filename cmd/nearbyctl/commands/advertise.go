package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gonearby/internal/server"
)

func advertiseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advertise",
		Short: "Manage advertising for the client named by --handle",
	}

	cmd.AddCommand(advertiseStartCmd())
	cmd.AddCommand(advertiseStopCmd())

	return cmd
}

func advertiseStartCmd() *cobra.Command {
	var (
		serviceID string
		strategy  string
		mediums   string
		info      string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start advertising a service over one or more mediums",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := requireHandle(); err != nil {
				return err
			}

			_, err := callUnary[server.StartAdvertisingRequest, server.StartAdvertisingResponse](
				context.Background(), "StartAdvertising", &server.StartAdvertisingRequest{
					ClientHandle: clientHandle,
					ServiceID:    serviceID,
					Strategy:     strategy,
					Mediums:      splitMediums(mediums),
					EndpointInfo: []byte(info),
				})
			if err != nil {
				return fmt.Errorf("start advertising: %w", err)
			}

			fmt.Println("advertising started")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&serviceID, "service", "", "service id to advertise (required)")
	flags.StringVar(&strategy, "strategy", "P2P_CLUSTER", "connection strategy: P2P_CLUSTER, P2P_STAR, P2P_POINT_TO_POINT")
	flags.StringVar(&mediums, "mediums", "WIFI_LAN", "comma-separated mediums to advertise over")
	flags.StringVar(&info, "info", "", "opaque endpoint info advertised to discoverers")
	cobra.CheckErr(cmd.MarkFlagRequired("service"))

	return cmd
}

func advertiseStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop advertising",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := requireHandle(); err != nil {
				return err
			}

			_, err := callUnary[server.StopAdvertisingRequest, server.StopAdvertisingResponse](
				context.Background(), "StopAdvertising", &server.StopAdvertisingRequest{ClientHandle: clientHandle})
			if err != nil {
				return fmt.Errorf("stop advertising: %w", err)
			}

			fmt.Println("advertising stopped")
			return nil
		},
	}
}

func discoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Manage discovery for the client named by --handle",
	}

	cmd.AddCommand(discoverStartCmd())
	cmd.AddCommand(discoverStopCmd())

	return cmd
}

func discoverStartCmd() *cobra.Command {
	var (
		serviceID string
		strategy  string
		mediums   string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start discovering a service over one or more mediums",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := requireHandle(); err != nil {
				return err
			}

			_, err := callUnary[server.StartDiscoveringRequest, server.StartDiscoveringResponse](
				context.Background(), "StartDiscovering", &server.StartDiscoveringRequest{
					ClientHandle: clientHandle,
					ServiceID:    serviceID,
					Strategy:     strategy,
					Mediums:      splitMediums(mediums),
				})
			if err != nil {
				return fmt.Errorf("start discovering: %w", err)
			}

			fmt.Println("discovering started")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&serviceID, "service", "", "service id to discover (required)")
	flags.StringVar(&strategy, "strategy", "P2P_CLUSTER", "connection strategy: P2P_CLUSTER, P2P_STAR, P2P_POINT_TO_POINT")
	flags.StringVar(&mediums, "mediums", "WIFI_LAN", "comma-separated mediums to discover over")
	cobra.CheckErr(cmd.MarkFlagRequired("service"))

	return cmd
}

func discoverStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop discovering",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := requireHandle(); err != nil {
				return err
			}

			_, err := callUnary[server.StopDiscoveringRequest, server.StopDiscoveringResponse](
				context.Background(), "StopDiscovering", &server.StopDiscoveringRequest{ClientHandle: clientHandle})
			if err != nil {
				return fmt.Errorf("stop discovering: %w", err)
			}

			fmt.Println("discovering stopped")
			return nil
		},
	}
}

// splitMediums parses a comma-separated medium list, dropping empty entries.
func splitMediums(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		m = strings.TrimSpace(m)
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}
