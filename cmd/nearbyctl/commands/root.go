package commands

import (
	"fmt"
	"net/http"
	"os"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"
)

var (
	// rpc is the connect HTTP client shared by every command; there is no
	// generated service stub to carry it, so each command builds its own
	// typed connect.Client against rpc + the base URL (see client.go).
	rpc connect.HTTPClient

	// baseURL is the daemon's control-plane base URL, derived from
	// serverAddr in PersistentPreRunE.
	baseURL string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon address (host:port) for the ConnectRPC connection.
	serverAddr string

	// clientHandle is the opaque handle returned by "client attach",
	// required by every handle-scoped command.
	clientHandle string
)

// rootCmd is the top-level cobra command for nearbyctl.
var rootCmd = &cobra.Command{
	Use:   "nearbyctl",
	Short: "CLI client for the gonearby daemon",
	Long:  "nearbyctl communicates with the gonearby daemon via ConnectRPC to drive advertising, discovery, connections, and payload transfer.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		rpc = http.DefaultClient
		baseURL = "http://" + serverAddr
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50051",
		"gonearby daemon address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")
	rootCmd.PersistentFlags().StringVar(&clientHandle, "handle", "",
		"client handle returned by 'client attach' (required for most commands)")

	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(advertiseCmd())
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(connectionCmd())
	rootCmd.AddCommand(payloadCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
