package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// shellCommands lists the available commands for the interactive shell help output.
var shellCommands = []struct {
	name string
	desc string
}{
	{"client attach", "Attach a new client session and print its handle"},
	{"client detach", "Detach the client session named by --handle"},
	{"advertise start --service <id>", "Start advertising a service"},
	{"advertise stop", "Stop advertising"},
	{"discover start --service <id>", "Start discovering a service"},
	{"discover stop", "Stop discovering"},
	{"connection request --endpoint <id> --target <addr>", "Request a connection"},
	{"connection accept <endpoint-id>", "Accept a pending connection"},
	{"connection reject <endpoint-id>", "Reject a pending connection"},
	{"connection disconnect <endpoint-id>", "Tear down one endpoint"},
	{"payload send --endpoint <id> --body <text>", "Send a payload"},
	{"watch", "Stream endpoint/connection/payload events"},
	{"version", "Print build information"},
	{"help", "Show this help message"},
	{"exit / quit", "Leave the interactive shell"},
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive nearbyctl shell",
		Long:  "Launches a simple REPL that accepts nearbyctl subcommands. Type 'help', 'exit', or 'quit'.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			printShellBanner()
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("nearbyctl> ")

			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())

				switch {
				case line == "exit" || line == "quit":
					return nil
				case line == "help" || line == "?":
					printShellHelp()
				case line != "":
					args := strings.Fields(line)
					rootCmd.SetArgs(args)

					if err := rootCmd.Execute(); err != nil {
						fmt.Fprintln(os.Stderr, "Error:", err)
					}
				}

				fmt.Print("nearbyctl> ")
			}

			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			return nil
		},
	}
}

// printShellBanner prints a welcome message when the shell starts.
func printShellBanner() {
	fmt.Println("gonearby interactive shell. Type 'help' for available commands, 'exit' to quit.")
	fmt.Println()
}

// printShellHelp prints a formatted list of available shell commands.
func printShellHelp() {
	fmt.Println("Available commands:")
	fmt.Println()

	for _, cmd := range shellCommands {
		fmt.Printf("  %-30s %s\n", cmd.name, cmd.desc)
	}

	fmt.Println()
}
