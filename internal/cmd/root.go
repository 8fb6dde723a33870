// Package cmd implements the pistatusd command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pistatusd",
	Short: "Status daemon for local pi coding agents",
	Long: `pistatusd watches the pi coding agents running on this machine.

It fuses the process table, per-instance telemetry files, and session
transcripts into one fleet snapshot, serves that snapshot over a private
UNIX socket, and can route messages into agent terminals or bring their
windows to the foreground.

Run the daemon with 'pistatusd run', then query it with 'pistatusd
status', follow it with 'pistatusd top', or expose it to other machines
with 'pistatusd http'.`,
	SilenceUsage: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
