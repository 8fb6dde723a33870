package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pi-agent/statusd/internal/tui"
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Follow the agent fleet in a live terminal view",
	Long: `Follow the agent fleet in a live terminal view.

Long-polls the daemon and redraws whenever an agent's activity or latest
message changes. Press q to quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.Run()
	},
}

func init() {
	rootCmd.AddCommand(topCmd)
}
