package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pi-agent/statusd/internal/sockd"
)

var requestCmd = &cobra.Command{
	Use:   "request <op> [args...]",
	Short: "Send a raw protocol request to the daemon",
	Long: `Send one raw request line to the running daemon and print the JSON
response.

Examples:
  pistatusd request status
  pistatusd request jump 12345
  pistatusd request latest 12345
  pistatusd request send 12345 looks good, please continue
  pistatusd request watch 5000`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRequest,
}

func init() {
	rootCmd.AddCommand(requestCmd)
}

func runRequest(cmd *cobra.Command, args []string) error {
	data, err := sockd.Request(strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
