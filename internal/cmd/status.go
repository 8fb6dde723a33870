package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pi-agent/statusd/internal/scan"
	"github.com/pi-agent/statusd/internal/sockd"
	"github.com/pi-agent/statusd/internal/status"
	"github.com/pi-agent/statusd/internal/style"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the agent fleet",
	Long: `Show the current agent fleet.

Queries the running daemon; when no daemon is up, scans directly so the
command works standalone. --json prints the normalized wire payload.`,
	RunE: runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw JSON payload")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	st := status.Normalize(loadFleet())

	// Pipes get the machine-readable payload.
	if statusJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	badge := style.ForSummaryColor(st.Summary.Color).Render("●")
	fmt.Printf("%s %s\n", badge, style.Bold.Render(st.Summary.Label))
	if len(st.Agents) == 0 {
		return nil
	}
	fmt.Println()

	tbl := style.NewTable(
		style.Column{Name: "PID", Width: 7, Align: style.AlignRight},
		style.Column{Name: "ACTIVITY", Width: 14},
		style.Column{Name: "MUX", Width: 18},
		style.Column{Name: "MODEL", Width: 20},
		style.Column{Name: "LAST MESSAGE", Width: 48},
	)
	for _, a := range st.Agents {
		tbl.AddRow(
			fmt.Sprintf("%d", a.PID),
			style.ForActivity(a.Activity).Render(a.Activity),
			muxLabel(a),
			strDeref(a.ModelName, strDeref(a.ModelID, "-")),
			messageOneLiner(a),
		)
	}
	fmt.Print(tbl.Render())
	return nil
}

// loadFleet prefers the daemon's snapshot and falls back to a direct scan.
func loadFleet() scan.Result {
	if data, err := sockd.Request("status"); err == nil {
		var res scan.Result
		if json.Unmarshal(data, &res) == nil && res.OK {
			return res
		}
	}
	return scan.NewScanner().Scan()
}

func muxLabel(a status.Agent) string {
	if a.Mux == nil {
		return "-"
	}
	if a.MuxSession != nil && *a.MuxSession != "" {
		return *a.Mux + ":" + *a.MuxSession
	}
	return *a.Mux
}

func messageOneLiner(a status.Agent) string {
	if a.LatestMessage == nil {
		return ""
	}
	line := strings.TrimSpace(*a.LatestMessage)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	return line
}

func strDeref(p *string, fallback string) string {
	if p != nil && strings.TrimSpace(*p) != "" {
		return *p
	}
	return fallback
}
