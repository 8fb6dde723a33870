package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/pi-agent/statusd/internal/scan"
	"github.com/pi-agent/statusd/internal/style"
)

// View renders the fleet.
func (m *Model) View() string {
	var sb strings.Builder

	sb.WriteString(m.headerView())
	sb.WriteString("\n\n")

	if m.result == nil {
		sb.WriteString(style.Dim.Render("  waiting for daemon..."))
		sb.WriteString("\n")
	} else if len(m.result.Agents) == 0 {
		sb.WriteString(style.Dim.Render("  no pi agents running"))
		sb.WriteString("\n")
	} else {
		sb.WriteString(m.tableView())
	}

	sb.WriteString("\n")
	sb.WriteString(m.footerView())
	return sb.String()
}

func (m *Model) headerView() string {
	if m.result == nil {
		return style.Gray.Render("●") + " " + style.Bold.Render("pi agents")
	}
	s := m.result.Summary
	badge := style.ForSummaryColor(s.Color).Render("●")
	counts := style.Dim.Render(fmt.Sprintf("running %d · waiting %d · unknown %d",
		s.Running, s.WaitingInput, s.Unknown))
	return fmt.Sprintf("%s %s  %s", badge, style.Bold.Render(s.Label), counts)
}

func (m *Model) tableView() string {
	msgWidth := m.width - 50
	if msgWidth < 20 {
		msgWidth = 20
	}

	tbl := style.NewTable(
		style.Column{Name: "PID", Width: 7, Align: style.AlignRight},
		style.Column{Name: "ACTIVITY", Width: 14},
		style.Column{Name: "MUX", Width: 18},
		style.Column{Name: "LAST MESSAGE", Width: msgWidth},
	)
	for _, a := range m.result.Agents {
		tbl.AddRow(
			fmt.Sprintf("%d", a.PID),
			style.ForActivity(a.Activity).Render(a.Activity),
			muxLabel(a),
			lastMessageLine(a),
		)
	}
	return tbl.Render()
}

func (m *Model) footerView() string {
	var parts []string
	if m.err != nil {
		parts = append(parts, style.Red.Render(fmt.Sprintf("daemon unreachable: %v", m.err)))
	} else if !m.updatedAt.IsZero() {
		parts = append(parts, style.Dim.Render("updated "+m.updatedAt.Format(time.Kitchen)))
	}
	parts = append(parts, m.help.View(m.keys))
	return "  " + strings.Join(parts, "  ")
}

func muxLabel(a scan.Agent) string {
	if a.Mux == nil {
		return "-"
	}
	if a.MuxSession != nil && *a.MuxSession != "" {
		return *a.Mux + ":" + *a.MuxSession
	}
	return *a.Mux
}

// lastMessageLine flattens an agent's latest message to its first line.
func lastMessageLine(a scan.Agent) string {
	if a.LatestMessage == nil {
		return ""
	}
	line := strings.TrimSpace(*a.LatestMessage)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	return line
}
