package route

import (
	"fmt"
	"strings"

	"github.com/pi-agent/statusd/internal/mux"
	"github.com/pi-agent/statusd/internal/procs"
)

// Jump brings an agent's terminal window to the foreground, trying focus
// strategies from most to least deterministic: the attached mux client's
// terminal, the agent's own ancestry, Ghostty title hints, tty matching,
// mux-session title hints, and finally opening a fresh shell (attaching to
// the zellij session when one exists but has no client).
func (r *Router) Jump(pid int) Response {
	rows := r.listRows()
	byPID := procs.ByPID(rows)
	row, ok := findPi(rows, pid)
	if !ok {
		return Response{"ok": false, "error": fmt.Sprintf("pi pid not found: %d", pid)}
	}

	cwd := r.cwdMap([]int{pid})[pid]
	tty := row.TTY
	info := mux.Infer(row, byPID)

	focused := false
	focusedApp := ""
	focusedAppPID := 0

	clientPID := mux.FindClientPID(info, tty, rows)
	clientTTY := ""
	if clientPID != 0 {
		clientTTY = byPID[clientPID].TTY
	}
	hints := mux.FocusHints(info.Session, cwd, tty, clientTTY)

	// Attached client first: most deterministic across multiple terminal
	// instances and desktops.
	if clientPID != 0 {
		if app, appPID := mux.DetectTerminalApp(clientPID, byPID); app != "" {
			focusedApp, focusedAppPID = app, appPID
			focused = r.focusApp(app, hints, appPID)
		}
	}

	if !focused {
		if app, appPID := mux.DetectTerminalApp(pid, byPID); app != "" {
			focusedApp, focusedAppPID = app, appPID
			focused = r.focusApp(app, hints, appPID)
		}
	}

	// Split panes can break pid ancestry; try any Ghostty window by hint.
	if !focused && len(hints) > 0 {
		if r.ghosttyByHints(hints) {
			focused = true
			focusedApp = "Ghostty"
		}
	}

	if !focused && tty != "" && tty != "??" {
		focused = r.focusByTTY(tty)
	}

	if !focused && info.Session != "" {
		focused = r.focusByTitle(info.Session)
		if !focused && strings.HasPrefix(info.Session, "agent-") {
			focused = r.focusByTitle(strings.TrimPrefix(info.Session, "agent-"))
		}
	}

	if !focused && clientPID != 0 && focusedApp == "Ghostty" {
		focused = r.activateExisting("Ghostty")
	}

	openedAttach := false
	openedShell := false
	if !focused && clientPID == 0 {
		if info.Mux == "zellij" && info.Session != "" {
			openedAttach = r.openShell("zellij attach "+shellQuote(info.Session), cwd)
		} else if cwd != "" {
			openedShell = r.openShell("", cwd)
		}
	}

	return Response{
		"ok":              true,
		"pid":             pid,
		"tty":             tty,
		"cwd":             nullable(cwd),
		"mux":             nullable(info.Mux),
		"mux_session":     nullable(info.Session),
		"client_pid":      nullableInt(clientPID),
		"focused":         focused,
		"focused_app":     nullable(focusedApp),
		"focused_app_pid": nullableInt(focusedAppPID),
		"opened_attach":   openedAttach,
		"opened_shell":    openedShell,
		"fallback_opened": false,
	}
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func shellQuote(s string) string {
	out := "'"
	for _, ch := range s {
		if ch == '\'' {
			out += `'\''`
			continue
		}
		out += string(ch)
	}
	return out + "'"
}
