// Package route delivers messages into agent terminals through an ordered
// transport pipeline: mux injection, the file bridge, terminal scripting,
// raw tty input, and synthetic keystrokes. Each transport either delivers,
// passes to the next, or fails the whole send when falling through could
// double-deliver.
package route

import (
	"context"
	"fmt"
	"strings"

	"github.com/pi-agent/statusd/internal/bridge"
	"github.com/pi-agent/statusd/internal/focus"
	"github.com/pi-agent/statusd/internal/mux"
	"github.com/pi-agent/statusd/internal/procs"
	"github.com/pi-agent/statusd/internal/telemetry"
)

// Response is a delivery outcome, shaped for the wire.
type Response map[string]any

// Router sends messages and focuses agent windows. The func fields default
// to the live transports and are replaced in tests.
type Router struct {
	listRows       func() []procs.Row
	cwdMap         func(pids []int) map[int]string
	instanceForPID func(pid int) *telemetry.Instance
	bridgeSend     func(pid int, text, mode string) (*bridge.SendResult, error)
	sendZellij     func(text, session string) error
	sendTmux       func(text, session, paneTarget string) error
	targetForTTY   func(tty string) string

	terminalScript func(text, tty, app string) bool
	injectTTY      func(tty, text string) bool
	uiTyping       func(text, app string, hints []string, appPID int, tty string) bool

	focusByTTY       func(tty string) bool
	focusByTitle     func(hint string) bool
	focusApp         func(app string, hints []string, appPID int) bool
	ghosttyByHints   func(hints []string) bool
	activateExisting func(app string) bool
	openShell        func(command, cwd string) bool
}

// NewRouter returns a Router wired to the live transports.
func NewRouter() *Router {
	return &Router{
		listRows: procs.List,
		cwdMap: func(pids []int) map[int]string {
			return procs.CwdMap(context.Background(), pids)
		},
		instanceForPID: telemetry.InstanceForPID,
		bridgeSend:     bridge.Send,
		sendZellij:     mux.SendZellij,
		sendTmux:       mux.SendTmux,
		targetForTTY:   mux.TargetForTTY,

		terminalScript: focus.SendViaTerminalScript,
		injectTTY:      focus.InjectTTYInput,
		uiTyping:       focus.SendViaUITyping,

		focusByTTY:       focus.ByTTY,
		focusByTitle:     focus.ByTitleHint,
		focusApp:         focus.App,
		ghosttyByHints:   focus.GhosttyWindowByHintsAny,
		activateExisting: focus.ActivateExistingApp,
		openShell:        focus.OpenTerminalWithShell,
	}
}

// Send routes a message to a pi process. Transports are tried in
// precedence order; a bridge failure other than rate limiting fails the
// send outright because delivery state is unknown.
func (r *Router) Send(pid int, message string) Response {
	text := strings.TrimSpace(message)
	if text == "" {
		return Response{"ok": false, "error": "message is empty"}
	}

	rows := r.listRows()
	byPID := procs.ByPID(rows)
	row, ok := findPi(rows, pid)
	if !ok {
		return Response{"ok": false, "error": fmt.Sprintf("pi pid not found: %d", pid)}
	}

	tty := row.TTY
	info := mux.Infer(row, byPID)

	// Telemetry routing hints override inference.
	var paneHint string
	if inst := r.instanceForPID(pid); inst != nil {
		switch m := inst.RoutingMux(); m {
		case "zellij", "tmux", "screen":
			info.Mux = m
		}
		if s := inst.RoutingMuxSession(); s != "" {
			info.Session = s
		}
		paneHint = inst.RoutingTmuxPaneTarget()
	}

	if info.Mux == "zellij" && info.Session != "" {
		if err := r.sendZellij(text, info.Session); err == nil {
			return Response{"ok": true, "pid": pid, "delivery": "zellij", "mux_session": info.Session}
		}
	}

	if info.Mux == "tmux" {
		target := paneHint
		if target == "" {
			target = r.targetForTTY(tty)
		}
		if err := r.sendTmux(text, info.Session, target); err == nil {
			return Response{
				"ok":          true,
				"pid":         pid,
				"delivery":    "tmux",
				"mux_session": nullable(info.Session),
				"tmux_target": nullable(target),
			}
		}
	}

	if res, err := r.bridgeSend(pid, text, "queued"); err == nil {
		if res.OK {
			out := Response{
				"ok":          true,
				"pid":         pid,
				"delivery":    "pi-bridge",
				"bridge_mode": res.Mode,
				"bridge_ack":  res.Ack,
			}
			if res.Attempt > 1 {
				out["bridge_attempts"] = res.Attempt
			}
			return out
		}
		if !res.RateLimited() {
			out := Response{
				"ok":       false,
				"pid":      pid,
				"delivery": "pi-bridge",
				"error":    res.Err,
			}
			if res.Mode != "" {
				out["bridge_mode"] = res.Mode
			}
			if res.Ack != "" {
				out["bridge_ack"] = res.Ack
			}
			if res.AckError != "" {
				out["bridge_error"] = res.AckError
			}
			if res.Attempt > 0 {
				out["bridge_attempt"] = res.Attempt
			}
			return out
		}
		// Rate limited: fall through to terminal-level delivery.
	}

	// A zellij/screen agent whose mux delivery failed must not get raw tty
	// injection; the text would land in the multiplexer UI, not the agent.
	if info.Mux == "zellij" || info.Mux == "screen" {
		return Response{
			"ok":          false,
			"error":       "could not deliver message via mux",
			"pid":         pid,
			"mux":         info.Mux,
			"mux_session": nullable(info.Session),
			"tty":         tty,
		}
	}

	cwd := r.cwdMap([]int{pid})[pid]
	terminalApp, terminalPID := mux.DetectTerminalApp(pid, byPID)
	hints := mux.FocusHints(info.Session, cwd, tty, "")

	if tty != "" && tty != "??" && r.terminalScript(text, tty, terminalApp) {
		return Response{
			"ok":           true,
			"pid":          pid,
			"delivery":     "terminal-script",
			"tty":          tty,
			"terminal_app": nullable(terminalApp),
		}
	}

	if tty != "" && tty != "??" && r.injectTTY(tty, text) {
		return Response{"ok": true, "pid": pid, "delivery": "tty-input", "tty": tty}
	}

	if r.uiTyping(text, terminalApp, hints, terminalPID, tty) {
		return Response{
			"ok":           true,
			"pid":          pid,
			"delivery":     "ui-keystroke",
			"tty":          tty,
			"terminal_app": nullable(terminalApp),
		}
	}

	return Response{
		"ok":           false,
		"error":        "could not deliver message (mux, tty-input and ui-keystroke all failed)",
		"pid":          pid,
		"mux":          nullable(info.Mux),
		"mux_session":  nullable(info.Session),
		"tty":          tty,
		"terminal_app": nullable(terminalApp),
	}
}

func findPi(rows []procs.Row, pid int) (procs.Row, bool) {
	for _, r := range rows {
		if r.PID == pid && r.Comm == "pi" {
			return r, true
		}
	}
	return procs.Row{}, false
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
