// Package mux infers which terminal multiplexer hosts an agent process and
// wraps the tmux/zellij commands used for message delivery and screen
// previews.
package mux

import (
	"path/filepath"
	"strings"

	"github.com/pi-agent/statusd/internal/procs"
)

// maxAncestorHops bounds the parent walk; process tables can contain ppid
// cycles after pid reuse.
const maxAncestorHops = 20

// Info is the result of multiplexer inference for one process.
type Info struct {
	Mux     string // "tmux", "zellij", "screen", or ""
	Session string
}

// Infer walks a process's ancestry looking for a multiplexer server or
// client and extracts the session name from its command line. Agents are
// usually launched from a shell whose parent is the mux process.
func Infer(row procs.Row, byPID map[int]procs.Row) Info {
	seen := make(map[int]bool)
	cur := row.PPID

	for hops := 0; cur > 0 && !seen[cur] && hops < maxAncestorHops; hops++ {
		seen[cur] = true
		anc, ok := byPID[cur]
		if !ok {
			break
		}

		low := strings.ToLower(anc.Args)
		switch {
		case strings.Contains(low, "zellij"):
			return Info{Mux: "zellij", Session: zellijSession(anc.Args)}
		case strings.Contains(low, "tmux"):
			return Info{Mux: "tmux", Session: tmuxSession(anc.Args)}
		case strings.Contains(low, "screen"):
			return Info{Mux: "screen"}
		}

		cur = anc.PPID
	}
	return Info{}
}

// zellijSession extracts the session name from a zellij command line:
// "-s"/"--session" take the next token, "--server" names a socket path
// whose basename is the session.
func zellijSession(args string) string {
	parts := strings.Fields(args)
	for i, p := range parts {
		switch p {
		case "-s", "--session":
			if i+1 < len(parts) {
				return parts[i+1]
			}
		case "--server":
			if i+1 < len(parts) {
				return filepath.Base(parts[i+1])
			}
		}
	}
	return ""
}

// tmuxSession extracts the session from a tmux command line's "-t" target,
// dropping any window suffix.
func tmuxSession(args string) string {
	parts := strings.Fields(args)
	for i, p := range parts {
		if p == "-t" || p == "--target" {
			if i+1 < len(parts) {
				if target := strings.TrimSpace(parts[i+1]); target != "" {
					return strings.SplitN(target, ":", 2)[0]
				}
			}
			continue
		}
		if strings.HasPrefix(p, "-t") && len(p) > 2 {
			if target := strings.TrimSpace(p[2:]); target != "" {
				return strings.SplitN(target, ":", 2)[0]
			}
		}
	}
	return ""
}

// FindClientPID locates the attached mux client process for a session.
// Explicit client command lines win; failing that, any client of the same
// mux on the agent's tty matches.
func FindClientPID(info Info, tty string, rows []procs.Row) int {
	if info.Mux == "" {
		return 0
	}

	if info.Session != "" {
		for _, r := range rows {
			if !strings.Contains(r.Args, info.Mux) {
				continue
			}
			if info.Mux == "zellij" && strings.Contains(r.Args, "--server") {
				continue
			}
			if strings.Contains(r.Args, info.Session) {
				return r.PID
			}
		}
	}

	if tty != "" && tty != "??" {
		for _, r := range rows {
			if r.TTY != tty || !strings.Contains(r.Args, info.Mux) {
				continue
			}
			if info.Mux == "zellij" && strings.Contains(r.Args, "--server") {
				continue
			}
			return r.PID
		}
	}
	return 0
}

// DetectTerminalApp walks a process's ancestry looking for a known terminal
// emulator. Returns the app tag ("Ghostty", "iTerm2", "Terminal") and the
// pid of the matching ancestor, or ("", 0).
func DetectTerminalApp(pid int, byPID map[int]procs.Row) (string, int) {
	seen := make(map[int]bool)
	cur := pid
	for cur > 0 && !seen[cur] {
		seen[cur] = true
		row, ok := byPID[cur]
		if !ok {
			break
		}

		comm := strings.ToLower(row.Comm)
		args := strings.ToLower(row.Args)
		switch {
		case strings.Contains(comm, "ghostty") || strings.Contains(args, "ghostty"):
			return "Ghostty", cur
		case strings.Contains(comm, "iterm") || strings.Contains(args, "iterm"):
			return "iTerm2", cur
		case strings.Contains(comm, "terminal") || strings.Contains(args, "terminal.app/contents/macos/terminal"):
			return "Terminal", cur
		}

		cur = row.PPID
	}
	return "", 0
}

// FocusHints builds the ordered, deduplicated window-title hints used when
// focusing an agent's terminal: session name (with any "agent-" prefix
// stripped as a second hint), cwd basename, and ttys.
func FocusHints(session, cwd, tty, clientTTY string) []string {
	var hints []string
	if session != "" {
		hints = append(hints, session)
		if strings.HasPrefix(session, "agent-") {
			hints = append(hints, strings.TrimPrefix(session, "agent-"))
		}
	}
	if cwd != "" {
		hints = append(hints, filepath.Base(cwd))
	}
	if tty != "" && tty != "??" {
		hints = append(hints, tty)
	}
	if clientTTY != "" && clientTTY != "??" {
		hints = append(hints, clientTTY)
	}

	var out []string
	seen := make(map[string]bool)
	for _, h := range hints {
		key := strings.ToLower(h)
		if !seen[key] {
			seen[key] = true
			out = append(out, h)
		}
	}
	return out
}
