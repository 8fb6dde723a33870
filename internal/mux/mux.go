package mux

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pi-agent/statusd/internal/transcript"
)

// commandTimeout bounds every mux subprocess; a wedged tmux server must not
// stall a scan or send.
const commandTimeout = 1200 * time.Millisecond

// dumpTimeout bounds full-screen dumps, which can be slower than one-line
// queries.
const dumpTimeout = 2 * time.Second

// ErrNotDelivered is returned when every send attempt failed.
var ErrNotDelivered = errors.New("mux send not delivered")

// runFunc is overridden in tests.
var runFunc = runCommand

func runCommand(timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = nil

	if err := cmd.Run(); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

// SendTmux delivers text to a tmux pane, trying targets from most to least
// specific: an explicit pane target, the session name, the session as a
// socket label, and finally the current client.
func SendTmux(text, session, paneTarget string) error {
	var attempts [][]string
	if paneTarget != "" {
		attempts = append(attempts, []string{"send-keys", "-t", paneTarget, text, "C-m"})
	}
	if session != "" {
		attempts = append(attempts, []string{"send-keys", "-t", session, text, "C-m"})
		// Compatibility form for sessions that are actually socket labels.
		attempts = append(attempts, []string{"-L", session, "send-keys", text, "C-m"})
	}
	attempts = append(attempts, []string{"send-keys", text, "C-m"})

	for _, args := range attempts {
		if _, err := runFunc(commandTimeout, "tmux", args...); err == nil {
			return nil
		}
	}
	return ErrNotDelivered
}

// SendZellij delivers text to a zellij session: write-chars for the text,
// then a carriage return via write 13.
func SendZellij(text, session string) error {
	if session == "" {
		return ErrNotDelivered
	}
	if _, err := runFunc(commandTimeout, "zellij", "--session", session, "action", "write-chars", text); err != nil {
		return ErrNotDelivered
	}
	if _, err := runFunc(commandTimeout, "zellij", "--session", session, "action", "write", "13"); err != nil {
		return ErrNotDelivered
	}
	return nil
}

// TargetForTTY resolves a tmux pane target (session:window.pane) from a tty
// name by matching pane ttys across all sessions.
func TargetForTTY(tty string) string {
	if tty == "" || tty == "??" {
		return ""
	}
	ttyPath := tty
	if !strings.HasPrefix(ttyPath, "/dev/") {
		ttyPath = "/dev/" + ttyPath
	}

	out, err := runFunc(commandTimeout, "tmux",
		"list-panes", "-a", "-F", "#{pane_tty} #{session_name}:#{window_index}.#{pane_index}")
	if err != nil {
		return ""
	}
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		paneTTY, target, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		if paneTTY == ttyPath {
			return strings.TrimSpace(target)
		}
	}
	return ""
}

// TmuxTailPreview captures the trailing screen content of a tmux session
// addressed by socket label and reduces it to a readable preview.
func TmuxTailPreview(session string) string {
	out, err := runFunc(dumpTimeout, "tmux", "-L", session, "capture-pane", "-p", "-S", "-2000")
	if err != nil {
		return ""
	}
	return transcript.PreviewFromDump(out)
}

// ZellijTailPreview dumps a zellij session's screen to a temp file and
// reduces it to a readable preview.
func ZellijTailPreview(session string) string {
	tmp, err := os.CreateTemp("", "statusd-zellij-*.txt")
	if err != nil {
		return ""
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if _, err := runFunc(dumpTimeout, "zellij", "--session", session, "action", "dump-screen", "--full", path); err != nil {
		return ""
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return transcript.PreviewFromDump(string(content))
}
