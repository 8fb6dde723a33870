package mux

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pi-agent/statusd/internal/procs"
)

func stubRun(t *testing.T, fn func(name string, args ...string) (string, error)) *[][]string {
	t.Helper()
	var calls [][]string
	orig := runFunc
	runFunc = func(_ time.Duration, name string, args ...string) (string, error) {
		calls = append(calls, append([]string{name}, args...))
		return fn(name, args...)
	}
	t.Cleanup(func() { runFunc = orig })
	return &calls
}

func TestInferFindsTmuxAncestor(t *testing.T) {
	rows := []procs.Row{
		{PID: 10, PPID: 1, Comm: "tmux", Args: "tmux new-session -t work:1"},
		{PID: 20, PPID: 10, Comm: "zsh", Args: "-zsh"},
		{PID: 30, PPID: 20, Comm: "pi", Args: "pi"},
	}
	got := Infer(rows[2], procs.ByPID(rows))
	if got.Mux != "tmux" || got.Session != "work" {
		t.Errorf("Infer() = %+v, want tmux/work", got)
	}
}

func TestInferZellijSessionFlags(t *testing.T) {
	tests := []struct {
		args string
		want string
	}{
		{"zellij -s agent-7", "agent-7"},
		{"zellij --session deploy attach", "deploy"},
		{"zellij --server /run/user/1000/zellij/0.40/main", "main"},
		{"zellij attach", ""},
	}
	for _, tt := range tests {
		rows := []procs.Row{
			{PID: 10, PPID: 1, Comm: "zellij", Args: tt.args},
			{PID: 30, PPID: 10, Comm: "pi", Args: "pi"},
		}
		got := Infer(rows[1], procs.ByPID(rows))
		if got.Mux != "zellij" || got.Session != tt.want {
			t.Errorf("Infer(%q) = %+v, want zellij/%q", tt.args, got, tt.want)
		}
	}
}

func TestInferStopsOnCycle(t *testing.T) {
	rows := []procs.Row{
		{PID: 10, PPID: 20, Comm: "zsh", Args: "-zsh"},
		{PID: 20, PPID: 10, Comm: "zsh", Args: "-zsh"},
		{PID: 30, PPID: 10, Comm: "pi", Args: "pi"},
	}
	if got := Infer(rows[2], procs.ByPID(rows)); got.Mux != "" {
		t.Errorf("Infer() = %+v, want none", got)
	}
}

func TestInferNoMux(t *testing.T) {
	rows := []procs.Row{
		{PID: 1, PPID: 0, Comm: "launchd", Args: "/sbin/launchd"},
		{PID: 30, PPID: 1, Comm: "pi", Args: "pi"},
	}
	if got := Infer(rows[1], procs.ByPID(rows)); got.Mux != "" || got.Session != "" {
		t.Errorf("Infer() = %+v, want empty", got)
	}
}

func TestFindClientPID(t *testing.T) {
	rows := []procs.Row{
		{PID: 40, TTY: "ttys001", Args: "zellij --server /tmp/sock"},
		{PID: 41, TTY: "ttys002", Args: "zellij attach agent-7"},
		{PID: 42, TTY: "ttys003", Args: "tmux attach -t work"},
	}

	if got := FindClientPID(Info{Mux: "zellij", Session: "agent-7"}, "??", rows); got != 41 {
		t.Errorf("zellij client = %d, want 41 (server excluded)", got)
	}
	if got := FindClientPID(Info{Mux: "tmux", Session: "work"}, "??", rows); got != 42 {
		t.Errorf("tmux client = %d, want 42", got)
	}
	// No session match: fall back to same-tty client.
	if got := FindClientPID(Info{Mux: "tmux"}, "ttys003", rows); got != 42 {
		t.Errorf("tty fallback = %d, want 42", got)
	}
	if got := FindClientPID(Info{}, "ttys003", rows); got != 0 {
		t.Errorf("no mux = %d, want 0", got)
	}
}

func TestDetectTerminalApp(t *testing.T) {
	rows := []procs.Row{
		{PID: 1, PPID: 0, Comm: "launchd"},
		{PID: 5, PPID: 1, Comm: "ghostty", Args: "/Applications/Ghostty.app/Contents/MacOS/ghostty"},
		{PID: 6, PPID: 5, Comm: "zsh", Args: "-zsh"},
		{PID: 7, PPID: 6, Comm: "pi", Args: "pi"},
	}
	app, pid := DetectTerminalApp(7, procs.ByPID(rows))
	if app != "Ghostty" || pid != 5 {
		t.Errorf("DetectTerminalApp() = (%q, %d), want (Ghostty, 5)", app, pid)
	}
	if app, _ := DetectTerminalApp(1, procs.ByPID(rows)); app != "" {
		t.Errorf("DetectTerminalApp(launchd) = %q, want none", app)
	}
}

func TestFocusHints(t *testing.T) {
	got := FocusHints("agent-7", "/home/u/projects/statusd", "ttys002", "ttys002")
	want := []string{"agent-7", "7", "statusd", "ttys002"}
	if len(got) != len(want) {
		t.Fatalf("FocusHints() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("hint[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSendTmuxLadder(t *testing.T) {
	calls := stubRun(t, func(name string, args ...string) (string, error) {
		// Only the socket-label form succeeds.
		if args[0] == "-L" {
			return "", nil
		}
		return "", errors.New("no such target")
	})

	if err := SendTmux("hello", "agent-7", "main:1.2"); err != nil {
		t.Fatalf("SendTmux() error: %v", err)
	}
	if len(*calls) != 3 {
		t.Fatalf("attempts = %d, want 3 (pane, session, socket label)", len(*calls))
	}
	first := strings.Join((*calls)[0], " ")
	if !strings.Contains(first, "-t main:1.2") {
		t.Errorf("first attempt = %q, want pane target", first)
	}
}

func TestSendTmuxAllFail(t *testing.T) {
	stubRun(t, func(string, ...string) (string, error) { return "", errors.New("boom") })
	if err := SendTmux("hello", "", ""); !errors.Is(err, ErrNotDelivered) {
		t.Errorf("err = %v, want ErrNotDelivered", err)
	}
}

func TestSendZellij(t *testing.T) {
	calls := stubRun(t, func(string, ...string) (string, error) { return "", nil })
	if err := SendZellij("hello", "agent-7"); err != nil {
		t.Fatalf("SendZellij() error: %v", err)
	}
	if len(*calls) != 2 {
		t.Fatalf("calls = %d, want write-chars then write 13", len(*calls))
	}
	second := strings.Join((*calls)[1], " ")
	if !strings.HasSuffix(second, "write 13") {
		t.Errorf("second call = %q, want trailing carriage return", second)
	}
	if err := SendZellij("hello", ""); !errors.Is(err, ErrNotDelivered) {
		t.Errorf("empty session err = %v, want ErrNotDelivered", err)
	}
}

func TestTargetForTTY(t *testing.T) {
	stubRun(t, func(string, ...string) (string, error) {
		return "/dev/ttys001 main:0.0\n/dev/ttys002 work:1.2\n", nil
	})
	if got := TargetForTTY("ttys002"); got != "work:1.2" {
		t.Errorf("TargetForTTY() = %q, want work:1.2", got)
	}
	if got := TargetForTTY("ttys009"); got != "" {
		t.Errorf("TargetForTTY(miss) = %q, want empty", got)
	}
	if got := TargetForTTY("??"); got != "" {
		t.Errorf("TargetForTTY(??) = %q, want empty", got)
	}
}
