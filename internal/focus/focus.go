// Package focus is the platform adapter for terminal automation: window
// focus, script-based writes into terminal tabs, synthetic keystrokes, and
// opening new shells. Everything is best-effort and reported as a boolean;
// the automation layer only exists on macOS, elsewhere every operation
// reports false.
package focus

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/pi-agent/statusd/internal/config"
)

// Test seams.
var (
	osascriptFunc = runOsascript
	openCheckFunc = openCheck
	openAppFunc   = openApp
	goosFunc      = func() string { return runtime.GOOS }
)

func runOsascript(script string) string {
	out, err := exec.Command("/usr/bin/osascript", "-e", script).Output()
	if err != nil {
		return "err"
	}
	res := strings.ToLower(strings.TrimSpace(string(out)))
	if res == "" {
		return "no"
	}
	return res
}

func osascript(script string) bool {
	if goosFunc() != "darwin" {
		return false
	}
	return osascriptFunc(script) == "ok"
}

// escape prepares a string for interpolation into an AppleScript literal.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ByTTY selects the iTerm2 or Terminal tab whose tty matches and raises
// its window.
func ByTTY(tty string) bool {
	t := escape(tty)
	iterm := fmt.Sprintf(`
set targetTTY to "%s"
try
  tell application "iTerm2"
    repeat with w in windows
      repeat with tb in tabs of w
        repeat with s in sessions of tb
          try
            if (tty of s as text) ends with targetTTY then
              tell w to select tb
              activate
              return "ok"
            end if
          end try
        end repeat
      end repeat
    end repeat
  end tell
end try
return "no"
`, t)
	if osascript(iterm) {
		return true
	}

	terminal := fmt.Sprintf(`
set targetTTY to "%s"
try
  tell application "Terminal"
    repeat with w in windows
      repeat with tb in tabs of w
        try
          if (tty of tb as text) ends with targetTTY then
            set selected of tb to true
            activate
            return "ok"
          end if
        end try
      end repeat
    end repeat
  end tell
end try
return "no"
`, t)
	return osascript(terminal)
}

// ByTitleHint selects the iTerm2 or Terminal tab whose title contains the
// hint.
func ByTitleHint(hint string) bool {
	h := escape(hint)
	script := fmt.Sprintf(`
set needle to "%s"
try
  tell application "iTerm2"
    repeat with w in windows
      repeat with tb in tabs of w
        try
          if (name of tb as text) contains needle then
            tell w to select tb
            activate
            return "ok"
          end if
        end try
      end repeat
    end repeat
  end tell
end try
try
  tell application "Terminal"
    repeat with w in windows
      repeat with tb in tabs of w
        try
          if (custom title of tb as text) contains needle then
            set selected of tb to true
            activate
            return "ok"
          end if
        end try
      end repeat
    end repeat
  end tell
end try
return "no"
`, h)
	return osascript(script)
}

func needleList(hints []string) string {
	var quoted []string
	for _, h := range hints {
		if h != "" {
			quoted = append(quoted, `"`+escape(h)+`"`)
		}
	}
	return strings.Join(quoted, ", ")
}

// GhosttyWindowByHints raises the Ghostty window of a specific process
// whose title contains any hint. Strict pid matching avoids jumping to the
// wrong Ghostty instance across desktops.
func GhosttyWindowByHints(hints []string, appPID int) bool {
	needles := needleList(hints)
	if needles == "" || appPID <= 0 {
		return false
	}
	script := fmt.Sprintf(`
set needles to {%s}
set targetPid to %d
try
  tell application "System Events"
    set targetProcess to missing value
    try
      set targetProcess to first process whose unix id is targetPid
    end try
    if targetProcess is missing value then
      return "no"
    end if
    tell targetProcess
      repeat with w in windows
        try
          set n to (name of w as text)
          repeat with needle in needles
            ignoring case
              if n contains (needle as text) then
                tell application "Ghostty" to activate
                set frontmost to true
                perform action "AXRaise" of w
                return "ok"
              end if
            end ignoring
          end repeat
        end try
      end repeat
    end tell
  end tell
end try
return "no"
`, needles, appPID)
	return osascript(script)
}

// GhosttyWindowByHintsAny is the pid-less variant, used when split panes
// break process ancestry.
func GhosttyWindowByHintsAny(hints []string) bool {
	needles := needleList(hints)
	if needles == "" {
		return false
	}
	script := fmt.Sprintf(`
set needles to {%s}
try
  tell application "System Events"
    if not (exists process "Ghostty") then
      return "no"
    end if
    tell process "Ghostty"
      repeat with w in windows
        try
          set n to (name of w as text)
          repeat with needle in needles
            ignoring case
              if n contains (needle as text) then
                tell application "Ghostty" to activate
                set frontmost to true
                perform action "AXRaise" of w
                return "ok"
              end if
            end ignoring
          end repeat
        end try
      end repeat
    end tell
  end tell
end try
return "no"
`, needles)
	return osascript(script)
}

// App raises a terminal app toward the matching window. Ghostty requires a
// hint-matched window; claiming success without targeting the right window
// jumps the user to the wrong desktop.
func App(appName string, hints []string, appPID int) bool {
	if appName == "Ghostty" {
		if len(hints) == 0 || appPID <= 0 {
			return false
		}
		return GhosttyWindowByHints(hints, appPID)
	}
	return ActivateApp(appName)
}

// ActivateExistingApp makes an already-running app frontmost without
// launching it.
func ActivateExistingApp(appName string) bool {
	app := escape(appName)
	script := fmt.Sprintf(`
try
  tell application "System Events"
    if exists process "%s" then
      tell process "%s"
        set frontmost to true
        try
          if (count of windows) > 0 then
            perform action "AXRaise" of window 1
          end if
        end try
      end tell
      return "ok"
    end if
  end tell
end try
return "no"
`, app, app)
	return osascript(script)
}

// ActivateApp activates an app, launching it if needed, and raises its
// front window.
func ActivateApp(appName string) bool {
	app := escape(appName)
	script := fmt.Sprintf(`
try
  tell application "%s" to activate
  delay 0.05
  tell application "System Events"
    if exists process "%s" then
      tell process "%s"
        set frontmost to true
        try
          if (count of windows) > 0 then
            perform action "AXRaise" of window 1
          end if
        end try
      end tell
    end if
  end tell
  return "ok"
end try
return "no"
`, app, app, app)
	return osascript(script)
}

// SendViaTerminalScript writes text into the iTerm2/Terminal tab matching
// the tty, trying the detected app first.
func SendViaTerminalScript(text, tty, appName string) bool {
	targetTTY := escape(tty)
	payload := escape(text)

	order := []string{"iTerm2", "Terminal"}
	if appName == "Terminal" {
		order = []string{"Terminal", "iTerm2"}
	}

	for _, candidate := range order {
		var script string
		if candidate == "iTerm2" {
			script = fmt.Sprintf(`
set targetTTY to "%s"
set payload to "%s"
try
  tell application "iTerm2"
    repeat with w in windows
      repeat with tb in tabs of w
        repeat with s in sessions of tb
          try
            if (tty of s as text) ends with targetTTY then
              write text payload newline YES to s
              return "ok"
            end if
          end try
        end repeat
      end repeat
    end repeat
  end tell
end try
return "no"
`, targetTTY, payload)
		} else {
			script = fmt.Sprintf(`
set targetTTY to "%s"
set payload to "%s"
try
  tell application "Terminal"
    repeat with w in windows
      repeat with tb in tabs of w
        try
          if (tty of tb as text) ends with targetTTY then
            do script payload in tb
            return "ok"
          end if
        end try
      end repeat
    end repeat
  end tell
end try
return "no"
`, targetTTY, payload)
		}
		if osascript(script) {
			return true
		}
	}
	return false
}

// SendViaUITyping focuses the agent's terminal window and types the text
// as synthetic keystrokes. The weakest transport: it requires focus to
// land on the right window first.
func SendViaUITyping(text, appName string, hints []string, appPID int, tty string) bool {
	if appName == "" {
		return false
	}

	focused := false
	if tty != "" && (appName == "iTerm2" || appName == "Terminal") {
		focused = ByTTY(tty)
	}
	if !focused {
		focused = App(appName, hints, appPID)
	}
	if !focused && appName == "Ghostty" {
		focused = GhosttyWindowByHintsAny(hints)
	}
	if !focused {
		focused = ActivateApp(appName)
	}
	if !focused {
		return false
	}

	script := fmt.Sprintf(`
try
  tell application "System Events"
    keystroke "%s"
    key code 36
    return "ok"
  end tell
end try
return "no"
`, escape(text))
	return osascript(script)
}

// OpenTerminalWithShell opens a new window in the preferred terminal app
// running a login shell, optionally cd'ing to cwd and executing a command
// (used to re-attach detached zellij sessions).
func OpenTerminalWithShell(command, cwd string) bool {
	if goosFunc() != "darwin" {
		return false
	}

	shell := defaultShell()
	var parts []string
	if cwd != "" {
		parts = append(parts, "cd "+shQuote(cwd))
	}
	if command != "" {
		parts = append(parts, "exec "+shQuote(shell)+" -lc "+shQuote(command))
	} else {
		parts = append(parts, "exec "+shQuote(shell)+" -l")
	}
	launch := strings.Join(parts, "; ")

	switch resolveTerminalApp() {
	case "Ghostty":
		return openAppFunc("Ghostty.app", "-e", shell, "-lc", launch)
	case "iTerm2":
		script := fmt.Sprintf(`
try
  tell application "iTerm2"
    activate
    create window with default profile command "%s"
    return "ok"
  end tell
end try
return "no"
`, escape(launch))
		return osascript(script)
	default:
		script := fmt.Sprintf(`
try
  tell application "Terminal"
    activate
    do script "%s"
    return "ok"
  end tell
end try
return "no"
`, escape(launch))
		return osascript(script)
	}
}

func defaultShell() string {
	if shell := strings.TrimSpace(os.Getenv("SHELL")); shell != "" {
		return shell
	}
	return "/bin/zsh"
}

// appAvailable probes for an installed app bundle without launching it.
func appAvailable(appName string) bool {
	bundle := map[string]string{
		"Ghostty":  "Ghostty.app",
		"iTerm2":   "iTerm.app",
		"Terminal": "Terminal.app",
	}[appName]
	if bundle == "" {
		bundle = appName + ".app"
	}
	return openCheckFunc(bundle)
}

func openCheck(bundle string) bool {
	return exec.Command("/usr/bin/open", "-Ra", bundle).Run() == nil
}

func openApp(bundle string, args ...string) bool {
	full := append([]string{"-na", bundle, "--args"}, args...)
	return exec.Command("/usr/bin/open", full...).Run() == nil
}

// resolveTerminalApp picks the app for new shells: the configured
// preference when installed, otherwise the first available of Ghostty,
// iTerm2, Terminal.
func resolveTerminalApp() string {
	if configured := config.PreferredTerminal(); configured != "" && appAvailable(configured) {
		return configured
	}
	for _, app := range []string{"Ghostty", "iTerm2", "Terminal"} {
		if appAvailable(app) {
			return app
		}
	}
	return "Terminal"
}
