// Package telemetry reads the per-instance JSON files that pi processes
// publish and exposes them as loosely-typed Instance records. Files are
// filtered by PID liveness and a staleness window; a CLI snapshot tool is
// consulted only when no usable file exists.
package telemetry

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pi-agent/statusd/internal/config"
	"github.com/pi-agent/statusd/internal/procs"
)

// snapshotTimeout bounds the optional CLI fallback.
const snapshotTimeout = 1200 * time.Millisecond

// Test seams.
var (
	nowMillis    = func() int64 { return time.Now().UnixMilli() }
	aliveFunc    = procs.Alive
	snapshotFunc = runSnapshotCLI
)

// Instance is one telemetry record. The publisher schema is loose, so the
// decoded JSON is kept as-is behind typed accessors.
type Instance struct {
	Raw map[string]any
}

func (in Instance) section(key string) map[string]any {
	m, _ := in.Raw[key].(map[string]any)
	return m
}

// PID returns the instance's process id, or 0 when absent.
func (in Instance) PID() int {
	return toInt(in.section("process")["pid"])
}

// PPID returns the parent pid reported by the instance, or 0.
func (in Instance) PPID() int {
	return toInt(in.section("process")["ppid"])
}

// UpdatedAtMS returns the instance heartbeat in millisecond epoch, or 0.
func (in Instance) UpdatedAtMS() int64 {
	n, ok := in.section("process")["updatedAt"].(float64)
	if !ok {
		return 0
	}
	return int64(n)
}

// State returns the state section (activity enum plus legacy booleans).
func (in Instance) State() map[string]any { return in.section("state") }

// Workspace returns the workspace section.
func (in Instance) Workspace() map[string]any { return in.section("workspace") }

// Context returns the context-budget section.
func (in Instance) Context() map[string]any { return in.section("context") }

// Model returns the model section.
func (in Instance) Model() map[string]any { return in.section("model") }

// Session returns the session section.
func (in Instance) Session() map[string]any { return in.section("session") }

// Messages returns the embedded last-message section, if any.
func (in Instance) Messages() map[string]any { return in.section("messages") }

// Source returns the instance's source tag, defaulting to "pi-telemetry".
func (in Instance) Source() string {
	if s, ok := in.Raw["source"].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return "pi-telemetry"
}

// SessionFile returns the transcript path the instance points at, or "".
func (in Instance) SessionFile() string {
	s, _ := in.Section("session")["file"].(string)
	return strings.TrimSpace(s)
}

// Section exposes an arbitrary top-level object for callers that need keys
// without dedicated accessors.
func (in Instance) Section(key string) map[string]any { return in.section(key) }

// BridgeActive reports the extensions.bridge.active flag; ok is false when
// the instance does not carry one.
func (in Instance) BridgeActive() (active, ok bool) {
	ext := in.section("extensions")
	bridge, _ := ext["bridge"].(map[string]any)
	active, ok = bridge["active"].(bool)
	return active, ok
}

// RoutingMux returns the routing.mux override, or "".
func (in Instance) RoutingMux() string {
	s, _ := in.section("routing")["mux"].(string)
	return strings.TrimSpace(s)
}

// RoutingMuxSession returns the routing.muxSession override, or "".
func (in Instance) RoutingMuxSession() string {
	s, _ := in.section("routing")["muxSession"].(string)
	return strings.TrimSpace(s)
}

// RoutingTmuxPaneTarget returns the routing.tmux.paneTarget hint, or "".
func (in Instance) RoutingTmuxPaneTarget() string {
	tm, _ := in.section("routing")["tmux"].(map[string]any)
	s, _ := tm["paneTarget"].(string)
	return strings.TrimSpace(s)
}

// ReadInstances returns all live, fresh telemetry instances. A file is
// usable when it decodes, carries a positive process.pid and a numeric
// process.updatedAt, the PID is alive, and the heartbeat is within the
// staleness window. When no file qualifies, the pi-telemetry-snapshot CLI
// is tried; its instances only need a positive pid.
func ReadInstances() []Instance {
	staleMS := config.TelemetryStaleMS()
	now := nowMillis()

	var instances []Instance
	entries, err := os.ReadDir(config.TelemetryDir())
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(config.TelemetryDir(), entry.Name()))
			if err != nil {
				continue
			}
			var raw map[string]any
			if err := json.Unmarshal(data, &raw); err != nil {
				continue
			}
			in := Instance{Raw: raw}
			if in.PID() <= 0 {
				continue
			}
			if _, ok := in.section("process")["updatedAt"].(float64); !ok {
				continue
			}
			if !aliveFunc(in.PID()) {
				continue
			}
			if now-in.UpdatedAtMS() > staleMS {
				continue
			}
			instances = append(instances, in)
		}
	}
	if len(instances) > 0 {
		return instances
	}
	return snapshotFunc()
}

// InstanceForPID returns the telemetry instance for one pid, or nil.
func InstanceForPID(pid int) *Instance {
	for _, in := range ReadInstances() {
		if in.PID() == pid {
			return &in
		}
	}
	return nil
}

func runSnapshotCLI() []Instance {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "pi-telemetry-snapshot").Output()
	if err != nil || len(strings.TrimSpace(string(out))) == 0 {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil
	}
	list, ok := payload["instances"].([]any)
	if !ok {
		return nil
	}
	var instances []Instance
	for _, item := range list {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		in := Instance{Raw: raw}
		if in.PID() <= 0 {
			continue
		}
		instances = append(instances, in)
	}
	return instances
}

// MapActivity normalizes a state section to the activity enum. The modern
// "activity" value wins; the legacy waitingForInput/busy/isIdle booleans
// are kept for older publishers.
func MapActivity(state any) string {
	if m, ok := state.(map[string]any); ok {
		switch m["activity"] {
		case "working":
			return "running"
		case "waiting_input":
			return "waiting_input"
		}
		if m["waitingForInput"] == true {
			return "waiting_input"
		}
		if m["busy"] == true || m["isIdle"] == false {
			return "running"
		}
		return "unknown"
	}
	switch state {
	case "working":
		return "running"
	case "waiting_input":
		return "waiting_input"
	}
	return "unknown"
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		var out int
		for _, ch := range strings.TrimSpace(n) {
			if ch < '0' || ch > '9' {
				return 0
			}
			out = out*10 + int(ch-'0')
		}
		return out
	}
	return 0
}
