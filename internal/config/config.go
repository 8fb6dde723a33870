// Package config resolves the daemon's runtime paths and tunables from the
// per-user runtime directory, the JSON config file, and PI_* environment
// overrides. Environment always wins over the file; every numeric knob is
// clamped to its documented range.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Default ports for the HTTP gateway.
const (
	DefaultHTTPPort  = 8787
	DefaultHTTPSPort = 8788
)

// Bridge and telemetry tunable defaults (milliseconds unless noted).
const (
	DefaultTelemetryStaleMS      = 10000
	DefaultBridgeRegistryStaleMS = 10000
	DefaultBridgeAckTimeoutMS    = 1200
	DefaultBridgeSendRetries     = 3
	DefaultBridgeSendBackoffMS   = 450
	DefaultSendRatePer10s        = 12
)

// RuntimeDir returns the per-user state directory. PI_STATUSD_DIR overrides
// the default of ~/.pi/agent.
func RuntimeDir() string {
	if dir := strings.TrimSpace(os.Getenv("PI_STATUSD_DIR")); dir != "" {
		return expandHome(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "pi-statusd")
	}
	return filepath.Join(home, ".pi", "agent")
}

// SocketPath returns the UNIX socket the daemon listens on.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "statusd.sock")
}

// LockPath returns the flock file guarding single-instance daemon startup.
func LockPath() string {
	return filepath.Join(RuntimeDir(), "statusd.lock")
}

// ConfigPath returns the JSON config file shared with the HTTP gateway.
func ConfigPath() string {
	return filepath.Join(RuntimeDir(), "statusd-http.json")
}

// TelemetryDir returns the directory scanned for per-instance telemetry
// files. PI_TELEMETRY_DIR overrides the default.
func TelemetryDir() string {
	if dir := strings.TrimSpace(os.Getenv("PI_TELEMETRY_DIR")); dir != "" {
		return expandHome(dir)
	}
	return filepath.Join(RuntimeDir(), "telemetry", "instances")
}

// TelemetryStaleMS returns the staleness cutoff for telemetry files.
func TelemetryStaleMS() int64 {
	return envInt64("PI_TELEMETRY_STALE_MS", DefaultTelemetryStaleMS)
}

// BridgeDir returns the file-bridge base directory. PI_BRIDGE_DIR overrides
// the default of <runtime>/statusbridge.
func BridgeDir() string {
	if dir := strings.TrimSpace(os.Getenv("PI_BRIDGE_DIR")); dir != "" {
		return expandHome(dir)
	}
	return filepath.Join(RuntimeDir(), "statusbridge")
}

// BridgeRegistryStaleMS returns the liveness window for bridge registry
// files, never below one second.
func BridgeRegistryStaleMS() int64 {
	v := envInt64("PI_BRIDGE_REGISTRY_STALE_MS", DefaultBridgeRegistryStaleMS)
	if v < 1000 {
		return 1000
	}
	return v
}

// BridgeAckTimeoutMS returns the per-attempt ack wait for bridge sends.
func BridgeAckTimeoutMS() int64 {
	return envInt64("PI_BRIDGE_ACK_TIMEOUT_MS", DefaultBridgeAckTimeoutMS)
}

// BridgeSendRetries returns the bridge attempt budget, clamped to 1..8.
func BridgeSendRetries() int {
	return clampInt(int(envInt64("PI_BRIDGE_SEND_RETRIES", DefaultBridgeSendRetries)), 1, 8)
}

// BridgeSendBackoffMS returns the delay between rate-limited bridge
// attempts, clamped to 100..3000 ms.
func BridgeSendBackoffMS() int64 {
	return int64(clampInt(int(envInt64("PI_BRIDGE_SEND_RETRY_BACKOFF_MS", DefaultBridgeSendBackoffMS)), 100, 3000))
}

// PreferredTerminal returns the configured terminal app tag ("Ghostty",
// "iTerm2", "Terminal") or empty for automatic selection. Read from
// PI_STATUS_TERMINAL or the "terminal"/"preferred_terminal" config keys.
func PreferredTerminal() string {
	raw := strings.TrimSpace(os.Getenv("PI_STATUS_TERMINAL"))
	if raw == "" {
		if f := readFile(ConfigPath()); f != nil {
			if s, ok := f["terminal"].(string); ok && strings.TrimSpace(s) != "" {
				raw = s
			} else if s, ok := f["preferred_terminal"].(string); ok {
				raw = s
			}
		}
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ghostty":
		return "Ghostty"
	case "iterm2", "iterm", "iterm.app":
		return "iTerm2"
	case "terminal", "terminal.app", "apple_terminal":
		return "Terminal"
	default:
		return ""
	}
}

// HTTP holds the resolved gateway configuration.
type HTTP struct {
	Host                string
	Port                int
	Token               string
	AllowCIDRs          []string
	AllowLoopbackUnauth bool
	SendRatePer10s      int

	HTTPSEnabled  bool
	HTTPSHost     string
	HTTPSPort     int
	HTTPSCertPath string
	HTTPSKeyPath  string
}

// LoadHTTP merges the JSON config file with PI_STATUSD_HTTP_* environment
// overrides and applies range clamps. A missing or malformed file yields
// defaults; it is never an error.
func LoadHTTP() HTTP {
	file := readFile(ConfigPath())

	cfg := HTTP{
		Host:                "0.0.0.0",
		Port:                DefaultHTTPPort,
		AllowLoopbackUnauth: true,
		SendRatePer10s:      DefaultSendRatePer10s,
		HTTPSEnabled:        true,
		HTTPSPort:           DefaultHTTPSPort,
		HTTPSCertPath:       filepath.Join(RuntimeDir(), "statusd-http-cert.pem"),
		HTTPSKeyPath:        filepath.Join(RuntimeDir(), "statusd-http-key.pem"),
	}

	if file != nil {
		if s, ok := file["host"].(string); ok && strings.TrimSpace(s) != "" {
			cfg.Host = strings.TrimSpace(s)
		}
		if n, ok := fileInt(file, "port"); ok {
			cfg.Port = n
		}
		if s, ok := file["token"].(string); ok {
			cfg.Token = strings.TrimSpace(s)
		}
		if list, ok := file["allow_cidrs"].([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					cfg.AllowCIDRs = append(cfg.AllowCIDRs, strings.TrimSpace(s))
				}
			}
		}
		if b, ok := file["allow_loopback_unauth"].(bool); ok {
			cfg.AllowLoopbackUnauth = b
		}
		if n, ok := fileInt(file, "send_rate_per_10s"); ok {
			cfg.SendRatePer10s = n
		}
		if b, ok := file["https_enabled"].(bool); ok {
			cfg.HTTPSEnabled = b
		}
		if s, ok := file["https_host"].(string); ok && strings.TrimSpace(s) != "" {
			cfg.HTTPSHost = strings.TrimSpace(s)
		}
		if n, ok := fileInt(file, "https_port"); ok {
			cfg.HTTPSPort = n
		}
		if s, ok := file["https_cert_path"].(string); ok && strings.TrimSpace(s) != "" {
			cfg.HTTPSCertPath = expandHome(strings.TrimSpace(s))
		}
		if s, ok := file["https_key_path"].(string); ok && strings.TrimSpace(s) != "" {
			cfg.HTTPSKeyPath = expandHome(strings.TrimSpace(s))
		}
	}

	if v := strings.TrimSpace(os.Getenv("PI_STATUSD_HTTP_HOST")); v != "" {
		cfg.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("PI_STATUSD_HTTP_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PI_STATUSD_HTTP_TOKEN")); v != "" {
		cfg.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("PI_STATUSD_HTTP_ALLOW_CIDRS")); v != "" {
		cfg.AllowCIDRs = nil
		for _, part := range strings.Split(v, ",") {
			if c := strings.TrimSpace(part); c != "" {
				cfg.AllowCIDRs = append(cfg.AllowCIDRs, c)
			}
		}
	}

	if cfg.HTTPSHost == "" {
		cfg.HTTPSHost = cfg.Host
	}
	cfg.Port = clampInt(cfg.Port, 1, 65535)
	cfg.HTTPSPort = clampInt(cfg.HTTPSPort, 1, 65535)
	cfg.SendRatePer10s = clampInt(cfg.SendRatePer10s, 1, 200)
	return cfg
}

func readFile(path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw
}

func fileInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func envInt64(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// expandHome resolves a leading "~/" against the user's home directory.
// Anything else, including "~user/" forms, passes through untouched.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, path[2:])
}
