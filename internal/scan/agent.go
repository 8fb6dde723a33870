package scan

// Agent is one fleet entry, shaped for the wire. Nullable fields are
// pointers; existing statusbar clients expect explicit nulls rather than
// omitted keys.
type Agent struct {
	PID                    int      `json:"pid"`
	PPID                   int      `json:"ppid"`
	State                  string   `json:"state"`
	TTY                    string   `json:"tty"`
	CPU                    float64  `json:"cpu"`
	Cwd                    *string  `json:"cwd"`
	Activity               string   `json:"activity"`
	Confidence             string   `json:"confidence"`
	Mux                    *string  `json:"mux"`
	MuxSession             *string  `json:"mux_session"`
	ClientPID              *int     `json:"client_pid"`
	AttachedWindow         *bool    `json:"attached_window"`
	TerminalApp            *string  `json:"terminal_app"`
	TelemetrySource        *string  `json:"telemetry_source"`
	ModelProvider          *string  `json:"model_provider"`
	ModelID                *string  `json:"model_id"`
	ModelName              *string  `json:"model_name"`
	SessionID              *string  `json:"session_id"`
	SessionName            *string  `json:"session_name"`
	ContextPercent         *float64 `json:"context_percent"`
	ContextPressure        *string  `json:"context_pressure"`
	ContextCloseToLimit    *bool    `json:"context_close_to_limit"`
	ContextNearLimit       *bool    `json:"context_near_limit"`
	ContextTokens          *int64   `json:"context_tokens"`
	ContextWindow          *int64   `json:"context_window"`
	ContextRemainingTokens *int64   `json:"context_remaining_tokens"`
	SessionFile            *string  `json:"session_file"`
	LatestMessage          *string  `json:"latest_message"`
	LatestMessageFull      *string  `json:"latest_message_full"`
	LatestMessageHTML      *string  `json:"latest_message_html"`
	LatestMessageAt        *int64   `json:"latest_message_at"`
	ExtensionPiTelemetry   *bool    `json:"extension_pi_telemetry"`
	ExtensionPiBridge      *bool    `json:"extension_pi_bridge"`
	BridgeAvailable        *bool    `json:"bridge_available"`
}

// Summary aggregates fleet activity for the menu-bar badge.
type Summary struct {
	Total        int    `json:"total"`
	Running      int    `json:"running"`
	WaitingInput int    `json:"waiting_input"`
	Unknown      int    `json:"unknown"`
	Color        string `json:"color"`
	Label        string `json:"label"`
}

// Result is a full fleet snapshot.
type Result struct {
	OK        bool    `json:"ok"`
	Timestamp int64   `json:"timestamp"`
	Agents    []Agent `json:"agents"`
	Summary   Summary `json:"summary"`
	Version   int     `json:"version"`
	Source    string  `json:"source"`
}

// MessageResult is the latest-message projection for one agent.
type MessageResult struct {
	OK                bool    `json:"ok"`
	PID               int     `json:"pid"`
	Error             string  `json:"error,omitempty"`
	SessionFile       *string `json:"session_file,omitempty"`
	LatestMessage     *string `json:"latest_message,omitempty"`
	LatestMessageFull *string `json:"latest_message_full,omitempty"`
	LatestMessageHTML *string `json:"latest_message_html,omitempty"`
	LatestMessageAt   *int64  `json:"latest_message_at,omitempty"`
}

// Summarize derives the badge summary from a fleet.
func Summarize(agents []Agent) Summary {
	s := Summary{Total: len(agents)}
	for _, a := range agents {
		switch a.Activity {
		case "running":
			s.Running++
		case "waiting_input":
			s.WaitingInput++
		}
	}
	s.Unknown = s.Total - s.Running - s.WaitingInput

	switch {
	case s.Total == 0:
		s.Color, s.Label = "gray", "No Pi agents"
	case s.WaitingInput == 0 && s.Unknown == 0:
		s.Color, s.Label = "red", "All agents running"
	case s.WaitingInput == s.Total && s.Unknown == 0:
		s.Color, s.Label = "green", "All agents waiting for input"
	default:
		s.Color, s.Label = "yellow", "Some agents waiting for input"
	}
	return s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func intPtr(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func int64Ptr(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}

func boolPtr(b bool) *bool { return &b }
