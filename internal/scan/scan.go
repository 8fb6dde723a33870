// Package scan fuses the process table, telemetry instances, and session
// files into the fleet snapshot served by the daemon. Telemetry-backed
// records override process-derived ones per pid; data-source failures
// degrade fields, never the scan itself.
package scan

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pi-agent/statusd/internal/bridge"
	"github.com/pi-agent/statusd/internal/mux"
	"github.com/pi-agent/statusd/internal/procs"
	"github.com/pi-agent/statusd/internal/telemetry"
	"github.com/pi-agent/statusd/internal/transcript"
)

// previewTTL is how long a runtime screen preview stays cached; dumps are
// expensive and "latest" polls arrive faster than panes change.
const previewTTL = 4 * time.Second

const previewCacheSize = 256

type previewEntry struct {
	at   time.Time
	text string
}

// Scanner produces fleet snapshots. The func fields default to the real
// data sources and are replaced in tests.
type Scanner struct {
	parser   *transcript.Parser
	previews *lru.Cache[int, previewEntry]

	listRows        func() []procs.Row
	cwdMap          func(ctx context.Context, pids []int) map[int]string
	readTelemetry   func() []telemetry.Instance
	bridgeAvailable func(pid int) bool
	tmuxPreview     func(session string) string
	zellijPreview   func(session string) string
	now             func() time.Time
}

// NewScanner returns a Scanner wired to the live system.
func NewScanner() *Scanner {
	previews, _ := lru.New[int, previewEntry](previewCacheSize) // only errs on size <= 0
	return &Scanner{
		parser:          transcript.NewParser(),
		previews:        previews,
		listRows:        procs.List,
		cwdMap:          procs.CwdMap,
		readTelemetry:   telemetry.ReadInstances,
		bridgeAvailable: bridge.Available,
		tmuxPreview:     mux.TmuxTailPreview,
		zellijPreview:   mux.ZellijTailPreview,
		now:             time.Now,
	}
}

// Scan returns the current fleet snapshot. Telemetry agents replace
// process-derived agents with the same pid; agents are ordered by pid.
func (s *Scanner) Scan() Result {
	rows := s.listRows()
	byPID := procs.ByPID(rows)
	instances := s.readTelemetry()

	processAgents := s.agentsFromProcesses(rows, byPID)

	var agents []Agent
	source := "process-fallback"
	if len(instances) > 0 {
		merged := make(map[int]Agent, len(processAgents))
		for _, a := range processAgents {
			merged[a.PID] = a
		}
		for _, a := range s.agentsFromTelemetry(instances, rows, byPID) {
			merged[a.PID] = a
		}
		for _, a := range merged {
			agents = append(agents, a)
		}
		source = "pi-telemetry"
	} else {
		agents = processAgents
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].PID < agents[j].PID })
	if agents == nil {
		agents = []Agent{}
	}

	return Result{
		OK:        true,
		Timestamp: s.now().Unix(),
		Agents:    agents,
		Summary:   Summarize(agents),
		Version:   2,
		Source:    source,
	}
}

// FindPiRow returns the process row for a pi process, or an error when the
// pid is not a live pi.
func (s *Scanner) FindPiRow(pid int) (procs.Row, map[int]procs.Row, []procs.Row, error) {
	rows := s.listRows()
	byPID := procs.ByPID(rows)
	for _, r := range rows {
		if r.PID == pid && r.Comm == "pi" {
			return r, byPID, rows, nil
		}
	}
	return procs.Row{}, byPID, rows, fmt.Errorf("pi pid not found: %d", pid)
}

func (s *Scanner) agentsFromProcesses(rows []procs.Row, byPID map[int]procs.Row) []Agent {
	var piRows []procs.Row
	var pids []int
	for _, r := range rows {
		if r.Comm == "pi" {
			piRows = append(piRows, r)
			pids = append(pids, r.PID)
		}
	}
	cwds := s.cwdMap(context.Background(), pids)

	var agents []Agent
	for _, row := range piRows {
		activity, confidence := inferActivity(row)
		info := mux.Infer(row, byPID)
		clientPID := mux.FindClientPID(info, row.TTY, rows)
		appPID := clientPID
		if appPID == 0 {
			appPID = row.PID
		}
		terminalApp, _ := mux.DetectTerminalApp(appPID, byPID)
		attached := clientPID != 0 || (terminalApp != "" && row.TTY != "??")
		bridged := s.bridgeAvailable(row.PID)

		agents = append(agents, Agent{
			PID:                  row.PID,
			PPID:                 row.PPID,
			State:                row.State,
			TTY:                  row.TTY,
			CPU:                  row.CPU,
			Cwd:                  strPtr(cwds[row.PID]),
			Activity:             activity,
			Confidence:           confidence,
			Mux:                  strPtr(info.Mux),
			MuxSession:           strPtr(info.Session),
			ClientPID:            intPtr(clientPID),
			AttachedWindow:       boolPtr(attached),
			TerminalApp:          strPtr(terminalApp),
			ExtensionPiTelemetry: boolPtr(false),
			ExtensionPiBridge:    boolPtr(bridged),
			BridgeAvailable:      boolPtr(bridged),
		})
	}
	return agents
}

func (s *Scanner) agentsFromTelemetry(instances []telemetry.Instance, rows []procs.Row, byPID map[int]procs.Row) []Agent {
	var pids []int
	for _, in := range instances {
		if pid := in.PID(); pid > 0 {
			pids = append(pids, pid)
		}
	}
	cwds := s.cwdMap(context.Background(), pids)

	var agents []Agent
	for _, in := range instances {
		pid := in.PID()
		if pid <= 0 {
			continue
		}

		sessionFile := in.SessionFile()
		msgs := in.Messages()
		lastText := transcript.CleanText(strOf(msgs, "lastAssistantText"))
		lastHTML := strings.TrimSpace(strOf(msgs, "lastAssistantHtml"))

		full := lastText
		if full == "" && lastHTML != "" {
			full = transcript.HTMLToText(lastHTML)
		}
		htmlOut := lastHTML
		var at int64
		if msgs != nil {
			at = transcript.ExtractTimestampMS(msgs)
		}

		if full == "" && sessionFile != "" {
			parsed, parsedTS := s.parser.LatestAssistantMessage(sessionFile)
			full = parsed
			if at == 0 {
				at = parsedTS
			}
		}
		gist := transcript.Gist(full)
		if htmlOut == "" {
			htmlOut = transcript.HTMLPreview(full)
		}

		row, hasRow := byPID[pid]
		tty := row.TTY
		if tty == "" {
			tty = "??"
		}
		var info mux.Info
		clientPID := 0
		if hasRow {
			info = mux.Infer(row, byPID)
			clientPID = mux.FindClientPID(info, tty, rows)
		}
		appPID := clientPID
		if appPID == 0 {
			appPID = pid
		}
		terminalApp, _ := mux.DetectTerminalApp(appPID, byPID)
		attached := clientPID != 0 || (terminalApp != "" && tty != "??")

		bridgeActive, hasBridgeFlag := in.BridgeActive()
		bridged := s.bridgeAvailable(pid)
		extBridge := bridged
		if hasBridgeFlag {
			extBridge = bridgeActive
		}
		bridgeAvailable := (hasBridgeFlag && bridgeActive) || bridged

		ppid := in.PPID()
		if ppid == 0 {
			ppid = row.PPID
		}
		state := row.State
		if state == "" {
			state = "?"
		}
		workspace := in.Workspace()
		cwd := strOf(workspace, "cwd")
		if cwd == "" {
			cwd = cwds[pid]
		}
		model := in.Model()
		session := in.Session()
		cx := in.Context()

		agents = append(agents, Agent{
			PID:                    pid,
			PPID:                   ppid,
			State:                  state,
			TTY:                    tty,
			CPU:                    row.CPU,
			Cwd:                    strPtr(cwd),
			Activity:               telemetry.MapActivity(in.State()),
			Confidence:             "high",
			Mux:                    strPtr(info.Mux),
			MuxSession:             strPtr(info.Session),
			ClientPID:              intPtr(clientPID),
			AttachedWindow:         boolPtr(attached),
			TerminalApp:            strPtr(terminalApp),
			TelemetrySource:        strPtr(in.Source()),
			ModelProvider:          strPtr(strOf(model, "provider")),
			ModelID:                strPtr(strOf(model, "id")),
			ModelName:              strPtr(strOf(model, "name")),
			SessionID:              strPtr(strOf(session, "id")),
			SessionName:            strPtr(strOf(session, "name")),
			ContextPercent:         floatOf(cx, "percent"),
			ContextPressure:        strPtr(strOf(cx, "pressure")),
			ContextCloseToLimit:    boolOf(cx, "closeToLimit"),
			ContextNearLimit:       boolOf(cx, "nearLimit"),
			ContextTokens:          numOf(cx, "tokens"),
			ContextWindow:          numOf(cx, "contextWindow"),
			ContextRemainingTokens: numOf(cx, "remainingTokens"),
			SessionFile:            strPtr(sessionFile),
			LatestMessage:          strPtr(gist),
			LatestMessageFull:      strPtr(full),
			LatestMessageHTML:      strPtr(htmlOut),
			LatestMessageAt:        int64Ptr(at),
			ExtensionPiTelemetry:   boolPtr(true),
			ExtensionPiBridge:      boolPtr(extBridge),
			BridgeAvailable:        boolPtr(bridgeAvailable),
		})
	}
	return agents
}

// LatestMessage resolves the newest assistant message for one agent:
// telemetry-carried text first, then the session file, then a runtime
// screen preview.
func (s *Scanner) LatestMessage(pid int) MessageResult {
	row, byPID, _, err := s.FindPiRow(pid)
	if err != nil {
		return MessageResult{PID: pid, Error: err.Error()}
	}

	var sessionFile, full, html string
	var at int64

	for _, in := range s.readTelemetry() {
		if in.PID() != pid {
			continue
		}
		sessionFile = in.SessionFile()
		msgs := in.Messages()
		if msgs != nil {
			if t := transcript.CleanText(strOf(msgs, "lastAssistantText")); t != "" {
				full = t
			} else if h := strings.TrimSpace(strOf(msgs, "lastAssistantHtml")); h != "" {
				full = transcript.HTMLToText(h)
			}
			html = strings.TrimSpace(strOf(msgs, "lastAssistantHtml"))
			at = transcript.ExtractTimestampMS(msgs)
		}
		break
	}

	if full == "" && sessionFile != "" {
		parsed, parsedTS := s.parser.LatestAssistantMessage(sessionFile)
		full = parsed
		if parsedTS != 0 {
			at = parsedTS
		}
	}

	if full == "" {
		tty := row.TTY
		if tty == "" {
			tty = "??"
		}
		full = s.runtimePreview(pid, mux.Infer(row, byPID), tty)
	}

	if html == "" {
		html = transcript.HTMLPreview(full)
	}

	return MessageResult{
		OK:                true,
		PID:               pid,
		SessionFile:       strPtr(sessionFile),
		LatestMessage:     strPtr(transcript.Gist(full)),
		LatestMessageFull: strPtr(full),
		LatestMessageHTML: strPtr(html),
		LatestMessageAt:   int64Ptr(at),
	}
}

// runtimePreview captures the agent's screen through its multiplexer,
// cached per pid. A tty-only agent degrades to a "waiting on" marker.
func (s *Scanner) runtimePreview(pid int, info mux.Info, tty string) string {
	if entry, ok := s.previews.Get(pid); ok && s.now().Sub(entry.at) < previewTTL {
		return entry.text
	}

	text := ""
	switch {
	case info.Mux == "zellij" && info.Session != "":
		text = s.zellijPreview(info.Session)
	case info.Mux == "tmux" && info.Session != "":
		text = s.tmuxPreview(info.Session)
	}
	if text == "" && tty != "" && tty != "??" {
		text = "waiting on " + tty
	}

	s.previews.Add(pid, previewEntry{at: s.now(), text: text})
	return text
}

// inferActivity maps raw process state to the activity enum when no
// telemetry exists.
func inferActivity(row procs.Row) (activity, confidence string) {
	switch {
	case strings.HasPrefix(row.State, "R"):
		return "running", "high"
	case row.CPU >= 1.0:
		return "running", "medium"
	case strings.HasPrefix(row.State, "S") && row.TTY != "??":
		return "waiting_input", "medium"
	}
	return "unknown", "low"
}

func strOf(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func floatOf(m map[string]any, key string) *float64 {
	if m == nil {
		return nil
	}
	if n, ok := m[key].(float64); ok {
		return &n
	}
	return nil
}

func boolOf(m map[string]any, key string) *bool {
	if m == nil {
		return nil
	}
	if b, ok := m[key].(bool); ok {
		return &b
	}
	return nil
}

func numOf(m map[string]any, key string) *int64 {
	if m == nil {
		return nil
	}
	if n, ok := m[key].(float64); ok {
		v := int64(n)
		return &v
	}
	return nil
}
