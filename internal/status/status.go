// Package status decorates fleet snapshots with message ids and
// fingerprints. Fingerprints are opaque change tokens: watchers compare
// them for equality and echo them back, so the only requirement is that
// they are deterministic over (pid, activity, latest_message_id).
package status

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pi-agent/statusd/internal/scan"
)

// Agent is a fleet entry plus its derived message id.
type Agent struct {
	scan.Agent
	LatestMessageID *string `json:"latest_message_id"`
}

// Status is a normalized fleet snapshot: every agent carries a
// latest_message_id and the whole fleet carries a fingerprint.
type Status struct {
	OK          bool         `json:"ok"`
	Error       string       `json:"error,omitempty"`
	Timestamp   int64        `json:"timestamp"`
	Agents      []Agent      `json:"agents"`
	Summary     scan.Summary `json:"summary"`
	Version     int          `json:"version"`
	Source      string       `json:"source"`
	Fingerprint string       `json:"fingerprint"`
}

// MessageID derives a stable id for an agent's latest message from
// pid, timestamp, and text. Agents with no message have no id.
func MessageID(a scan.Agent) string {
	text := ""
	if a.LatestMessageFull != nil {
		text = strings.TrimSpace(*a.LatestMessageFull)
	}
	if text == "" && a.LatestMessage != nil {
		text = strings.TrimSpace(*a.LatestMessage)
	}
	at := ""
	if a.LatestMessageAt != nil && *a.LatestMessageAt != 0 {
		at = fmt.Sprintf("%d", *a.LatestMessageAt)
	}
	if text == "" && at == "" {
		return ""
	}
	sum := sha1.Sum([]byte(fmt.Sprintf("%d|%s|%s", a.PID, at, text)))
	return hex.EncodeToString(sum[:])[:16]
}

// compactAgent is the fingerprint input: the only fields whose change
// should wake watchers.
type compactAgent struct {
	Activity        string  `json:"activity"`
	LatestMessageID *string `json:"latest_message_id"`
	PID             int     `json:"pid"`
}

// AgentFingerprint hashes one agent's watch-relevant state.
func AgentFingerprint(a Agent) string {
	data, _ := json.Marshal(compactAgent{
		Activity:        a.Activity,
		LatestMessageID: a.LatestMessageID,
		PID:             a.PID,
	})
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// FleetFingerprint hashes the watch-relevant state of the whole fleet,
// pid-ordered so agent ordering never changes the token.
func FleetFingerprint(agents []Agent) string {
	compact := make([]compactAgent, 0, len(agents))
	for _, a := range agents {
		compact = append(compact, compactAgent{
			Activity:        a.Activity,
			LatestMessageID: a.LatestMessageID,
			PID:             a.PID,
		})
	}
	sort.Slice(compact, func(i, j int) bool { return compact[i].PID < compact[j].PID })
	data, _ := json.Marshal(compact)
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Normalize decorates a scan result with message ids and the fleet
// fingerprint.
func Normalize(res scan.Result) *Status {
	agents := make([]Agent, 0, len(res.Agents))
	for _, a := range res.Agents {
		na := Agent{Agent: a}
		if id := MessageID(a); id != "" {
			na.LatestMessageID = &id
		}
		agents = append(agents, na)
	}
	return &Status{
		OK:          res.OK,
		Timestamp:   res.Timestamp,
		Agents:      agents,
		Summary:     res.Summary,
		Version:     res.Version,
		Source:      res.Source,
		Fingerprint: FleetFingerprint(agents),
	}
}

// FindAgent returns the fleet entry for a pid, or nil.
func (s *Status) FindAgent(pid int) *Agent {
	for i := range s.Agents {
		if s.Agents[i].PID == pid {
			return &s.Agents[i]
		}
	}
	return nil
}

// ClassifyEvent names the most significant difference between two
// observations of the same agent: message change beats activity change
// beats anything else.
func ClassifyEvent(prev, curr Agent) string {
	if !strEq(prev.LatestMessageID, curr.LatestMessageID) {
		return "message_updated"
	}
	if prev.Activity != curr.Activity {
		return "activity_changed"
	}
	return "agent_updated"
}

func strEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
