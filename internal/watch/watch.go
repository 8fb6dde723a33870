// Package watch implements the long-poll and SSE change engine shared by
// the HTTP gateway. It polls normalized fleet snapshots and wakes clients
// when the fingerprint they echo back stops matching reality.
package watch

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/pi-agent/statusd/internal/status"
)

// Timeout bounds for long-poll requests (milliseconds).
const (
	DefaultTimeoutMS = 20000
	MinTimeoutMS     = 250
	MaxTimeoutMS     = 60000
)

// pollInterval paces snapshot refreshes while a watcher is parked.
const pollInterval = 600 * time.Millisecond

// keepaliveInterval paces SSE comment lines that keep proxies from
// closing idle streams.
const keepaliveInterval = 15 * time.Second

// ErrAgentNotFound means the watched pid is not in the fleet at all.
var ErrAgentNotFound = errors.New("pid not found")

// Engine polls a status source on behalf of parked watchers.
type Engine struct {
	fetch     func() (*status.Status, error)
	sleepFunc func(d time.Duration)
	nowFunc   func() time.Time
}

// NewEngine returns an Engine over a status source, typically a socket
// round-trip to the daemon.
func NewEngine(fetch func() (*status.Status, error)) *Engine {
	return &Engine{fetch: fetch, sleepFunc: time.Sleep, nowFunc: time.Now}
}

// ClampTimeoutMS bounds a client-supplied watch timeout.
func ClampTimeoutMS(ms int) int {
	if ms < MinTimeoutMS {
		return MinTimeoutMS
	}
	if ms > MaxTimeoutMS {
		return MaxTimeoutMS
	}
	return ms
}

// Change is one per-agent difference inside a global status_changed
// response, so badge clients can update a single row without re-diffing.
type Change struct {
	Event           string  `json:"event"`
	PID             int     `json:"pid"`
	Activity        string  `json:"activity,omitempty"`
	LatestMessageID *string `json:"latest_message_id,omitempty"`
	LatestMessage   *string `json:"latest_message,omitempty"`
	LatestMessageAt *int64  `json:"latest_message_at,omitempty"`
}

// GlobalResult is the outcome of one global long-poll.
type GlobalResult struct {
	Event       string         `json:"event"`
	Fingerprint string         `json:"fingerprint"`
	Changes     []Change       `json:"changes,omitempty"`
	Status      *status.Status `json:"status,omitempty"`
}

// AgentResult is the outcome of one per-agent long-poll.
type AgentResult struct {
	Event       string        `json:"event"`
	PID         int           `json:"pid"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Agent       *status.Agent `json:"agent,omitempty"`
}

// Global parks until the fleet fingerprint differs from since or the
// timeout passes. An empty since returns an immediate snapshot; a stale
// since returns out_of_sync with the current snapshot so the client can
// resynchronize.
func (e *Engine) Global(since string, timeoutMS int) (*GlobalResult, error) {
	start, err := e.fetch()
	if err != nil {
		return nil, err
	}

	if since == "" {
		return &GlobalResult{Event: "snapshot", Fingerprint: start.Fingerprint, Status: start}, nil
	}
	if since != start.Fingerprint {
		return &GlobalResult{Event: "out_of_sync", Fingerprint: start.Fingerprint, Status: start}, nil
	}

	deadline := e.nowFunc().Add(time.Duration(ClampTimeoutMS(timeoutMS)) * time.Millisecond)
	for e.nowFunc().Before(deadline) {
		e.sleepFunc(pollInterval)
		curr, err := e.fetch()
		if err != nil {
			return nil, err
		}
		if curr.Fingerprint != start.Fingerprint {
			return &GlobalResult{
				Event:       "status_changed",
				Fingerprint: curr.Fingerprint,
				Changes:     diffFleet(start, curr),
				Status:      curr,
			}, nil
		}
	}
	return &GlobalResult{Event: "timeout", Fingerprint: start.Fingerprint}, nil
}

// diffFleet lists the per-agent events between two fleet snapshots. An
// agent new to the fleet reports its activity, plus its message when it
// already has one.
func diffFleet(prev, curr *status.Status) []Change {
	before := make(map[int]*status.Agent, len(prev.Agents))
	for i := range prev.Agents {
		before[prev.Agents[i].PID] = &prev.Agents[i]
	}

	var changes []Change
	for i := range curr.Agents {
		agent := &curr.Agents[i]
		old, seen := before[agent.PID]
		if !seen {
			changes = append(changes, Change{Event: "activity_changed", PID: agent.PID, Activity: agent.Activity})
			if agent.LatestMessageID != nil {
				changes = append(changes, Change{
					Event:           "message_updated",
					PID:             agent.PID,
					LatestMessageID: agent.LatestMessageID,
					LatestMessage:   agent.LatestMessage,
				})
			}
			continue
		}
		if old.Activity != agent.Activity {
			changes = append(changes, Change{Event: "activity_changed", PID: agent.PID, Activity: agent.Activity})
		}
		if !messageIDEq(old.LatestMessageID, agent.LatestMessageID) {
			changes = append(changes, Change{
				Event:           "message_updated",
				PID:             agent.PID,
				LatestMessageID: agent.LatestMessageID,
				LatestMessage:   agent.LatestMessage,
				LatestMessageAt: agent.LatestMessageAt,
			})
		}
	}
	return changes
}

// Agent parks until one agent's fingerprint differs from since or the
// timeout passes. Returns ErrAgentNotFound when the pid is absent from
// the first snapshot; a pid that disappears mid-watch yields agent_gone.
func (e *Engine) Agent(pid int, since string, timeoutMS int) (*AgentResult, error) {
	start, err := e.fetch()
	if err != nil {
		return nil, err
	}
	agent0 := start.FindAgent(pid)
	if agent0 == nil {
		return nil, ErrAgentNotFound
	}
	fp0 := status.AgentFingerprint(*agent0)

	if since == "" {
		return &AgentResult{Event: "snapshot", PID: pid, Fingerprint: fp0, Agent: agent0}, nil
	}
	if since != fp0 {
		return &AgentResult{Event: "out_of_sync", PID: pid, Fingerprint: fp0, Agent: agent0}, nil
	}

	deadline := e.nowFunc().Add(time.Duration(ClampTimeoutMS(timeoutMS)) * time.Millisecond)
	for e.nowFunc().Before(deadline) {
		e.sleepFunc(pollInterval)
		curr, err := e.fetch()
		if err != nil {
			return nil, err
		}
		agent := curr.FindAgent(pid)
		if agent == nil {
			return &AgentResult{Event: "agent_gone", PID: pid}, nil
		}
		fp := status.AgentFingerprint(*agent)
		if fp != fp0 {
			return &AgentResult{
				Event:       status.ClassifyEvent(*agent0, *agent),
				PID:         pid,
				Fingerprint: fp,
				Agent:       agent,
			}, nil
		}
	}
	return &AgentResult{Event: "timeout", PID: pid, Fingerprint: fp0}, nil
}

// StreamAgent drives a per-agent SSE session until the context ends, the
// agent vanishes, or send fails. Event ids are "<pid>:<fingerprint>" so a
// reconnecting client can resume via Last-Event-ID: an empty id gets a
// snapshot, a matching id suppresses the duplicate snapshot, and a stale
// id gets out_of_sync.
func (e *Engine) StreamAgent(ctx context.Context, pid int, lastEventID string, send func(event, id string, payload *AgentResult) error, keepalive func() error) error {
	start, err := e.fetch()
	if err != nil {
		return err
	}
	prev := start.FindAgent(pid)
	if prev == nil {
		return ErrAgentNotFound
	}
	prevFP := status.AgentFingerprint(*prev)
	currentID := EventID(pid, prevFP)

	if lastEventID == "" {
		if err := send("snapshot", currentID, &AgentResult{Event: "snapshot", PID: pid, Fingerprint: prevFP, Agent: prev}); err != nil {
			return err
		}
	} else if lastEventID != currentID {
		if err := send("out_of_sync", currentID, &AgentResult{Event: "out_of_sync", PID: pid, Fingerprint: prevFP, Agent: prev}); err != nil {
			return err
		}
	}

	lastKeepalive := e.nowFunc()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.sleepFunc(pollInterval)

		curr, err := e.fetch()
		if err != nil {
			return err
		}
		agent := curr.FindAgent(pid)
		if agent == nil {
			return send("agent_gone", EventID(pid, "gone"), &AgentResult{Event: "agent_gone", PID: pid})
		}
		fp := status.AgentFingerprint(*agent)
		if fp != prevFP {
			ev := status.ClassifyEvent(*prev, *agent)
			if err := send(ev, EventID(pid, fp), &AgentResult{Event: ev, PID: pid, Fingerprint: fp, Agent: agent}); err != nil {
				return err
			}
			prev = agent
			prevFP = fp
		}
		if e.nowFunc().Sub(lastKeepalive) > keepaliveInterval {
			if err := keepalive(); err != nil {
				return err
			}
			lastKeepalive = e.nowFunc()
		}
	}
}

// EventID builds the SSE id for one agent observation.
func EventID(pid int, fingerprint string) string {
	return strconv.Itoa(pid) + ":" + fingerprint
}

func messageIDEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
