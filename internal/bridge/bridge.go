// Package bridge implements the file-based message bridge shared with pi's
// bridge extension: a registry of listening agents, per-pid inbox
// directories fed by atomic temp-write+rename, and ack files polled for
// delivery status.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pi-agent/statusd/internal/config"
	"github.com/pi-agent/statusd/internal/procs"
)

// ackPollInterval is how often an ack file is checked while waiting.
const ackPollInterval = 50 * time.Millisecond

// envelopeTTL is how long an enqueued envelope stays valid for pickup.
const envelopeTTL = 60 * time.Second

// ErrNoRegistry means no live bridge listener exists for the pid; the
// router treats this transport as unavailable rather than failed.
var ErrNoRegistry = errors.New("no bridge registry for pid")

// Test seams.
var (
	nowFunc   = time.Now
	aliveFunc = procs.Alive
	sleepFunc = time.Sleep
)

// Registry is a bridge listener's liveness record.
type Registry struct {
	PID       int   `json:"pid"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Envelope is the wire form of one bridged message.
type Envelope struct {
	V         int          `json:"v"`
	ID        string       `json:"id"`
	PID       int          `json:"pid"`
	Text      string       `json:"text"`
	Source    string       `json:"source"`
	CreatedAt string       `json:"createdAt"`
	ExpiresAt string       `json:"expiresAt"`
	Delivery  DeliveryMeta `json:"delivery"`
	Meta      RequestMeta  `json:"meta"`
}

// DeliveryMeta selects queued or interrupt handling on the agent side.
type DeliveryMeta struct {
	Mode string `json:"mode"`
}

// RequestMeta carries tracing fields for the agent-side log.
type RequestMeta struct {
	RequestID string `json:"requestId"`
	Attempt   int    `json:"attempt"`
}

type ack struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ResolvedMode string `json:"resolvedMode"`
}

// SendResult describes the outcome of a bridge send attempt sequence.
type SendResult struct {
	OK       bool
	Err      string
	Ack      string
	Mode     string
	AckError string
	Attempt  int
}

// RateLimited reports whether the failure is in the rate-limit ack family,
// the only bridge failure the router may fall through from.
func (r *SendResult) RateLimited() bool {
	switch r.AckError {
	case "rate_limited", "bridge_rate_limited", "pi_rate_limited":
		return true
	}
	return false
}

// RegistryForPID returns the live registry record for a pid, or nil. A
// record counts only when it decodes, names the same pid, carries a recent
// updatedAt, and the pid is alive.
func RegistryForPID(pid int) *Registry {
	data, err := os.ReadFile(filepath.Join(config.BridgeDir(), "registry", strconv.Itoa(pid)+".json"))
	if err != nil {
		return nil
	}
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil
	}
	if reg.PID != pid || reg.UpdatedAt <= 0 {
		return nil
	}
	if nowFunc().UnixMilli()-reg.UpdatedAt > config.BridgeRegistryStaleMS() {
		return nil
	}
	if !aliveFunc(pid) {
		return nil
	}
	return &reg
}

// Available reports whether a live bridge listener exists for the pid.
func Available(pid int) bool {
	return RegistryForPID(pid) != nil
}

// Send enqueues text for a pid and waits for the agent's ack, retrying on
// rate-limit acks with backoff. Returns ErrNoRegistry when no listener is
// registered. Any other outcome is a SendResult; OK is false on timeout or
// a failure ack.
func Send(pid int, text, mode string) (*SendResult, error) {
	if RegistryForPID(pid) == nil {
		return nil, ErrNoRegistry
	}

	base := config.BridgeDir()
	inboxDir := filepath.Join(base, "inbox", strconv.Itoa(pid))
	ackDir := filepath.Join(base, "acks", strconv.Itoa(pid))
	if err := os.MkdirAll(inboxDir, 0o755); err != nil {
		return &SendResult{Err: fmt.Sprintf("bridge directory error: %v", err)}, nil
	}
	if err := os.MkdirAll(ackDir, 0o755); err != nil {
		return &SendResult{Err: fmt.Sprintf("bridge directory error: %v", err)}, nil
	}

	if mode != "interrupt" {
		mode = "queued"
	}
	ackTimeout := time.Duration(config.BridgeAckTimeoutMS()) * time.Millisecond
	if ackTimeout < 200*time.Millisecond {
		ackTimeout = 200 * time.Millisecond
	}
	retries := config.BridgeSendRetries()
	backoff := time.Duration(config.BridgeSendBackoffMS()) * time.Millisecond

	var last *SendResult
	for attempt := 1; attempt <= retries; attempt++ {
		now := nowFunc().UTC()
		id := uuid.NewString()
		env := Envelope{
			V:         1,
			ID:        id,
			PID:       pid,
			Text:      text,
			Source:    "statusbar",
			CreatedAt: now.Format("2006-01-02T15:04:05.000Z"),
			ExpiresAt: now.Add(envelopeTTL).Format("2006-01-02T15:04:05.000Z"),
			Delivery:  DeliveryMeta{Mode: mode},
			Meta:      RequestMeta{RequestID: "statusd-" + id, Attempt: attempt},
		}

		if err := enqueue(inboxDir, id, env); err != nil {
			return &SendResult{Err: fmt.Sprintf("bridge enqueue failed: %v", err), Mode: mode, Attempt: attempt}, nil
		}

		a, ok := waitAck(filepath.Join(ackDir, id+".json"), ackTimeout)
		if !ok {
			return &SendResult{Err: "bridge ack timeout", Mode: mode, Attempt: attempt}, nil
		}

		resolved := a.ResolvedMode
		if resolved == "" {
			resolved = mode
		}
		if a.Status == "delivered" {
			return &SendResult{OK: true, Ack: a.Status, Mode: resolved, Attempt: attempt}, nil
		}

		last = &SendResult{
			Err:      "bridge ack: " + a.Status,
			Ack:      a.Status,
			Mode:     resolved,
			AckError: a.Error,
			Attempt:  attempt,
		}
		if !last.RateLimited() || attempt == retries {
			return last, nil
		}
		sleepFunc(backoff)
	}
	return last, nil
}

// enqueue writes the envelope through a hidden temp file and renames it
// into the inbox so the listener never observes a partial message.
func enqueue(inboxDir, id string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	tmp := filepath.Join(inboxDir, "."+id+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(inboxDir, id+".json")); err != nil {
		os.Remove(tmp) // best effort
		return err
	}
	return nil
}

func waitAck(path string, timeout time.Duration) (ack, bool) {
	deadline := nowFunc().Add(timeout)
	for nowFunc().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil {
			var a ack
			if err := json.Unmarshal(data, &a); err != nil {
				return ack{Status: "failed", Error: "invalid_ack"}, true
			}
			if a.Status == "" {
				a.Status = "failed"
			}
			return a, true
		}
		sleepFunc(ackPollInterval)
	}
	return ack{}, false
}
