// Package sockd serves the daemon's line-oriented control protocol on a
// private UNIX socket: one text request per connection, one JSON line
// back. A flock next to the socket keeps the daemon single-instance.
package sockd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/pi-agent/statusd/internal/config"
	"github.com/pi-agent/statusd/internal/route"
	"github.com/pi-agent/statusd/internal/scan"
)

// Watch timeout bounds (milliseconds).
const (
	watchDefaultTimeoutMS = 20000
	watchMinTimeoutMS     = 250
	watchMaxTimeoutMS     = 60000
)

// watchPollInterval paces the socket-side watch loop.
const watchPollInterval = 400 * time.Millisecond

// maxRequestBytes bounds a single control request.
const maxRequestBytes = 4096

// ErrAlreadyRunning means another daemon instance holds the lock.
var ErrAlreadyRunning = errors.New("statusd already running")

// Server owns the socket, the lock, and request dispatch.
type Server struct {
	scanFunc   func() scan.Result
	latestFunc func(pid int) scan.MessageResult
	sendFunc   func(pid int, message string) route.Response
	jumpFunc   func(pid int) route.Response
	sleepFunc  func(d time.Duration)
	nowFunc    func() time.Time

	lock     *flock.Flock
	listener net.Listener
}

// NewServer wires a Server to the scanner and router.
func NewServer(scanner *scan.Scanner, router *route.Router) *Server {
	return &Server{
		scanFunc:   scanner.Scan,
		latestFunc: scanner.LatestMessage,
		sendFunc:   router.Send,
		jumpFunc:   router.Jump,
		sleepFunc:  time.Sleep,
		nowFunc:    time.Now,
	}
}

// ListenAndServe acquires the single-instance lock, binds the socket with
// owner-only permissions, and serves until the listener is closed. A
// leftover socket file from a crashed daemon is removed before binding.
func (s *Server) ListenAndServe() error {
	dir := config.RuntimeDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating runtime dir: %w", err)
	}

	s.lock = flock.New(config.LockPath())
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}

	sockPath := config.SocketPath()
	if _, err := os.Stat(sockPath); err == nil {
		// Stale socket from a crashed daemon; the lock proves no one owns it.
		if err := os.Remove(sockPath); err != nil {
			return fmt.Errorf("removing stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("binding socket: %w", err)
	}
	if err := os.Chmod(sockPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("restricting socket permissions: %w", err)
	}
	s.listener = ln

	log.Printf("[statusd] listening on %s", sockPath)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[statusd] accept: %v", err)
			continue
		}
		go s.handleConn(conn)
	}
}

// Close shuts the listener and releases the lock and socket file.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
		os.Remove(config.SocketPath()) // best effort
	}
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

// handleConn serves exactly one request. A misbehaving client costs its
// own connection, never the daemon.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return
	}
	req := strings.TrimSpace(string(buf[:n]))

	resp := s.dispatch(req)
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte(`{"ok":false,"error":"internal encoding error"}`)
	}
	_, _ = conn.Write(append(data, '\n')) // client may have gone away
}

// dispatch routes one request line to its operation.
func (s *Server) dispatch(req string) any {
	switch {
	case req == "" || req == "status":
		return s.scanFunc()
	case req == "ping":
		return map[string]any{"ok": true, "pong": true, "timestamp": s.nowFunc().Unix()}
	case strings.HasPrefix(req, "jump "):
		pid, err := parsePID(strings.TrimPrefix(req, "jump "))
		if err != nil {
			return err
		}
		return s.jumpFunc(pid)
	case strings.HasPrefix(req, "latest "):
		pid, err := parsePID(strings.TrimPrefix(req, "latest "))
		if err != nil {
			return err
		}
		return s.latestFunc(pid)
	case strings.HasPrefix(req, "send "):
		parts := strings.SplitN(req, " ", 3)
		if len(parts) < 3 {
			return map[string]any{"ok": false, "error": "usage: send <pid> <message>"}
		}
		pid, err := parsePID(parts[1])
		if err != nil {
			return err
		}
		return s.sendFunc(pid, parts[2])
	case req == "watch" || strings.HasPrefix(req, "watch "):
		return s.watch(req)
	}
	return map[string]any{"ok": false, "error": "unknown request: " + req}
}

// watch long-polls the fleet until its slim fingerprint differs from the
// client's token or the timeout passes.
func (s *Server) watch(req string) any {
	parts := strings.Fields(req)
	timeoutMS := watchDefaultTimeoutMS
	since := ""
	if len(parts) >= 2 {
		if n, err := strconv.Atoi(parts[1]); err == nil {
			timeoutMS = clamp(n, watchMinTimeoutMS, watchMaxTimeoutMS)
		}
	}
	if len(parts) >= 3 {
		since = parts[2]
	}

	deadline := s.nowFunc().Add(time.Duration(timeoutMS) * time.Millisecond)
	for {
		res := s.scanFunc()
		fp := SlimFingerprint(res.Agents)
		if fp != since {
			return map[string]any{"ok": true, "event": "status_changed", "fingerprint": fp, "status": res}
		}
		if !s.nowFunc().Before(deadline) {
			return map[string]any{"ok": true, "event": "timeout", "fingerprint": fp, "status": res}
		}
		s.sleepFunc(watchPollInterval)
	}
}

// slimAgent is the socket watch fingerprint input.
type slimAgent struct {
	Activity        string  `json:"activity"`
	LatestMessage   *string `json:"latest_message"`
	LatestMessageAt *int64  `json:"latest_message_at"`
	PID             int     `json:"pid"`
}

// SlimFingerprint is the socket-side change token: compact JSON over the
// watch-relevant agent fields, pid-ordered. Clients treat it as opaque.
func SlimFingerprint(agents []scan.Agent) string {
	slim := make([]slimAgent, 0, len(agents))
	for _, a := range agents {
		slim = append(slim, slimAgent{
			Activity:        a.Activity,
			LatestMessage:   a.LatestMessage,
			LatestMessageAt: a.LatestMessageAt,
			PID:             a.PID,
		})
	}
	sort.Slice(slim, func(i, j int) bool { return slim[i].PID < slim[j].PID })
	data, _ := json.Marshal(slim)
	return string(data)
}

func parsePID(raw string) (int, map[string]any) {
	pid, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, map[string]any{"ok": false, "error": "invalid pid: " + strings.TrimSpace(raw)}
	}
	return pid, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Request sends one raw request to a running daemon and returns its JSON
// response line.
func Request(req string) ([]byte, error) {
	conn, err := net.Dial("unix", config.SocketPath())
	if err != nil {
		return nil, fmt.Errorf("connecting to statusd: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(strings.TrimSpace(req) + "\n")); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	var out []byte
	buf := make([]byte, 65535)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			if idx := bytes.IndexByte(out, '\n'); idx >= 0 {
				return out[:idx], nil
			}
		}
		if err != nil {
			break
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty response from statusd")
	}
	return out, nil
}
