// Package httpd exposes the daemon over HTTP and HTTPS for remote status
// badges: read endpoints for fleet snapshots, long-poll and SSE watch,
// and a rate-limited send endpoint. Every request is authorized against
// the CIDR allowlist and token before it touches the daemon socket.
package httpd

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pi-agent/statusd/internal/config"
	"github.com/pi-agent/statusd/internal/scan"
	"github.com/pi-agent/statusd/internal/sockd"
	"github.com/pi-agent/statusd/internal/status"
	"github.com/pi-agent/statusd/internal/watch"
)

// apiVersion is reported on the service root.
const apiVersion = 3

// Send body limits.
const (
	maxSendBodyBytes  = 100000
	maxSendMessageLen = 4000
)

// Gateway serves the HTTP surface over the daemon socket.
type Gateway struct {
	cfg        config.HTTP
	engine     *watch.Engine
	fetch      func() (*status.Status, error)
	socketReq  func(req string) ([]byte, error)
	limiter    *rateLimiter
	nowFunc    func() time.Time
	certSHA256 string
}

// NewGateway returns a Gateway backed by the local daemon socket.
func NewGateway(cfg config.HTTP) *Gateway {
	g := &Gateway{
		cfg:       cfg,
		socketReq: sockd.Request,
		limiter:   newRateLimiter(cfg.SendRatePer10s),
		nowFunc:   time.Now,
	}
	g.fetch = g.fetchStatus
	g.engine = watch.NewEngine(func() (*status.Status, error) { return g.fetch() })
	return g
}

// fetchStatus round-trips the daemon socket and normalizes the snapshot.
func (g *Gateway) fetchStatus() (*status.Status, error) {
	data, err := g.socketReq("status")
	if err != nil {
		return nil, err
	}
	var res scan.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding daemon status: %w", err)
	}
	return status.Normalize(res), nil
}

// ListenAndServe starts the HTTP listener and, when enabled, an HTTPS
// listener with a self-signed certificate. HTTPS setup failure disables
// HTTPS but never takes down the plain listener.
func (g *Gateway) ListenAndServe() error {
	if g.cfg.HTTPSEnabled {
		if err := g.startHTTPS(); err != nil {
			log.Printf("[statusd-http] https disabled (setup failed): %v", err)
		}
	}

	addr := net.JoinHostPort(g.cfg.Host, strconv.Itoa(g.cfg.Port))
	token := "unset"
	if g.cfg.Token != "" {
		token = "set"
	}
	cidrs := "any"
	if len(g.cfg.AllowCIDRs) > 0 {
		cidrs = strings.Join(g.cfg.AllowCIDRs, ",")
	}
	log.Printf("[statusd-http] http listening on %s token=%s cidrs=%s", addr, token, cidrs)

	return http.ListenAndServe(addr, g.Handler())
}

func (g *Gateway) startHTTPS() error {
	if err := EnsureSelfSignedCert(g.cfg.HTTPSCertPath, g.cfg.HTTPSKeyPath); err != nil {
		return err
	}
	fp, err := CertFingerprintSHA256(g.cfg.HTTPSCertPath)
	if err != nil {
		return err
	}
	g.certSHA256 = fp

	addr := net.JoinHostPort(g.cfg.HTTPSHost, strconv.Itoa(g.cfg.HTTPSPort))
	srv := &http.Server{
		Addr:      addr,
		Handler:   g.Handler(),
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}
	go func() {
		if err := srv.ListenAndServeTLS(g.cfg.HTTPSCertPath, g.cfg.HTTPSKeyPath); err != nil {
			log.Printf("[statusd-http] https listener stopped: %v", err)
		}
	}()

	log.Printf("[statusd-http] https listening on %s cert_sha256=%s", addr, fp)
	return nil
}

// Handler returns the gateway's request mux.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
			return
		}

		path := strings.TrimRight(r.URL.Path, "/")
		switch {
		case r.Method == http.MethodPost && path == "/send":
			g.handleSend(w, r)
		case r.Method != http.MethodGet:
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not found"})
		case path == "":
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "pi-statusd-http", "api_version": apiVersion})
		case path == "/health":
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pong": true, "timestamp": g.nowFunc().Unix()})
		case path == "/tls":
			g.handleTLS(w)
		case path == "/status":
			g.handleStatus(w)
		case path == "/watch":
			g.handleWatchGlobal(w, r)
		case strings.HasPrefix(path, "/watch/"):
			g.handleWatchAgent(w, r, strings.TrimPrefix(path, "/watch/"))
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not found"})
		}
	})
}

// authorized runs the auth chain: CIDR allowlist, then unauthenticated
// loopback, then the bearer token.
func (g *Gateway) authorized(r *http.Request) bool {
	ip := clientIP(r)
	if !g.cidrAllowed(ip) {
		return false
	}
	if g.cfg.AllowLoopbackUnauth && isLoopback(ip) {
		return true
	}
	if g.cfg.Token == "" {
		return false
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) == g.cfg.Token
	}
	return strings.TrimSpace(r.Header.Get("X-Statusd-Token")) == g.cfg.Token
}

// cidrAllowed accepts any client when no allowlist is configured.
func (g *Gateway) cidrAllowed(ip string) bool {
	if len(g.cfg.AllowCIDRs) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, c := range g.cfg.AllowCIDRs {
		prefix, err := netip.ParsePrefix(c)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func (g *Gateway) handleTLS(w http.ResponseWriter) {
	var cert any
	if g.certSHA256 != "" {
		cert = g.certSHA256
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"https_enabled": g.cfg.HTTPSEnabled,
		"https_port":    g.cfg.HTTPSPort,
		"cert_sha256":   cert,
	})
}

func (g *Gateway) handleStatus(w http.ResponseWriter) {
	st, err := g.fetch()
	if err != nil {
		writeDaemonUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// globalWatchResponse flattens the watch result under an ok flag.
type globalWatchResponse struct {
	OK bool `json:"ok"`
	watch.GlobalResult
}

func (g *Gateway) handleWatchGlobal(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	res, err := g.engine.Global(strings.TrimSpace(query.Get("fingerprint")), parseTimeoutMS(query.Get("timeout_ms")))
	if err != nil {
		writeDaemonUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, globalWatchResponse{OK: true, GlobalResult: *res})
}

// agentWatchResponse flattens the per-agent watch result under an ok flag.
type agentWatchResponse struct {
	OK bool `json:"ok"`
	watch.AgentResult
}

func (g *Gateway) handleWatchAgent(w http.ResponseWriter, r *http.Request, rawPID string) {
	pid, err := strconv.Atoi(rawPID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid pid"})
		return
	}

	if strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream") {
		g.serveSSE(w, r, pid)
		return
	}

	query := r.URL.Query()
	res, err := g.engine.Agent(pid, strings.TrimSpace(query.Get("fingerprint")), parseTimeoutMS(query.Get("timeout_ms")))
	if err == watch.ErrAgentNotFound {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "pid not found"})
		return
	}
	if err != nil {
		writeDaemonUnavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentWatchResponse{OK: true, AgentResult: *res})
}

// serveSSE streams per-agent events until the client disconnects. The
// event id doubles as the resume token for Last-Event-ID.
func (g *Gateway) serveSSE(w http.ResponseWriter, r *http.Request, pid int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event, id string, payload *watch.AgentResult) error {
		data, err := json.Marshal(agentWatchResponse{OK: true, AgentResult: *payload})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", id, event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	keepalive := func() error {
		if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	lastEventID := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	err := g.engine.StreamAgent(r.Context(), pid, lastEventID, send, keepalive)
	if err == watch.ErrAgentNotFound {
		fmt.Fprintf(w, "id: %s\nevent: error\ndata: %s\n\n",
			watch.EventID(pid, "error"), `{"ok":false,"error":"pid not found"}`)
		flusher.Flush()
	}
}

// sendBody is the POST /send request shape.
type sendBody struct {
	PID     *int    `json:"pid"`
	Message *string `json:"message"`
}

func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if !g.limiter.allow(clientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"ok": false, "error": "send rate limit exceeded"})
		return
	}

	var body sendBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}
	if body.PID == nil || *body.PID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid pid"})
		return
	}
	if body.Message == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid message"})
		return
	}

	// The socket protocol is line-oriented, so the message is flattened to
	// single-spaced text before crossing it.
	cleaned := strings.Join(strings.Fields(strings.ReplaceAll(*body.Message, "\n", " ")), " ")
	if cleaned == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "message is empty"})
		return
	}
	if utf8.RuneCountInString(cleaned) > maxSendMessageLen {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "message too long"})
		return
	}

	data, err := g.socketReq(fmt.Sprintf("send %d %s", *body.PID, cleaned))
	if err != nil {
		writeDaemonUnavailable(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(append(data, '\n'))
}

// parseTimeoutMS clamps a client timeout, defaulting when absent or
// malformed.
func parseTimeoutMS(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return watch.DefaultTimeoutMS
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return watch.DefaultTimeoutMS
	}
	return watch.ClampTimeoutMS(n)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLoopback(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsLoopback()
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		code = http.StatusInternalServerError
		data = []byte(`{"ok":false,"error":"internal encoding error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(data, '\n'))
}

func writeDaemonUnavailable(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": fmt.Sprintf("daemon unavailable: %v", err)})
}
