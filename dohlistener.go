package edge

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// dohMediaType is the only content type a DoH POST body is accepted as
// (RFC 8484).
const dohMediaType = "application/dns-message"

// DoHListener serves DNS-over-HTTPS (component C8), either self-terminating
// TLS with ALPN h2, or cleartext h2c for deployments behind a TLS-offloading
// load balancer.
type DoHListener struct {
	id              string
	addr            string
	protocol        string // "doh" or "doh-cleartext"
	resolver        Resolver
	tracker         *Tracker
	stats           *Stats
	heartbeat       *Heartbeat
	ioTimeout       time.Duration
	shutdownTimeout time.Duration

	server  *http.Server
	limiter *connLimiter
	ln      net.Listener
}

var _ Listener = &DoHListener{}

// NewDoHListener returns a DoH listener. tlsConfig is nil for the cleartext
// (h2c) variant. shutdownTimeout bounds Stop's call to http.Server.Shutdown
// so a single slow or idle client can never hold the drain sequence open
// past SPEC_FULL.md 4.11's overall shutdown deadline.
func NewDoHListener(id, addr string, tlsConfig *tls.Config, resolver Resolver, tracker *Tracker, stats *Stats, heartbeat *Heartbeat, ioTimeout, shutdownTimeout time.Duration, initialMaxConns int) *DoHListener {
	l := &DoHListener{
		id:              id,
		addr:            addr,
		resolver:        resolver,
		tracker:         tracker,
		stats:           stats,
		heartbeat:       heartbeat,
		ioTimeout:       ioTimeout,
		shutdownTimeout: shutdownTimeout,
		limiter:         newConnLimiter(initialMaxConns),
	}
	l.protocol = "doh-cleartext"

	mux := http.NewServeMux()
	mux.HandleFunc("/dns-query", l.handler)

	h2s := &http2.Server{}
	l.server = &http.Server{
		Addr:        addr,
		Handler:     h2c.NewHandler(mux, h2s),
		ReadTimeout: ioTimeout,
		IdleTimeout: ioTimeout,
		ConnState:   l.connState,
	}
	if tlsConfig != nil {
		l.protocol = "doh"
		tlsConfig.NextProtos = []string{"h2"}
		l.server.TLSConfig = tlsConfig
		_ = http2.ConfigureServer(l.server, h2s)
	}
	return l
}

func (l *DoHListener) connState(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		l.stats.TotalConns.Add(1)
		if _, ok := l.limiter.tryAdmit(); !ok {
			l.stats.Drops.Add(1)
			conn.Close()
			return
		}
		l.stats.OpenConns.Add(1)
	case http.StateClosed, http.StateHijacked:
		l.stats.OpenConns.Add(-1)
	}
}

// Start binds the listener and serves until Stop closes it.
func (l *DoHListener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	if tc, ok := ln.(*net.TCPListener); ok {
		ln = tcpKeepaliveListener{tc}
	}
	l.ln = ln
	l.tracker.TrackServer(l.protocol, ln)
	Log.WithFields(map[string]interface{}{"id": l.id, "protocol": l.protocol, "addr": l.addr}).Info("starting listener")

	if l.server.TLSConfig != nil {
		return l.server.ServeTLS(ln, "", "")
	}
	return l.server.Serve(ln)
}

// Stop gracefully shuts down the HTTP server, bounded by shutdownTimeout so
// an idle client holding a connection open can't block the drain sequence
// indefinitely; the overall process-exit deadline in cmd/edged is armed
// independently of this call returning.
func (l *DoHListener) Stop() error {
	Log.WithFields(map[string]interface{}{"id": l.id, "protocol": l.protocol, "addr": l.addr}).Info("stopping listener")
	ctx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer cancel()
	return l.server.Shutdown(ctx)
}

// SetMaxConns updates the per-listener connection cap.
func (l *DoHListener) SetMaxConns(n int) {
	l.limiter.SetMaxConns(n)
}

func (l *DoHListener) String() string {
	return l.id
}

func (l *DoHListener) handler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		l.getHandler(w, r)
	case http.MethodPost:
		l.postHandler(w, r)
	default:
		http.Error(w, "only GET and POST allowed", http.StatusMethodNotAllowed)
	}
}

func (l *DoHListener) getHandler(w http.ResponseWriter, r *http.Request) {
	b64 := r.URL.Query().Get("dns")
	if b64 == "" {
		http.Error(w, "no dns query parameter found", http.StatusBadRequest)
		return
	}
	body, err := base64.RawURLEncoding.DecodeString(b64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	l.respond(w, r, body)
}

func (l *DoHListener) postHandler(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" && ct != dohMediaType {
		http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
		return
	}
	// Read one byte past the limit so an oversize body is detected here
	// and reported with the DoH-specific status (413) rather than falling
	// through to respond's generic bounds check.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxQuerySize+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > maxQuerySize {
		http.Error(w, "query exceeds maximum size", http.StatusRequestEntityTooLarge)
		return
	}
	l.respond(w, r, body)
}

// respond validates the raw query, builds an internal Request mirroring
// the one the DoT pipeline builds (so a single Resolver implementation
// serves both transports), and forwards the resolver's status/headers/body
// back to the client. Unlike the DoT pipeline, it never synthesises a
// SERVFAIL body: a legitimate empty answer ends the response with no body,
// and a resolver failure is surfaced as a plain 400 since headers haven't
// been written yet at that point (SPEC_FULL.md 4.8 items 4-5).
func (l *DoHListener) respond(w http.ResponseWriter, r *http.Request, query []byte) {
	if len(query) > maxQuerySize {
		http.Error(w, "query exceeds maximum size", http.StatusRequestEntityTooLarge)
		return
	}
	if len(query) < minQuerySize {
		http.Error(w, "malformed dns query", http.StatusBadRequest)
		return
	}
	if l.heartbeat != nil {
		l.heartbeat.Beat()
	}

	host := bracketIfIPv6(r.Host)
	req := &Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("https://%s%s", host, r.URL.Path),
		Header: r.Header.Clone(),
		Body:   query,
	}
	req.Header.Set("X-Rxid", newCorrelationID())

	ctx, cancel := context.WithTimeout(r.Context(), l.ioTimeout)
	defer cancel()
	resp, err := l.resolver.HandleRequest(ctx, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	answer, readErr := readAll(resp)
	if readErr != nil {
		http.Error(w, readErr.Error(), http.StatusBadRequest)
		return
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if len(answer) > 0 && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", dohMediaType)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(answer) > 0 {
		w.Write(answer)
	}
}

// bracketIfIPv6 wraps a bare IPv6 literal authority in brackets so the
// synthetic URL built for the resolver is well-formed; hostnames and
// already-bracketed/ported authorities pass through unchanged.
func bracketIfIPv6(host string) string {
	if strings.Count(host, ":") >= 2 && !strings.HasPrefix(host, "[") {
		return "[" + host + "]"
	}
	return host
}
