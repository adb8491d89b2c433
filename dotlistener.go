package edge

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// sentinelHost and sentinelFlag are what the cleartext DoT listener hands
// to the resolver in place of a real SNI-derived host/flag: there is no
// TLS handshake to extract an SNI from, and this listener only makes sense
// fronted by something (a PROXYv2 upstream, or a TLS-terminating load
// balancer) that has already made its own routing decision.
const (
	sentinelHost = "ignored.example.com"
	sentinelFlag = ""
)

// DoTListener serves DNS-over-TCP, with or without TLS (components C5 and
// C7 combined: the listener owns accept/track/timeout plumbing, and the
// per-connection framing pipeline lives in serveConn/feed below).
type DoTListener struct {
	id        string
	addr      string
	protocol  string // "dot" or "dot-cleartext", for logging/metrics only
	tlsConfig *tls.Config
	proxyProto bool
	resolver  Resolver
	tracker   *Tracker
	stats     *Stats
	heartbeat *Heartbeat
	ioTimeout time.Duration

	limiter *connLimiter
	ln      net.Listener

	sniOnce sync.Once
	sni     *SNIMatcher
	sniErr  error
}

var _ Listener = &DoTListener{}

// NewDoTListener returns a DoT listener. Pass a non-nil tlsConfig for a
// self-terminating TLS listener; pass nil for the cleartext variant. Set
// proxyProto to wrap accepted connections with the PROXYv2 adapter
// (component C6) before the TLS handshake, for deployments sitting behind
// a PROXYv2-speaking load balancer.
func NewDoTListener(id, addr string, tlsConfig *tls.Config, proxyProto bool, resolver Resolver, tracker *Tracker, stats *Stats, heartbeat *Heartbeat, ioTimeout time.Duration, initialMaxConns int) *DoTListener {
	protocol := "dot"
	if tlsConfig == nil {
		protocol = "dot-cleartext"
	}
	if proxyProto {
		protocol += "-proxyproto"
	}
	return &DoTListener{
		id:         id,
		addr:       addr,
		protocol:   protocol,
		tlsConfig:  tlsConfig,
		proxyProto: proxyProto,
		resolver:   resolver,
		tracker:    tracker,
		stats:      stats,
		heartbeat:  heartbeat,
		ioTimeout:  ioTimeout,
		limiter:    newConnLimiter(initialMaxConns),
	}
}

// Start binds the listener and serves until the listener is closed.
func (l *DoTListener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	if tc, ok := ln.(*net.TCPListener); ok {
		ln = tcpKeepaliveListener{tc}
	}
	if l.proxyProto {
		ln = wrapProxyProto(ln)
	}
	if l.tlsConfig != nil {
		ln = tls.NewListener(ln, l.tlsConfig)
	}
	l.ln = ln
	l.tracker.TrackServer(l.protocol, ln)
	Log.WithFields(map[string]interface{}{"id": l.id, "protocol": l.protocol, "addr": l.addr}).Info("starting listener")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.tracker.Ended() {
				return nil
			}
			if l.proxyProto {
				if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
					Log.WithError(ProxyHeaderError{Err: err}).Warn("rejected connection with bad PROXY header")
					continue
				}
			}
			Log.WithError(err).Error("listener accept failed")
			return err
		}
		l.accept(conn)
	}
}

func (l *DoTListener) accept(conn net.Conn) {
	l.stats.TotalConns.Add(1)
	release, ok := l.limiter.tryAdmit()
	if !ok {
		l.stats.Drops.Add(1)
		conn.Close()
		return
	}
	// The tracker keys listeners by bound port (what TrackServer returned in
	// Start), not by the listener's configured name.
	serverID := portOf(l.ln.Addr())
	connID := l.tracker.TrackConn(serverID, conn)
	if connID == "" {
		release()
		conn.Close()
		return
	}
	l.stats.OpenConns.Add(1)
	go func() {
		defer release()
		defer l.stats.OpenConns.Add(-1)
		defer l.tracker.Untrack(serverID, connID)
		defer conn.Close()
		l.serveConn(conn)
	}()
}

func (l *DoTListener) serveConn(conn net.Conn) {
	host, flag := sentinelHost, sentinelFlag
	if tlsConn, ok := conn.(*tls.Conn); ok {
		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout(l.ioTimeout))
		err := tlsConn.HandshakeContext(ctx)
		cancel()
		if err != nil {
			l.stats.TLSErrors.Add(1)
			return
		}
		host, flag = l.classify(tlsConn.ConnectionState().ServerName)
	}

	armIdleTimeout(conn, l.ioTimeout)
	writer := newRespWriter(conn)
	defer writer.Close()

	var fb framingBuffer
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				l.stats.Timeouts.Add(1)
			}
			return
		}
		armIdleTimeout(conn, l.ioTimeout)
		if err := l.feed(&fb, buf[:n], host, flag, writer); err != nil {
			connLogger(l.id, ClientInfo{Host: host, Flag: flag}).WithError(err).Debug("closing connection")
			return
		}
		if writer.Backpressured() {
			writer.WaitDrain()
		}
	}
}

// classify extracts host/flag from the negotiated SNI using the matcher
// built lazily from the listener's own certificate (SPEC_FULL.md 4.3). A
// name that doesn't match any SAN is passed through as the host verbatim
// with no flag, the same fallback routedns's matcher applies.
func (l *DoTListener) classify(sni string) (host, flag string) {
	l.sniOnce.Do(func() {
		l.sni, l.sniErr = sniMatcherFromConfig(l.tlsConfig)
	})
	if l.sniErr != nil || l.sni == nil || !l.sni.Match(sni) {
		return sni, ""
	}
	flag, host = Metadata(sni)
	return host, flag
}

// feed runs the RFC 7766 framing state machine from SPEC_FULL.md section
// 4.7 over one inbound chunk, recursing on any pipelined tail still left
// in chunk once a query completes. It returns a non-nil error (always an
// OversizeQueryError) if the connection should be closed because the
// declared length was out of bounds.
func (l *DoTListener) feed(fb *framingBuffer, chunk []byte, host, flag string, writer *respWriter) error {
	if !fb.qlenReady() {
		chunk = chunk[fb.fillQlen(chunk):]
		if !fb.qlenReady() {
			return nil
		}
		if !validateSize(fb.qlen()) {
			return OversizeQueryError{Declared: fb.qlen()}
		}
	}
	fb.allocOnce(fb.qlen())
	chunk = chunk[fb.fillBody(chunk):]
	if !fb.bodyReady() {
		return nil
	}
	query := fb.reset()
	go l.dispatch(query, host, flag, writer)

	if len(chunk) == 0 {
		return nil
	}
	return l.feed(fb, chunk, host, flag, writer)
}

func (l *DoTListener) dispatch(query []byte, host, flag string, writer *respWriter) {
	if l.heartbeat != nil {
		l.heartbeat.Beat()
	}
	connLogger(l.id, ClientInfo{Host: host, Flag: flag}).Debug("dispatching query")
	req := &Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("https://%s/%s", host, flag),
		Header: http.Header{
			"Content-Type":   {"application/dns-message"},
			"Content-Length": {fmt.Sprintf("%d", len(query))},
			"X-Rxid":         {newCorrelationID()},
		},
		Body: query,
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.ioTimeout)
	defer cancel()
	resp, err := l.resolver.HandleRequest(ctx, req)
	answer, readErr := readAll(resp)
	if err != nil || readErr != nil || len(answer) == 0 {
		answer = servfail(query)
	}

	out := make([]byte, 2+len(answer))
	out[0] = byte(len(answer) >> 8)
	out[1] = byte(len(answer))
	copy(out[2:], answer)
	writer.Enqueue(out)
}

// Stop closes the listener, ending Start's accept loop.
func (l *DoTListener) Stop() error {
	Log.WithFields(map[string]interface{}{"id": l.id, "protocol": l.protocol, "addr": l.addr}).Info("stopping listener")
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

// SetMaxConns updates the per-listener connection cap.
func (l *DoTListener) SetMaxConns(n int) {
	l.limiter.SetMaxConns(n)
}

func (l *DoTListener) String() string {
	return l.id
}

// tcpKeepaliveListener sets TCP keepalive and no-delay on every accepted
// connection, the socket hygiene every listener flavour in SPEC_FULL.md
// section 4.4 applies.
type tcpKeepaliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepaliveListener) Accept() (net.Conn, error) {
	conn, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	conn.SetKeepAlive(true)
	conn.SetNoDelay(true)
	return conn, nil
}
