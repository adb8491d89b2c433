package edge

import (
	"net"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
)

// proxyProtoReadTimeout bounds how long the wrapped listener will wait for
// a PROXYv2 header before giving up on a connection -- the header is
// expected to arrive in the very first segment from a trusted upstream, so
// this only guards against a stalled or misbehaving peer.
const proxyProtoReadTimeout = 5 * time.Second

// wrapProxyProto wraps ln so every Accept first parses a PROXYv2 header
// (component C6) and presents the original client address as the
// connection's RemoteAddr -- everything downstream (SNI matching, tracker
// bookkeeping, DoT framing) keeps working unmodified against the wrapped
// net.Conn, exactly as it would against a directly-accepted connection.
// Grounded on the same proxyproto.Listener wrapping used by the DoT
// listener in the retrieved routedns fork (dotlistener.go), adapted here
// to sit in front of the TLS listener instead of dns.Server's own Listener
// field.
func wrapProxyProto(ln net.Listener) net.Listener {
	return &proxyproto.Listener{
		Listener:          ln,
		ReadHeaderTimeout: proxyProtoReadTimeout,
	}
}
