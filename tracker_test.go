package edge

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

type fakeConn struct {
	net.Conn
	remote net.Addr
	closed bool
}

func (c *fakeConn) RemoteAddr() net.Addr { return c.remote }
func (c *fakeConn) Close() error         { c.closed = true; return nil }

type fakeListener struct {
	net.Listener
	addr net.Addr
}

func (l *fakeListener) Addr() net.Addr { return l.addr }

func TestTrackerServerAndConnLifecycle(t *testing.T) {
	tr := NewTracker()
	ln := &fakeListener{addr: &net.TCPAddr{Port: 853}}
	serverID := tr.TrackServer("dot", ln)
	require.Equal(t, "853", serverID)

	conn := &fakeConn{remote: fakeAddr("10.0.0.1:4000")}
	connID := tr.TrackConn(serverID, conn)
	require.Equal(t, "10.0.0.1:4000", connID)
	require.Len(t, tr.Conns(), 1)

	tr.Untrack(serverID, connID)
	require.Empty(t, tr.Conns())
}

func TestTrackerRejectsAfterEnd(t *testing.T) {
	tr := NewTracker()
	ln := &fakeListener{addr: &net.TCPAddr{Port: 443}}
	serverID := tr.TrackServer("doh", ln)

	servers, conns := tr.End()
	require.Len(t, servers, 1)
	require.Empty(t, conns)
	require.True(t, tr.Ended())

	require.Equal(t, "", tr.TrackServer("doh", ln))
	conn := &fakeConn{remote: fakeAddr("10.0.0.1:4000")}
	require.Equal(t, "", tr.TrackConn(serverID, conn))
}

func TestTrackerTrackConnUnknownServer(t *testing.T) {
	tr := NewTracker()
	conn := &fakeConn{remote: fakeAddr("10.0.0.1:4000")}
	require.Equal(t, "", tr.TrackConn("nonexistent", conn))
}

func TestTrackerEndReturnsEverythingExactlyOnce(t *testing.T) {
	tr := NewTracker()
	ln := &fakeListener{addr: &net.TCPAddr{Port: 853}}
	serverID := tr.TrackServer("dot", ln)
	c1 := &fakeConn{remote: fakeAddr("10.0.0.1:1")}
	c2 := &fakeConn{remote: fakeAddr("10.0.0.1:2")}
	tr.TrackConn(serverID, c1)
	tr.TrackConn(serverID, c2)

	_, conns := tr.End()
	require.Len(t, conns, 2)

	_, conns2 := tr.End()
	require.Empty(t, conns2)
}
