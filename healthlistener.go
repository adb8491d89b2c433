package edge

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// healthServerTimeout bounds read/write on the health-check listener, the
// way routedns bounds its admin listener with adminServerTimeout.
const healthServerTimeout = 10 * time.Second

// HealthListener is the health-check listener from SPEC_FULL.md section
// 4.4: it answers "/" with 200 over plain HTTP/1 or cleartext HTTP/2
// (h2c), whichever the client speaks, and bumps Stats.Checks on every hit.
type HealthListener struct {
	id              string
	addr            string
	stats           *Stats
	shutdownTimeout time.Duration
	server          *http.Server
	ln              net.Listener
}

var _ Listener = &HealthListener{}

// NewHealthListener returns a health-check listener bound to addr.
// shutdownTimeout bounds Stop's call to http.Server.Shutdown.
func NewHealthListener(id, addr string, stats *Stats, shutdownTimeout time.Duration) *HealthListener {
	l := &HealthListener{id: id, addr: addr, stats: stats, shutdownTimeout: shutdownTimeout}
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handler)
	h2s := &http2.Server{}
	l.server = &http.Server{
		Addr:         addr,
		Handler:      h2c.NewHandler(mux, h2s),
		ReadTimeout:  healthServerTimeout,
		WriteTimeout: healthServerTimeout,
	}
	return l
}

func (l *HealthListener) handler(w http.ResponseWriter, r *http.Request) {
	l.stats.Checks.Add(1)
	w.WriteHeader(http.StatusOK)
}

// Start the health listener.
func (l *HealthListener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln
	Log.WithFields(map[string]interface{}{"id": l.id, "protocol": "health", "addr": l.addr}).Info("starting listener")
	return l.server.Serve(ln)
}

// Stop the health listener, bounded by shutdownTimeout for the same reason
// DoHListener.Stop is.
func (l *HealthListener) Stop() error {
	Log.WithFields(map[string]interface{}{"id": l.id, "protocol": "health", "addr": l.addr}).Info("stopping listener")
	ctx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer cancel()
	return l.server.Shutdown(ctx)
}

// SetMaxConns is a no-op for the health listener: it is always reachable
// so graceful drain can still answer health checks.
func (l *HealthListener) SetMaxConns(int) {}

func (l *HealthListener) String() string {
	return l.id
}
