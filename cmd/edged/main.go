package main

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	edge "github.com/dnsfront/edge"
	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:   "edged",
		Short: "DNS-over-TLS and DNS-over-HTTPS front-end",
		Long: `edged terminates DNS-over-TLS and DNS-over-HTTPS connections and
forwards well-formed queries to a resolver over HTTPS. It does not
resolve, cache, or filter DNS traffic itself -- see edge.Resolver for
that boundary.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run wires every component named in SPEC_FULL.md section 4 together and
// blocks until the shutdown sequence (section 4.11) completes.
func run() error {
	cfg := edge.LoadConfig()
	bus := edge.NewBus()
	tracker := edge.NewTracker()
	stats := edge.NewStats("global")
	diag := edge.NewDiagnostics(stats, cfg.Diagnostics.SnapshotDir, cfg.Diagnostics.MeasureHeap, cfg.Diagnostics.OnLocal)
	heartbeat := edge.NewHeartbeat(stats, diag, int64(cfg.Admission.MaxConns)*4, func() bool {
		return stats.Backpressure().Adj > 0
	})

	resolver := newUpstreamResolver(cfg.Upstream)

	listeners, tlsConfigs, err := buildListeners(cfg, resolver, tracker, stats, heartbeat)
	if err != nil {
		return err
	}

	admission := edge.NewAdmissionController(stats, cfg.Admission.MinConns, cfg.Admission.MaxConns, cfg.Diagnostics.OnLocal)
	admission.ApplyCap = func(n int) {
		for _, l := range listeners {
			l.SetMaxConns(n)
		}
	}
	admission.StopFunc = func() { bus.StopAfter(0) }

	var rotator *edge.TicketRotator
	if len(tlsConfigs) > 0 {
		rotator = edge.NewTicketRotator(cfg.SecretB64, cfg.ImageRef, tlsConfigs...)
	}

	stopped := make(chan struct{})
	bus.On(edge.EventGo, func() {
		for _, l := range listeners {
			go runListener(l, tracker)
		}
		go admission.Start()
		if rotator != nil {
			go rotator.Start()
		}
	})
	bus.On(edge.EventStop, func() {
		go shutdown(cfg, tracker, admission, rotator, listeners, diag, stopped)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		bus.StopAfter(0)
	}()

	bus.Publish(edge.EventPrepare)
	bus.Publish(edge.EventGo)
	<-stopped
	return nil
}

// runListener restarts l on every transient failure until l is stopped or
// the tracker ends, the same retry-with-backoff loop the teacher's
// cmd/routedns/main.go runs around each configured listener.
func runListener(l edge.Listener, tracker *edge.Tracker) {
	for {
		edge.Log.WithField("listener", l.String()).Info("starting")
		err := l.Start()
		if err != nil {
			edge.Log.WithError(err).WithField("listener", l.String()).Error("listener exited")
		}
		if tracker.Ended() || errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			return
		}
		time.Sleep(time.Second)
	}
}

// buildListeners constructs every listener flavour whose address is
// configured (SPEC_FULL.md section 4.4), plus the health-check listener,
// and returns the TLS configs belonging to self-terminating listeners so
// the ticket rotator can be wired to them.
func buildListeners(cfg edge.Config, resolver edge.Resolver, tracker *edge.Tracker, stats *edge.Stats, heartbeat *edge.Heartbeat) ([]edge.Listener, []*tls.Config, error) {
	var listeners []edge.Listener
	var tlsConfigs []*tls.Config

	var dotTLS, dohTLS *tls.Config
	if !cfg.IsCleartext && cfg.TLSCrt != "" && cfg.TLSKey != "" {
		var err error
		dotTLS, err = edge.TLSServerConfig(cfg.TLSCrt, cfg.TLSKey, nil)
		if err != nil {
			return nil, nil, err
		}
		dohTLS, err = edge.TLSServerConfig(cfg.TLSCrt, cfg.TLSKey, []string{"h2"})
		if err != nil {
			return nil, nil, err
		}
		tlsConfigs = append(tlsConfigs, dotTLS, dohTLS)
	}

	if cfg.Listeners.DoT != "" {
		listeners = append(listeners, edge.NewDoTListener("dot", cfg.Listeners.DoT, dotTLS, false,
			resolver, tracker, stats, heartbeat, cfg.Listeners.IOTimeout, cfg.Admission.MaxConns))
	}
	if cfg.Listeners.DoTProxyProto != "" {
		listeners = append(listeners, edge.NewDoTListener("dot-proxyproto", cfg.Listeners.DoTProxyProto, dotTLS, true,
			resolver, tracker, stats, heartbeat, cfg.Listeners.IOTimeout, cfg.Admission.MaxConns))
	}
	if cfg.Listeners.DoTCleartext != "" {
		listeners = append(listeners, edge.NewDoTListener("dot-cleartext", cfg.Listeners.DoTCleartext, nil, false,
			resolver, tracker, stats, heartbeat, cfg.Listeners.IOTimeout, cfg.Admission.MaxConns))
	}
	if cfg.Listeners.DoH != "" {
		listeners = append(listeners, edge.NewDoHListener("doh", cfg.Listeners.DoH, dohTLS,
			resolver, tracker, stats, heartbeat, cfg.Listeners.IOTimeout, cfg.Listeners.ShutdownTimeout, cfg.Admission.MaxConns))
	}
	if cfg.Listeners.DoHCleartext != "" {
		listeners = append(listeners, edge.NewDoHListener("doh-cleartext", cfg.Listeners.DoHCleartext, nil,
			resolver, tracker, stats, heartbeat, cfg.Listeners.IOTimeout, cfg.Listeners.ShutdownTimeout, cfg.Admission.MaxConns))
	}
	if cfg.Listeners.HTTPCheck != "" {
		listeners = append(listeners, edge.NewHealthListener("health", cfg.Listeners.HTTPCheck, stats, cfg.Listeners.ShutdownTimeout))
	}
	return listeners, tlsConfigs, nil
}

// shutdown runs the escalating drain sequence from SPEC_FULL.md section
// 4.11: stop admitting new connections, let in-flight ones finish up to
// ShutdownTimeout, then force-close whatever's left.
//
// The hard-exit timer armed first is the actual deadline guarantee: every
// step below it (listener Stop, the drain wait) is best-effort and may
// block on a slow or idle client, but the process exits with status 0
// within ShutdownTimeout regardless of whether any of them ever return.
func shutdown(cfg edge.Config, tracker *edge.Tracker, admission *edge.AdmissionController, rotator *edge.TicketRotator, listeners []edge.Listener, diag *edge.Diagnostics, done chan struct{}) {
	defer close(done)
	hardExit := time.AfterFunc(cfg.Listeners.ShutdownTimeout, func() {
		edge.Log.Warn("shutdown timeout exceeded, forcing exit")
		diag.MaybeSnapshot(true)
		os.Exit(0)
	})
	defer hardExit.Stop()

	admission.Drain()
	admission.Stop()
	if rotator != nil {
		rotator.Stop()
	}

	for _, l := range listeners {
		l.Stop()
	}

	timer := time.NewTimer(cfg.Listeners.ShutdownTimeout)
	drained := make(chan struct{})
	go func() {
		for len(tracker.Conns()) > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-timer.C:
	}
	timer.Stop()

	_, conns := tracker.End()
	for _, c := range conns {
		c.Close()
	}
	diag.MaybeSnapshot(true)
}
