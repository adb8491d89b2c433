package edge

import (
	"expvar"
	"sync/atomic"
)

// Backpressure is the 5-tuple the admission controller publishes on every
// tick: the three load averages it sampled, the pressure accumulator it
// derived from them, and the per-listener connection cap it computed.
// Stats.Backpressure always returns it as one value so callers never
// observe the tuple half-updated.
type Backpressure struct {
	Avg1     float64
	Avg5     float64
	Avg15    float64
	Adj      int
	MaxConns int
}

// Stats holds the process-wide counters described in SPEC_FULL.md section 3.
// Counters are expvar.Int, the way routedns publishes its listener metrics,
// so they show up for free on any expvar-scraping dashboard; bp is instead
// a single atomic.Pointer so it is always read/written as one consistent
// struct rather than field by field.
type Stats struct {
	Reqs       *expvar.Int
	Checks     *expvar.Int
	TLSErrors  *expvar.Int
	Drops      *expvar.Int
	TotalConns *expvar.Int
	OpenConns  *expvar.Int
	Timeouts   *expvar.Int
	HeapSnaps  *expvar.Int

	bp atomic.Pointer[Backpressure]
}

// NewStats builds a fresh counter set. id namespaces the counters the same
// way routedns namespaces per-listener expvar counters by listener id;
// pass "global" for the single process-wide instance.
func NewStats(id string) *Stats {
	s := &Stats{
		Reqs:       getVarInt("stats", id, "reqs"),
		Checks:     getVarInt("stats", id, "checks"),
		TLSErrors:  getVarInt("stats", id, "tlsErrors"),
		Drops:      getVarInt("stats", id, "drops"),
		TotalConns: getVarInt("stats", id, "totalConns"),
		OpenConns:  getVarInt("stats", id, "openConns"),
		Timeouts:   getVarInt("stats", id, "timeouts"),
		HeapSnaps:  getVarInt("stats", id, "heapSnaps"),
	}
	s.bp.Store(&Backpressure{})
	return s
}

// Backpressure returns the most recently published admission snapshot.
func (s *Stats) Backpressure() Backpressure {
	return *s.bp.Load()
}

// SetBackpressure atomically replaces the admission snapshot.
func (s *Stats) SetBackpressure(bp Backpressure) {
	s.bp.Store(&bp)
}
