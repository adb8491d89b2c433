package edge

import (
	"os"
	"runtime/pprof"
	"strconv"
)

// maxHeapSnapshots caps how many heap profiles a single process will ever
// write, per SPEC_FULL.md section 4.10: a diagnostic affordance, not a
// contract, kept off the hot path.
const maxHeapSnapshots = 20

// Diagnostics gates the optional heap-snapshot writer invoked from the
// resolver heartbeat (component C14).
type Diagnostics struct {
	MeasureHeap bool
	OnLocal     bool

	stats *Stats
	dir   string
}

// NewDiagnostics returns a Diagnostics writer; snapshots are written as
// "heap-<n>.pprof" under dir.
func NewDiagnostics(stats *Stats, dir string, measureHeap, onLocal bool) *Diagnostics {
	return &Diagnostics{MeasureHeap: measureHeap, OnLocal: onLocal, stats: stats, dir: dir}
}

// MaybeSnapshot writes a heap profile if diagnostics are enabled, the
// process is either non-cloud or under memory pressure, and the
// per-process cap hasn't been reached. highPressure is the caller's
// pressure signal: the heartbeat wired in cmd/edged passes true while the
// admission controller's adj is above zero, which follows load averages
// and does not reflect free memory.
func (d *Diagnostics) MaybeSnapshot(highPressure bool) {
	if !d.MeasureHeap || (!d.OnLocal && !highPressure) {
		return
	}
	n := d.stats.HeapSnaps.Value()
	if n >= maxHeapSnapshots {
		return
	}
	path := d.dir + "/heap-" + strconv.FormatInt(n, 10) + ".pprof"
	f, err := os.Create(path)
	if err != nil {
		Log.WithError(err).Warn("failed to create heap snapshot file")
		return
	}
	defer f.Close()
	if err := pprof.WriteHeapProfile(f); err != nil {
		Log.WithError(err).Warn("failed to write heap snapshot")
		return
	}
	d.stats.HeapSnaps.Add(1)
}

// Heartbeat is called at the start of every resolver dispatch (DoT and
// DoH alike). It bumps the request counter and, every requestPeriod
// requests, writes a heap snapshot via diag -- the "maxConns * mul" cadence
// from SPEC_FULL.md section 4.10, with mul folded into requestPeriod by
// the caller.
type Heartbeat struct {
	stats         *Stats
	diag          *Diagnostics
	requestPeriod int64
	highPressure  func() bool
}

// NewHeartbeat builds a Heartbeat that snapshots every requestPeriod
// requests (0 disables snapshotting entirely).
func NewHeartbeat(stats *Stats, diag *Diagnostics, requestPeriod int64, highPressure func() bool) *Heartbeat {
	return &Heartbeat{stats: stats, diag: diag, requestPeriod: requestPeriod, highPressure: highPressure}
}

// Beat records one resolver dispatch.
func (h *Heartbeat) Beat() {
	n := h.stats.Reqs.Value()
	h.stats.Reqs.Add(1)
	if h.requestPeriod <= 0 {
		return
	}
	if n%h.requestPeriod == 0 {
		hp := false
		if h.highPressure != nil {
			hp = h.highPressure()
		}
		h.diag.MaybeSnapshot(hp)
	}
}
