package edge

import (
	"math"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// adjPeriod is how often the admission controller samples load and
// recomputes the per-listener connection cap (SPEC_FULL.md section 4.9).
const adjPeriod = 5 * time.Second

// Pressure thresholds on the adj accumulator, in admission ticks.
const (
	adjShutdownThreshold = 72
	adjStressThreshold   = 48
)

// AdmissionController samples host load and memory pressure every
// adjPeriod and retunes every registered listener's connection cap
// (component C9). It may also trigger process shutdown under sustained
// pressure via its StopFunc.
type AdmissionController struct {
	MinConns int
	MaxConns int
	OnLocal  bool // true when NOT running in a cloud environment

	// StopFunc is called (cmd/edged wires it to Bus.StopAfter(0)) to begin
	// graceful shutdown when sustained
	// pressure crosses adjShutdownThreshold, or immediately under
	// veryLowRam while running in a cloud environment.
	StopFunc func()

	// ApplyCap is invoked with the newly computed per-listener cap on every
	// tick; the listener supervisor wires this to AdjustMaxConns for every
	// tracked listener.
	ApplyCap func(n int)

	stats *Stats
	adj   int

	stop chan struct{}
	done chan struct{}
}

// NewAdmissionController builds a controller. stats receives the published
// Backpressure snapshot on every tick.
func NewAdmissionController(stats *Stats, minConns, maxConns int, onLocal bool) *AdmissionController {
	return &AdmissionController{
		MinConns: minConns,
		MaxConns: maxConns,
		OnLocal:  onLocal,
		stats:    stats,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the periodic sampling loop until Stop is called.
func (a *AdmissionController) Start() {
	defer close(a.done)
	ticker := time.NewTicker(adjPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.tick()
		case <-a.stop:
			return
		}
	}
}

// Stop ends the sampling loop and waits for it to exit.
func (a *AdmissionController) Stop() {
	close(a.stop)
	<-a.done
}

// sample holds the raw inputs for one admission tick, broken out so Tick
// can be exercised by tests without a real host to sample from.
type sample struct {
	avg1, avg5, avg15 float64
	freeMem, totalMem uint64
}

func (a *AdmissionController) tick() {
	s, err := hostSample()
	if err != nil {
		Log.WithError(err).Warn("admission controller failed to sample host load")
		return
	}
	a.Tick(s, nil)
}

// Tick runs one admission decision from the given sample. explicitCap, if
// non-nil, is applied instead of the load-derived cap (used during drain
// with explicitCap pointing at 1) and always resets adj to 0.
func (a *AdmissionController) Tick(s sample, explicitCap *int) {
	lowRam := float64(s.freeMem) < 0.10*float64(s.totalMem)
	veryLowRam := float64(s.freeMem) < 0.025*float64(s.totalMem)

	if explicitCap != nil {
		n := clamp(*explicitCap, a.MinConns, a.MaxConns)
		a.adj = 0
		a.publish(s, n)
		if a.ApplyCap != nil {
			a.ApplyCap(n)
		}
		return
	}

	if s.avg5 > 90 {
		a.adj += 3
	}
	if s.avg1 > 100 {
		a.adj += 2
	}
	if s.avg1 > s.avg5 {
		a.adj += 1
	}

	var n int
	switch {
	case s.avg1 > 100:
		n = a.MinConns
	case s.avg1 > 90 || s.avg5 > 80 || lowRam:
		n = maxInt(int(0.2*float64(a.MaxConns)), a.MinConns)
	case s.avg1 > 80 || s.avg5 > 75:
		n = maxInt(int(0.4*float64(a.MaxConns)), a.MinConns)
	case s.avg1 > 70:
		n = maxInt(int(0.6*float64(a.MaxConns)), a.MinConns)
	default:
		n = a.MaxConns
		a.adj = int(math.Floor(float64(a.adj) * 0.75))
	}

	switch {
	case a.adj > adjShutdownThreshold:
		Log.Warn("sustained admission pressure, initiating shutdown")
		a.stopIfConfigured()
	case veryLowRam && !a.OnLocal:
		Log.Warn("very low memory in cloud environment, initiating shutdown")
		a.stopIfConfigured()
	case a.adj > adjStressThreshold:
		n = a.MinConns / 2
		Log.WithField("adj", a.adj).Warn("admission stress, forcing reduced cap")
	case a.adj > 0:
		Log.WithField("adj", a.adj).Debug("elevated load")
		debug.SetGCPercent(50)
	case a.adj == 0:
		debug.SetGCPercent(100)
	}

	a.publish(s, n)
	if a.ApplyCap != nil {
		a.ApplyCap(n)
	}
}

// Drain requests a cap of 1 for every listener immediately, bypassing the
// load-derived computation -- the "AdjustMaxConns(1)" step of the shutdown
// sequence in SPEC_FULL.md section 4.11. Tick clamps the request into
// [MinConns, MaxConns], so the applied cap is MinConns whenever that is
// above 1.
func (a *AdmissionController) Drain() {
	one := 1
	a.Tick(sample{}, &one)
}

func (a *AdmissionController) stopIfConfigured() {
	if a.StopFunc != nil {
		a.StopFunc()
	}
}

func (a *AdmissionController) publish(s sample, n int) {
	if a.stats == nil {
		return
	}
	a.stats.SetBackpressure(Backpressure{
		Avg1:     s.avg1,
		Avg5:     s.avg5,
		Avg15:    s.avg15,
		Adj:      a.adj,
		MaxConns: n,
	})
}

// hostSample reads (avg1, avg5, avg15) normalised to percent-of-CPU-count
// and (freeMem, totalMem) from the host via gopsutil, the library already
// present (indirectly) in the retrieved example pack.
func hostSample() (sample, error) {
	avg, err := load.Avg()
	if err != nil {
		return sample{}, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return sample{}, err
	}
	cpus := numCPU()
	return sample{
		avg1:     100 * avg.Load1 / cpus,
		avg5:     100 * avg.Load5 / cpus,
		avg15:    100 * avg.Load15 / cpus,
		freeMem:  vm.Free,
		totalMem: vm.Total,
	}, nil
}

func numCPU() float64 {
	if n := runtime.NumCPU(); n > 0 {
		return float64(n)
	}
	return 1
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
