package edge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAdmission() *AdmissionController {
	return &AdmissionController{
		MinConns: 10,
		MaxConns: 1000,
		stats:    NewStats("admission-test"),
	}
}

func TestAdmissionTickLowLoadUsesFullCap(t *testing.T) {
	a := newTestAdmission()
	a.Tick(sample{avg1: 10, avg5: 10, avg15: 10, freeMem: 100, totalMem: 100}, nil)
	require.Equal(t, 1000, a.stats.Backpressure().MaxConns)
	require.Equal(t, 0, a.adj)
}

func TestAdmissionTickHighLoadReducesCap(t *testing.T) {
	a := newTestAdmission()
	a.Tick(sample{avg1: 105, avg5: 95, avg15: 90, freeMem: 100, totalMem: 100}, nil)
	require.Equal(t, 10, a.stats.Backpressure().MaxConns) // avg1 > 100 => MinConns
	require.Equal(t, 6, a.adj)                             // +3 (avg5>90) +2 (avg1>100) +1 (avg1>avg5)
}

func TestAdmissionTickLowRamForcesFloor(t *testing.T) {
	a := newTestAdmission()
	a.Tick(sample{avg1: 10, avg5: 10, avg15: 10, freeMem: 5, totalMem: 100}, nil)
	require.Equal(t, 200, a.stats.Backpressure().MaxConns) // lowRam => 20% of MaxConns
}

func TestAdmissionTickSustainedPressureTriggersShutdown(t *testing.T) {
	a := newTestAdmission()
	// Low load decays adj by 25% before the threshold check runs; start high
	// enough that the decayed value still clears adjShutdownThreshold.
	a.adj = 100
	stopped := false
	a.StopFunc = func() { stopped = true }
	a.Tick(sample{avg1: 10, avg5: 10, avg15: 10, freeMem: 100, totalMem: 100}, nil)
	require.True(t, stopped)
}

func TestAdmissionDrainForcesMinimalCap(t *testing.T) {
	a := newTestAdmission()
	a.adj = 40
	a.Drain()
	require.Equal(t, 0, a.adj)
	require.Equal(t, a.MinConns, a.stats.Backpressure().MaxConns)
}

func TestClampAndMaxInt(t *testing.T) {
	require.Equal(t, 5, clamp(1, 5, 10))
	require.Equal(t, 10, clamp(20, 5, 10))
	require.Equal(t, 7, clamp(7, 5, 10))
	require.Equal(t, 5, maxInt(5, 3))
	require.Equal(t, 5, maxInt(3, 5))
}
