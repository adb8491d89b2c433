package edge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnLimiterAdmitsUpToCap(t *testing.T) {
	l := newConnLimiter(2)
	_, ok1 := l.tryAdmit()
	_, ok2 := l.tryAdmit()
	_, ok3 := l.tryAdmit()
	require.True(t, ok1)
	require.True(t, ok2)
	require.False(t, ok3)
}

func TestConnLimiterReleaseFreesSlot(t *testing.T) {
	l := newConnLimiter(1)
	release, ok := l.tryAdmit()
	require.True(t, ok)
	_, ok2 := l.tryAdmit()
	require.False(t, ok2)

	release()
	_, ok3 := l.tryAdmit()
	require.True(t, ok3)
}

func TestConnLimiterReleaseIsIdempotent(t *testing.T) {
	l := newConnLimiter(1)
	release, _ := l.tryAdmit()
	release()
	release()
	_, ok := l.tryAdmit()
	require.True(t, ok)
}

func TestConnLimiterSetMaxConnsResizes(t *testing.T) {
	l := newConnLimiter(1)
	l.SetMaxConns(3)
	_, ok1 := l.tryAdmit()
	_, ok2 := l.tryAdmit()
	_, ok3 := l.tryAdmit()
	_, ok4 := l.tryAdmit()
	require.True(t, ok1)
	require.True(t, ok2)
	require.True(t, ok3)
	require.False(t, ok4)
}
