package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalClockBeatsToMicrosAtDefaultTempo(t *testing.T) {
	c := NewLocal(120, 4)
	// At 120 BPM, one beat = 500ms = 500000us.
	require.Equal(t, int64(500_000), c.BeatsToMicros(1))
}

func TestLocalClockNeverFails(t *testing.T) {
	c := NewLocal(0, 0)
	require.Equal(t, 120.0, c.Tempo())
	require.Equal(t, 4.0, c.Quantum())
	require.False(t, c.SessionState().IsPlaying())
}

func TestLinkAdapterFallsBackWhenNotConnected(t *testing.T) {
	a := NewLinkAdapter(100, 4)
	require.Equal(t, 100.0, a.Tempo())
	a.CaptureAppState()
	a.CommitAppState()
}

func TestLinkAdapterUsesAttachedHooksWhenConnected(t *testing.T) {
	a := NewLinkAdapter(120, 4)
	a.Attach(
		func() float64 { return 140 },
		func(int64) float64 { return 2.0 },
		func(float64) int64 { return 999 },
		func() float64 { return 3.0 },
		func(float64) {},
		func() {}, func() {},
	)
	require.Equal(t, 140.0, a.Tempo())
	require.Equal(t, 2.0, a.BeatAtDate(0))
	require.Equal(t, int64(999), a.DateAtBeat(0))
	require.Equal(t, 3.0, a.Quantum())
}
