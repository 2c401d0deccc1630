package scene

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeConsistentAlignsVectorLengths(t *testing.T) {
	s := NewScene(4)
	l := s.AddLine()
	l.Frames = []float64{1, 1, 1, 1, 1}
	s.MakeConsistent()

	require.Len(t, l.Scripts, 5)
	require.Len(t, l.FrameNames, 5)
	require.Len(t, l.FrameRepetitions, 5)
	require.Len(t, l.Enabled, 5)
	for _, s := range l.Scripts {
		require.NotNil(t, s)
	}
	for _, r := range l.FrameRepetitions {
		require.Equal(t, 1, r)
	}
}

func TestMakeConsistentIsIdempotent(t *testing.T) {
	s := NewScene(4)
	l := s.AddLine()
	l.Frames = []float64{1, 2, 3}
	s.MakeConsistent()
	before := *l
	s.MakeConsistent()
	require.Equal(t, before.Frames, l.Frames)
	require.Equal(t, len(before.Scripts), len(l.Scripts))
}

func TestMakeConsistentClampsMarkers(t *testing.T) {
	s := NewScene(4)
	l := s.AddLine()
	l.Frames = []float64{1, 1, 1}
	start, end := 5, 10
	l.StartFrame = &start
	l.EndFrame = &end
	s.MakeConsistent()

	require.LessOrEqual(t, *l.StartFrame, *l.EndFrame)
	require.Less(t, *l.EndFrame, len(l.Frames))
}

func TestEffectiveRangeDefaultsToAllFrames(t *testing.T) {
	l := NewLine(0)
	l.Frames = []float64{1, 1, 1, 1}
	require.Equal(t, 0, l.GetEffectiveStartFrame())
	require.Equal(t, 4, l.GetEffectiveNumFrames())
}

func TestEffectiveRangeHonorsMarkers(t *testing.T) {
	l := NewLine(0)
	l.Frames = []float64{1, 1, 1, 1, 1}
	start, end := 1, 3
	l.StartFrame = &start
	l.EndFrame = &end
	require.Equal(t, 1, l.GetEffectiveStartFrame())
	require.Equal(t, 3, l.GetEffectiveNumFrames())
}

func TestEnableFramesNoopIfAlreadyEnabled(t *testing.T) {
	s := NewScene(4)
	l := s.AddLine()
	l.Frames = []float64{1, 1, 1}
	s.MakeConsistent()
	before := append([]bool(nil), l.Enabled...)
	l.EnableFrames([]int{0, 1, 2})
	require.Equal(t, before, l.Enabled)
}

func TestOutOfRangeIndicesDoNotPanic(t *testing.T) {
	s := NewScene(4)
	l := s.AddLine()
	l.Frames = []float64{1}
	s.MakeConsistent()

	require.NotPanics(t, func() {
		l.RemoveFrame(99)
		l.EnableFrame(-1)
		l.SetScript(50, NewScript(0))
		s.RemoveLine(50)
		s.SetLine(50, NewLine(0))
	})
}

func TestInsertFrameReindexesScripts(t *testing.T) {
	l := NewLine(0)
	l.Frames = []float64{1, 1}
	l.makeConsistent()
	l.InsertFrame(1, 0.5)
	require.Len(t, l.Frames, 3)
	require.InDelta(t, 0.5, l.Frames[1], 1e-9)
	for i, sc := range l.Scripts {
		require.Equal(t, i, sc.Index)
	}
}
