package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/schollz/collidertracker/internal/clock"
	"github.com/schollz/collidertracker/internal/scene"
)

// fakeClock is a fully deterministic clock.Clock double: micros is set
// directly by the test instead of reading real wall time, so FrameIndex and
// deferred-action timing can be exercised without sleeping.
type fakeClock struct {
	micros  int64
	tempo   float64
	quantum float64
	session clock.SessionState
}

func newFakeClock(tempo, quantum float64) *fakeClock {
	return &fakeClock{tempo: tempo, quantum: quantum}
}

func (c *fakeClock) Tempo() float64                 { return c.tempo }
func (c *fakeClock) Beat() float64                  { return c.BeatAtDate(c.micros) }
func (c *fakeClock) Micros() int64                  { return c.micros }
func (c *fakeClock) Quantum() float64               { return c.quantum }
func (c *fakeClock) BeatAtDate(m int64) float64     { return float64(m) * c.tempo / 60_000_000.0 }
func (c *fakeClock) DateAtBeat(b float64) int64     { return int64(b * 60_000_000.0 / c.tempo) }
func (c *fakeClock) BeatsToMicros(b float64) int64  { return int64(b * 60_000_000.0 / c.tempo) }
func (c *fakeClock) SetTempo(bpm float64)           { c.tempo = bpm }
func (c *fakeClock) CaptureAppState()               {}
func (c *fakeClock) CommitAppState()                {}
func (c *fakeClock) SessionState() *clock.SessionState { return &c.session }

func (c *fakeClock) atBeat(b float64) int64 { return c.DateAtBeat(b) }

func TestFrameIndexEmptyLineIsAllMax(t *testing.T) {
	c := newFakeClock(120, 4)
	line := scene.NewLine(0)

	frame, _, _, start, _ := FrameIndex(c, 4, line, 0)
	assert.Equal(t, -1, normalizedMax(frame))
	assert.Equal(t, int64(-1), normalizedMax64(start))
}

func TestFrameIndexWalksFramesInOrder(t *testing.T) {
	c := newFakeClock(120, 4)
	line := scene.NewLine(0)
	line.SetFrames([]float64{2, 2})

	frame, iter, rep, _, _ := FrameIndex(c, 4, line, c.atBeat(0))
	assert.Equal(t, 0, frame)
	assert.Equal(t, 0, iter)
	assert.Equal(t, 0, rep)

	frame, iter, rep, _, _ = FrameIndex(c, 4, line, c.atBeat(2))
	assert.Equal(t, 1, frame)
	assert.Equal(t, 0, iter)
	assert.Equal(t, 0, rep)

	// Crossing the loop boundary advances the iteration and wraps back to
	// frame 0.
	frame, iter, rep, _, _ = FrameIndex(c, 4, line, c.atBeat(4))
	assert.Equal(t, 0, frame)
	assert.Equal(t, 1, iter)
	assert.Equal(t, 0, rep)
}

func TestFrameIndexComputesRepetitionIndex(t *testing.T) {
	c := newFakeClock(120, 4)
	line := scene.NewLine(0)
	line.SetFrames([]float64{1})
	line.FrameRepetitions[0] = 3

	_, _, rep, _, _ := FrameIndex(c, 3, line, c.atBeat(0))
	assert.Equal(t, 0, rep)

	_, _, rep, _, _ = FrameIndex(c, 3, line, c.atBeat(1))
	assert.Equal(t, 1, rep)

	_, _, rep, _, _ = FrameIndex(c, 3, line, c.atBeat(2.5))
	assert.Equal(t, 2, rep)
}

func TestFrameIndexRespectsCustomLineLength(t *testing.T) {
	c := newFakeClock(120, 4)
	line := scene.NewLine(0)
	line.SetFrames([]float64{1})
	custom := 2.0
	line.CustomLength = &custom

	// Scene length is 8 but this line loops every 2 beats.
	frame, iter, _, _, _ := FrameIndex(c, 8, line, c.atBeat(2))
	assert.Equal(t, 0, frame)
	assert.Equal(t, 1, iter)
}

func TestSchedulerDeferredEndOfSceneAppliesOnlyAfterWrap(t *testing.T) {
	c := newFakeClock(120, 4)
	notify := make(chan Notification, 10)
	sched := New(c, nil, make(chan Message, 1), notify, nil, nil)
	sched.Scene.Length = 8

	sched.ProcessMessage(Message{Kind: MsgSetTempo, Tempo: 140, Timing: EndOfScene()})

	c.micros = c.atBeat(3.5)
	sched.Step(nil)
	assert.Equal(t, 120.0, c.Tempo(), "tempo must not change before the scene wraps")

	c.micros = c.atBeat(9.0)
	sched.Step(nil)
	assert.Equal(t, 140.0, c.Tempo(), "tempo changes once current beat crosses a scene-length multiple")
}

func TestSchedulerAtBeatDeferredAppliesOnceBeatReached(t *testing.T) {
	c := newFakeClock(120, 4)
	sched := New(c, nil, make(chan Message, 1), make(chan Notification, 10), nil, nil)
	sched.Scene.AddLine()

	sched.ProcessMessage(Message{Kind: MsgEnableFrames, Line: 0, Frames: []int{0}, Timing: AtBeat(10)})

	c.micros = c.atBeat(5)
	sched.Step(nil)
	assert.Len(t, sched.deferredActions, 1, "action stays queued before its target beat")

	c.micros = c.atBeat(10)
	sched.Step(nil)
	assert.Len(t, sched.deferredActions, 0, "action applies once current beat reaches the target")
}

func TestSchedulerImmediateMessageAppliesWithoutDeferral(t *testing.T) {
	c := newFakeClock(120, 4)
	sched := New(c, nil, make(chan Message, 1), make(chan Notification, 10), nil, nil)

	sched.ProcessMessage(Message{Kind: MsgAddLine})
	assert.Len(t, sched.Scene.Lines, 1)
	assert.Empty(t, sched.deferredActions)
}

func TestRemoveFramesMultiLineDeniesEmptyingLine(t *testing.T) {
	c := newFakeClock(120, 4)
	sched := New(c, nil, make(chan Message, 1), make(chan Notification, 10), nil, nil)
	l := sched.Scene.AddLine()
	l.SetFrames([]float64{1, 1, 1})

	sched.applyRemoveFramesMultiLine([]LineIndices{{Line: 0, Indices: []int{0, 1, 2}}})

	assert.Equal(t, 3, l.NFrames(), "a deletion that would empty the line is denied")
}

func normalizedMax(v int) int {
	if v == int(^uint(0)>>1) {
		return -1
	}
	return v
}

func normalizedMax64(v int64) int64 {
	if v == int64(1<<63-1) {
		return -1
	}
	return v
}
