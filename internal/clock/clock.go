// Package clock exposes the musical time abstraction described in spec.md
// §4.A: an adapter over an external Ableton-Link-style session clock that
// never fails — when no session clock is attached, readers observe a
// monotonically advancing local clock and is_playing == false.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the narrow interface the scheduler and Bali VM consume. Grounded
// on original_source/bubocore/src/schedule.rs's use of `self.clock.*`.
type Clock interface {
	Tempo() float64
	Beat() float64
	Micros() int64
	Quantum() float64
	BeatAtDate(micros int64) float64
	DateAtBeat(beat float64) int64
	BeatsToMicros(beats float64) int64
	SetTempo(bpm float64)

	// CaptureAppState/CommitAppState bracket a transactional read-modify-write
	// of tempo/transport state, mirroring the Link app-session pattern.
	CaptureAppState()
	CommitAppState()

	SessionState() *SessionState
}

// SessionState tracks whether the shared musical clock is currently playing,
// and since when.
type SessionState struct {
	mu        sync.RWMutex
	isPlaying bool
	sinceUs   int64
}

// SetIsPlaying records a play/stop transition observed at atMicros.
func (s *SessionState) SetIsPlaying(playing bool, atMicros int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isPlaying = playing
	s.sinceUs = atMicros
}

// IsPlaying reports the last recorded play/stop state.
func (s *SessionState) IsPlaying() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isPlaying
}

// LocalClock is a free-running fallback clock used when no external Link
// session is reachable: failure is modeled as "there is no session", never as
// an error return (spec.md §4.A: "this component does not fail").
type LocalClock struct {
	mu      sync.Mutex
	startUs int64
	tempo   float64
	quantum float64
	session SessionState
}

// NewLocal constructs a LocalClock starting now, at the given tempo (bpm) and
// quantum (beats per bar).
func NewLocal(tempoBPM, quantum float64) *LocalClock {
	if tempoBPM <= 0 {
		tempoBPM = 120.0
	}
	if quantum <= 0 {
		quantum = 4.0
	}
	return &LocalClock{
		startUs: nowMicros(),
		tempo:   tempoBPM,
		quantum: quantum,
	}
}

func nowMicros() int64 {
	return time.Now().UnixMicro()
}

// Tempo returns the current tempo in beats per minute.
func (c *LocalClock) Tempo() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempo
}

// SetTempo changes the tempo going forward; beats already elapsed are not
// rewritten (a discontinuity in tempo only affects future beat_at_date
// calls from this point on in this simplified local fallback).
func (c *LocalClock) SetTempo(bpm float64) {
	if bpm <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-anchor so that the beat computed just before the change is
	// preserved under the new tempo.
	now := nowMicros()
	beat := c.beatAtDateLocked(now)
	c.tempo = bpm
	c.startUs = now - int64(beat*60_000_000.0/bpm)
}

// Quantum returns beats per bar.
func (c *LocalClock) Quantum() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quantum
}

// Micros returns the current wall-clock time in integer micros.
func (c *LocalClock) Micros() int64 {
	return nowMicros()
}

// Beat returns the current beat position.
func (c *LocalClock) Beat() float64 {
	return c.BeatAtDate(c.Micros())
}

func (c *LocalClock) beatAtDateLocked(micros int64) float64 {
	elapsedUs := float64(micros - c.startUs)
	return elapsedUs * c.tempo / 60_000_000.0
}

// BeatAtDate converts an absolute micros timestamp to a beat position.
func (c *LocalClock) BeatAtDate(micros int64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beatAtDateLocked(micros)
}

// DateAtBeat converts a beat position to an absolute micros timestamp.
func (c *LocalClock) DateAtBeat(beat float64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startUs + int64(beat*60_000_000.0/c.tempo)
}

// BeatsToMicros converts a beat *duration* (not an absolute position) to a
// micros duration at the current tempo.
func (c *LocalClock) BeatsToMicros(beats float64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(beats * 60_000_000.0 / c.tempo)
}

// CaptureAppState/CommitAppState are no-ops for the local fallback: there is
// no external session to transact against.
func (c *LocalClock) CaptureAppState() {}
func (c *LocalClock) CommitAppState()  {}

// SessionState exposes the is-playing flag tracked locally.
func (c *LocalClock) SessionState() *SessionState { return &c.session }

// LinkAdapter wraps an external Ableton-Link-style session clock (the
// WorldInterface-adjacent collaborator named in spec.md §1) behind the same
// Clock interface. The external session type is intentionally left as an
// injected function set: this repository does not ship a Link transport, but
// the seam is real and is what production deployments plug into.
type LinkAdapter struct {
	tempoFn        func() float64
	beatAtDateFn   func(int64) float64
	dateAtBeatFn   func(float64) int64
	quantumFn      func() float64
	setTempoFn     func(float64)
	captureFn      func()
	commitFn       func()
	fallback       *LocalClock
	connected      atomic.Bool
	session        SessionState
}

// NewLinkAdapter builds an adapter. Any nil hook falls back to the embedded
// LocalClock so the adapter degrades gracefully (spec.md §4.A failure model)
// when the external session is only partially available.
func NewLinkAdapter(tempoBPM, quantum float64) *LinkAdapter {
	return &LinkAdapter{fallback: NewLocal(tempoBPM, quantum)}
}

// Attach wires up the external session hooks and marks the adapter connected.
func (a *LinkAdapter) Attach(tempoFn func() float64, beatAtDateFn func(int64) float64, dateAtBeatFn func(float64) int64, quantumFn func() float64, setTempoFn func(float64), captureFn, commitFn func()) {
	a.tempoFn = tempoFn
	a.beatAtDateFn = beatAtDateFn
	a.dateAtBeatFn = dateAtBeatFn
	a.quantumFn = quantumFn
	a.setTempoFn = setTempoFn
	a.captureFn = captureFn
	a.commitFn = commitFn
	a.connected.Store(true)
}

// Detach reverts the adapter to the local fallback clock.
func (a *LinkAdapter) Detach() { a.connected.Store(false) }

func (a *LinkAdapter) Tempo() float64 {
	if a.connected.Load() && a.tempoFn != nil {
		return a.tempoFn()
	}
	return a.fallback.Tempo()
}

func (a *LinkAdapter) Beat() float64 { return a.BeatAtDate(a.Micros()) }

func (a *LinkAdapter) Micros() int64 { return a.fallback.Micros() }

func (a *LinkAdapter) Quantum() float64 {
	if a.connected.Load() && a.quantumFn != nil {
		return a.quantumFn()
	}
	return a.fallback.Quantum()
}

func (a *LinkAdapter) BeatAtDate(micros int64) float64 {
	if a.connected.Load() && a.beatAtDateFn != nil {
		return a.beatAtDateFn(micros)
	}
	return a.fallback.BeatAtDate(micros)
}

func (a *LinkAdapter) DateAtBeat(beat float64) int64 {
	if a.connected.Load() && a.dateAtBeatFn != nil {
		return a.dateAtBeatFn(beat)
	}
	return a.fallback.DateAtBeat(beat)
}

func (a *LinkAdapter) BeatsToMicros(beats float64) int64 {
	tempo := a.Tempo()
	if tempo <= 0 {
		tempo = 120
	}
	return int64(beats * 60_000_000.0 / tempo)
}

func (a *LinkAdapter) SetTempo(bpm float64) {
	if a.connected.Load() && a.setTempoFn != nil {
		a.setTempoFn(bpm)
		return
	}
	a.fallback.SetTempo(bpm)
}

func (a *LinkAdapter) CaptureAppState() {
	if a.connected.Load() && a.captureFn != nil {
		a.captureFn()
	}
}

func (a *LinkAdapter) CommitAppState() {
	if a.connected.Load() && a.commitFn != nil {
		a.commitFn()
	}
}

func (a *LinkAdapter) SessionState() *SessionState { return &a.session }
