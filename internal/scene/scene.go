// Package scene implements the Scene/Line/Script data model described in
// spec.md §3-4.B: pure, deterministic, no-I/O operations over a
// two-dimensional grid of timeline cells.
package scene

import (
	"log"

	"github.com/google/uuid"
)

// DefaultLang is the language tag assigned to a script when none is given.
const DefaultLang = "bali"

// Script is a frame's attached source text plus the language tag used to
// pick its compiler/interpreter, and opaque compiled artifacts filled in by
// the transcoder. Scripts are referenced via a shared handle because clients
// may hold copies concurrently with the scheduler (spec.md §3 Script
// Ownership), so Script is always passed around as *Script and replaced
// wholesale on edit (clone-on-write), never mutated in place by more than one
// owner.
type Script struct {
	ID      uuid.UUID
	Content string
	Lang    string
	Index   int

	// Compiled is an opaque compilation artifact attached by the transcoder;
	// nil until a successful compile. Left as `any` so that package scene
	// does not import package bali, where the concrete bytecode type lives.
	Compiled any
}

// NewScript builds an empty script in the default language, matching what
// make_consistent fills missing frame scripts with.
func NewScript(index int) *Script {
	return &Script{ID: uuid.New(), Content: "", Lang: DefaultLang, Index: index}
}

// Clone returns a new handle with the same content but a fresh identity and
// no compiled artifact, implementing the clone-on-write discipline named in
// spec.md §9.
func (s *Script) Clone() *Script {
	return &Script{ID: uuid.New(), Content: s.Content, Lang: s.Lang, Index: s.Index}
}

// Line is one row of the timeline: an ordered sequence of frames plus mutable
// playhead state. Field-for-field grounded on spec.md §3 Line.
type Line struct {
	Index int

	Frames           []float64 // per-frame beat length
	Scripts          []*Script
	FrameNames       []*string
	FrameRepetitions []int
	Enabled          []bool

	StartFrame   *int
	EndFrame     *int
	CustomLength *float64
	SpeedFactor  float64

	// Mutable playhead, advanced only by the scheduler.
	CurrentFrame        int
	CurrentIteration    int
	CurrentRepetition   int
	FirstIterationIndex int
	FramesPassed        int64
	FramesExecuted      int64
}

// NewLine builds an empty line with sane defaults (SpeedFactor 1.0).
func NewLine(index int) *Line {
	return &Line{Index: index, SpeedFactor: 1.0}
}

// NFrames returns the number of frames currently held.
func (l *Line) NFrames() int { return len(l.Frames) }

// FrameLen returns the beat length of frame i, or 0 if out of range. Matches
// the error policy in spec.md §4.B: out-of-range indices are silently
// clamped/no-op.
func (l *Line) FrameLen(i int) float64 {
	if i < 0 || i >= len(l.Frames) {
		return 0
	}
	return l.Frames[i]
}

// IsFrameEnabled reports whether frame i is enabled; out-of-range is false.
func (l *Line) IsFrameEnabled(i int) bool {
	if i < 0 || i >= len(l.Enabled) {
		return false
	}
	return l.Enabled[i]
}

// GetEffectiveStartFrame returns StartFrame if set, else 0.
func (l *Line) GetEffectiveStartFrame() int {
	if l.StartFrame != nil {
		return *l.StartFrame
	}
	return 0
}

// GetEffectiveNumFrames returns the number of frames covered by the
// effective [start, end] range; if neither marker is set, covers all frames.
func (l *Line) GetEffectiveNumFrames() int {
	start := l.GetEffectiveStartFrame()
	end := len(l.Frames) - 1
	if l.EndFrame != nil {
		end = *l.EndFrame
	}
	if end < start || len(l.Frames) == 0 {
		return 0
	}
	if end >= len(l.Frames) {
		end = len(l.Frames) - 1
	}
	return end - start + 1
}

// InsertFrame inserts a frame of the given beat length at pos, shifting
// subsequent frames right. Out-of-range pos clamps to the nearest valid end.
func (l *Line) InsertFrame(pos int, length float64) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(l.Frames) {
		pos = len(l.Frames)
	}
	l.Frames = insertFloat(l.Frames, pos, length)
	l.Scripts = insertScript(l.Scripts, pos, NewScript(pos))
	l.FrameNames = insertNamePtr(l.FrameNames, pos, nil)
	l.FrameRepetitions = insertInt(l.FrameRepetitions, pos, 1)
	l.Enabled = insertBool(l.Enabled, pos, true)
	l.reindexScripts()
}

// RemoveFrame deletes the frame at pos, if in range; otherwise it is a no-op
// per the spec's silent-clamp error policy.
func (l *Line) RemoveFrame(pos int) {
	if pos < 0 || pos >= len(l.Frames) {
		log.Printf("[SCENE] remove_frame: index %d out of range for line %d, ignoring", pos, l.Index)
		return
	}
	l.Frames = append(l.Frames[:pos], l.Frames[pos+1:]...)
	l.Scripts = append(l.Scripts[:pos], l.Scripts[pos+1:]...)
	l.FrameNames = append(l.FrameNames[:pos], l.FrameNames[pos+1:]...)
	l.FrameRepetitions = append(l.FrameRepetitions[:pos], l.FrameRepetitions[pos+1:]...)
	l.Enabled = append(l.Enabled[:pos], l.Enabled[pos+1:]...)
	l.reindexScripts()
	l.clampMarkers()
}

func (l *Line) reindexScripts() {
	for i, s := range l.Scripts {
		if s != nil {
			s.Index = i
		}
	}
}

// EnableFrame/DisableFrame toggle a single frame; out-of-range is a no-op.
func (l *Line) EnableFrame(i int)  { l.setEnabled(i, true) }
func (l *Line) DisableFrame(i int) { l.setEnabled(i, false) }

func (l *Line) setEnabled(i int, v bool) {
	if i < 0 || i >= len(l.Enabled) {
		log.Printf("[SCENE] frame index %d out of range for line %d, ignoring", i, l.Index)
		return
	}
	l.Enabled[i] = v
}

// EnableFrames/DisableFrames apply setEnabled to each index in idx.
func (l *Line) EnableFrames(idx []int) {
	for _, i := range idx {
		l.EnableFrame(i)
	}
}
func (l *Line) DisableFrames(idx []int) {
	for _, i := range idx {
		l.DisableFrame(i)
	}
}

// SetScript replaces the script handle at frame i.
func (l *Line) SetScript(i int, s *Script) {
	if i < 0 || i >= len(l.Scripts) {
		log.Printf("[SCENE] set_script: index %d out of range for line %d, ignoring", i, l.Index)
		return
	}
	s.Index = i
	l.Scripts[i] = s
}

// SetFrameName sets or clears (nil) the label of frame i.
func (l *Line) SetFrameName(i int, name *string) {
	if i < 0 || i >= len(l.FrameNames) {
		log.Printf("[SCENE] set_frame_name: index %d out of range for line %d, ignoring", i, l.Index)
		return
	}
	l.FrameNames[i] = name
}

// SetFrames bulk-replaces the beat-length vector, then re-runs consistency to
// keep parallel vectors aligned.
func (l *Line) SetFrames(frames []float64) {
	l.Frames = append([]float64(nil), frames...)
	l.makeConsistent()
}

func (l *Line) clampMarkers() {
	n := len(l.Frames)
	if n == 0 {
		l.StartFrame = nil
		l.EndFrame = nil
		return
	}
	if l.StartFrame != nil {
		v := clampInt(*l.StartFrame, 0, n-1)
		l.StartFrame = &v
	}
	if l.EndFrame != nil {
		v := clampInt(*l.EndFrame, 0, n-1)
		l.EndFrame = &v
	}
	if l.StartFrame != nil && l.EndFrame != nil && *l.StartFrame > *l.EndFrame {
		v := *l.StartFrame
		l.EndFrame = &v
	}
}

// MakeConsistent re-runs the per-line consistency pass after a direct field
// edit (e.g. StartFrame/EndFrame set by the scheduler), exported for callers
// outside this package that mutate Line fields directly.
func (l *Line) MakeConsistent() { l.makeConsistent() }

// makeConsistent resizes the line's parallel vectors to match Frames,
// defaults repetitions to 1, fills missing scripts with an empty default
// script, and clamps start/end markers. Implements the per-line half of
// spec.md §4.B make_consistent and invariant 1/2 in §8.
func (l *Line) makeConsistent() {
	n := len(l.Frames)

	if l.SpeedFactor <= 0 {
		l.SpeedFactor = 1.0
	}

	for len(l.Scripts) < n {
		l.Scripts = append(l.Scripts, NewScript(len(l.Scripts)))
	}
	l.Scripts = l.Scripts[:n]
	for i, s := range l.Scripts {
		if s == nil {
			l.Scripts[i] = NewScript(i)
		}
	}

	for len(l.FrameNames) < n {
		l.FrameNames = append(l.FrameNames, nil)
	}
	l.FrameNames = l.FrameNames[:n]

	for len(l.FrameRepetitions) < n {
		l.FrameRepetitions = append(l.FrameRepetitions, 1)
	}
	l.FrameRepetitions = l.FrameRepetitions[:n]
	for i, r := range l.FrameRepetitions {
		if r < 1 {
			l.FrameRepetitions[i] = 1
		}
	}

	for len(l.Enabled) < n {
		l.Enabled = append(l.Enabled, true)
	}
	l.Enabled = l.Enabled[:n]

	l.reindexScripts()
	l.clampMarkers()
}

// Scene is the ordered sequence of Lines plus the global loop length.
type Scene struct {
	Lines  []*Line
	Length int // positive integer, unit = beats
}

// NewScene builds an empty scene with the given loop length in beats.
func NewScene(length int) *Scene {
	if length <= 0 {
		length = 1
	}
	return &Scene{Length: length}
}

// AddLine appends a new empty line and returns it.
func (s *Scene) AddLine() *Line {
	l := NewLine(len(s.Lines))
	s.Lines = append(s.Lines, l)
	return l
}

// RemoveLine deletes the line at index, if in range, and reindexes the rest.
func (s *Scene) RemoveLine(index int) {
	if index < 0 || index >= len(s.Lines) {
		log.Printf("[SCENE] remove_line: index %d out of range, ignoring", index)
		return
	}
	s.Lines = append(s.Lines[:index], s.Lines[index+1:]...)
	for i, l := range s.Lines {
		l.Index = i
	}
}

// SetLine replaces the line at index wholesale.
func (s *Scene) SetLine(index int, l *Line) {
	if index < 0 || index >= len(s.Lines) {
		log.Printf("[SCENE] set_line: index %d out of range, ignoring", index)
		return
	}
	l.Index = index
	s.Lines[index] = l
}

// MutLine returns the line at index for in-place editing, or nil if out of
// range. Callers use this the way the original's `mut_line` does: a single
// mutable borrow scoped to one edit.
func (s *Scene) MutLine(index int) *Line {
	if index < 0 || index >= len(s.Lines) {
		return nil
	}
	return s.Lines[index]
}

// MakeConsistent ensures every line's parallel vectors match in length and
// that scene.Length is positive, implementing spec.md §4.B / §8 invariants 1
// and 2.
func (s *Scene) MakeConsistent() {
	if s.Length <= 0 {
		s.Length = 1
	}
	for _, l := range s.Lines {
		l.makeConsistent()
	}
}

// Clone returns a deep-enough copy for clone-on-write semantics: lines and
// their slices are copied, script handles are shared (read-only) unless
// later replaced via SetScript.
func (s *Scene) Clone() *Scene {
	out := &Scene{Length: s.Length}
	for _, l := range s.Lines {
		nl := *l
		nl.Frames = append([]float64(nil), l.Frames...)
		nl.Scripts = append([]*Script(nil), l.Scripts...)
		nl.FrameNames = append([]*string(nil), l.FrameNames...)
		nl.FrameRepetitions = append([]int(nil), l.FrameRepetitions...)
		nl.Enabled = append([]bool(nil), l.Enabled...)
		out.Lines = append(out.Lines, &nl)
	}
	return out
}

func insertFloat(s []float64, pos int, v float64) []float64 {
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}
func insertInt(s []int, pos int, v int) []int {
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}
func insertBool(s []bool, pos int, v bool) []bool {
	s = append(s, false)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}
func insertNamePtr(s []*string, pos int, v *string) []*string {
	s = append(s, nil)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}
func insertScript(s []*Script, pos int, v *Script) []*Script {
	s = append(s, nil)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
