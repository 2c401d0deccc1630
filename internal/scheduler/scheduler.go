// Package scheduler implements the event loop described in spec.md §4.D: a
// single dedicated goroutine owning the active scene, the musical clock, a
// deferred-action queue, and a bytecode execution queue, emitting timed
// events to a world sink. Grounded throughout on
// original_source/bubocore/src/schedule.rs's Scheduler/do_your_thing.
package scheduler

import (
	"log"
	"math"
	"sort"
	"time"

	"github.com/schollz/collidertracker/internal/bali"
	"github.com/schollz/collidertracker/internal/clock"
	"github.com/schollz/collidertracker/internal/deviceslot"
	"github.com/schollz/collidertracker/internal/scene"
	"github.com/schollz/collidertracker/internal/variable"
)

// afterMicros returns a channel that fires once after the given micros have
// elapsed, the Go stand-in for recv_timeout's duration argument.
func afterMicros(micros int64) <-chan time.Time {
	if micros < 0 {
		micros = 0
	}
	return time.After(time.Duration(micros) * time.Microsecond)
}

// ScheduledDrift is the lookahead, in micros, the scheduler computes frame
// positions at ahead of the wall clock, giving downstream transport enough
// headroom to deliver events on time (spec.md §4.D "Scheduled drift").
// Kept as the original's 30ms; see DESIGN.md for why this isn't a CLI flag.
const ScheduledDrift int64 = 30_000

// ActionTimingKind tags ActionTiming.
type ActionTimingKind int

const (
	TimingImmediate ActionTimingKind = iota
	TimingEndOfScene
	TimingAtBeat
)

// ActionTiming specifies when a scheduler action should be applied.
type ActionTiming struct {
	Kind ActionTimingKind
	Beat uint64 // meaningful only for TimingAtBeat
}

// Immediate, EndOfScene and AtBeat are convenience constructors.
func Immediate() ActionTiming           { return ActionTiming{Kind: TimingImmediate} }
func EndOfScene() ActionTiming          { return ActionTiming{Kind: TimingEndOfScene} }
func AtBeat(beat uint64) ActionTiming   { return ActionTiming{Kind: TimingAtBeat, Beat: beat} }

// MessageKind discriminates the Message sum type (spec.md §4.D SchedulerMessage).
type MessageKind int

const (
	MsgUploadScene MessageKind = iota
	MsgEnableFrames
	MsgDisableFrames
	MsgUploadScript
	MsgUpdateLineFrames
	MsgInsertFrame
	MsgRemoveFrame
	MsgAddLine
	MsgRemoveLine
	MsgSetLine
	MsgSetLineStartFrame
	MsgSetLineEndFrame
	MsgSetScene
	MsgSetSceneLength
	MsgSetTempo
	MsgSetLineLength
	MsgSetLineSpeedFactor
	MsgTransportStart
	MsgTransportStop
	MsgSetFrameName
	MsgSetScriptLanguage
	MsgSetFrameRepetitions
	MsgInternalDuplicateFrame
	MsgInternalDuplicateFrameRange
	MsgInternalRemoveFramesMultiLine
	MsgInternalInsertDuplicatedBlocks
)

// DuplicatedFrameData is one frame's worth of payload carried by the
// duplicate/paste family of messages.
type DuplicatedFrameData struct {
	Length      float64
	Enabled     bool
	Script      *scene.Script
	Name        *string
	Repetitions int
}

// LineIndices pairs a line index with the frame positions to remove from it,
// used by MsgInternalRemoveFramesMultiLine.
type LineIndices struct {
	Line    int
	Indices []int
}

// Message is one mutating instruction sent to the scheduler. Only the fields
// relevant to Kind are meaningful; this mirrors the Event/EventOperands
// pattern in package bali for the same reason: Go has no tagged union, so an
// enum-tagged struct carrying every variant's payload is the idiomatic stand-in.
type Message struct {
	Kind   MessageKind
	Timing ActionTiming

	Line  int
	Frame int

	Frames  []int     // EnableFrames/DisableFrames/UpdateLineFrames target set
	FramesF []float64 // UpdateLineFrames new length vector

	Pos    int     // InsertFrame/RemoveFrame position
	Length float64 // InsertFrame length / SetSceneLength / SetLineLength

	Script *scene.Script
	Lang   string

	NewLine *scene.Line

	OptInt   *int     // SetLineStartFrame/SetLineEndFrame
	OptFloat *float64 // SetLineLength custom length

	Tempo       float64
	SpeedFactor float64

	Name        *string // SetFrameName
	Repetitions int      // SetFrameRepetitions

	Scene *scene.Scene // UploadScene/SetScene

	Duplicate       DuplicatedFrameData
	DuplicateRange  []DuplicatedFrameData
	LinesAndIndices []LineIndices
	Blocks          [][]DuplicatedFrameData
}

// timing reports the ActionTiming this message carries; Immediate-only
// messages (AddLine, UploadScene) report TimingImmediate regardless of the
// zero-valued Timing field, matching process_message's match arms.
func (m Message) timing() ActionTiming {
	switch m.Kind {
	case MsgUploadScene, MsgAddLine:
		return Immediate()
	default:
		return m.Timing
	}
}

// NotificationKind discriminates Notification (spec.md §4.D SchedulerNotification).
type NotificationKind int

const (
	NotifyNothing NotificationKind = iota
	NotifyUpdatedScene
	NotifyUpdatedLine
	NotifyTempoChanged
	NotifyLog
	NotifyTransportStarted
	NotifyTransportStopped
	NotifyFramePositionChanged
	NotifyClientListChanged
	NotifyChatReceived
	NotifyEnableFrames
	NotifyDisableFrames
	NotifyUploadedScript
	NotifyUpdatedLineFrames
	NotifyAddedLine
	NotifyRemovedLine
	NotifyPeerGridSelectionChanged
	NotifyPeerStartedEditingFrame
	NotifyPeerStoppedEditingFrame
	NotifySceneLengthChanged
	NotifyDeviceListChanged
)

// FramePosition is one line's playhead snapshot, carried by
// NotifyFramePositionChanged.
type FramePosition struct {
	Line, Frame, Repetition int
}

// Notification is one event broadcast by the scheduler (or, for the peer-
// presence/chat/device-list kinds, by package server reusing this same type
// per spec.md's single SchedulerNotification enum). Only scheduler-owned
// kinds are ever produced by Scheduler itself; see DESIGN.md.
type Notification struct {
	Kind NotificationKind

	Scene     *scene.Scene
	Line      *scene.Line
	LineIndex int

	Tempo float64

	LogMessage string

	Positions []FramePosition

	Clients []string

	ChatFrom, ChatMessage string

	Frames  []int
	FramesF []float64

	Script *scene.Script

	Length int
}

// PlaybackStateKind tags PlaybackState.
type PlaybackStateKind int

const (
	Stopped PlaybackStateKind = iota
	Starting
	Playing
)

// PlaybackState is the scheduler's internal transport state machine value.
type PlaybackState struct {
	Kind       PlaybackStateKind
	TargetBeat float64 // meaningful only for Starting
}

type deferredAction struct {
	action Message
	timing ActionTiming
}

// Scheduler owns all mutable scene/transport state; every field below is
// touched only from the goroutine running Run, matching spec.md §4.D's
// single-dedicated-thread execution model.
type Scheduler struct {
	Scene      *scene.Scene
	GlobalVars *variable.Store

	executions []*ScriptExecution
	lineVars   map[int]*variable.Store

	world deviceslot.WorldInterface
	clock clock.Clock

	messages chan Message
	notify   chan Notification

	nextWait              *int64
	processedSceneModification bool
	deferredActions       []deferredAction
	lastBeat              float64
	playbackState         PlaybackState
	IsPlaying             func() bool
	setIsPlaying          func(bool)

	randSource func(bound uint64) uint64
}

// New builds a Scheduler with an empty four-beat scene. messages/notify
// should be buffered enough to avoid blocking senders; a typical embedder
// uses a few hundred slots.
func New(c clock.Clock, world deviceslot.WorldInterface, messages chan Message, notify chan Notification, setIsPlaying func(bool), randSource func(uint64) uint64) *Scheduler {
	if randSource == nil {
		randSource = func(bound uint64) uint64 { return 0 }
	}
	if setIsPlaying == nil {
		setIsPlaying = func(bool) {}
	}
	playing := false
	return &Scheduler{
		Scene:         scene.NewScene(4),
		GlobalVars:    variable.NewStore(),
		lineVars:      make(map[int]*variable.Store),
		world:         world,
		clock:         c,
		messages:      messages,
		notify:        notify,
		playbackState: PlaybackState{Kind: Stopped},
		IsPlaying:     func() bool { return playing },
		setIsPlaying:  func(v bool) { playing = v; setIsPlaying(v) },
		randSource:    randSource,
	}
}

func (s *Scheduler) sendNotify(n Notification) {
	if s.notify == nil {
		return
	}
	select {
	case s.notify <- n:
	default:
		log.Printf("[SCHEDULER] notification channel full, dropping %v", n.Kind)
	}
}

func (s *Scheduler) notifyUpdatedScene() {
	s.sendNotify(Notification{Kind: NotifyUpdatedScene, Scene: s.Scene})
}

// lineStore returns (creating if necessary) the persistent variable store
// for lineIdx, matching the Line-scoped Variable tag's lifetime: it survives
// across different frames/executions of the same line.
func (s *Scheduler) lineStore(lineIdx int) *variable.Store {
	st, ok := s.lineVars[lineIdx]
	if !ok {
		st = variable.NewStore()
		s.lineVars[lineIdx] = st
	}
	return st
}

// FrameIndex computes the currently-active frame, loop iteration, repetition
// index, the absolute start date of that repetition's first occurrence, and
// the delay until the next boundary (frame or loop) is crossed. Pure
// function of its arguments so it's directly testable; grounded line-for-
// line on schedule.rs's Scheduler::frame_index (spec.md §4.D).
func FrameIndex(c clock.Clock, sceneLength int, line *scene.Line, date int64) (absFrame, iteration, repetition int, startDateOfRep0, delayToNextBoundary int64) {
	effectiveLoopLength := float64(sceneLength)
	if line.CustomLength != nil {
		effectiveLoopLength = *line.CustomLength
	}
	if effectiveLoopLength <= 0 {
		return math.MaxInt, math.MaxInt, 0, math.MaxInt64, math.MaxInt64
	}

	absBeat := c.BeatAtDate(date)
	if absBeat < 0 {
		return math.MaxInt, math.MaxInt, 0, math.MaxInt64, math.MaxInt64
	}

	beatInLoop := math.Mod(absBeat, effectiveLoopLength)
	if beatInLoop < 0 {
		beatInLoop += effectiveLoopLength
	}
	loopIteration := int(math.Floor(absBeat / effectiveLoopLength))

	effectiveStart := line.GetEffectiveStartFrame()
	effectiveNum := line.GetEffectiveNumFrames()
	if effectiveNum == 0 {
		remaining := c.BeatsToMicros(effectiveLoopLength - beatInLoop)
		return math.MaxInt, loopIteration, 0, math.MaxInt64, remaining
	}

	cumulative := 0.0
	for i := 0; i < effectiveNum; i++ {
		absoluteFrame := effectiveStart + i

		speedFactor := line.SpeedFactor
		if speedFactor == 0 {
			speedFactor = 1.0
		}
		singleRepLen := line.FrameLen(absoluteFrame) / speedFactor
		if singleRepLen <= 0 {
			continue
		}
		totalReps := line.FrameRepetitions[absoluteFrame]
		if totalReps < 1 {
			totalReps = 1
		}
		totalFrameLen := singleRepLen * float64(totalReps)

		frameEndBeat := cumulative + totalFrameLen
		if beatInLoop >= cumulative && beatInLoop < frameEndBeat {
			beatWithinFrame := beatInLoop - cumulative
			currentRep := int(math.Floor(beatWithinFrame / singleRepLen))
			if currentRep < 0 {
				currentRep = 0
			}
			if currentRep > totalReps-1 {
				currentRep = totalReps - 1
			}

			absBeatAtLoopStart := float64(loopIteration) * effectiveLoopLength
			firstRepStartBeat := absBeatAtLoopStart + cumulative
			startDate := c.DateAtBeat(firstRepStartBeat)

			currentRepEndBeat := cumulative + singleRepLen*float64(currentRep+1)
			remainingInRep := c.BeatsToMicros(currentRepEndBeat - beatInLoop)
			remainingInLoop := c.BeatsToMicros(effectiveLoopLength - beatInLoop)
			delay := remainingInRep
			if remainingInLoop < delay {
				delay = remainingInLoop
			}

			return absoluteFrame, loopIteration, currentRep, startDate, delay
		}
		cumulative += totalFrameLen
	}

	remaining := c.BeatsToMicros(effectiveLoopLength - beatInLoop)
	return math.MaxInt, loopIteration, 0, math.MaxInt64, remaining
}

// ChangeScene installs newScene as the authoritative scene, recomputing every
// line's playhead from the scheduled-drift-adjusted date and re-queuing
// initial executions for active enabled frames (spec.md §4.D "Scene change").
func (s *Scheduler) ChangeScene(newScene *scene.Scene) {
	date := s.theoreticalDate()
	newScene.MakeConsistent()
	sceneLen := newScene.Length

	for _, line := range newScene.Lines {
		frame, iter, _, _, _ := FrameIndex(s.clock, sceneLen, line, date)
		line.CurrentFrame = frame
		line.CurrentIteration = iter
		line.FirstIterationIndex = iter
		line.CurrentRepetition = 0
	}

	s.executions = nil

	for _, line := range newScene.Lines {
		frame, _, _, scheduledDate, _ := FrameIndex(s.clock, sceneLen, line, date)
		if frame < math.MaxInt && line.IsFrameEnabled(frame) {
			script := line.Scripts[frame]
			s.queueExecution(script, line.Index, scheduledDate, line.FrameLen(frame)/effectiveSpeed(line))
		}
	}

	s.Scene = newScene
	s.notifyUpdatedScene()
}

func effectiveSpeed(line *scene.Line) float64 {
	if line.SpeedFactor == 0 {
		return 1.0
	}
	return line.SpeedFactor
}

func (s *Scheduler) theoreticalDate() int64 {
	return s.clock.Micros() + ScheduledDrift
}

// queueExecution queues script's compiled program against a fresh
// per-instance Exec; it does not compile. A script whose Compiled field does
// not hold a bali.Program is skipped with a log, matching spec.md §7 error 5.
func (s *Scheduler) queueExecution(script *scene.Script, lineIdx int, atMicros int64, frameLenBeats float64) {
	if script == nil {
		return
	}
	prog, ok := script.Compiled.(bali.Program)
	if !ok {
		log.Printf("[SCHEDULER] line %d frame %d has no compiled program, skipping execution", lineIdx, script.Index)
		return
	}
	exec := bali.NewExec()
	exec.Global = s.GlobalVars
	exec.Line = s.lineStore(lineIdx)
	exec.Frame = variable.NewStore()
	exec.RandomUint = s.randSource
	exec.Tempo = s.clock.Tempo
	exec.NowBeats = s.clock.Beat
	exec.Emit = func(ev bali.Event) {
		if s.world != nil {
			s.world.Dispatch(ev)
		}
	}
	se := &ScriptExecution{
		LineIndex:     lineIdx,
		Exec:          exec,
		Program:       prog,
		FrameLenBeats: frameLenBeats,
		readyAtMicros: atMicros,
	}
	s.executions = append(s.executions, se)
}

// ProcessMessage routes msg either to immediate application or the deferred
// queue, matching schedule.rs's process_message.
func (s *Scheduler) ProcessMessage(msg Message) {
	timing := msg.timing()
	if timing.Kind == TimingImmediate {
		s.applyAction(msg)
		return
	}
	s.deferredActions = append(s.deferredActions, deferredAction{action: msg, timing: timing})
}

// applyAction applies the state change of msg, assuming its timing condition
// (if any) has already been satisfied.
func (s *Scheduler) applyAction(msg Message) {
	switch msg.Kind {
	case MsgEnableFrames:
		if l := s.Scene.MutLine(msg.Line); l != nil {
			l.EnableFrames(msg.Frames)
			s.notifyUpdatedScene()
		} else {
			log.Printf("[SCHEDULER] EnableFrames: invalid line %d", msg.Line)
		}
	case MsgDisableFrames:
		if l := s.Scene.MutLine(msg.Line); l != nil {
			l.DisableFrames(msg.Frames)
			s.notifyUpdatedScene()
		} else {
			log.Printf("[SCHEDULER] DisableFrames: invalid line %d", msg.Line)
		}
	case MsgUploadScript:
		if l := s.Scene.MutLine(msg.Line); l != nil {
			l.SetScript(msg.Frame, msg.Script)
			s.notifyUpdatedScene()
		} else {
			log.Printf("[SCHEDULER] UploadScript: invalid line %d", msg.Line)
		}
	case MsgUpdateLineFrames:
		if l := s.Scene.MutLine(msg.Line); l != nil {
			l.SetFrames(msg.FramesF)
			s.notifyUpdatedScene()
		} else {
			log.Printf("[SCHEDULER] UpdateLineFrames: invalid line %d", msg.Line)
		}
	case MsgInsertFrame:
		if l := s.Scene.MutLine(msg.Line); l != nil {
			l.InsertFrame(msg.Pos, msg.Length)
			s.notifyUpdatedScene()
		} else {
			log.Printf("[SCHEDULER] InsertFrame: invalid line %d", msg.Line)
		}
	case MsgRemoveFrame:
		if l := s.Scene.MutLine(msg.Line); l != nil {
			l.RemoveFrame(msg.Pos)
			s.notifyUpdatedScene()
		} else {
			log.Printf("[SCHEDULER] RemoveFrame: invalid line %d", msg.Line)
		}
	case MsgRemoveLine:
		s.Scene.RemoveLine(msg.Line)
		s.notifyUpdatedScene()
	case MsgSetLine:
		s.Scene.SetLine(msg.Line, msg.NewLine)
		s.notifyUpdatedScene()
	case MsgSetLineStartFrame:
		if l := s.Scene.MutLine(msg.Line); l != nil {
			l.StartFrame = msg.OptInt
			l.MakeConsistent()
			s.notifyUpdatedScene()
		} else {
			log.Printf("[SCHEDULER] SetLineStartFrame: invalid line %d", msg.Line)
		}
	case MsgSetLineEndFrame:
		if l := s.Scene.MutLine(msg.Line); l != nil {
			l.EndFrame = msg.OptInt
			l.MakeConsistent()
			s.notifyUpdatedScene()
		} else {
			log.Printf("[SCHEDULER] SetLineEndFrame: invalid line %d", msg.Line)
		}
	case MsgSetSceneLength:
		s.Scene.Length = int(msg.Length)
		s.Scene.MakeConsistent()
		s.sendNotify(Notification{Kind: NotifySceneLengthChanged, Length: int(msg.Length)})
	case MsgSetTempo:
		s.clock.SetTempo(msg.Tempo)
		s.sendNotify(Notification{Kind: NotifyTempoChanged, Tempo: msg.Tempo})
	case MsgSetLineLength:
		if l := s.Scene.MutLine(msg.Line); l != nil {
			l.CustomLength = msg.OptFloat
			s.notifyUpdatedScene()
		} else {
			log.Printf("[SCHEDULER] SetLineLength: invalid line %d", msg.Line)
		}
	case MsgSetLineSpeedFactor:
		if l := s.Scene.MutLine(msg.Line); l != nil {
			if msg.SpeedFactor > 0 {
				l.SpeedFactor = msg.SpeedFactor
			} else {
				l.SpeedFactor = 1.0
			}
			s.notifyUpdatedScene()
		} else {
			log.Printf("[SCHEDULER] SetLineSpeedFactor: invalid line %d", msg.Line)
		}
	case MsgTransportStart:
		s.transportStart()
	case MsgTransportStop:
		s.transportStop()
	case MsgUploadScene:
		s.ChangeScene(msg.Scene)
	case MsgSetScene:
		s.ChangeScene(msg.Scene)
	case MsgAddLine:
		s.Scene.AddLine()
		s.notifyUpdatedScene()
	case MsgSetFrameName:
		if l := s.Scene.MutLine(msg.Line); l != nil {
			l.SetFrameName(msg.Frame, msg.Name)
			s.notifyUpdatedScene()
		} else {
			log.Printf("[SCHEDULER] SetFrameName: invalid line %d", msg.Line)
		}
	case MsgSetScriptLanguage:
		if l := s.Scene.MutLine(msg.Line); l != nil && msg.Frame >= 0 && msg.Frame < len(l.Scripts) && l.Scripts[msg.Frame] != nil {
			l.Scripts[msg.Frame].Lang = msg.Lang
			s.notifyUpdatedScene()
		} else {
			log.Printf("[SCHEDULER] SetScriptLanguage: invalid line/frame %d/%d", msg.Line, msg.Frame)
		}
	case MsgSetFrameRepetitions:
		if l := s.Scene.MutLine(msg.Line); l != nil && msg.Frame >= 0 && msg.Frame < len(l.FrameRepetitions) {
			if msg.Repetitions < 1 {
				msg.Repetitions = 1
			}
			l.FrameRepetitions[msg.Frame] = msg.Repetitions
			s.notifyUpdatedScene()
		} else {
			log.Printf("[SCHEDULER] SetFrameRepetitions: invalid line/frame %d/%d", msg.Line, msg.Frame)
		}
	case MsgInternalDuplicateFrame:
		s.applyDuplicateFrame(msg.Line, msg.Pos, msg.Duplicate)
	case MsgInternalDuplicateFrameRange:
		idx := msg.Pos
		for _, fd := range msg.DuplicateRange {
			s.applyDuplicateFrame(msg.Line, idx, fd)
			idx++
		}
	case MsgInternalRemoveFramesMultiLine:
		s.applyRemoveFramesMultiLine(msg.LinesAndIndices)
	case MsgInternalInsertDuplicatedBlocks:
		s.applyInsertDuplicatedBlocks(msg.Line, msg.Pos, msg.Blocks)
	}
}

func (s *Scheduler) applyDuplicateFrame(lineIdx, pos int, fd DuplicatedFrameData) {
	l := s.Scene.MutLine(lineIdx)
	if l == nil {
		log.Printf("[SCHEDULER] InternalDuplicateFrame: invalid line %d", lineIdx)
		return
	}
	l.InsertFrame(pos, fd.Length)
	if fd.Enabled {
		l.EnableFrame(pos)
	} else {
		l.DisableFrame(pos)
	}
	if fd.Script != nil {
		cp := fd.Script.Clone()
		cp.Index = pos
		l.SetScript(pos, cp)
	}
	l.SetFrameName(pos, fd.Name)
	if pos >= 0 && pos < len(l.FrameRepetitions) {
		reps := fd.Repetitions
		if reps < 1 {
			reps = 1
		}
		l.FrameRepetitions[pos] = reps
	}
	s.notifyUpdatedScene()
}

func (s *Scheduler) applyRemoveFramesMultiLine(linesAndIndices []LineIndices) {
	for _, li := range linesAndIndices {
		l := s.Scene.MutLine(li.Line)
		if l == nil {
			continue
		}
		current := l.NFrames()
		if current > 0 && len(li.Indices) >= current {
			log.Printf("[SCHEDULER] denied removing %d frames from line %d (would empty line)", len(li.Indices), li.Line)
			continue
		}
		sorted := append([]int(nil), li.Indices...)
		sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
		for _, idx := range sorted {
			l.RemoveFrame(idx)
		}
	}
	s.notifyUpdatedScene()
}

func (s *Scheduler) applyInsertDuplicatedBlocks(targetLine, targetFrame int, blocks [][]DuplicatedFrameData) {
	for colOffset, col := range blocks {
		lineIdx := targetLine + colOffset
		l := s.Scene.MutLine(lineIdx)
		if l == nil {
			log.Printf("[SCHEDULER] InternalInsertDuplicatedBlocks: column %d targets invalid line %d, skipping", colOffset, lineIdx)
			continue
		}
		idx := targetFrame
		for _, fd := range col {
			s.applyDuplicateFrameQuiet(l, idx, fd)
			idx++
		}
	}
	s.notifyUpdatedScene()
}

func (s *Scheduler) applyDuplicateFrameQuiet(l *scene.Line, pos int, fd DuplicatedFrameData) {
	l.InsertFrame(pos, fd.Length)
	if fd.Enabled {
		l.EnableFrame(pos)
	} else {
		l.DisableFrame(pos)
	}
	if fd.Script != nil {
		cp := fd.Script.Clone()
		cp.Index = pos
		l.SetScript(pos, cp)
	}
	l.SetFrameName(pos, fd.Name)
	if pos >= 0 && pos < len(l.FrameRepetitions) {
		reps := fd.Repetitions
		if reps < 1 {
			reps = 1
		}
		l.FrameRepetitions[pos] = reps
	}
}

func (s *Scheduler) transportStart() {
	currentMicros := s.clock.Micros()
	currentBeat := s.clock.BeatAtDate(currentMicros)
	quantum := s.clock.Quantum()
	startBeat := (math.Floor(currentBeat/quantum) + 1.0) * quantum
	startMicros := s.clock.DateAtBeat(startBeat)

	log.Printf("[SCHEDULER] requesting transport start at beat %.4f (%d micros)", startBeat, startMicros)
	s.clock.SessionState().SetIsPlaying(true, startMicros)
	s.clock.CommitAppState()
	s.sendNotify(Notification{Kind: NotifyTransportStarted})
}

func (s *Scheduler) transportStop() {
	now := s.clock.Micros()
	log.Printf("[SCHEDULER] requesting transport stop now")
	s.clock.SessionState().SetIsPlaying(false, now)
	s.clock.CommitAppState()
	s.executions = nil
	s.sendNotify(Notification{Kind: NotifyTransportStopped})
	s.setIsPlaying(false)
}

// processDeferred applies every deferred action whose timing has come due at
// currentBeat, matching schedule.rs's two-phase identify-then-apply pass
// (spec.md §4.D step 5).
func (s *Scheduler) processDeferred(currentBeat float64) {
	sceneLenBeats := float64(s.Scene.Length)
	var toApply []int
	for i, d := range s.deferredActions {
		shouldApply := false
		switch d.timing.Kind {
		case TimingAtBeat:
			shouldApply = currentBeat >= float64(d.timing.Beat)
		case TimingEndOfScene:
			if sceneLenBeats > 0 {
				shouldApply = math.Mod(s.lastBeat, sceneLenBeats) > math.Mod(currentBeat, sceneLenBeats)
			}
		}
		if shouldApply {
			toApply = append(toApply, i)
		}
	}
	if len(toApply) == 0 {
		return
	}
	for _, idx := range toApply {
		s.applyAction(s.deferredActions[idx].action)
	}
	applied := make(map[int]bool, len(toApply))
	for _, idx := range toApply {
		applied[idx] = true
	}
	var remaining []deferredAction
	for i, d := range s.deferredActions {
		if !applied[i] {
			remaining = append(remaining, d)
		}
	}
	s.deferredActions = remaining
}

// Step runs exactly one iteration of the scheduler's main loop body (spec.md
// §4.D steps 1-9), given that a message (if any) has already been drained
// into msg. Exposed separately from Run so tests can drive single ticks
// deterministically.
func (s *Scheduler) Step(msg *Message) {
	s.processedSceneModification = false
	s.clock.CaptureAppState()

	if msg != nil {
		s.ProcessMessage(*msg)
	}

	currentMicros := s.clock.Micros()
	currentBeat := s.clock.BeatAtDate(currentMicros)

	s.processDeferred(currentBeat)
	s.lastBeat = currentBeat

	linkPlaying := s.clock.SessionState().IsPlaying()

	switch s.playbackState.Kind {
	case Stopped:
		s.stepStopped(linkPlaying, currentBeat)
	case Starting:
		s.stepStarting(linkPlaying, currentBeat)
	case Playing:
		s.stepPlaying(linkPlaying)
	}
}

func (s *Scheduler) stepStopped(linkPlaying bool, currentBeat float64) {
	if linkPlaying {
		quantum := s.clock.Quantum()
		target := (math.Floor(currentBeat/quantum) + 1.0) * quantum
		log.Printf("[SCHEDULER] link playing, waiting for beat %.4f to start", target)
		s.playbackState = PlaybackState{Kind: Starting, TargetBeat: target}
		s.setWait(1_000)
	} else {
		s.setWait(100_000)
	}
}

func (s *Scheduler) stepStarting(linkPlaying bool, currentBeat float64) {
	target := s.playbackState.TargetBeat
	if !linkPlaying {
		log.Printf("[SCHEDULER] link stopped while waiting to start")
		s.playbackState = PlaybackState{Kind: Stopped}
		s.setIsPlaying(false)
		s.executions = nil
		s.setWait(100_000)
		return
	}
	if currentBeat < target {
		s.setWait(1_000)
		return
	}

	log.Printf("[SCHEDULER] target beat %.4f reached, starting playback", target)
	for _, l := range s.Scene.Lines {
		l.CurrentFrame = math.MaxInt
		l.CurrentIteration = 0
		l.FirstIterationIndex = 0
		l.FramesPassed = 0
		l.FramesExecuted = 0
	}
	s.executions = nil

	startDate := s.clock.DateAtBeat(target)
	sceneLen := s.Scene.Length
	for _, l := range s.Scene.Lines {
		frame, iter, rep, _, _ := FrameIndex(s.clock, sceneLen, l, startDate)
		if frame == l.GetEffectiveStartFrame() && l.IsFrameEnabled(frame) && iter == 0 && rep == 0 {
			s.queueExecution(l.Scripts[frame], l.Index, startDate, l.FrameLen(frame)/effectiveSpeed(l))
		}
	}

	s.playbackState = PlaybackState{Kind: Playing}
	s.setIsPlaying(true)
	s.nextWait = nil
	s.processedSceneModification = true
}

func (s *Scheduler) stepPlaying(linkPlaying bool) {
	if !linkPlaying {
		log.Printf("[SCHEDULER] link stopped, stopping playback")
		s.playbackState = PlaybackState{Kind: Stopped}
		s.setIsPlaying(false)
		s.executions = nil
		s.sendNotify(Notification{Kind: NotifyTransportStopped})
		s.setWait(100_000)
		s.processedSceneModification = true
		return
	}

	date := s.theoreticalDate()
	sceneLen := s.Scene.Length
	nextFrameDelay := int64(math.MaxInt64)
	positions := make([]FramePosition, 0, len(s.Scene.Lines))
	positionsChanged := false

	for _, l := range s.Scene.Lines {
		frame, iter, rep, scheduledDate, trackDelay := FrameIndex(s.clock, sceneLen, l, date)
		if trackDelay < nextFrameDelay {
			nextFrameDelay = trackDelay
		}
		positions = append(positions, FramePosition{Line: l.Index, Frame: frame, Repetition: rep})

		changed := frame != l.CurrentFrame || iter != l.CurrentIteration || rep != l.CurrentRepetition
		if changed {
			if frame != l.CurrentFrame || iter != l.CurrentIteration {
				l.FramesPassed++
			}
			positionsChanged = true
		}

		if frame < math.MaxInt && changed && l.IsFrameEnabled(frame) {
			s.queueExecution(l.Scripts[frame], l.Index, scheduledDate, l.FrameLen(frame)/effectiveSpeed(l))
			if frame != l.CurrentFrame || iter != l.CurrentIteration {
				l.FramesExecuted++
			}
		}

		l.CurrentFrame = frame
		l.CurrentIteration = iter
		l.CurrentRepetition = rep
	}

	if positionsChanged && !s.processedSceneModification {
		s.sendNotify(Notification{Kind: NotifyFramePositionChanged, Positions: positions})
	}

	nextExecDelay := s.executionLoop()

	nextDelay := nextExecDelay
	if nextFrameDelay < nextDelay {
		nextDelay = nextFrameDelay
	}
	if nextDelay > 0 {
		s.setWait(nextDelay)
	} else {
		s.nextWait = nil
	}
}

func (s *Scheduler) setWait(micros int64) {
	s.nextWait = &micros
}

// executionLoop advances every pending ScriptExecution that has come due,
// dispatching its resolved events to the world sink, and returns the minimum
// remaining delay across still-pending executions (spec.md §4.D "Execution
// queue").
func (s *Scheduler) executionLoop() int64 {
	if len(s.Scene.Lines) == 0 {
		return math.MaxInt64
	}
	scheduledDate := s.theoreticalDate()
	nextTimeout := int64(math.MaxInt64)

	kept := s.executions[:0]
	for _, exec := range s.executions {
		for exec.IsReady(scheduledDate) && !exec.Done {
			exec.ExecuteNext(s.clock)
		}
		if exec.Done {
			continue
		}
		remaining := exec.RemainingBefore(scheduledDate)
		if remaining < nextTimeout {
			nextTimeout = remaining
		}
		kept = append(kept, exec)
	}
	s.executions = kept
	return nextTimeout
}

// Run blocks, draining messages and advancing the scheduler until the
// messages channel is closed, mirroring do_your_thing's recv_timeout/try_recv
// alternation (spec.md §4.D steps 1-3).
func (s *Scheduler) Run() {
	log.Printf("[SCHEDULER] starting")
	for {
		var msg *Message
		if s.nextWait != nil {
			select {
			case m, ok := <-s.messages:
				if !ok {
					log.Printf("[SCHEDULER] exiting")
					return
				}
				msg = &m
			case <-afterMicros(*s.nextWait):
			}
		} else {
			select {
			case m, ok := <-s.messages:
				if !ok {
					log.Printf("[SCHEDULER] exiting")
					return
				}
				msg = &m
			default:
			}
		}
		s.Step(msg)
	}
}
