package scheduler

import (
	"github.com/schollz/collidertracker/internal/bali"
	"github.com/schollz/collidertracker/internal/clock"
)

// ScriptExecution is one in-flight run of a compiled bali.Program against a
// fresh per-instance Exec, paired with the absolute micros it's next due to
// resume. There is no standalone "ScriptExecution" type in the original
// source tree to port directly (its schedule.rs only consumes one by name);
// this is built from spec.md §4.D's "Execution queue" description of
// execute_at/is_ready/remaining_before/execute_next and package bali's
// Exec.RunSegment primitive.
type ScriptExecution struct {
	LineIndex int
	Exec      *bali.Exec
	Program   bali.Program

	// FrameLenBeats scales the Program's frame-fraction delay gaps (1.0 =
	// the full length of the repetition this execution was scheduled
	// against) into real beats; this is where the "FloatAsFrames" scaling
	// spec.md §4.C describes at the VM-instruction level is instead applied,
	// a deliberate simplification documented in DESIGN.md.
	FrameLenBeats float64

	readyAtMicros int64
	Done          bool
}

// IsReady reports whether this execution is due to resume at or before now.
func (se *ScriptExecution) IsReady(now int64) bool {
	return now >= se.readyAtMicros
}

// RemainingBefore returns the micros until this execution is next due,
// floored at 0.
func (se *ScriptExecution) RemainingBefore(now int64) int64 {
	if se.readyAtMicros <= now {
		return 0
	}
	return se.readyAtMicros - now
}

// ExecuteNext resumes the VM from its current PC, dispatching every Effect
// instruction it crosses to the Exec's Emit hook, until it either finishes
// (marking Done) or hits a delay gap, whose frame-fraction Duration is
// converted to an absolute resume time via FrameLenBeats and clock.
func (se *ScriptExecution) ExecuteNext(c clock.Clock) {
	finished, delayFrames := se.Exec.RunSegment(se.Program)
	if finished {
		se.Done = true
		return
	}
	delayBeats := delayFrames * se.FrameLenBeats
	se.readyAtMicros += c.BeatsToMicros(delayBeats)
}
