// Package bali implements the musical pattern compiler described in
// spec.md §4.C: lowering a tree of temporal combinators into a flat,
// time-sorted, three-address bytecode program. Grounded throughout on
// original_source/bubocore/src/compiler/bali/bali_ast.rs.
package bali

import (
	"github.com/schollz/collidertracker/internal/variable"
)

// Op tags the three-address VM's instruction set (spec.md §3 ControlASM).
type Op int

const (
	OpMov Op = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpCmpEq
	OpCmpNeq
	OpCmpLt
	OpCmpLe
	OpCmpGt
	OpCmpGe
	OpJump        // absolute jump
	OpRelJump     // relative jump
	OpJumpIf      // absolute conditional jump (operand truthy)
	OpRelJumpIf   // relative conditional jump
	OpRelJumpIfEq // relative conditional jump, jumps if a == b
	OpRelJumpIfLE // relative conditional jump, jumps if a <= b
	OpPush
	OpPop
	OpMapEmpty
	OpMapInsert
	OpLFOSine
	OpLFOSaw
	OpLFOTriangle
	OpLFOInvSaw
	OpLFORandomStep
	OpScale
	OpClamp
	OpMin
	OpMax
	OpQuantize
	OpFloatAsFrames
	OpReadCC    // context-aware MIDI CC read: (device, channel, cc-number) -> value
	OpRandBelow // uniform integer in [0, A) via the VM's RandomUint hook
)

// Instr is one three-address ControlASM instruction. Not every field is used
// by every Op; Dst/A/B follow the convention "A op B -> Dst" and Target/Rel
// carry jump offsets.
type Instr struct {
	Op     Op
	Dst    variable.Variable
	A      variable.Variable
	B      variable.Variable
	Target int64 // absolute jump target (OpJump/OpJumpIf)
	Rel    int64 // relative jump offset (OpRelJump*), in instruction counts
	Key    string
}

// EventKind tags the Event sum type (spec.md §3).
type EventKind int

const (
	EventNote EventKind = iota
	EventProgramChange
	EventControlChange
	EventAftertouch
	EventChannelPressure
	EventSysEx
	EventTransportStart
	EventTransportStop
	EventTransportContinue
	EventTransportClock
	EventTransportReset
	EventOsc
	EventDirt
	EventNop
)

// Event is the payload delivered to Exec.Emit: every field fully resolved to
// a concrete value, the last step before handing off to a device sink.
type Event struct {
	Kind EventKind

	Channel  int
	Device   int
	Note     int
	Velocity int
	Value    int // CC / program-change value
	CCNumber int
	// NoteFrames is the sounding duration in frames, meaningful for
	// EventNote. The device layer does not schedule a note-off from it;
	// MIDIOutput sends note-offs only in the all-notes-off sweep of Close.
	NoteFrames float64

	SysEx []byte

	OscAddress string
	OscArgs    []variable.Value

	Dirt map[string]variable.Value
}

// EventOperands is the not-yet-resolved form of an Event carried by an
// Instruction::Effect: each dynamic field is a Variable the VM reads at the
// moment the instruction executes, so an effect's note/velocity/CC-number can
// depend on per-instance state that changes between script runs.
type EventOperands struct {
	Kind EventKind

	Channel, Device, Note, Velocity, Value, CCNumber, NoteFrames variable.Variable

	SysEx []byte

	OscAddress string
	OscArgs    []variable.Variable

	DirtKeys []string
	DirtVals []variable.Variable
}

// InstrKind discriminates the top-level Instruction sum type: Control(asm) or
// Effect(operands, duration-in-frames).
type InstrKind int

const (
	InstrControl InstrKind = iota
	InstrEffect
)

// Instruction is one element of a compiled Program.
type Instruction struct {
	Kind     InstrKind
	Control  Instr
	Effect   EventOperands
	// Duration is the TimeSpan attached to an Effect instruction; non-Nop
	// effects carry 0, time advance happens via the Nop delay gaps produced
	// by the emitter (spec.md §4.C "Final emission").
	Duration float64
}

// Program is a compiled, flat, position-independent bytecode sequence.
type Program []Instruction

// Exec is a minimal interpreter for Program, used by scheduler tests and by
// any embedder that wants to step a compiled script without the full
// scheduler. It operates against four variable stores, one each for
// Global/Line/Frame/Instance addressing, matching the Variable sum type in
// spec.md §3.
type Exec struct {
	PC    int
	Stack []variable.Value

	Global   *variable.Store
	Line     *variable.Store
	Frame    *variable.Store
	Instance *variable.Store

	RandomUint func(bound uint64) uint64
	ReadCC     func(device, channel, cc int) variable.Value
	Tempo      func() float64
	NowBeats   func() float64

	// Emit receives each Effect instruction's resolved Event as the VM steps
	// over it.
	Emit func(Event)
}

// NewExec builds an Exec with empty per-scope stores and a default
// RandomUint/ReadCC.
func NewExec() *Exec {
	return &Exec{
		Global:     variable.NewStore(),
		Line:       variable.NewStore(),
		Frame:      variable.NewStore(),
		Instance:   variable.NewStore(),
		RandomUint: func(bound uint64) uint64 { return 0 },
		ReadCC:     func(int, int, int) variable.Value { return variable.Int(0) },
		Tempo:      func() float64 { return 120 },
		NowBeats:   func() float64 { return 0 },
	}
}

func (e *Exec) push(v variable.Value) { e.Stack = append(e.Stack, v) }
func (e *Exec) pop() variable.Value {
	if len(e.Stack) == 0 {
		return variable.Zero
	}
	v := e.Stack[len(e.Stack)-1]
	e.Stack = e.Stack[:len(e.Stack)-1]
	return v
}

// Read resolves a Variable to its current Value.
func (e *Exec) Read(v variable.Variable) variable.Value {
	switch v.Tag {
	case variable.VarConstant:
		return v.Constant
	case variable.VarEnvironment:
		switch v.EnvFn {
		case variable.EnvTempo:
			return variable.Float64(e.Tempo())
		case variable.EnvTime:
			return variable.Float64(e.NowBeats())
		case variable.EnvRandomUint:
			return variable.Int(0)
		}
		return variable.Zero
	case variable.VarGlobal:
		val, _ := e.Global.Get(v.Name)
		return val
	case variable.VarLine:
		val, _ := e.Line.Get(v.Name)
		return val
	case variable.VarFrame:
		val, _ := e.Frame.Get(v.Name)
		return val
	case variable.VarInstance:
		val, _ := e.Instance.Get(v.Name)
		return val
	case variable.VarStackBack, variable.VarStackFront:
		return e.pop()
	default:
		return variable.Zero
	}
}

// Write stores a Value into a mutable Variable; writes to immutable
// variables are silently dropped, matching the VM's non-fatal failure model
// (spec.md §4.C "compiler never aborts the caller").
func (e *Exec) Write(v variable.Variable, val variable.Value) {
	if !v.IsMutable() {
		return
	}
	switch v.Tag {
	case variable.VarGlobal:
		e.Global.Insert(v.Name, val)
	case variable.VarLine:
		e.Line.Insert(v.Name, val)
	case variable.VarFrame:
		e.Frame.Insert(v.Name, val)
	case variable.VarInstance:
		e.Instance.Insert(v.Name, val)
	case variable.VarStackBack, variable.VarStackFront:
		e.push(val)
	}
}

// Run executes prog to completion (or until PC runs out), dispatching each
// Effect instruction's Event to Emit.
func (e *Exec) Run(prog Program) {
	e.PC = 0
	for e.PC < len(prog) {
		instr := prog[e.PC]
		next := e.PC + 1
		switch instr.Kind {
		case InstrEffect:
			if e.Emit != nil {
				e.Emit(e.resolveEvent(instr.Effect))
			}
		case InstrControl:
			next = e.step(instr.Control, e.PC)
		}
		e.PC = next
	}
}

// RunSegment steps prog from the Exec's current PC, dispatching every
// Effect instruction's Event to Emit, until it either runs off the end of
// prog (finished == true) or reaches a delay gap — an EventNop Effect
// instruction carrying a non-zero Duration (finished == false, delayFrames
// is that Duration). The caller is expected to convert delayFrames (a
// fraction of one frame, per spec.md §4.C's accumulator unit) to real time
// and resume by calling RunSegment again once that time has elapsed. This
// lets a caller like the scheduler interleave a script's bytecode with the
// passage of musical time without the VM itself knowing anything about
// clocks or frame lengths.
func (e *Exec) RunSegment(prog Program) (finished bool, delayFrames float64) {
	for e.PC < len(prog) {
		instr := prog[e.PC]
		if instr.Kind == InstrEffect && instr.Effect.Kind == EventNop && instr.Duration > 0 {
			e.PC++
			return false, instr.Duration
		}
		next := e.PC + 1
		switch instr.Kind {
		case InstrEffect:
			if e.Emit != nil {
				e.Emit(e.resolveEvent(instr.Effect))
			}
		case InstrControl:
			next = e.step(instr.Control, e.PC)
		}
		e.PC = next
	}
	return true, 0
}

// resolveEvent reads every Variable operand of o through the current scopes
// and returns the concrete Event ready for Emit.
func (e *Exec) resolveEvent(o EventOperands) Event {
	ev := Event{
		Kind:       o.Kind,
		Channel:    int(e.Read(o.Channel).AsInt()),
		Device:     int(e.Read(o.Device).AsInt()),
		Note:       int(e.Read(o.Note).AsInt()),
		Velocity:   int(e.Read(o.Velocity).AsInt()),
		Value:      int(e.Read(o.Value).AsInt()),
		CCNumber:   int(e.Read(o.CCNumber).AsInt()),
		NoteFrames: e.Read(o.NoteFrames).AsFloat(),
		SysEx:      o.SysEx,
		OscAddress: o.OscAddress,
	}
	for _, a := range o.OscArgs {
		ev.OscArgs = append(ev.OscArgs, e.Read(a))
	}
	if len(o.DirtKeys) > 0 {
		ev.Dirt = make(map[string]variable.Value, len(o.DirtKeys))
		for i, k := range o.DirtKeys {
			ev.Dirt[k] = e.Read(o.DirtVals[i])
		}
	}
	return ev
}

func (e *Exec) step(c Instr, pc int) int {
	switch c.Op {
	case OpMov:
		e.Write(c.Dst, e.Read(c.A))
	case OpAdd:
		e.Write(c.Dst, e.Read(c.A).Add(e.Read(c.B)))
	case OpSub:
		e.Write(c.Dst, e.Read(c.A).Sub(e.Read(c.B)))
	case OpMul:
		e.Write(c.Dst, e.Read(c.A).Mul(e.Read(c.B)))
	case OpDiv:
		e.Write(c.Dst, e.Read(c.A).Div(e.Read(c.B)))
	case OpMod:
		a, b := e.Read(c.A).AsInt(), e.Read(c.B).AsInt()
		if b == 0 {
			e.Write(c.Dst, variable.Int(0))
		} else {
			m := a % b
			if m < 0 {
				m += abs64(b)
			}
			e.Write(c.Dst, variable.Int(m))
		}
	case OpAnd:
		e.Write(c.Dst, variable.Int(e.Read(c.A).AsInt()&e.Read(c.B).AsInt()))
	case OpOr:
		e.Write(c.Dst, variable.Int(e.Read(c.A).AsInt()|e.Read(c.B).AsInt()))
	case OpXor:
		e.Write(c.Dst, variable.Int(e.Read(c.A).AsInt()^e.Read(c.B).AsInt()))
	case OpShl:
		e.Write(c.Dst, variable.Int(e.Read(c.A).AsInt()<<uint(e.Read(c.B).AsInt())))
	case OpShr:
		e.Write(c.Dst, variable.Int(e.Read(c.A).AsInt()>>uint(e.Read(c.B).AsInt())))
	case OpCmpEq:
		e.Write(c.Dst, variable.Bool(e.Read(c.A).AsFloat() == e.Read(c.B).AsFloat()))
	case OpCmpNeq:
		e.Write(c.Dst, variable.Bool(e.Read(c.A).AsFloat() != e.Read(c.B).AsFloat()))
	case OpCmpLt:
		e.Write(c.Dst, variable.Bool(e.Read(c.A).AsFloat() < e.Read(c.B).AsFloat()))
	case OpCmpLe:
		e.Write(c.Dst, variable.Bool(e.Read(c.A).AsFloat() <= e.Read(c.B).AsFloat()))
	case OpCmpGt:
		e.Write(c.Dst, variable.Bool(e.Read(c.A).AsFloat() > e.Read(c.B).AsFloat()))
	case OpCmpGe:
		e.Write(c.Dst, variable.Bool(e.Read(c.A).AsFloat() >= e.Read(c.B).AsFloat()))
	case OpJump:
		return int(c.Target)
	case OpRelJump:
		return pc + int(c.Rel)
	case OpJumpIf:
		if e.Read(c.A).AsBool() {
			return int(c.Target)
		}
	case OpRelJumpIf:
		if e.Read(c.A).AsBool() {
			return pc + int(c.Rel)
		}
	case OpRelJumpIfEq:
		if e.Read(c.A).AsFloat() == e.Read(c.B).AsFloat() {
			return pc + int(c.Rel)
		}
	case OpRelJumpIfLE:
		if e.Read(c.A).AsFloat() <= e.Read(c.B).AsFloat() {
			return pc + int(c.Rel)
		}
	case OpPush:
		e.push(e.Read(c.A))
	case OpPop:
		e.Write(c.Dst, e.pop())
	case OpMapEmpty:
		e.Write(c.Dst, variable.Value{Kind: variable.KindMap, Map: map[string]variable.Value{}})
	case OpMapInsert:
		m := e.Read(c.Dst)
		if m.Kind != variable.KindMap || m.Map == nil {
			m = variable.Value{Kind: variable.KindMap, Map: map[string]variable.Value{}}
		}
		m.Map[c.Key] = e.Read(c.A)
		e.Write(c.Dst, m)
	case OpLFOSine, OpLFOSaw, OpLFOTriangle, OpLFOInvSaw, OpLFORandomStep:
		speed := e.Read(c.A).AsFloat()
		e.Write(c.Dst, variable.Float64(sampleLFO(c.Op, speed, e.NowBeats())))
	case OpScale:
		// A: input, B: unused. Scale copies A to Dst unchanged; no range
		// mapping or clamping is applied.
		e.Write(c.Dst, e.Read(c.A))
	case OpClamp, OpMin, OpMax, OpQuantize:
		e.applyMath(c)
	case OpFloatAsFrames:
		e.Write(c.Dst, variable.Float64(e.Read(c.A).AsFloat()))
	case OpReadCC:
		e.Write(c.Dst, e.ReadCC(int(e.Read(c.A).AsInt()>>16&0xff), int(e.Read(c.A).AsInt()>>8&0xff), int(e.Read(c.A).AsInt()&0xff)))
	case OpRandBelow:
		bound := e.Read(c.A).AsInt()
		if bound <= 0 {
			e.Write(c.Dst, variable.Int(0))
		} else {
			e.Write(c.Dst, variable.Int(int64(e.RandomUint(uint64(bound)))))
		}
	}
	return pc + 1
}

func (e *Exec) applyMath(c Instr) {
	a := e.Read(c.A).AsFloat()
	b := e.Read(c.B).AsFloat()
	switch c.Op {
	case OpMin:
		if a < b {
			e.Write(c.Dst, variable.Float64(a))
		} else {
			e.Write(c.Dst, variable.Float64(b))
		}
	case OpMax:
		if a > b {
			e.Write(c.Dst, variable.Float64(a))
		} else {
			e.Write(c.Dst, variable.Float64(b))
		}
	case OpClamp:
		if a < 0 {
			a = 0
		}
		if a > b {
			a = b
		}
		e.Write(c.Dst, variable.Float64(a))
	case OpQuantize:
		if b == 0 {
			e.Write(c.Dst, variable.Float64(a))
			return
		}
		q := float64(int64(a/b+0.5)) * b
		e.Write(c.Dst, variable.Float64(q))
	}
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
