package bali

import (
	"github.com/schollz/collidertracker/internal/variable"
)

// TLEKind discriminates the TopLevelEffect sum type (spec.md §4.C table:
// Note/ProgramChange/ControlChange/Osc/Dirt/Aftertouch/ChannelPressure plus
// Definition for bare variable assignment and the inline all-effects Pick
// produced by Statement expansion).
type TLEKind int

const (
	TLENote TLEKind = iota
	TLEProgramChange
	TLEControlChange
	TLEAftertouch
	TLEChannelPressure
	TLEOsc
	TLEDirt
	TLEDefinition
	TLEPick
)

// TopLevelEffect is a context-relative effect description: channel/device/
// velocity/duration are left unresolved until compile merges them against
// the enclosing BaliContext, matching bali_ast.rs's TopLevelEffect::as_asm.
type TopLevelEffect struct {
	Kind TLEKind

	NoteExpr     *Expression // Note
	ValueExpr    *Expression // ProgramChange/ControlChange/Aftertouch/ChannelPressure value
	CCNumberExpr *Expression // ControlChange CC number

	// Per-effect overrides; nil means "use the context default".
	VelocityExpr *Expression
	DurationExpr *FractionExpr
	ChannelExpr  *Expression
	DeviceExpr   *Expression

	OscAddress string        // Osc
	OscArgs    []*Expression // Osc; an argument left nil is a "dynamic" arg the
	// compiler can't evaluate ahead of time (spec.md §9 Open Question 1) and
	// is lowered to a 0.0 placeholder with a compile-time warning.

	DirtParams map[string]*Expression // Dirt: explicit params layered over ctx.DirtDefaults, explicit wins.

	DefTarget variable.Variable // Definition
	DefValue  *Expression

	PickExpr *Expression // Pick (inline, all-Effect-bodied)
	Body     []TopLevelEffect
}

// effectCompileState carries bookkeeping shared across one compilation pass:
// the dynamic-OSC-argument warning is only emitted once per compile so a
// script with many affected Osc calls doesn't flood the log.
type effectCompileState struct {
	warnedDynamicOSC bool
	onWarn           func(string)
}

func (s *effectCompileState) warnDynamicOSCOnce() {
	if s.warnedDynamicOSC || s.onWarn == nil {
		return
	}
	s.warnedDynamicOSC = true
	s.onWarn("osc argument could not be resolved at compile time; substituting 0.0")
}

func resolveOperand(e *Expression, out *[]Instruction) variable.Variable {
	if e == nil {
		return constVar(variable.Int(0))
	}
	if e.Kind == ExprConst {
		return constVar(e.Const)
	}
	t := freshTemp("_eff")
	*out = append(*out, e.evalInto(t)...)
	return t
}

func resolveOperandDefault(e *Expression, def int64, out *[]Instruction) variable.Variable {
	if e == nil {
		return constVar(variable.Int(def))
	}
	return resolveOperand(e, out)
}

// resolveDurationFrames evaluates a FractionExpr (or the context default) and
// converts it to a frame count via ctx.FrameDur, matching
// TimingInformation.AsFrames's frame-relative rule but for a plain duration.
func resolveDurationFrames(d *FractionExpr, ctx BaliContext, out *[]Instruction) variable.Variable {
	if d == nil {
		d = ctx.Duration
	}
	if d == nil {
		return constVar(variable.Int(0))
	}
	num := resolveOperand(d.Num, out)
	den := resolveOperand(d.Den, out)
	ratio := freshTemp("_dur")
	*out = append(*out, ctrl(Instr{Op: OpDiv, A: num, B: den, Dst: ratio}))
	frameDur := constVar(variable.Float64(1))
	if ctx.FrameDur != nil {
		frameDur = constVar(variable.Dec(*ctx.FrameDur))
	}
	frames := freshTemp("_durframes")
	*out = append(*out, ctrl(Instr{Op: OpDiv, A: ratio, B: frameDur, Dst: frames}))
	return frames
}

// compile lowers a TopLevelEffect into instructions. Every case except
// TLEPick ends in exactly one InstrEffect (or, for Definition, a plain Mov).
func (e TopLevelEffect) compile(ctx BaliContext, st *effectCompileState) []Instruction {
	if e.Kind == TLEDefinition {
		var instrs []Instruction
		v := resolveOperand(e.DefValue, &instrs)
		instrs = append(instrs, ctrl(Instr{Op: OpMov, A: v, Dst: e.DefTarget}))
		return instrs
	}
	if e.Kind == TLEPick {
		return compilePickEffect(e, ctx, st)
	}

	var instrs []Instruction
	op := EventOperands{
		Kind:    eventKindOf(e.Kind),
		Channel: resolveOperandDefault(firstNonNilExpr(e.ChannelExpr, ctx.Channel), DefaultChannel, &instrs),
		Device:  resolveOperandDefault(firstNonNilExpr(e.DeviceExpr, ctx.Device), DefaultDevice, &instrs),
	}

	switch e.Kind {
	case TLENote:
		op.Note = resolveOperand(e.NoteExpr, &instrs)
		vel := e.VelocityExpr
		if vel == nil {
			vel = ctx.Velocity
		}
		op.Velocity = resolveOperandDefault(vel, DefaultVelocity, &instrs)
		op.NoteFrames = resolveDurationFrames(e.DurationExpr, ctx, &instrs)
	case TLEProgramChange, TLEAftertouch, TLEChannelPressure:
		op.Value = resolveOperand(e.ValueExpr, &instrs)
	case TLEControlChange:
		op.CCNumber = resolveOperand(e.CCNumberExpr, &instrs)
		op.Value = resolveOperand(e.ValueExpr, &instrs)
	case TLEOsc:
		op.OscAddress = e.OscAddress
		for _, a := range e.OscArgs {
			if a == nil {
				st.warnDynamicOSCOnce()
				op.OscArgs = append(op.OscArgs, constVar(variable.Float64(0)))
				continue
			}
			op.OscArgs = append(op.OscArgs, resolveOperand(a, &instrs))
		}
	case TLEDirt:
		merged := mergeDirtParams(e.DirtParams, ctx.DirtDefaults)
		for k, v := range merged {
			op.DirtKeys = append(op.DirtKeys, k)
			op.DirtVals = append(op.DirtVals, resolveOperand(v, &instrs))
		}
	}

	instrs = append(instrs, Instruction{Kind: InstrEffect, Effect: op})
	return instrs
}

func eventKindOf(k TLEKind) EventKind {
	switch k {
	case TLENote:
		return EventNote
	case TLEProgramChange:
		return EventProgramChange
	case TLEControlChange:
		return EventControlChange
	case TLEAftertouch:
		return EventAftertouch
	case TLEChannelPressure:
		return EventChannelPressure
	case TLEOsc:
		return EventOsc
	case TLEDirt:
		return EventDirt
	default:
		return EventNop
	}
}

func mergeDirtParams(explicit map[string]*Expression, defaults map[string]FractionExpr) map[string]*Expression {
	if len(explicit) == 0 && len(defaults) == 0 {
		return nil
	}
	merged := make(map[string]*Expression, len(explicit)+len(defaults))
	for k, v := range defaults {
		den := v.Den
		num := v.Num
		merged[k] = Bin(OpDiv, num, den)
	}
	for k, v := range explicit {
		merged[k] = v
	}
	return merged
}

// compilePickEffect lowers an inline, all-Effect Pick into an if/else
// dispatch chain selecting exactly one of e.Body by index, grounded on
// bali_ast.rs's TopLevelEffect::Pick arm of as_asm.
func compilePickEffect(e TopLevelEffect, ctx BaliContext, st *effectCompileState) []Instruction {
	if len(e.Body) == 0 {
		return nil
	}
	idxVar := freshTemp("_pickeff")
	var prelude []Instruction
	if e.PickExpr != nil {
		prelude = append(prelude, e.PickExpr.evalInto(idxVar)...)
	} else {
		bound := constVar(variable.Int(int64(len(e.Body))))
		prelude = append(prelude, ctrl(Instr{Op: OpRandBelow, A: bound, Dst: idxVar}))
	}

	bodies := make([][]Instruction, len(e.Body))
	for i, b := range e.Body {
		bodies[i] = b.compile(ctx, st)
	}

	chain := bodies[len(bodies)-1]
	for i := len(bodies) - 2; i >= 0; i-- {
		eqVar := freshTemp("_pickeq")
		test := []Instruction{ctrl(Instr{Op: OpCmpEq, A: idxVar, B: constVar(variable.Int(int64(i))), Dst: eqVar})}
		notEq := freshTemp("_pickneq")
		test = append(test, ctrl(Instr{Op: OpCmpEq, A: eqVar, B: constVar(variable.Bool(false)), Dst: notEq}))

		then := bodies[i]
		els := chain
		out := append([]Instruction{}, test...)
		out = append(out, ctrl(Instr{Op: OpRelJumpIf, A: notEq, Rel: int64(len(then) + 2)}))
		out = append(out, then...)
		out = append(out, ctrl(Instr{Op: OpRelJump, Rel: int64(len(els) + 1)}))
		out = append(out, els...)
		chain = out
	}
	return append(prelude, chain...)
}
