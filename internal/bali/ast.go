package bali

import (
	"fmt"

	"github.com/schollz/collidertracker/internal/fraction"
	"github.com/schollz/collidertracker/internal/variable"
)

// Default context values, grounded on bali_ast.rs's DEFAULT_CHAN/DEFAULT_DEVICE/
// DEFAULT_VELOCITY/DEFAULT_DURATION constants.
const (
	DefaultChannel  = 1
	DefaultDevice   = 1
	DefaultVelocity = 90
	DefaultDuration = 2 // denominator: duration defaults to 1/2
)

var tempVarCounter int

func freshTemp(prefix string) variable.Variable {
	tempVarCounter++
	return variable.Variable{Tag: variable.VarInstance, Name: fmt.Sprintf("%s_%d", prefix, tempVarCounter)}
}

// ResetTempCounter is exposed for tests that need deterministic temp-variable
// names across runs; production compiles don't need determinism here since
// instance variables are scoped per script execution.
func ResetTempCounter() { tempVarCounter = 0 }

// ExprKind discriminates the Expression sum type used inside scripts.
type ExprKind int

const (
	ExprConst ExprKind = iota
	ExprVar
	ExprBin
	ExprLFO
	ExprReadCC
	ExprClamp
	ExprMin
	ExprMax
	ExprQuantize
)

// Expression is the value-producing half of a Bali script: literals, named
// variables, binary arithmetic, LFO samplers, a context-aware MIDI-CC read,
// and the clamp/min/max/quantize helpers named in spec.md §3.
type Expression struct {
	Kind  ExprKind
	Const variable.Value
	Var   variable.Variable
	Op    Op
	A, B  *Expression
	C     *Expression // not read by evalInto; ReadCC takes device/channel/CC number packed into A
}

// Lit builds a constant Expression.
func Lit(v variable.Value) *Expression { return &Expression{Kind: ExprConst, Const: v} }

// VarExpr builds a variable-reference Expression.
func VarExpr(v variable.Variable) *Expression { return &Expression{Kind: ExprVar, Var: v} }

// Bin builds a binary arithmetic Expression.
func Bin(op Op, a, b *Expression) *Expression { return &Expression{Kind: ExprBin, Op: op, A: a, B: b} }

// evalInto lowers the expression into instructions that leave its value in
// dst, allocating fresh temporaries for sub-expressions.
func (e *Expression) evalInto(dst variable.Variable) []Instruction {
	if e == nil {
		return []Instruction{ctrl(Instr{Op: OpMov, A: constVar(variable.Int(0)), Dst: dst})}
	}
	switch e.Kind {
	case ExprConst:
		return []Instruction{ctrl(Instr{Op: OpMov, A: constVar(e.Const), Dst: dst})}
	case ExprVar:
		return []Instruction{ctrl(Instr{Op: OpMov, A: e.Var, Dst: dst})}
	case ExprBin:
		ta := freshTemp("_e")
		tb := freshTemp("_e")
		res := e.A.evalInto(ta)
		res = append(res, e.B.evalInto(tb)...)
		res = append(res, ctrl(Instr{Op: e.Op, A: ta, B: tb, Dst: dst}))
		return res
	case ExprLFO:
		ta := freshTemp("_e")
		res := e.A.evalInto(ta)
		res = append(res, ctrl(Instr{Op: e.Op, A: ta, Dst: dst}))
		return res
	case ExprReadCC:
		ta := freshTemp("_e")
		res := e.A.evalInto(ta)
		res = append(res, ctrl(Instr{Op: OpReadCC, A: ta, Dst: dst}))
		return res
	case ExprClamp, ExprMin, ExprMax, ExprQuantize:
		ta := freshTemp("_e")
		tb := freshTemp("_e")
		res := e.A.evalInto(ta)
		res = append(res, e.B.evalInto(tb)...)
		var op Op
		switch e.Kind {
		case ExprClamp:
			op = OpClamp
		case ExprMin:
			op = OpMin
		case ExprMax:
			op = OpMax
		case ExprQuantize:
			op = OpQuantize
		}
		res = append(res, ctrl(Instr{Op: op, A: ta, B: tb, Dst: dst}))
		return res
	default:
		return nil
	}
}

// push lowers the expression and leaves its result on the VM stack,
// mirroring the original's Expression::as_asm() used ahead of Pop in
// boolean/pick codegen.
func (e *Expression) push() []Instruction {
	t := freshTemp("_push")
	res := e.evalInto(t)
	res = append(res, ctrl(Instr{Op: OpPush, A: t}))
	return res
}

func ctrl(i Instr) Instruction { return Instruction{Kind: InstrControl, Control: i} }

func constVar(v variable.Value) variable.Variable {
	return variable.Variable{Tag: variable.VarConstant, Constant: v}
}

// BoolOp discriminates BooleanExpression comparisons/connectives.
type BoolOp int

const (
	BoolEq BoolOp = iota
	BoolNeq
	BoolLt
	BoolLe
	BoolGt
	BoolGe
	BoolAnd
	BoolOr
	BoolNot
	BoolConst
)

// BooleanExpression is the guard language used by For/If and is also what
// gets compiled ahead of a conditional relative jump.
type BooleanExpression struct {
	Op    BoolOp
	A, B  *Expression
	Left  *BooleanExpression
	Right *BooleanExpression
	Const bool
}

func (b *BooleanExpression) push() []Instruction {
	if b == nil {
		return []Instruction{ctrl(Instr{Op: OpPush, A: constVar(variable.Bool(false))})}
	}
	switch b.Op {
	case BoolConst:
		return []Instruction{ctrl(Instr{Op: OpPush, A: constVar(variable.Bool(b.Const))})}
	case BoolAnd, BoolOr:
		tl := freshTemp("_bl")
		tr := freshTemp("_br")
		res := b.Left.evalBoolInto(tl)
		res = append(res, b.Right.evalBoolInto(tr)...)
		op := OpAnd
		if b.Op == BoolOr {
			op = OpOr
		}
		dst := freshTemp("_bres")
		res = append(res, ctrl(Instr{Op: op, A: tl, B: tr, Dst: dst}))
		res = append(res, ctrl(Instr{Op: OpPush, A: dst}))
		return res
	case BoolNot:
		tl := freshTemp("_bl")
		res := b.Left.evalBoolInto(tl)
		dst := freshTemp("_bres")
		res = append(res, ctrl(Instr{Op: OpCmpEq, A: tl, B: constVar(variable.Bool(false)), Dst: dst}))
		res = append(res, ctrl(Instr{Op: OpPush, A: dst}))
		return res
	default:
		ta := freshTemp("_e")
		tb := freshTemp("_e")
		res := b.A.evalInto(ta)
		res = append(res, b.B.evalInto(tb)...)
		var cmpOp Op
		switch b.Op {
		case BoolEq:
			cmpOp = OpCmpEq
		case BoolNeq:
			cmpOp = OpCmpNeq
		case BoolLt:
			cmpOp = OpCmpLt
		case BoolLe:
			cmpOp = OpCmpLe
		case BoolGt:
			cmpOp = OpCmpGt
		case BoolGe:
			cmpOp = OpCmpGe
		}
		dst := freshTemp("_bres")
		res = append(res, ctrl(Instr{Op: cmpOp, A: ta, B: tb, Dst: dst}))
		res = append(res, ctrl(Instr{Op: OpPush, A: dst}))
		return res
	}
}

func (b *BooleanExpression) evalBoolInto(dst variable.Variable) []Instruction {
	push := b.push()
	pop := ctrl(Instr{Op: OpPop, Dst: dst})
	return append(push, pop)
}

// LoopContext carries the reverse/negate/shift transform applied to
// Euclidean/Binary onset patterns. Grounded on bali_ast.rs's LoopContext.
type LoopContext struct {
	Negate  bool
	Reverse bool
	Shift   *int64
}

// Update merges self (inner) over above (outer): booleans OR, shift prefers
// inner when set.
func (c LoopContext) Update(above LoopContext) LoopContext {
	out := LoopContext{Negate: c.Negate || above.Negate, Reverse: c.Reverse || above.Reverse}
	if c.Shift != nil {
		out.Shift = c.Shift
	} else {
		out.Shift = above.Shift
	}
	return out
}

// BaliContext threads musical defaults through expansion, field-by-field
// Option-override per spec.md §3 BaliContext.
type BaliContext struct {
	Channel      *Expression
	Device       *Expression
	Velocity     *Expression
	Duration     *FractionExpr
	FrameDur     *fraction.ConcreteFraction
	DirtDefaults map[string]FractionExpr
}

// FractionExpr is a ratio of two expressions, evaluated at effect-lowering
// time (spec.md §3: duration "a fraction of expressions").
type FractionExpr struct {
	Num *Expression
	Den *Expression
}

// NewFractionExpr builds a FractionExpr from two expressions.
func NewFractionExpr(num, den *Expression) *FractionExpr { return &FractionExpr{Num: num, Den: den} }

// DefaultContext returns the compiler's top-level default BaliContext,
// grounded on bali_as_asm's `default_context` literal.
func DefaultContext() BaliContext {
	frameDur := fraction.New(1, 1)
	return BaliContext{
		Channel:  Lit(variable.Int(DefaultChannel)),
		Device:   Lit(variable.Int(DefaultDevice)),
		Velocity: Lit(variable.Int(DefaultVelocity)),
		Duration: NewFractionExpr(Lit(variable.Int(1)), Lit(variable.Int(DefaultDuration))),
		FrameDur: &frameDur,
	}
}

// Update merges self (inner) over above (outer), field-by-field, matching
// bali_ast.rs's BaliContext::update. DirtDefaults is a map union, inner wins.
func (c BaliContext) Update(above BaliContext) BaliContext {
	out := BaliContext{}
	out.Channel = firstNonNilExpr(c.Channel, above.Channel)
	out.Device = firstNonNilExpr(c.Device, above.Device)
	out.Velocity = firstNonNilExpr(c.Velocity, above.Velocity)
	if c.Duration != nil {
		out.Duration = c.Duration
	} else {
		out.Duration = above.Duration
	}
	if c.FrameDur != nil {
		out.FrameDur = c.FrameDur
	} else {
		out.FrameDur = above.FrameDur
	}
	switch {
	case c.DirtDefaults != nil && above.DirtDefaults != nil:
		merged := make(map[string]FractionExpr, len(c.DirtDefaults)+len(above.DirtDefaults))
		for k, v := range above.DirtDefaults {
			merged[k] = v
		}
		for k, v := range c.DirtDefaults {
			merged[k] = v
		}
		out.DirtDefaults = merged
	case c.DirtDefaults != nil:
		out.DirtDefaults = c.DirtDefaults
	default:
		out.DirtDefaults = above.DirtDefaults
	}
	return out
}

func firstNonNilExpr(inner, outer *Expression) *Expression {
	if inner != nil {
		return inner
	}
	return outer
}

// TimingKind discriminates TimingInformation.
type TimingKind int

const (
	TimingFrameRelative TimingKind = iota
	TimingPositionRelative
)

// TimingInformation resolves a Δ against the enclosing spread_time: either
// an absolute frame-relative fraction, or one scaled by spread_time.
type TimingInformation struct {
	Kind  TimingKind
	Value fraction.ConcreteFraction
}

// AsFrames resolves the timing to an absolute ConcreteFraction given the
// current spread_time, per bali_ast.rs's TimingInformation::as_frames.
func (t TimingInformation) AsFrames(spreadTime fraction.ConcreteFraction) fraction.ConcreteFraction {
	if t.Kind == TimingFrameRelative {
		return t.Value
	}
	return t.Value.Mul(spreadTime)
}

// FrameRelative builds a TimingInformation that ignores spread_time.
func FrameRelative(v fraction.ConcreteFraction) TimingInformation {
	return TimingInformation{Kind: TimingFrameRelative, Value: v}
}

// PositionRelative builds a TimingInformation scaled by spread_time.
func PositionRelative(v fraction.ConcreteFraction) TimingInformation {
	return TimingInformation{Kind: TimingPositionRelative, Value: v}
}

// ChoiceInformation is compile-time state attached to an expanded
// TimeStatement, encoding the runtime predicate that gates a Choice body.
// RemainingTotal/RemainingSlots are the pair of per-call-site scratch
// variables a reservoir-style "k of n without replacement" scan decrements
// as it visits positions 0..n-1 in order.
type ChoiceInformation struct {
	RemainingTotal variable.Variable
	RemainingSlots variable.Variable
	Position       int
	NumSelectable  int
	NumSelected    int
}

// PickInformation is the Pick analogue of ChoiceInformation.
type PickInformation struct {
	Variable      variable.Variable
	Position      int
	Possibilities int
	Expression    *Expression
	NumVariable   int64
}

// ChoiceVarGen allocates the per-call-site (remaining_total, remaining_slots)
// scratch variable pair for each Choice(k, n, ...), grounded on bali_ast.rs's
// ChoiceVariableGenerator.
type ChoiceVarGen struct {
	counter int64
}

// GetVariables allocates one fresh (remaining_total, remaining_slots) pair
// for a new Choice call site.
func (g *ChoiceVarGen) GetVariables() (variable.Variable, variable.Variable) {
	base := g.counter
	g.counter++
	return variable.Variable{Tag: variable.VarInstance, Name: fmt.Sprintf("_choice_total_%d", base)},
		variable.Variable{Tag: variable.VarInstance, Name: fmt.Sprintf("_choice_slots_%d", base)}
}

// PickVarGen allocates one scratch variable per distinct Pick call site,
// grounded on bali_ast.rs's LocalChoiceVariableGenerator.
type PickVarGen struct {
	counter int64
}

// GetVariable allocates the next pick variable and its ordinal number.
func (g *PickVarGen) GetVariable() (variable.Variable, int64) {
	n := g.counter
	g.counter++
	return variable.Variable{Tag: variable.VarInstance, Name: fmt.Sprintf("_pick_%d", n)}, n
}

// NumVariables reports how many pick variables have been allocated so far.
func (g *PickVarGen) NumVariables() int64 { return g.counter }
