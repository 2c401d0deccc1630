package bali

import (
	"github.com/schollz/collidertracker/internal/fraction"
	"github.com/schollz/collidertracker/internal/variable"
)

// Compile lowers a script's Statement tree into a flat, time-sorted Program,
// the equivalent of bali_as_asm: expand, sort, then emit choice/pick guards
// and effect bodies with Nop delay gaps between them.
func Compile(root Statement, ctx BaliContext, onWarn func(string)) Program {
	ex := &expanders{choiceVars: &ChoiceVarGen{}, pickVars: &PickVarGen{}}
	prepared := root.Expand(fraction.Zero, fraction.New(1, 1), ctx, nil, nil, ex)
	SortPrepared(prepared)

	st := &effectCompileState{onWarn: onWarn}
	var prog Program
	cursor := fraction.Zero
	for _, ts := range prepared {
		gap := ts.Time.Sub(cursor)
		if gap.Cmp(fraction.Zero) > 0 {
			prog = append(prog, Instruction{Kind: InstrEffect, Effect: EventOperands{Kind: EventNop}, Duration: gap.Float()})
		}
		cursor = ts.Time

		body := ts.Effect.compile(ts.Ctx, st)
		guarded := wrapGuards(ts, body)
		for _, instr := range guarded {
			if instr.Kind == InstrControl {
				prog = append(prog, instr)
			} else {
				prog = append(prog, instr)
			}
		}
	}
	return prog
}

// wrapGuards ANDs every Choice/Pick predicate attached to ts around body,
// so body only executes when every enclosing Choice selected this position
// and every enclosing Pick's index matches.
func wrapGuards(ts TimeStatement, body []Instruction) []Instruction {
	rest := body
	for i := len(ts.Picks) - 1; i >= 0; i-- {
		rest = wrapPickGuard(ts.Picks[i], rest)
	}
	for i := len(ts.Choices) - 1; i >= 0; i-- {
		rest = wrapChoiceGuard(ts.Choices[i], rest)
	}
	return rest
}

// wrapChoiceGuard gates rest behind the reservoir-sampling decode for one
// Choice(k, n) call site: at the first position visited it (re)initializes
// the site's running (remaining_total, remaining_slots) counters, then every
// position draws once and decrements, giving each of the n positions exactly
// a k/n (without replacement) chance of passing across one full scan.
// Grounded on the "decrementing target variables" description in spec.md
// §4.C; correctness depends on positions of one Choice site being visited in
// ascending order, which SortPrepared's stable sort preserves since Expand
// appends them in position order at equal time.
func wrapChoiceGuard(info ChoiceInformation, rest []Instruction) []Instruction {
	if info.NumSelectable <= 0 {
		return rest
	}
	siteTotal := info.RemainingTotal
	siteSlots := info.RemainingSlots

	var cond []Instruction
	if info.Position == 0 {
		cond = append(cond,
			ctrl(Instr{Op: OpMov, A: constVar(variable.Int(int64(info.NumSelectable))), Dst: siteTotal}),
			ctrl(Instr{Op: OpMov, A: constVar(variable.Int(int64(info.NumSelected))), Dst: siteSlots}),
		)
	}

	r := freshTemp("_choicer")
	cond = append(cond, ctrl(Instr{Op: OpRandBelow, A: siteTotal, Dst: r}))
	pass := freshTemp("_choicepass")
	cond = append(cond, ctrl(Instr{Op: OpCmpLt, A: r, B: siteSlots, Dst: pass}))
	notPass := freshTemp("_choicenotpass")
	cond = append(cond, ctrl(Instr{Op: OpCmpEq, A: pass, B: constVar(variable.Bool(false)), Dst: notPass}))
	// if pass, decrement slots (a jump of 2 skips only the slots decrement
	// when !pass); total is decremented at every position
	cond = append(cond, ctrl(Instr{Op: OpRelJumpIf, A: notPass, Rel: 2}))
	cond = append(cond, ctrl(Instr{Op: OpSub, A: siteSlots, B: constVar(variable.Int(1)), Dst: siteSlots}))
	cond = append(cond, ctrl(Instr{Op: OpSub, A: siteTotal, B: constVar(variable.Int(1)), Dst: siteTotal}))

	out := append([]Instruction{}, cond...)
	out = append(out, ctrl(Instr{Op: OpRelJumpIf, A: notPass, Rel: int64(1 + len(rest))}))
	out = append(out, rest...)
	return out
}

func wrapPickGuard(info PickInformation, rest []Instruction) []Instruction {
	var cond []Instruction
	if info.Position == 0 {
		if info.Expression != nil {
			cond = append(cond, info.Expression.evalInto(info.Variable)...)
		} else {
			bound := constVar(variable.Int(int64(info.Possibilities)))
			r := freshTemp("_pickr")
			cond = append(cond, ctrl(Instr{Op: OpRandBelow, A: bound, Dst: r}))
			cond = append(cond, ctrl(Instr{Op: OpMov, A: r, Dst: info.Variable}))
		}
	}
	pass := freshTemp("_pickpass")
	cond = append(cond, ctrl(Instr{Op: OpCmpEq, A: info.Variable, B: constVar(variable.Int(int64(info.Position))), Dst: pass}))
	notPass := freshTemp("_picknotpass")
	cond = append(cond, ctrl(Instr{Op: OpCmpEq, A: pass, B: constVar(variable.Bool(false)), Dst: notPass}))

	out := append([]Instruction{}, cond...)
	out = append(out, ctrl(Instr{Op: OpRelJumpIf, A: notPass, Rel: int64(1 + len(rest))}))
	out = append(out, rest...)
	return out
}
