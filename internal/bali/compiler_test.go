package bali

import (
	"testing"

	"github.com/schollz/collidertracker/internal/fraction"
	"github.com/schollz/collidertracker/internal/variable"
)

func TestCompileEuclideanProducesGapsAndEffects(t *testing.T) {
	root := Statement{
		Kind:  StmtEuclidean,
		K:     3,
		N:     8,
		Delta: FrameRelative(fraction.New(8, 1)),
		Body:  []Statement{noteEffect(60)},
	}
	prog := Compile(root, DefaultContext(), nil)

	var notes int
	for _, instr := range prog {
		if instr.Kind == InstrEffect && instr.Effect.Kind == EventNote {
			notes++
		}
	}
	if notes != 3 {
		t.Fatalf("expected 3 note effects in compiled program, got %d", notes)
	}
}

func TestCompileRunsWithoutPanicForChoiceAndPick(t *testing.T) {
	choice := Statement{Kind: StmtChoice, K: 2, N: 4, Body: []Statement{noteEffect(1), noteEffect(2), noteEffect(3), noteEffect(4)}}
	pick := Statement{Kind: StmtPick, Body: []Statement{noteEffect(10), noteEffect(20)}}
	root := Statement{Kind: StmtWith, Body: []Statement{choice, pick}}

	prog := Compile(root, DefaultContext(), nil)

	exec := NewExec()
	var emitted []Event
	exec.Emit = func(e Event) { emitted = append(emitted, e) }
	// RandomUint deterministic: always pick index/slot 0.
	exec.RandomUint = func(bound uint64) uint64 { return 0 }
	exec.Run(prog)

	if len(emitted) == 0 {
		t.Fatalf("expected at least one emitted effect")
	}
}

func TestCompileDynamicOSCWarnsOnce(t *testing.T) {
	root := Statement{Kind: StmtEffect, Effect: &TopLevelEffect{Kind: TLEOsc, OscAddress: "/x", OscArgs: []*Expression{nil, nil}}}
	var warnings []string
	Compile(root, DefaultContext(), func(msg string) { warnings = append(warnings, msg) })
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warning for repeated dynamic osc args, got %d: %v", len(warnings), warnings)
	}
}

func TestCompileDefinitionWritesVariable(t *testing.T) {
	target := variable.Variable{Tag: variable.VarGlobal, Name: "x"}
	root := Statement{Kind: StmtEffect, Effect: &TopLevelEffect{Kind: TLEDefinition, DefTarget: target, DefValue: Lit(variable.Int(42))}}
	prog := Compile(root, DefaultContext(), nil)

	exec := NewExec()
	exec.Run(prog)
	got, ok := exec.Global.Get("x")
	if !ok || got.AsInt() != 42 {
		t.Fatalf("expected global x=42, got %+v ok=%v", got, ok)
	}
}
