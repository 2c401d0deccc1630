package bali

import (
	"testing"

	"github.com/schollz/collidertracker/internal/fraction"
	"github.com/schollz/collidertracker/internal/variable"
)

func noteEffect(n int64) Statement {
	return Statement{Kind: StmtEffect, Effect: &TopLevelEffect{Kind: TLENote, NoteExpr: Lit(variable.Int(n))}}
}

func TestExpandEuclideanProducesOnsetCount(t *testing.T) {
	root := Statement{
		Kind:  StmtEuclidean,
		K:     3,
		N:     8,
		Delta: FrameRelative(fraction.New(8, 1)),
		Body:  []Statement{noteEffect(60)},
	}
	ex := &expanders{choiceVars: &ChoiceVarGen{}, pickVars: &PickVarGen{}}
	got := root.Expand(fraction.Zero, fraction.New(1, 1), DefaultContext(), nil, nil, ex)
	if len(got) != 3 {
		t.Fatalf("expected 3 time statements, got %d", len(got))
	}
	wantTimes := []int64{0, 3, 6}
	for i, ts := range got {
		if ts.Time.Cmp(fraction.New(wantTimes[i], 1)) != 0 {
			t.Fatalf("onset %d: got time %s want %d", i, ts.Time.String(), wantTimes[i])
		}
	}
}

func TestTimeStatementTiebreakOrder(t *testing.T) {
	at := TimeStatement{Kind: TSAt, Time: fraction.New(1, 1)}
	before := TimeStatement{Kind: TSJustBefore, Time: fraction.New(1, 1)}
	after := TimeStatement{Kind: TSJustAfter, Time: fraction.New(1, 1)}
	earlier := TimeStatement{Kind: TSAt, Time: fraction.Zero}

	prog := []TimeStatement{at, after, before, earlier}
	SortPrepared(prog)

	if prog[0].Time.Cmp(fraction.Zero) != 0 {
		t.Fatalf("expected earliest time first, got %+v", prog[0])
	}
	if prog[1].Kind != TSJustBefore || prog[2].Kind != TSAt || prog[3].Kind != TSJustAfter {
		t.Fatalf("expected JustBefore < At < JustAfter at equal time, got kinds %d %d %d", prog[1].Kind, prog[2].Kind, prog[3].Kind)
	}
}

func TestChoiceDegenerateZeroSelected(t *testing.T) {
	root := Statement{Kind: StmtChoice, K: 0, N: 4, Body: []Statement{noteEffect(1), noteEffect(2), noteEffect(3), noteEffect(4)}}
	ex := &expanders{choiceVars: &ChoiceVarGen{}, pickVars: &PickVarGen{}}
	got := root.Expand(fraction.Zero, fraction.New(1, 1), DefaultContext(), nil, nil, ex)
	if len(got) != 0 {
		t.Fatalf("expected no time statements when numSelected=0, got %d", len(got))
	}
}

func TestChoiceDegenerateAllSelected(t *testing.T) {
	root := Statement{Kind: StmtChoice, K: 4, N: 4, Body: []Statement{noteEffect(1), noteEffect(2), noteEffect(3), noteEffect(4)}}
	ex := &expanders{choiceVars: &ChoiceVarGen{}, pickVars: &PickVarGen{}}
	got := root.Expand(fraction.Zero, fraction.New(1, 1), DefaultContext(), nil, nil, ex)
	if len(got) != 4 {
		t.Fatalf("expected all 4 included when numSelected>=numSelectable, got %d", len(got))
	}
	for _, ts := range got {
		if len(ts.Choices) != 0 {
			t.Fatalf("degenerate all-selected choice should carry no runtime guard, got %+v", ts.Choices)
		}
	}
}

func TestChoicePartialAttachesGuard(t *testing.T) {
	root := Statement{Kind: StmtChoice, K: 2, N: 4, Body: []Statement{noteEffect(1), noteEffect(2), noteEffect(3), noteEffect(4)}}
	ex := &expanders{choiceVars: &ChoiceVarGen{}, pickVars: &PickVarGen{}}
	got := root.Expand(fraction.Zero, fraction.New(1, 1), DefaultContext(), nil, nil, ex)
	if len(got) != 4 {
		t.Fatalf("expected 4 candidate time statements (guard decides at runtime), got %d", len(got))
	}
	for i, ts := range got {
		if len(ts.Choices) != 1 || ts.Choices[0].Position != i {
			t.Fatalf("time statement %d missing expected choice guard: %+v", i, ts.Choices)
		}
	}
}

func TestPickAllEffectsProducesSingleTimeStatement(t *testing.T) {
	root := Statement{Kind: StmtPick, Body: []Statement{noteEffect(1), noteEffect(2), noteEffect(3)}}
	ex := &expanders{choiceVars: &ChoiceVarGen{}, pickVars: &PickVarGen{}}
	got := root.Expand(fraction.Zero, fraction.New(1, 1), DefaultContext(), nil, nil, ex)
	if len(got) != 1 {
		t.Fatalf("expected a single collapsed pick time statement, got %d", len(got))
	}
	if got[0].Effect.Kind != TLEPick || len(got[0].Effect.Body) != 3 {
		t.Fatalf("expected inline TLEPick with 3 candidates, got %+v", got[0].Effect)
	}
}
