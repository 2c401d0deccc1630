package variable

import (
	"testing"

	"github.com/schollz/collidertracker/internal/fraction"
	"github.com/stretchr/testify/require"
)

func TestArithmeticWidensToFloat(t *testing.T) {
	sum := Int(2).Add(Float64(1.5))
	require.Equal(t, KindFloat, sum.Kind)
	require.InDelta(t, 3.5, sum.AsFloat(), 1e-9)
}

func TestArithmeticIntegerStaysInteger(t *testing.T) {
	sum := Int(2).Add(Int(3))
	require.Equal(t, KindInteger, sum.Kind)
	require.Equal(t, int64(5), sum.Integer)
}

func TestArithmeticWidensToDecimal(t *testing.T) {
	sum := Dec(fraction.New(1, 2)).Add(Int(1))
	require.Equal(t, KindDecimal, sum.Kind)
	require.InDelta(t, 1.5, sum.AsFloat(), 1e-9)
}

func TestDivByZeroDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		_ = Int(1).Div(Int(0))
	})
}

func TestStoreDeltaTracksOnlyWhenWatched(t *testing.T) {
	s := NewStore()
	s.Insert("a", Int(1))
	require.Nil(t, s.DrainDelta())

	s.Watch()
	s.Insert("b", Int(2))
	require.Equal(t, []string{"b"}, s.DrainDelta())
	require.Nil(t, s.DrainDelta())
}

func TestVariableMutability(t *testing.T) {
	require.False(t, Variable{Tag: VarConstant}.IsMutable())
	require.False(t, Variable{Tag: VarEnvironment}.IsMutable())
	require.True(t, Variable{Tag: VarGlobal, Name: "x"}.IsMutable())
}
