package fraction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddSimplifies(t *testing.T) {
	f := New(1, 2).Add(New(1, 2))
	require.Equal(t, int64(1), f.Num)
	require.Equal(t, int64(1), f.Den)
	require.False(t, f.Negative)
}

func TestSubNegative(t *testing.T) {
	f := New(1, 4).Sub(New(1, 2))
	require.True(t, f.Negative)
	require.Equal(t, int64(1), f.Num)
	require.Equal(t, int64(4), f.Den)
}

func TestAlwaysSimplified(t *testing.T) {
	cases := []ConcreteFraction{
		New(2, 4),
		New(6, 8).Add(New(3, 8)),
		New(5, 10).Mul(New(2, 3)),
		New(7, 3).DivByInt(7),
	}
	for _, f := range cases {
		require.Equal(t, int64(1), gcd(f.Num, f.Den), "not simplified: %v", f)
		require.Greater(t, f.Den, int64(0))
	}
}

func TestCmp(t *testing.T) {
	require.Equal(t, -1, New(1, 3).Cmp(New(1, 2)))
	require.Equal(t, 1, New(2, 3).Cmp(New(1, 2)))
	require.Equal(t, 0, New(2, 4).Cmp(New(1, 2)))
}

func TestDivByIntZeroIsNoop(t *testing.T) {
	f := New(3, 4)
	require.Equal(t, f, f.DivByInt(0))
}

func TestFromFloatRoundTrip(t *testing.T) {
	for _, x := range []float64{0, 0.5, 0.25, 1.0 / 3.0, 3.75, -2.5} {
		f := FromFloat(x)
		require.InDelta(t, x, f.Float(), 1e-9)
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	for _, x := range []float64{0, 0.5, 1.25, -4.75} {
		f := FromFloat(x)
		back, err := FromDecString(f.DecimalString())
		require.NoError(t, err)
		require.InDelta(t, x, back.Float(), 1e-9)
	}
}
