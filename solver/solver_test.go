package solver

import (
	"testing"

	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/shape"
	"github.com/stretchr/testify/require"
)

func TestEqualsPropagates(t *testing.T) {
	a := facts.Unknown()
	b := facts.Unknown()
	s := New()
	Equals(s, DTypeCell(&a), DTypeCell(&b))
	EqualsConst(s, DTypeCell(&a), datum.F32)
	require.NoError(t, s.Run())
	require.NotNil(t, b.DType)
	require.Equal(t, datum.F32, *b.DType)
}

func TestEqualsContradiction(t *testing.T) {
	a := facts.Unknown()
	b := facts.Unknown()
	s := New()
	Equals(s, DTypeCell(&a), DTypeCell(&b))
	EqualsConst(s, DTypeCell(&a), datum.F32)
	EqualsConst(s, DTypeCell(&b), datum.I32)
	require.Error(t, s.Run())
}

func TestGivenRankThenShape(t *testing.T) {
	in := facts.Unknown()
	out := facts.Unknown()
	s := New()
	EqualsConst(s, RankCell(&in), 2)
	Given(s, RankCell(&in), func(s *Solver, rank int) error {
		Equals(s, RankCell(&in), RankCell(&out))
		for axis := 0; axis < rank; axis++ {
			Equals(s, ShapeDimCell(&in, axis), ShapeDimCell(&out, axis))
		}
		return nil
	})
	EqualsConst(s, ShapeDimCell(&in, 0), shape.Int(3))
	EqualsConst(s, ShapeDimCell(&in, 1), shape.Int(5))
	require.NoError(t, s.Run())
	require.NotNil(t, out.Rank)
	require.Equal(t, 2, *out.Rank)
	require.True(t, out.IsFullyKnown())
	require.True(t, out.Shape[0].Equal(shape.Int(3)))
	require.True(t, out.Shape[1].Equal(shape.Int(5)))
}

func TestGiven2(t *testing.T) {
	a := facts.Unknown()
	b := facts.Unknown()
	var product datum.DType
	s := New()
	EqualsConst(s, DTypeCell(&a), datum.F32)
	EqualsConst(s, RankCell(&b), 1)
	Given2(s, DTypeCell(&a), RankCell(&b), func(s *Solver, dt datum.DType, rank int) error {
		product = dt
		return nil
	})
	require.NoError(t, s.Run())
	require.Equal(t, datum.F32, product)
}
