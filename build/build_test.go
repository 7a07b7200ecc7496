package build_test

import (
	"testing"

	"github.com/gomlx/opgraph/build"
	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/plan"
	"github.com/gomlx/opgraph/rewrite"
	"github.com/gomlx/opgraph/shape"
	"github.com/gomlx/opgraph/tensor"
	"github.com/stretchr/testify/require"
)

// TestBuildAbsOfDifference exercises the fluent builder end to end: build an
// inference-stage model for abs(x - y), translate it to the typed stage, and
// run it.
func TestBuildAbsOfDifference(t *testing.T) {
	b := build.New()
	x, err := b.Input("x", datum.F32, shape.Int(3))
	require.NoError(t, err)
	y, err := b.Input("y", datum.F32, shape.Int(3))
	require.NoError(t, err)
	diff, err := x.Sub(y)
	require.NoError(t, err)
	out, err := diff.Abs()
	require.NoError(t, err)

	model, err := b.Build(out)
	require.NoError(t, err)
	require.Len(t, model.Nodes(), 3)

	typed, err := rewrite.Translate(model)
	require.NoError(t, err)

	xv, err := tensor.FromValue([]float32{1, 5, 2})
	require.NoError(t, err)
	yv, err := tensor.FromValue([]float32{4, 2, 2})
	require.NoError(t, err)
	want, err := tensor.FromValue([]float32{3, 3, 0})
	require.NoError(t, err)

	result, err := plan.New(typed).Run([]*tensor.Tensor{xv, yv}, nil)
	require.NoError(t, err)
	require.True(t, result[0].Equal(want))
}
