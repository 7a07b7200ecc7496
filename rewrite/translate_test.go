package rewrite_test

import (
	"testing"

	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/gomlx/opgraph/ops"
	"github.com/gomlx/opgraph/plan"
	"github.com/gomlx/opgraph/rewrite"
	"github.com/gomlx/opgraph/shape"
	"github.com/gomlx/opgraph/tensor"
	"github.com/stretchr/testify/require"
)

// TestTranslateMulModel builds a Source+Source(const)+InferenceBinary(Mul)
// model at the inference stage and checks Translate reproduces an
// equivalent, runnable typed model with identical node ids/outlets.
func TestTranslateMulModel(t *testing.T) {
	m := graph.New[facts.InferenceFact, op.InferenceOp]()

	srcFact := facts.FromShape(shape.Make(datum.F32, 2, 2))
	src, err := m.AddNode("x", &ops.InferenceSource{Fact: srcFact}, nil, []facts.InferenceFact{srcFact})
	require.NoError(t, err)

	two, err := tensor.FromValue(float32(2))
	require.NoError(t, err)
	constFact := facts.FromValue(two)
	constNode, err := m.AddNode("two", &ops.InferenceSource{Fact: constFact}, nil, []facts.InferenceFact{constFact})
	require.NoError(t, err)

	mulOp := &ops.InferenceBinary{Mini: ops.Mul}
	mulNode, err := m.AddNode("mul", mulOp, []graph.Outlet{src.Outlet(0), constNode.Outlet(0)}, []facts.InferenceFact{facts.Unknown()})
	require.NoError(t, err)

	m.SetInputs(src.Outlet(0), constNode.Outlet(0))
	m.SetOutputs(mulNode.Outlet(0))

	typed, err := rewrite.Translate(m)
	require.NoError(t, err)
	require.Len(t, typed.Nodes(), 3)

	_, ok := typed.Nodes()[2].Op.(*ops.BinaryOp)
	require.True(t, ok, "InferenceBinary should translate into a BinaryOp")

	data, err := tensor.FromValue([][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	want, err := tensor.FromValue([][]float32{{2, 4}, {6, 8}})
	require.NoError(t, err)

	out, err := plan.New(typed).Run([]*tensor.Tensor{data, two}, nil)
	require.NoError(t, err)
	require.True(t, out[0].Equal(want))
}
