package rewrite_test

import (
	"testing"

	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/gomlx/opgraph/ops"
	"github.com/gomlx/opgraph/rewrite"
	"github.com/gomlx/opgraph/tensor"
	"github.com/stretchr/testify/require"
)

// TestNormalizeRejectsLiveConstant checks Normalize's gate: an un-folded
// *ops.Const node still wired to a consumer (constant folding did not
// complete) must fail rather than silently drop the constant.
func TestNormalizeRejectsLiveConstant(t *testing.T) {
	m, _, _ := buildMulByFourModel(t)
	_, err := rewrite.Normalize(m)
	require.Error(t, err, "mul node still directly consumes the Const node")
}

// TestNormalizeStripsConstants checks the success path: once a constant has
// been folded away (no remaining consumer), Normalize succeeds and produces
// a NormalizedFact model with the same shape, same operators and structure.
func TestNormalizeStripsConstants(t *testing.T) {
	data, err := tensor.FromValue([][]int32{{1, 2}, {3, 4}})
	require.NoError(t, err)

	m := graph.New[facts.TypedFact, op.TypedOp]()
	src, err := m.AddNode("x", op.TypedOp(nil), nil, []facts.TypedFact{facts.FromTensor(data)})
	require.NoError(t, err)
	unary := &ops.UnaryOp{Mini: ops.FlippedShiftLeft, Const: mustI32Scalar(t, 2), ConstIsLeftOperand: false}
	outFacts, err := unary.OutputFacts([]facts.TypedFact{facts.FromTensor(data)})
	require.NoError(t, err)
	unaryNode, err := m.AddNode("shift", op.TypedOp(unary), []graph.Outlet{src.Outlet(0)}, outFacts)
	require.NoError(t, err)
	m.SetInputs(src.Outlet(0))
	m.SetOutputs(unaryNode.Outlet(0))

	normalized, err := rewrite.Normalize(m)
	require.NoError(t, err)
	require.Len(t, normalized.Nodes(), 2)
	require.Equal(t, m.Nodes()[1].Outputs[0].Shape, normalized.Nodes()[1].Outputs[0].Shape)
}

func mustI32Scalar(t *testing.T, v int32) *tensor.Tensor {
	t.Helper()
	tv, err := tensor.FromValue(v)
	require.NoError(t, err)
	return tv
}
