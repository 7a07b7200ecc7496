package ops

import (
	"testing"

	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/gomlx/opgraph/plan"
	"github.com/gomlx/opgraph/rewrite"
	"github.com/gomlx/opgraph/tensor"
	"github.com/stretchr/testify/require"
)

// TestMulAsShiftDeclutter exercises the full scenario: a source feeding a
// Mul(4) node evaluates to the expected product, then declutter specializes
// the node to a UnaryOp carrying FlippedShiftLeft, and the decluttered plan
// still produces the same result.
func TestMulAsShiftDeclutter(t *testing.T) {
	data, err := tensor.FromValue([][]int32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	four, err := tensor.FromValue(int32(4))
	require.NoError(t, err)
	want, err := tensor.FromValue([][]int32{{4, 8}, {12, 16}})
	require.NoError(t, err)

	m := graph.New[facts.TypedFact, op.TypedOp]()
	src, err := m.AddNode("x", op.TypedOp(nil), nil, []facts.TypedFact{facts.FromTensor(data)})
	require.NoError(t, err)
	constNode, err := m.AddNode("four", &Const{Value: four}, nil, []facts.TypedFact{facts.FromTensor(four)})
	require.NoError(t, err)

	mul := &BinaryOp{Mini: Mul}
	outFacts, err := mul.OutputFacts([]facts.TypedFact{facts.FromTensor(data), facts.FromTensor(four)})
	require.NoError(t, err)
	mulNode, err := m.AddNode("mul", op.TypedOp(mul), []graph.Outlet{src.Outlet(0), constNode.Outlet(0)}, outFacts)
	require.NoError(t, err)

	m.SetInputs(src.Outlet(0))
	m.SetOutputs(mulNode.Outlet(0))

	before, err := plan.New(m).Run([]*tensor.Tensor{data}, nil)
	require.NoError(t, err)
	require.True(t, before[0].Equal(want))

	decluttered, err := rewrite.Declutter(m, 10)
	require.NoError(t, err)

	var unaryNode *graph.Node[facts.TypedFact, op.TypedOp]
	for _, n := range decluttered.Nodes() {
		if u, ok := n.Op.(*UnaryOp); ok {
			unaryNode = n
			require.Equal(t, FlippedShiftLeft, u.Mini)
		}
	}
	require.NotNil(t, unaryNode, "declutter should have introduced a UnaryOp node")

	after, err := plan.New(decluttered).Run([]*tensor.Tensor{data}, nil)
	require.NoError(t, err)
	require.True(t, after[0].Equal(want))
}

// TestFlippedShiftRightNegates locks in the strength reduction identity
// x*c = -(x<<k) for negative powers of two c: FlippedShiftRight's kernel
// negates rather than performing a literal right-shift.
func TestFlippedShiftRightNegates(t *testing.T) {
	data, err := tensor.FromValue([]int32{1, 2, 3})
	require.NoError(t, err)
	// For c = -4 the mul->shift rewrite stores the shift amount k = 2.
	shift, err := tensor.FromValue(int32(2))
	require.NoError(t, err)
	want, err := tensor.FromValue([]int32{-4, -8, -12})
	require.NoError(t, err)

	unary := &UnaryOp{Mini: FlippedShiftRight, Const: shift, ConstIsLeftOperand: false}
	out, err := plan.EvalStandalone(unary, []*tensor.Tensor{data})
	require.NoError(t, err)
	require.True(t, out[0].Equal(want))
}

// TestBinaryOpAddEval exercises the plain elementwise path (no
// constant-folding declutter involved).
func TestBinaryOpAddEval(t *testing.T) {
	a, err := tensor.FromValue([]float32{1, 2, 3})
	require.NoError(t, err)
	b, err := tensor.FromValue([]float32{10, 20, 30})
	require.NoError(t, err)
	want, err := tensor.FromValue([]float32{11, 22, 33})
	require.NoError(t, err)

	add := &BinaryOp{Mini: Add}
	out, err := plan.EvalStandalone(add, []*tensor.Tensor{a, b})
	require.NoError(t, err)
	require.True(t, out[0].Equal(want))
}
