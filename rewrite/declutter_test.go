package rewrite_test

import (
	"testing"

	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/gomlx/opgraph/ops"
	"github.com/gomlx/opgraph/plan"
	"github.com/gomlx/opgraph/rewrite"
	"github.com/gomlx/opgraph/tensor"
	"github.com/stretchr/testify/require"
)

func buildMulByFourModel(t *testing.T) (*graph.Model[facts.TypedFact, op.TypedOp], *tensor.Tensor, *tensor.Tensor) {
	t.Helper()
	data, err := tensor.FromValue([][]int32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	four, err := tensor.FromValue(int32(4))
	require.NoError(t, err)
	want, err := tensor.FromValue([][]int32{{4, 8}, {12, 16}})
	require.NoError(t, err)

	m := graph.New[facts.TypedFact, op.TypedOp]()
	src, err := m.AddNode("x", op.TypedOp(nil), nil, []facts.TypedFact{facts.FromTensor(data)})
	require.NoError(t, err)
	constNode, err := m.AddNode("four", &ops.Const{Value: four}, nil, []facts.TypedFact{facts.FromTensor(four)})
	require.NoError(t, err)

	mul := &ops.BinaryOp{Mini: ops.Mul}
	outFacts, err := mul.OutputFacts([]facts.TypedFact{facts.FromTensor(data), facts.FromTensor(four)})
	require.NoError(t, err)
	mulNode, err := m.AddNode("mul", op.TypedOp(mul), []graph.Outlet{src.Outlet(0), constNode.Outlet(0)}, outFacts)
	require.NoError(t, err)

	m.SetInputs(src.Outlet(0))
	m.SetOutputs(mulNode.Outlet(0))
	return m, data, want
}

// TestDeclutterReachesFixpoint drives the mul->shift strength reduction
// (scenario 6) through the model-level Declutter driver instead of a
// one-node manual Declutter+Patch.Apply call: the resulting model still
// evaluates to the same result, and a further Declutter pass is a no-op
// (idempotence).
func TestDeclutterReachesFixpoint(t *testing.T) {
	m, data, want := buildMulByFourModel(t)

	decluttered, err := rewrite.Declutter(m, 10)
	require.NoError(t, err)

	var sawUnary bool
	for _, n := range decluttered.Nodes() {
		if u, ok := n.Op.(*ops.UnaryOp); ok {
			sawUnary = true
			require.Equal(t, ops.FlippedShiftLeft, u.Mini)
		}
	}
	require.True(t, sawUnary, "declutter should have introduced a UnaryOp node")

	out, err := plan.New(decluttered).Run([]*tensor.Tensor{data}, nil)
	require.NoError(t, err)
	require.True(t, out[0].Equal(want))

	again, err := rewrite.Declutter(decluttered, 10)
	require.NoError(t, err)
	require.Len(t, again.Nodes(), len(decluttered.Nodes()), "declutter must be idempotent once at fixpoint")
}

// TestDeclutterIterationCeiling exercises the termination guard: a model
// that needs at least one declutter pass, given a ceiling of zero
// iterations, is reported as an error rather than silently left unconverged.
func TestDeclutterIterationCeiling(t *testing.T) {
	m, _, _ := buildMulByFourModel(t)
	_, err := rewrite.Declutter(m, 0)
	require.Error(t, err)
}
