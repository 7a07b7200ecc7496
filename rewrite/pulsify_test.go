package rewrite_test

import (
	"testing"

	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/gomlx/opgraph/ops"
	"github.com/gomlx/opgraph/rewrite"
	"github.com/gomlx/opgraph/shape"
	"github.com/stretchr/testify/require"
)

// TestPulsifyElementwiseChain builds a Source streaming along axis 0 feeding
// an Abs node, and checks Pulsify narrows both nodes to one pulse window of
// the declared size, with the elementwise node pulsifying as a passthrough.
func TestPulsifyElementwiseChain(t *testing.T) {
	streamShape := shape.MakeSymbolic(datum.F32, shape.S(), shape.Int(3))
	srcOp := &ops.Source{Fact: facts.TypedFact{Shape: streamShape}}

	m := graph.New[facts.TypedFact, op.TypedOp]()
	src, err := m.AddNode("x", op.TypedOp(srcOp), nil, []facts.TypedFact{{Shape: streamShape}})
	require.NoError(t, err)

	absOp := &ops.ElementwiseOp{Kernel: ops.Abs}
	outFacts, err := absOp.OutputFacts([]facts.TypedFact{{Shape: streamShape}})
	require.NoError(t, err)
	absNode, err := m.AddNode("abs", op.TypedOp(absOp), []graph.Outlet{src.Outlet(0)}, outFacts)
	require.NoError(t, err)

	m.SetInputs(src.Outlet(0))
	m.SetOutputs(absNode.Outlet(0))

	pulsed, err := rewrite.Pulsify(m, 0, 4)
	require.NoError(t, err)
	require.Len(t, pulsed.Nodes(), 2)

	pulsedSrc, ok := pulsed.Nodes()[0].Op.(*ops.PulsedSource)
	require.True(t, ok)
	require.Equal(t, 0, pulsedSrc.Fact.Axis)
	require.Equal(t, int64(4), pulsedSrc.Fact.Pulse)
	require.Equal(t, int64(4), pulsed.Nodes()[0].Outputs[0].Shape.Dim(0).MustInt64())

	pulsedAbs, ok := pulsed.Nodes()[1].Op.(*ops.PulsedPassthrough)
	require.True(t, ok)
	require.Equal(t, int64(4), pulsed.Nodes()[1].Outputs[0].Shape.Dim(0).MustInt64())

	// AsTyped always round-trips back to a non-streaming TypedOp, per the
	// pulsed<->typed translation contract.
	_, isTypedAbs := pulsedAbs.AsTyped().(*ops.ElementwiseOp)
	require.True(t, isTypedAbs)
	_, isTypedSrc := pulsedSrc.AsTyped().(*ops.Source)
	require.True(t, isTypedSrc)
}

// TestPulsifyRejectsConv locks in Conv's documented pulsify limitation: it
// must fail rather than silently produce an unsupported streaming kernel.
func TestPulsifyRejectsConv(t *testing.T) {
	data := facts.TypedFact{Shape: shape.MakeSymbolic(datum.F32, shape.S(), shape.Int(3))}
	srcOp := &ops.Source{Fact: data}

	m := graph.New[facts.TypedFact, op.TypedOp]()
	src, err := m.AddNode("x", op.TypedOp(srcOp), nil, []facts.TypedFact{data})
	require.NoError(t, err)

	conv := &ops.Conv{}
	convNode, err := m.AddNode("conv", op.TypedOp(conv), []graph.Outlet{src.Outlet(0)}, []facts.TypedFact{data})
	require.NoError(t, err)
	m.SetInputs(src.Outlet(0))
	m.SetOutputs(convNode.Outlet(0))

	_, err = rewrite.Pulsify(m, 0, 4)
	require.Error(t, err)
}
