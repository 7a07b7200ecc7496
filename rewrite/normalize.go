package rewrite

import (
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/pkg/errors"
)

// constantOp is the structural probe Normalize uses to find un-folded
// constant nodes, satisfied by ops.Const without importing package ops
// (which itself depends on op and graph, and would cycle back here).
type constantOp interface {
	IsConstant() bool
}

// Normalize converts a typed model into a normalized one: same structure,
// same operators, but with every constant value stripped from the facts.
// It is a gate as much as a conversion -- pulsification requires every
// constant to have already been folded into its consuming operator (e.g.
// ConvUnary's Kernel field) by Declutter, so Normalize fails if any *Const
// node still has live consumers.
func Normalize(m *graph.Model[facts.TypedFact, op.TypedOp]) (*graph.Model[facts.NormalizedFact, op.TypedOp], error) {
	for _, n := range m.Nodes() {
		if n.Op == nil {
			continue
		}
		c, ok := n.Op.(constantOp)
		if !ok || !c.IsConstant() {
			continue
		}
		if consumers := m.Consumers(n.Outlet(0)); len(consumers) > 0 {
			return nil, errors.Errorf("normalize: constant node %q (id %d) still has %d live consumer(s); constant folding did not complete", n.Name, n.ID, len(consumers))
		}
	}

	dst := graph.New[facts.NormalizedFact, op.TypedOp]()
	for _, n := range m.Nodes() {
		outFacts := make([]facts.NormalizedFact, len(n.Outputs))
		for i, f := range n.Outputs {
			outFacts[i] = facts.FromTypedFact(f)
		}
		if _, err := dst.AddNode(n.Name, n.Op, n.Inputs, outFacts); err != nil {
			return nil, errors.WithMessagef(err, "normalizing node %q", n.Name)
		}
	}
	dst.SetInputs(m.InputOutlets()...)
	dst.SetOutputs(m.OutputOutlets()...)
	return dst, nil
}
