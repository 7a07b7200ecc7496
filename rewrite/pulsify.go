package rewrite

import (
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/pkg/errors"
)

// Pulsify converts a typed model into a pulsed model streaming along the
// given axis with the given pulse size, one node at a time, preserving node
// ids/outlets the same way Translate does.
//
// It requires a normalized model as a precondition (every constant folded
// away), matching the translation contract: Normalize is run first purely
// as a gate check, and its own (constant-free) facts are otherwise unused,
// since each node's Pulsify is defined against the typed model.
func Pulsify(m *graph.Model[facts.TypedFact, op.TypedOp], axis int, pulse int64) (*graph.Model[facts.PulsedFact, op.PulsedOp], error) {
	if _, err := Normalize(m); err != nil {
		return nil, errors.WithMessage(err, "pulsify")
	}

	dst := graph.New[facts.PulsedFact, op.PulsedOp]()
	for _, n := range m.Nodes() {
		if n.Op == nil {
			return nil, errors.Errorf("pulsify: node %q (id %d) has no operator", n.Name, n.ID)
		}
		pulsedInputs := make([]facts.PulsedFact, len(n.Inputs))
		for i, in := range n.Inputs {
			pn, err := dst.Node(in.NodeID)
			if err != nil {
				return nil, errors.WithMessagef(err, "pulsifying node %q: input outlet %s", n.Name, in)
			}
			pulsedInputs[i] = pn.Outputs[in.Slot]
		}

		pulsedOp, err := n.Op.Pulsify(m, n, axis, pulse)
		if err != nil {
			return nil, errors.WithMessagef(err, "pulsifying node %q (%s)", n.Name, n.Op.Name())
		}
		outFacts, err := pulsedOp.PulsedOutputFacts(pulsedInputs)
		if err != nil {
			return nil, errors.WithMessagef(err, "computing pulsed output facts for node %q", n.Name)
		}
		if _, err := dst.AddNode(n.Name, pulsedOp, n.Inputs, outFacts); err != nil {
			return nil, errors.WithMessagef(err, "appending pulsified node %q", n.Name)
		}
	}

	dst.SetInputs(m.InputOutlets()...)
	dst.SetOutputs(m.OutputOutlets()...)
	return dst, nil
}
