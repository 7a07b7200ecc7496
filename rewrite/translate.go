// Package rewrite drives the per-operator Declutter/Fuse/Codegen/Pulsify
// methods (ops package) over a whole model: translating a model from one
// pipeline stage to the next, and running local rewrites to a fixpoint.
//
// Model is append-only (graph.Model.AddNode), so every driver here builds
// a fresh model of the target stage rather than mutating the source in
// place; Declutter/Fuse/Codegen instead apply graph.Patch values against a
// single model of the same stage, one node at a time.
package rewrite

import (
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/pkg/errors"
)

// Translate converts an inference-stage model into a typed-stage model, one
// node at a time: each source node's operator is asked for its typed
// equivalent (InferenceOp.ToTyped) given its now-fully-known input facts,
// and the result is appended to a new model in the same order.
//
// Because AddNode assigns node ids sequentially (len(nodes) at append time),
// processing source nodes in order and appending 1:1 produces an identical
// id/outlet numbering in the typed model, so source Outlets can be reused
// verbatim as the new model's Inputs.
func Translate(src *graph.Model[facts.InferenceFact, op.InferenceOp]) (*graph.Model[facts.TypedFact, op.TypedOp], error) {
	dst := graph.New[facts.TypedFact, op.TypedOp]()

	for _, n := range src.Nodes() {
		inputFacts := make([]facts.TypedFact, len(n.Inputs))
		for i, in := range n.Inputs {
			tn, err := dst.Node(in.NodeID)
			if err != nil {
				return nil, errors.WithMessagef(err, "translating node %q: input outlet %s", n.Name, in)
			}
			inputFacts[i] = tn.Outputs[in.Slot]
		}

		typedOp, err := n.Op.ToTyped(inputFacts)
		if err != nil {
			return nil, errors.WithMessagef(err, "translating node %q (%s) to typed stage", n.Name, n.Op.Name())
		}
		outputFacts, err := typedOp.OutputFacts(inputFacts)
		if err != nil {
			return nil, errors.WithMessagef(err, "computing output facts for translated node %q", n.Name)
		}
		if _, err := dst.AddNode(n.Name, typedOp, n.Inputs, outputFacts); err != nil {
			return nil, errors.WithMessagef(err, "appending translated node %q", n.Name)
		}
	}

	dst.SetInputs(src.InputOutlets()...)
	dst.SetOutputs(src.OutputOutlets()...)
	return dst, nil
}
