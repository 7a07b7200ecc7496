package rewrite

import (
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
)

// Codegen runs a single forward pass applying every node's Codegen method,
// lowering the model into its final executable form.
func Codegen(m *graph.Model[facts.TypedFact, op.TypedOp]) (*graph.Model[facts.TypedFact, op.TypedOp], error) {
	return forwardPass(m, func(o op.TypedOp, m *graph.Model[facts.TypedFact, op.TypedOp], n *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
		return o.Codegen(m, n)
	}, "codegen")
}
