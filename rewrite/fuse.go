package rewrite

import (
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/pkg/errors"
)

// Fuse runs a single forward pass applying every node's Fuse method, in
// contrast to Declutter's fixpoint: fusion is a post-codegen peephole that
// the source expects to run once, not iterate.
func Fuse(m *graph.Model[facts.TypedFact, op.TypedOp]) (*graph.Model[facts.TypedFact, op.TypedOp], error) {
	return forwardPass(m, func(o op.TypedOp, m *graph.Model[facts.TypedFact, op.TypedOp], n *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
		return o.Fuse(m, n)
	}, "fuse")
}

// forwardPass scans m's nodes once, in order, applying each patch as soon
// as it is found; since patches append rather than remove nodes, it is safe to keep
// scanning the original id range even as the model grows underneath it.
func forwardPass(
	m *graph.Model[facts.TypedFact, op.TypedOp],
	step func(op.TypedOp, *graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error),
	label string,
) (*graph.Model[facts.TypedFact, op.TypedOp], error) {
	ids := make([]int, len(m.Nodes()))
	for i, n := range m.Nodes() {
		ids[i] = n.ID
	}
	for _, id := range ids {
		n, err := m.Node(id)
		if err != nil {
			return nil, err
		}
		if n.Op == nil {
			continue
		}
		patch, err := step(n.Op, m, n)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s node %q (id %d)", label, n.Name, n.ID)
		}
		if patch == nil {
			continue
		}
		next, err := patch.Apply(m)
		if err != nil {
			return nil, errors.WithMessagef(err, "applying %s patch from node %q (id %d)", label, n.Name, n.ID)
		}
		m = next
	}
	return m, nil
}
