package rewrite

import (
	"slices"

	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/pkg/errors"
)

// Declutter runs every node's Declutter method to a fixpoint: a pass applies
// the first non-nil patch it finds, then restarts scanning from the
// beginning of the (now larger) model, since applying a patch can change
// facts a not-yet-visited node's own Declutter depends on. A pass that finds
// no patch to apply anywhere is the fixpoint. Nodes whose outputs are read
// by no node and by no model output (such as a node an earlier patch
// shunted around, which stays in the append-only model) are skipped.
//
// maxIterations bounds the number of passes; exceeding it without reaching a
// fixpoint is reported as an error rather than looping forever on a
// declutter pair that keeps undoing each other.
func Declutter(m *graph.Model[facts.TypedFact, op.TypedOp], maxIterations int) (*graph.Model[facts.TypedFact, op.TypedOp], error) {
	for iter := 0; ; iter++ {
		if iter >= maxIterations {
			return nil, errors.Errorf("declutter did not reach a fixpoint within %d iterations", maxIterations)
		}
		next, changed, err := declutterOnePass(m)
		if err != nil {
			return nil, err
		}
		if !changed {
			return m, nil
		}
		m = next
	}
}

// declutterOnePass scans m's nodes in order and applies the first non-nil
// patch any of them produces, reporting whether one was applied.
func declutterOnePass(m *graph.Model[facts.TypedFact, op.TypedOp]) (*graph.Model[facts.TypedFact, op.TypedOp], bool, error) {
	ids := make([]int, len(m.Nodes()))
	for i, n := range m.Nodes() {
		ids[i] = n.ID
	}
	for _, id := range ids {
		n, err := m.Node(id)
		if err != nil {
			return nil, false, err
		}
		if n.Op == nil {
			continue
		}
		live := false
		for slot := range n.Outputs {
			o := n.Outlet(slot)
			if len(m.Consumers(o)) > 0 || slices.Contains(m.OutputOutlets(), o) {
				live = true
				break
			}
		}
		if !live {
			continue
		}
		patch, err := n.Op.Declutter(m, n)
		if err != nil {
			return nil, false, errors.WithMessagef(err, "declutter node %q (id %d)", n.Name, n.ID)
		}
		if patch == nil {
			continue
		}
		next, err := patch.Apply(m)
		if err != nil {
			return nil, false, errors.WithMessagef(err, "applying declutter patch from node %q (id %d)", n.Name, n.ID)
		}
		return next, true, nil
	}
	return m, false, nil
}
