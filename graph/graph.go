// Package graph implements the append-only dataflow graph that the rest of
// the kernel is built on: Outlet/Node/Model, generic over the fact type
// carried at each stage (InferenceFact, TypedFact, NormalizedFact,
// PulsedFact) and the operator type valid at that stage.
//
// Model does not know anything about operator semantics -- it only owns
// nodes and wiring. The solver, translation, and rewrite packages operate on
// top of it.
package graph

import (
	"fmt"

	"github.com/pkg/errors"
)

// Outlet identifies one output edge of the graph: the node that produces it
// and which of that node's output slots.
type Outlet struct {
	NodeID int
	Slot   int
}

// String implements fmt.Stringer.
func (o Outlet) String() string {
	return fmt.Sprintf("%d:%d", o.NodeID, o.Slot)
}

// Node is one vertex of the graph: an operator value, its input outlets, and
// its current output facts (one per declared output slot).
type Node[F any, O any] struct {
	ID      int
	Name    string
	Op      O
	Inputs  []Outlet
	Outputs []F
}

// Outlet returns the outlet identifying this node's given output slot.
func (n *Node[F, O]) Outlet(slot int) Outlet {
	return Outlet{NodeID: n.ID, Slot: slot}
}

// Model is an append-only directed acyclic graph: every node's inputs must
// reference a strictly earlier node id, so the node list is already in
// topological order by construction.
type Model[F any, O any] struct {
	nodes   []*Node[F, O]
	inputs  []Outlet
	outputs []Outlet
}

// New returns an empty model.
func New[F any, O any]() *Model[F, O] {
	return &Model[F, O]{}
}

// AddNode appends a new node to the model. Every outlet in inputs must
// reference a node id already present in the model (topological order).
// outputFacts gives the node's initial per-slot output facts (these are
// typically refined in place afterward, e.g. by the inference solver).
func (m *Model[F, O]) AddNode(name string, op O, inputs []Outlet, outputFacts []F) (*Node[F, O], error) {
	for _, in := range inputs {
		if in.NodeID < 0 || in.NodeID >= len(m.nodes) {
			return nil, errors.Errorf("node %q: input outlet %s does not reference an earlier node", name, in)
		}
	}
	n := &Node[F, O]{
		ID:      len(m.nodes),
		Name:    name,
		Op:      op,
		Inputs:  append([]Outlet(nil), inputs...),
		Outputs: append([]F(nil), outputFacts...),
	}
	m.nodes = append(m.nodes, n)
	return n, nil
}

// Node returns the node with the given id.
func (m *Model[F, O]) Node(id int) (*Node[F, O], error) {
	if id < 0 || id >= len(m.nodes) {
		return nil, errors.Errorf("no node with id %d", id)
	}
	return m.nodes[id], nil
}

// Nodes returns the model's nodes in topological (construction) order.
// Callers must not mutate the returned slice.
func (m *Model[F, O]) Nodes() []*Node[F, O] {
	return m.nodes
}

// Fact returns the current fact at the given outlet.
func (m *Model[F, O]) Fact(o Outlet) (F, error) {
	var zero F
	n, err := m.Node(o.NodeID)
	if err != nil {
		return zero, err
	}
	if o.Slot < 0 || o.Slot >= len(n.Outputs) {
		return zero, errors.Errorf("node %d has no output slot %d", o.NodeID, o.Slot)
	}
	return n.Outputs[o.Slot], nil
}

// SetInputs declares which outlets are the model's external inputs.
func (m *Model[F, O]) SetInputs(outlets ...Outlet) {
	m.inputs = append([]Outlet(nil), outlets...)
}

// SetOutputs declares which outlets are the model's external outputs.
func (m *Model[F, O]) SetOutputs(outlets ...Outlet) {
	m.outputs = append([]Outlet(nil), outlets...)
}

// InputOutlets returns the model's declared input outlets.
func (m *Model[F, O]) InputOutlets() []Outlet {
	return append([]Outlet(nil), m.inputs...)
}

// OutputOutlets returns the model's declared output outlets.
func (m *Model[F, O]) OutputOutlets() []Outlet {
	return append([]Outlet(nil), m.outputs...)
}

// Consumers returns, for every node input that references o -- i.e. every
// (node, input-slot) pair currently reading from o -- the consuming node's
// id.
func (m *Model[F, O]) Consumers(o Outlet) []int {
	var result []int
	for _, n := range m.nodes {
		for _, in := range n.Inputs {
			if in == o {
				result = append(result, n.ID)
				break
			}
		}
	}
	return result
}

// Clone returns a deep-enough copy of the model: a new node slice and new
// per-node Inputs/Outputs slices, suitable as the base for a rewrite that
// must not mutate the original. Op and fact values themselves are copied by
// value (facts and ops are expected to be small, immutable-by-convention
// values or pointers to shared, immutable constants).
func (m *Model[F, O]) Clone() *Model[F, O] {
	clone := &Model[F, O]{
		nodes:   make([]*Node[F, O], len(m.nodes)),
		inputs:  append([]Outlet(nil), m.inputs...),
		outputs: append([]Outlet(nil), m.outputs...),
	}
	for i, n := range m.nodes {
		clone.nodes[i] = &Node[F, O]{
			ID:      n.ID,
			Name:    n.Name,
			Op:      n.Op,
			Inputs:  append([]Outlet(nil), n.Inputs...),
			Outputs: append([]F(nil), n.Outputs...),
		}
	}
	return clone
}
