// Package plan implements SimplePlan: the single-threaded executor that
// runs a codegen'd typed model in topological order.
package plan

import (
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/gomlx/opgraph/tensor"
	"github.com/pkg/errors"
)

// SimplePlan is a compiled, executable view of a typed model: its node list
// is already in topological order (an invariant of graph.Model), so running
// it is a single linear pass.
type SimplePlan struct {
	Model *graph.Model[facts.TypedFact, op.TypedOp]
}

// New wraps a model for execution.
func New(m *graph.Model[facts.TypedFact, op.TypedOp]) *SimplePlan {
	return &SimplePlan{Model: m}
}

// Run evaluates the plan given one concrete tensor per declared model
// input, returning one tensor per declared model output. session, if
// non-nil, threads OpState across stateful nodes; pass nil for models with
// no stateful operators.
func (p *SimplePlan) Run(inputs []*tensor.Tensor, session *op.SessionState) ([]*tensor.Tensor, error) {
	inputOutlets := p.Model.InputOutlets()
	if len(inputs) != len(inputOutlets) {
		return nil, errors.Errorf("SimplePlan.Run: model declares %d inputs, got %d", len(inputOutlets), len(inputs))
	}
	if session == nil {
		session = op.NewSessionState()
	}

	// values holds every node's computed output tensors, indexed by node id.
	values := make([][]*tensor.Tensor, len(p.Model.Nodes()))
	provided := make(map[int][]*tensor.Tensor, len(inputOutlets))
	for i, o := range inputOutlets {
		provided[o.NodeID] = append(provided[o.NodeID], inputs[i])
	}

	for _, n := range p.Model.Nodes() {
		if supplied, ok := provided[n.ID]; ok && len(supplied) > 0 {
			values[n.ID] = supplied
			continue
		}
		inTensors := make([]*tensor.Tensor, len(n.Inputs))
		for i, in := range n.Inputs {
			producer := values[in.NodeID]
			if producer == nil {
				return nil, errors.Errorf("SimplePlan.Run: node %q (id %d) has no computed value for input %s", n.Name, n.ID, in)
			}
			if in.Slot >= len(producer) {
				return nil, errors.Errorf("SimplePlan.Run: node %q references out-of-range output slot %d", n.Name, in.Slot)
			}
			inTensors[i] = producer[in.Slot]
		}

		out, err := evalNode(n, inTensors, session)
		if err != nil {
			return nil, errors.WithMessagef(err, "evaluating node %q (id %d)", n.Name, n.ID)
		}
		values[n.ID] = out
	}

	outputOutlets := p.Model.OutputOutlets()
	results := make([]*tensor.Tensor, len(outputOutlets))
	for i, o := range outputOutlets {
		producer := values[o.NodeID]
		if producer == nil || o.Slot >= len(producer) {
			return nil, errors.Errorf("SimplePlan.Run: output outlet %s was never computed", o)
		}
		results[i] = producer[o.Slot]
	}
	return results, nil
}

func evalNode(n *graph.Node[facts.TypedFact, op.TypedOp], inputs []*tensor.Tensor, session *op.SessionState) ([]*tensor.Tensor, error) {
	if stateless, ok := op.AsStateless(n.Op); ok {
		return stateless.Eval(inputs)
	}
	if stateful, ok := op.AsStateful(n.Op); ok {
		state, hasState := session.Get(n.ID)
		if !hasState {
			state = stateful.InitState()
		}
		out, newState, err := stateful.EvalStateful(state, inputs)
		if err != nil {
			return nil, err
		}
		session.Set(n.ID, newState)
		return out, nil
	}
	return nil, errors.Errorf("operator %q (id %d) has no executable form (neither StatelessOp nor StatefulOp)", n.Name, n.ID)
}

// EvalStandalone evaluates a single TypedOp in isolation by grafting it
// into a small model (each input a placeholder node with no operator,
// declared as a model input and fed directly from inputs) and running it
// through SimplePlan. Tests use it to evaluate one operator without
// building a full model by hand.
func EvalStandalone(o op.TypedOp, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	m := graph.New[facts.TypedFact, op.TypedOp]()
	inputOutlets := make([]graph.Outlet, len(inputs))
	inputFacts := make([]facts.TypedFact, len(inputs))
	for i, t := range inputs {
		inputFacts[i] = facts.FromTensor(t)
		src, err := m.AddNode("in", op.TypedOp(nil), nil, []facts.TypedFact{inputFacts[i]})
		if err != nil {
			return nil, err
		}
		inputOutlets[i] = src.Outlet(0)
	}
	outFacts, err := o.OutputFacts(inputFacts)
	if err != nil {
		return nil, err
	}
	node, err := m.AddNode("op", o, inputOutlets, outFacts)
	if err != nil {
		return nil, err
	}
	m.SetInputs(inputOutlets...)
	m.SetOutputs(node.Outlet(0))

	return New(m).Run(inputs, nil)
}
