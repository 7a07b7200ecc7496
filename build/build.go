// Package build implements a fluent, method-chaining API for constructing an
// inference-stage model one node at a time: Builder.Input/Const introduce
// leaf nodes, each returning a Handle; Handle's own operator methods (Mul,
// Add, Abs, Conv, ...) append a new node wired to their receiver (and, for
// binary ops, their argument) and return the new node's Handle in turn,
// mirroring the teacher's Function.Input/Value-returning-op-method pattern,
// generalized from building a StableHLO program to building an inference
// op-graph model.
package build

import (
	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/gomlx/opgraph/ops"
	"github.com/gomlx/opgraph/shape"
	"github.com/gomlx/opgraph/tensor"
	"github.com/pkg/errors"
)

// Builder accumulates an inference-stage model under construction.
type Builder struct {
	model  *graph.Model[facts.InferenceFact, op.InferenceOp]
	inputs []graph.Outlet
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{model: graph.New[facts.InferenceFact, op.InferenceOp]()}
}

// Handle is a reference to one node's sole output, the receiver of every
// operator method below.
type Handle struct {
	b      *Builder
	outlet graph.Outlet
	fact   facts.InferenceFact
}

// Outlet returns the outlet this handle refers to.
func (h *Handle) Outlet() graph.Outlet { return h.outlet }

// Fact returns whatever is currently known about this handle's tensor.
func (h *Handle) Fact() facts.InferenceFact { return h.fact }

func (b *Builder) add(name string, o op.InferenceOp, inputs []graph.Outlet, fact facts.InferenceFact) (*Handle, error) {
	n, err := b.model.AddNode(name, o, inputs, []facts.InferenceFact{fact})
	if err != nil {
		return nil, err
	}
	return &Handle{b: b, outlet: n.Outlet(0), fact: fact}, nil
}

// Input declares a new graph input of the given (possibly partially known)
// shape, e.g. b.Input("x", datum.F32, shape.S(), shape.Int(3)) for a
// streaming input.
func (b *Builder) Input(name string, dtype datum.DType, dims ...shape.TDim) (*Handle, error) {
	s := shape.MakeSymbolic(dtype, dims...)
	fact := facts.FromShape(s)
	h, err := b.add(name, &ops.InferenceSource{Fact: fact}, nil, fact)
	if err != nil {
		return nil, errors.WithMessagef(err, "build.Input(%q)", name)
	}
	b.inputs = append(b.inputs, h.outlet)
	return h, nil
}

// Const embeds a constant tensor as a zero-input node.
func (b *Builder) Const(name string, t *tensor.Tensor) (*Handle, error) {
	fact := facts.FromValue(t)
	return b.add(name, &ops.InferenceSource{Fact: fact}, nil, fact)
}

// binary appends a two-input node built from an InferenceBinary mini-op.
func (h *Handle) binary(name string, mini *ops.BinMiniOp, other *Handle) (*Handle, error) {
	if h.b != other.b {
		return nil, errors.Errorf("build: %s: operands belong to different builders", name)
	}
	return h.b.add(name, &ops.InferenceBinary{Mini: mini}, []graph.Outlet{h.outlet, other.outlet}, facts.Unknown())
}

// Add, Sub, Mul, Div wire an InferenceBinary node of the corresponding
// kernel between h and other.
func (h *Handle) Add(other *Handle) (*Handle, error) { return h.binary("Add", ops.Add, other) }
func (h *Handle) Sub(other *Handle) (*Handle, error) { return h.binary("Sub", ops.Sub, other) }
func (h *Handle) Mul(other *Handle) (*Handle, error) { return h.binary("Mul", ops.Mul, other) }
func (h *Handle) Div(other *Handle) (*Handle, error) { return h.binary("Div", ops.Div, other) }

// elementwise appends a one-input node built from an InferenceElementwise
// kernel.
func (h *Handle) elementwise(name string, kernel *ops.ElementwiseKernel) (*Handle, error) {
	return h.b.add(name, &ops.InferenceElementwise{Kernel: kernel}, []graph.Outlet{h.outlet}, facts.Unknown())
}

func (h *Handle) Abs() (*Handle, error)   { return h.elementwise("Abs", ops.Abs) }
func (h *Handle) Exp() (*Handle, error)   { return h.elementwise("Exp", ops.Exp) }
func (h *Handle) Ln() (*Handle, error)    { return h.elementwise("Ln", ops.Ln) }
func (h *Handle) Sqrt() (*Handle, error)  { return h.elementwise("Sqrt", ops.Sqrt) }
func (h *Handle) Neg() (*Handle, error)   { return h.elementwise("Neg", ops.Neg) }
func (h *Handle) Tanh() (*Handle, error)  { return h.elementwise("Tanh", ops.Tanh) }

// Conv appends a Conv node wired to h as the data input and kernel as the
// kernel input, with the given configuration.
func (h *Handle) Conv(name string, kernel *Handle, cfg ops.ConvConfig) (*Handle, error) {
	if h.b != kernel.b {
		return nil, errors.Errorf("build: %s: data and kernel belong to different builders", name)
	}
	c := ops.NewConv(cfg)
	return h.b.add(name, c, []graph.Outlet{h.outlet, kernel.outlet}, facts.Unknown())
}

// Build finalizes the model: the given handles become its declared outputs,
// and every Input call's outlet becomes a declared input, in call order.
func (b *Builder) Build(outputs ...*Handle) (*graph.Model[facts.InferenceFact, op.InferenceOp], error) {
	if len(outputs) == 0 {
		return nil, errors.New("build.Build: at least one output is required")
	}
	outlets := make([]graph.Outlet, len(outputs))
	for i, h := range outputs {
		if h.b != b {
			return nil, errors.Errorf("build.Build: output %d belongs to a different builder", i)
		}
		outlets[i] = h.outlet
	}
	b.model.SetInputs(b.inputs...)
	b.model.SetOutputs(outlets...)
	return b.model, nil
}
