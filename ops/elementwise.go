package ops

import (
	"math"

	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/internal/linalg"
	"github.com/gomlx/opgraph/op"
	"github.com/gomlx/opgraph/tensor"
	"github.com/pkg/errors"
)

// ElementwiseKernel is one entry of the element-wise kernel table: a single
// scalar function, applied in place to every element of the input dtype it
// supports.
type ElementwiseKernel struct {
	OpName string
	Apply  func(x float64) float64
}

// The element-wise kernel table (SPEC_FULL.md §9 supplemented features).
var (
	Abs   = &ElementwiseKernel{OpName: "Abs", Apply: math.Abs}
	Exp   = &ElementwiseKernel{OpName: "Exp", Apply: func(x float64) float64 { return float64(linalg.Exp32(float32(x))) }}
	Ln    = &ElementwiseKernel{OpName: "Ln", Apply: func(x float64) float64 { return float64(linalg.Log32(float32(x))) }}
	Sqrt  = &ElementwiseKernel{OpName: "Sqrt", Apply: func(x float64) float64 { return float64(linalg.Sqrt32(float32(x))) }}
	Recip = &ElementwiseKernel{OpName: "Recip", Apply: func(x float64) float64 { return 1 / x }}
	Rsqrt = &ElementwiseKernel{OpName: "Rsqrt", Apply: func(x float64) float64 { return 1 / float64(linalg.Sqrt32(float32(x))) }}
	Ceil  = &ElementwiseKernel{OpName: "Ceil", Apply: math.Ceil}
	Floor = &ElementwiseKernel{OpName: "Floor", Apply: math.Floor}
	Cos   = &ElementwiseKernel{OpName: "Cos", Apply: math.Cos}
	Sin   = &ElementwiseKernel{OpName: "Sin", Apply: math.Sin}
	Tan   = &ElementwiseKernel{OpName: "Tan", Apply: math.Tan}
	Tanh  = &ElementwiseKernel{OpName: "Tanh", Apply: func(x float64) float64 { return float64(linalg.Tanh32(float32(x))) }}
	Neg   = &ElementwiseKernel{OpName: "Neg", Apply: func(x float64) float64 { return -x }}
	Sign  = &ElementwiseKernel{OpName: "Sign", Apply: func(x float64) float64 {
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		default:
			return 0
		}
	}}
)

// ElementwiseOp applies a single-dtype-dispatched scalar kernel to every
// element of its one input, unchanged in shape.
type ElementwiseOp struct {
	Kernel *ElementwiseKernel
}

func (e *ElementwiseOp) Name() string              { return e.Kernel.OpName }
func (e *ElementwiseOp) Validation() op.Validation { return op.Rounding }
func (e *ElementwiseOp) Info() []string             { return nil }

func (e *ElementwiseOp) SameAs(other op.Op) bool {
	o, ok := other.(*ElementwiseOp)
	return ok && o.Kernel == e.Kernel
}

func (e *ElementwiseOp) OutputFacts(inputs []facts.TypedFact) ([]facts.TypedFact, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s requires exactly 1 input, got %d", e.Name(), len(inputs))
	}
	return []facts.TypedFact{{Shape: inputs[0].Shape.Clone()}}, nil
}

func (e *ElementwiseOp) Declutter(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

func (e *ElementwiseOp) Fuse(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

func (e *ElementwiseOp) Cost(inputs []facts.TypedFact) ([]op.Cost, error) {
	size, err := inputs[0].Shape.Size()
	if err != nil {
		return nil, err
	}
	return []op.Cost{{Kind: op.CostFMA, DType: inputs[0].Shape.DType, Count: size}}, nil
}

func (e *ElementwiseOp) Codegen(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

// Pulsify: element-wise kernels apply independently to each position, so
// they pulsify as a straight passthrough.
func (e *ElementwiseOp) Pulsify(_ *graph.Model[facts.TypedFact, op.TypedOp], n *graph.Node[facts.TypedFact, op.TypedOp], axis int, pulse int64) (op.PulsedOp, error) {
	pf, err := facts.PulsedFactFromTyped(n.Outputs[0], axis, pulse, 0)
	if err != nil {
		return nil, err
	}
	return &PulsedPassthrough{Typed: e, Fact: pf}, nil
}

func (e *ElementwiseOp) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s requires exactly 1 input, got %d", e.Name(), len(inputs))
	}
	in := inputs[0]
	f64, err := in.CastTo(datum.F64)
	if err != nil {
		return nil, err
	}
	flat := append([]float64(nil), f64.Flat().([]float64)...)
	for i, x := range flat {
		flat[i] = e.Kernel.Apply(x)
	}
	outF64, err := tensor.FromFlat(datum.F64, in.Dims(), flat)
	if err != nil {
		return nil, err
	}
	result, err := outF64.CastTo(in.DType())
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{result}, nil
}
