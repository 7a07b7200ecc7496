package ops

import (
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/gomlx/opgraph/solver"
	"github.com/pkg/errors"
)

// InferenceBinary is the inference-stage counterpart of BinaryOp: it posts
// the same narrow (no-broadcast) shape/dtype rules BinaryOp.OutputFacts
// enforces at the typed stage, so that a model built from binary nodes can
// run the solver and translate into BinaryOp, matching Conv's own split
// between its inference and typed contracts.
type InferenceBinary struct {
	Mini *BinMiniOp
}

func (b *InferenceBinary) Name() string              { return b.Mini.OpName }
func (b *InferenceBinary) Validation() op.Validation { return op.Accurate }
func (b *InferenceBinary) Info() []string             { return nil }

func (b *InferenceBinary) SameAs(other op.Op) bool {
	o, ok := other.(*InferenceBinary)
	return ok && o.Mini == b.Mini
}

func (b *InferenceBinary) RulesForInference(s *solver.Solver, inputs, outputs []*facts.InferenceFact) error {
	if len(inputs) != 2 {
		return errors.Errorf("%s requires exactly 2 inputs, got %d", b.Name(), len(inputs))
	}
	if len(outputs) != 1 {
		return errors.Errorf("%s has exactly 1 output, got %d", b.Name(), len(outputs))
	}
	left, right, out := inputs[0], inputs[1], outputs[0]
	solver.Equals(s, solver.DTypeCell(left), solver.DTypeCell(right))
	solver.Equals(s, solver.DTypeCell(left), solver.DTypeCell(out))
	solver.Equals(s, solver.RankCell(left), solver.RankCell(right))
	solver.Equals(s, solver.RankCell(left), solver.RankCell(out))
	solver.Given(s, solver.RankCell(left), func(s *solver.Solver, rank int) error {
		for axis := 0; axis < rank; axis++ {
			solver.Equals(s, solver.ShapeDimCell(left, axis), solver.ShapeDimCell(right, axis))
			solver.Equals(s, solver.ShapeDimCell(left, axis), solver.ShapeDimCell(out, axis))
		}
		return nil
	})
	return nil
}

func (b *InferenceBinary) Incorporate(*graph.Model[facts.InferenceFact, op.InferenceOp], *graph.Node[facts.InferenceFact, op.InferenceOp]) (*graph.Patch[facts.InferenceFact, op.InferenceOp], error) {
	return nil, nil
}

func (b *InferenceBinary) ToTyped(inputs []facts.TypedFact) (op.TypedOp, error) {
	if len(inputs) != 2 {
		return nil, errors.Errorf("%s requires exactly 2 inputs, got %d", b.Name(), len(inputs))
	}
	return &BinaryOp{Mini: b.Mini}, nil
}

// InferenceElementwise is the inference-stage counterpart of ElementwiseOp:
// output dtype/rank/shape always equal the single input's.
type InferenceElementwise struct {
	Kernel *ElementwiseKernel
}

func (e *InferenceElementwise) Name() string              { return e.Kernel.OpName }
func (e *InferenceElementwise) Validation() op.Validation { return op.Rounding }
func (e *InferenceElementwise) Info() []string             { return nil }

func (e *InferenceElementwise) SameAs(other op.Op) bool {
	o, ok := other.(*InferenceElementwise)
	return ok && o.Kernel == e.Kernel
}

func (e *InferenceElementwise) RulesForInference(s *solver.Solver, inputs, outputs []*facts.InferenceFact) error {
	if len(inputs) != 1 {
		return errors.Errorf("%s requires exactly 1 input, got %d", e.Name(), len(inputs))
	}
	if len(outputs) != 1 {
		return errors.Errorf("%s has exactly 1 output, got %d", e.Name(), len(outputs))
	}
	in, out := inputs[0], outputs[0]
	solver.Equals(s, solver.DTypeCell(in), solver.DTypeCell(out))
	solver.Equals(s, solver.RankCell(in), solver.RankCell(out))
	solver.Given(s, solver.RankCell(in), func(s *solver.Solver, rank int) error {
		for axis := 0; axis < rank; axis++ {
			solver.Equals(s, solver.ShapeDimCell(in, axis), solver.ShapeDimCell(out, axis))
		}
		return nil
	})
	return nil
}

func (e *InferenceElementwise) Incorporate(*graph.Model[facts.InferenceFact, op.InferenceOp], *graph.Node[facts.InferenceFact, op.InferenceOp]) (*graph.Patch[facts.InferenceFact, op.InferenceOp], error) {
	return nil, nil
}

func (e *InferenceElementwise) ToTyped(inputs []facts.TypedFact) (op.TypedOp, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s requires exactly 1 input, got %d", e.Name(), len(inputs))
	}
	return &ElementwiseOp{Kernel: e.Kernel}, nil
}
