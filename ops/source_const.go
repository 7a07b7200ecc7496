package ops

import (
	"fmt"

	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/gomlx/opgraph/solver"
	"github.com/gomlx/opgraph/tensor"
	"github.com/pkg/errors"
)

// InferenceSource marks a zero-input node at the inference stage: a graph
// input, or an embedded constant when its fact carries a Value. It carries
// whatever is already known about its output (possibly nothing) and posts
// solver rules pinning the known dtype, rank and dimensions.
type InferenceSource struct {
	Fact facts.InferenceFact
}

func (s *InferenceSource) Name() string              { return "Source" }
func (s *InferenceSource) Validation() op.Validation { return op.Accurate }
func (s *InferenceSource) Info() []string             { return []string{s.Fact.String()} }

func (s *InferenceSource) SameAs(other op.Op) bool {
	_, ok := other.(*InferenceSource)
	return ok
}

func (s *InferenceSource) RulesForInference(sv *solver.Solver, inputs, outputs []*facts.InferenceFact) error {
	if len(inputs) != 0 {
		return errors.Errorf("Source takes no inputs, got %d", len(inputs))
	}
	if len(outputs) != 1 {
		return errors.Errorf("Source has exactly 1 output, got %d", len(outputs))
	}
	out := outputs[0]
	if s.Fact.DType != nil {
		solver.EqualsConst(sv, solver.DTypeCell(out), *s.Fact.DType)
	}
	if s.Fact.Rank != nil {
		rank := *s.Fact.Rank
		solver.EqualsConst(sv, solver.RankCell(out), rank)
		for axis, d := range s.Fact.Shape {
			if d != nil {
				solver.Given(sv, solver.RankCell(out), func(sv *solver.Solver, _ int) error {
					solver.EqualsConst(sv, solver.ShapeDimCell(out, axis), *d)
					return nil
				})
			}
		}
	}
	return nil
}

func (s *InferenceSource) Incorporate(*graph.Model[facts.InferenceFact, op.InferenceOp], *graph.Node[facts.InferenceFact, op.InferenceOp]) (*graph.Patch[facts.InferenceFact, op.InferenceOp], error) {
	return nil, nil
}

func (s *InferenceSource) ToTyped(inputs []facts.TypedFact) (op.TypedOp, error) {
	if len(inputs) != 0 {
		return nil, errors.Errorf("Source takes no inputs, got %d", len(inputs))
	}
	typed, err := s.Fact.ToTypedFact()
	if err != nil {
		return nil, errors.WithMessage(err, "Source.ToTyped")
	}
	// A source carrying a constant value becomes an executable Const.
	if typed.Value != nil {
		return &Const{Value: typed.Value}, nil
	}
	return &Source{Fact: typed}, nil
}

// Source is the typed-stage equivalent of InferenceSource: a zero-input
// node whose output fact was fixed once the input's shape became fully
// known.
type Source struct {
	Fact facts.TypedFact
}

func (s *Source) Name() string              { return "Source" }
func (s *Source) Validation() op.Validation { return op.Accurate }
func (s *Source) Info() []string             { return []string{s.Fact.String()} }

func (s *Source) SameAs(other op.Op) bool {
	_, ok := other.(*Source)
	return ok
}

func (s *Source) OutputFacts(inputs []facts.TypedFact) ([]facts.TypedFact, error) {
	if len(inputs) != 0 {
		return nil, errors.Errorf("Source takes no inputs, got %d", len(inputs))
	}
	return []facts.TypedFact{s.Fact}, nil
}

func (s *Source) Declutter(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

func (s *Source) Fuse(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

func (s *Source) Cost([]facts.TypedFact) ([]op.Cost, error) { return nil, nil }

func (s *Source) Codegen(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

// Pulsify turns a Source into the point where streaming begins: its pulsed
// fact narrows the given axis to a concrete pulse window.
func (s *Source) Pulsify(_ *graph.Model[facts.TypedFact, op.TypedOp], _ *graph.Node[facts.TypedFact, op.TypedOp], axis int, pulse int64) (op.PulsedOp, error) {
	pf, err := facts.PulsedFactFromTyped(s.Fact, axis, pulse, 0)
	if err != nil {
		return nil, errors.WithMessage(err, "Source.Pulsify")
	}
	return &PulsedSource{Fact: pf}, nil
}

// PulsedSource is the pulsed-stage equivalent of Source: a zero-input node
// whose streaming axis has been narrowed to one pulse window.
type PulsedSource struct {
	Fact facts.PulsedFact
}

func (s *PulsedSource) Name() string              { return "Source" }
func (s *PulsedSource) Validation() op.Validation { return op.Accurate }
func (s *PulsedSource) Info() []string             { return []string{s.Fact.String()} }

func (s *PulsedSource) SameAs(other op.Op) bool {
	_, ok := other.(*PulsedSource)
	return ok
}

func (s *PulsedSource) PulsedOutputFacts(inputs []facts.PulsedFact) ([]facts.PulsedFact, error) {
	if len(inputs) != 0 {
		return nil, errors.Errorf("Source takes no inputs, got %d", len(inputs))
	}
	return []facts.PulsedFact{s.Fact}, nil
}

func (s *PulsedSource) AsTyped() op.TypedOp {
	return &Source{Fact: s.Fact.ToTypedFact()}
}

// Const carries a constant tensor value, published into the graph as a
// zero-input node.
type Const struct {
	Value *tensor.Tensor
}

func (c *Const) Name() string              { return "Const" }
func (c *Const) Validation() op.Validation { return op.Accurate }
func (c *Const) Info() []string             { return []string{fmt.Sprintf("%s", c.Value)} }

func (c *Const) SameAs(other op.Op) bool {
	o, ok := other.(*Const)
	return ok && o.Value.Equal(c.Value)
}

func (c *Const) OutputFacts(inputs []facts.TypedFact) ([]facts.TypedFact, error) {
	if len(inputs) != 0 {
		return nil, errors.Errorf("Const takes no inputs, got %d", len(inputs))
	}
	return []facts.TypedFact{facts.FromTensor(c.Value)}, nil
}

func (c *Const) Declutter(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

func (c *Const) Fuse(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

func (c *Const) Cost([]facts.TypedFact) ([]op.Cost, error) { return nil, nil }

func (c *Const) Codegen(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

func (c *Const) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 0 {
		return nil, errors.Errorf("Const takes no inputs, got %d", len(inputs))
	}
	return []*tensor.Tensor{c.Value}, nil
}

func (c *Const) Pulsify(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp], int, int64) (op.PulsedOp, error) {
	return nil, errors.New("Const cannot be pulsified: a constant has no streaming axis")
}

// IsConstant marks Const nodes for the rewrite package's normalize pass,
// which requires every constant to have been folded into a consuming
// operator (e.g. ConvUnary's Kernel field) before pulsification: a Const
// node still directly wired to a consumer means constant folding did not
// complete.
func (c *Const) IsConstant() bool { return true }
