// Package op defines the operator trait stack: every operator value
// implements the base Op interface; operators valid at a particular
// pipeline stage additionally implement InferenceOp, TypedOp, or PulsedOp.
//
// The source this is modeled on uses a stack of trait objects with runtime
// downcasts to move an operator between stages. Go has no sum types and no
// implicit upcasting between unrelated interfaces, so each stage gets its
// own interface, and moving between stages is a probe with a type
// assertion (AsTyped, AsPulsed, AsStateless, AsStateful below) performed
// only at the stage boundary -- never deep inside a rewrite pass. An
// operator that reports itself assignable to TypedOp must always behave
// like one; these assertions are never expected to fail once a node has
// been translated to the corresponding stage.
package op

import (
	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/solver"
	"github.com/gomlx/opgraph/tensor"
)

// Validation controls how strictly a test harness should compare an
// operator's output against a reference implementation.
type Validation int

const (
	// Random tolerates results that only need to be statistically
	// plausible (e.g. random initializers).
	Random Validation = iota
	// Rounding tolerates results that may differ by one unit in the last
	// place due to summation order.
	Rounding
	// Accurate requires bit-for-bit (or exact, for integer ops) agreement.
	Accurate
)

// String implements fmt.Stringer.
func (v Validation) String() string {
	switch v {
	case Random:
		return "random"
	case Rounding:
		return "rounding"
	case Accurate:
		return "accurate"
	default:
		return "invalid"
	}
}

// CostKind classifies one line item of an operator's cost estimate.
type CostKind int

const (
	CostDiv CostKind = iota
	CostFMA
	CostBuffer
)

// String implements fmt.Stringer.
func (k CostKind) String() string {
	switch k {
	case CostDiv:
		return "div"
	case CostFMA:
		return "fma"
	case CostBuffer:
		return "buffer"
	default:
		return "invalid"
	}
}

// Cost is one line item of an operator's cost estimate: a count of
// operations of a given kind, at a given datum type.
type Cost struct {
	Kind  CostKind
	DType datum.DType
	Count int64
}

// Op is the capability set every operator value exposes, regardless of
// which pipeline stage it is valid at.
type Op interface {
	// Name is the operator's kind, e.g. "Conv", "ConvUnary", "Mul".
	Name() string
	// Validation controls the tolerance a test harness should apply when
	// comparing this operator's output to a reference.
	Validation() Validation
	// Info returns human-readable lines describing the operator's
	// parameters, for diagnostics.
	Info() []string
	// SameAs reports whether other is a value-equal operator of the same
	// kind, for declutter/codegen canonicalization (e.g. deduplicating two
	// constant nodes that hold the same value).
	SameAs(other Op) bool
}

// InferenceOp is an operator valid at the inference stage: it can post
// rules to the solver and, once its inputs are fully known, translate
// itself into a TypedOp.
type InferenceOp interface {
	Op
	// RulesForInference posts the operator's shape/dtype constraints to s.
	// inputs and outputs are pointers into the node's own facts, refined in
	// place as the solver runs.
	RulesForInference(s *solver.Solver, inputs, outputs []*facts.InferenceFact) error
	// Incorporate applies inference-stage, framework-specific rewrites
	// (e.g. constant folding opportunities visible before full typing).
	// Returns a nil patch when there is nothing to do.
	Incorporate(m *graph.Model[facts.InferenceFact, InferenceOp], n *graph.Node[facts.InferenceFact, InferenceOp]) (*graph.Patch[facts.InferenceFact, InferenceOp], error)
	// ToTyped converts this operator into its typed-stage equivalent, given
	// the now-fully-concrete input facts. Operators that cannot ever be
	// made typed (none in this library, but InferenceOp implementations
	// built elsewhere may) should return an error here.
	ToTyped(inputs []facts.TypedFact) (TypedOp, error)
}

// TypedOp is an operator valid at the typed stage: its output shapes and
// dtypes are a pure function of its input facts.
type TypedOp interface {
	Op
	// OutputFacts computes this operator's output facts from its input
	// facts. Must be a pure, deterministic function, and must agree with
	// whatever the inference solver settled on for the same instance.
	OutputFacts(inputs []facts.TypedFact) ([]facts.TypedFact, error)
	// Declutter applies a graph-level canonicalization local to n, e.g.
	// Conv -> ConvUnary fusion. Must be idempotent: running Declutter again
	// on the patch's own output must return a nil patch. Returns a nil
	// patch when there is nothing to do.
	Declutter(m *graph.Model[facts.TypedFact, TypedOp], n *graph.Node[facts.TypedFact, TypedOp]) (*graph.Patch[facts.TypedFact, TypedOp], error)
	// Fuse applies a local, post-codegen peephole optimization. Returns a
	// nil patch when there is nothing to do.
	Fuse(m *graph.Model[facts.TypedFact, TypedOp], n *graph.Node[facts.TypedFact, TypedOp]) (*graph.Patch[facts.TypedFact, TypedOp], error)
	// Cost estimates the operator's execution cost given its input facts.
	Cost(inputs []facts.TypedFact) ([]Cost, error)
	// Codegen lowers n into its final executable form. Returns a nil patch
	// when the node is already in final form.
	Codegen(m *graph.Model[facts.TypedFact, TypedOp], n *graph.Node[facts.TypedFact, TypedOp]) (*graph.Patch[facts.TypedFact, TypedOp], error)
	// Pulsify converts n into its pulsed-stage equivalent, streaming along
	// the given axis with the given pulse size. The default expectation
	// (per an operator with no meaningful streaming behavior, e.g. Const)
	// is to fail -- pulsify is only expected to succeed for operators that
	// know how to buffer or pass through a streaming axis.
	Pulsify(m *graph.Model[facts.TypedFact, TypedOp], n *graph.Node[facts.TypedFact, TypedOp], axis int, pulse int64) (PulsedOp, error)
}

// PulsedOp is an operator valid at the pulsed (streaming) stage.
type PulsedOp interface {
	Op
	// PulsedOutputFacts computes this operator's pulsed output facts from
	// its pulsed input facts.
	PulsedOutputFacts(inputs []facts.PulsedFact) ([]facts.PulsedFact, error)
	// AsTyped returns the non-streaming typed equivalent of this operator,
	// always available per the translation contract between the pulsed and
	// typed stages.
	AsTyped() TypedOp
}

// OpState is opaque, operator-defined state threaded through repeated
// invocations of a stateful operator (e.g. an RNN cell's hidden state).
type OpState interface{}

// SessionState holds the per-node OpState for every stateful operator in a
// running plan.
type SessionState struct {
	states map[int]OpState
}

// NewSessionState returns a fresh, empty session state.
func NewSessionState() *SessionState {
	return &SessionState{states: map[int]OpState{}}
}

// Get returns the state for nodeID, if any has been recorded yet.
func (s *SessionState) Get(nodeID int) (OpState, bool) {
	st, ok := s.states[nodeID]
	return st, ok
}

// Set records the state for nodeID.
func (s *SessionState) Set(nodeID int, state OpState) {
	s.states[nodeID] = state
}

// StatelessOp is a TypedOp with a pure evaluation function: given concrete
// input tensors, it produces concrete output tensors with no side state.
// plan.SimplePlan calls Eval to run such operators; the inference solver
// does not evaluate operators, even when all of their inputs are concrete.
type StatelessOp interface {
	TypedOp
	Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
}

// StatefulOp is a TypedOp that carries state across invocations within one
// SessionState.
type StatefulOp interface {
	TypedOp
	// InitState returns the operator's initial state for a fresh session.
	InitState() OpState
	// EvalStateful evaluates the operator given its current state,
	// returning outputs and the (possibly updated) state.
	EvalStateful(state OpState, inputs []*tensor.Tensor) ([]*tensor.Tensor, OpState, error)
}

// AsTyped probes whether o is also valid at the typed stage.
func AsTyped(o Op) (TypedOp, bool) {
	t, ok := o.(TypedOp)
	return t, ok
}

// AsPulsed probes whether o is also valid at the pulsed stage.
func AsPulsed(o Op) (PulsedOp, bool) {
	p, ok := o.(PulsedOp)
	return p, ok
}

// AsStateless probes whether o supports pure eager evaluation.
func AsStateless(o Op) (StatelessOp, bool) {
	s, ok := o.(StatelessOp)
	return s, ok
}

// AsStateful probes whether o carries state across invocations.
func AsStateful(o Op) (StatefulOp, bool) {
	s, ok := o.(StatefulOp)
	return s, ok
}
