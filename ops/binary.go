package ops

import (
	"fmt"
	"math"
	"math/bits"
	"reflect"

	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/gomlx/opgraph/shape"
	"github.com/gomlx/opgraph/tensor"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// BinMiniOp is one entry of the binary operator kernel table: the
// macro-generated per-dtype scalar kernel of the source, reduced to a value
// (a function-valued kernel plus attribute flags) instead of a
// macro-generated type, per SPEC_FULL.md's design notes on macro-generated
// operator families.
type BinMiniOp struct {
	OpName string

	// Float/Int apply the kernel to one pair of scalars, already cast to a
	// common representation. Exactly one of them is used for any given
	// dtype (selected by datum.DType.IsFloat()/IsInt()); a nil field means
	// the kernel is not defined for that family.
	Float func(a, b float64) float64
	Int   func(a, b int64) int64

	// Commute reports whether a⊙b == b⊙a (used by canonicalization passes
	// that prefer the constant operand on a fixed side).
	Commute bool

	// DeclutterUnary specializes this binary op to a UnaryOp when one
	// operand is a known constant. May return a nil patch when no
	// specialization applies to this particular constant.
	DeclutterUnary func(m *graph.Model[facts.TypedFact, op.TypedOp], n *graph.Node[facts.TypedFact, op.TypedOp], constVal *tensor.Tensor, constIsLeft bool, varInput graph.Outlet, varFact facts.TypedFact) (*graph.Patch[facts.TypedFact, op.TypedOp], error)
}

func (k *BinMiniOp) apply(dtype datum.DType, a, b float64) (float64, error) {
	if dtype.IsFloat() {
		if k.Float == nil {
			return 0, errors.Errorf("%s: no float kernel for %s", k.OpName, dtype)
		}
		return k.Float(a, b), nil
	}
	if k.Int == nil {
		return 0, errors.Errorf("%s: no integer kernel for %s", k.OpName, dtype)
	}
	return float64(k.Int(int64(a), int64(b))), nil
}

func arith(name string, floatFn func(a, b float64) float64, intFn func(a, b int64) int64, commute bool) *BinMiniOp {
	return &BinMiniOp{OpName: name, Float: floatFn, Int: intFn, Commute: commute}
}

// The binary kernel table (SPEC_FULL.md §4.6 / §9 supplemented features).
var (
	Add = arith("Add", func(a, b float64) float64 { return a + b }, func(a, b int64) int64 { return a + b }, true)
	Sub = arith("Sub", func(a, b float64) float64 { return a - b }, func(a, b int64) int64 { return a - b }, false)
	Mul = arith("Mul", func(a, b float64) float64 { return a * b }, func(a, b int64) int64 { return a * b }, true)
	Div = arith("Div", func(a, b float64) float64 { return a / b }, func(a, b int64) int64 { return a / b }, false)
	Rem = arith("Rem", func(a, b float64) float64 { return math.Mod(a, b) }, func(a, b int64) int64 { return a % b }, false)
	Min = arith("Min", math.Min, func(a, b int64) int64 {
		if a < b {
			return a
		}
		return b
	}, true)
	Max = arith("Max", math.Max, func(a, b int64) int64 {
		if a > b {
			return a
		}
		return b
	}, true)
	Pow = arith("Pow", math.Pow, func(a, b int64) int64 {
		r := int64(1)
		for i := int64(0); i < b; i++ {
			r *= a
		}
		return r
	}, false)

	ShiftLeft             = arith("ShiftLeft", nil, func(a, b int64) int64 { return a << uint(b) }, false)
	ShiftRightArithmetic  = arith("ShiftRightArithmetic", nil, func(a, b int64) int64 { return a >> uint(b) }, false)
	ShiftRightLogical     = arith("ShiftRightLogical", nil, func(a, b int64) int64 { return int64(uint64(a) >> uint(b)) }, false)
	// FlippedShiftLeft/FlippedShiftRight are the mini-ops a UnaryOp carries
	// after the mul->shift declutter: the data operand a is shifted by the
	// fixed amount b carried as the UnaryOp's constant. FlippedShiftRight
	// negates rather than shifting right, matching the strength-reduction
	// identity x*c = -(x<<k) for negative powers of two c (the name is
	// inherited unchanged from the source it is grounded on).
	FlippedShiftLeft  = arith("FlippedShiftLeft", nil, func(a, b int64) int64 { return a << uint(b) }, false)
	FlippedShiftRight = arith("FlippedShiftRight", nil, func(a, b int64) int64 { return -(a << uint(b)) }, false)
)

func init() {
	Sub.DeclutterUnary = flipSub
	Mul.DeclutterUnary = declutterMulAsShift
}

// flipSub implements the flip_sub rewrite hint: when the constant is the
// left operand of a subtraction, `C - x` is rewritten as `(-C) + x`, so that
// the variable operand always ends up on a fixed side.
func flipSub(m *graph.Model[facts.TypedFact, op.TypedOp], n *graph.Node[facts.TypedFact, op.TypedOp], constVal *tensor.Tensor, constIsLeft bool, varInput graph.Outlet, varFact facts.TypedFact) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	if !constIsLeft {
		return nil, nil
	}
	negated, err := negateTensor(constVal)
	if err != nil {
		return nil, err
	}
	unary := &UnaryOp{Mini: Add, Const: negated, ConstIsLeftOperand: false}
	return graftUnary(n, varInput, varFact, unary)
}

func negateTensor(t *tensor.Tensor) (*tensor.Tensor, error) {
	f64, err := t.CastTo(datum.F64)
	if err != nil {
		return nil, err
	}
	flat := append([]float64(nil), f64.Flat().([]float64)...)
	for i := range flat {
		flat[i] = -flat[i]
	}
	negatedF64, err := tensor.FromFlat(datum.F64, f64.Dims(), flat)
	if err != nil {
		return nil, err
	}
	return negatedF64.CastTo(t.DType())
}

// declutterMulAsShift implements the mul->shift strength reduction
// (SPEC_FULL.md §4.6, scenario 6): a constant operand that is non-empty,
// uniform, and an integer power of two rewrites the node into a UnaryOp
// carrying FlippedShiftLeft (positive constant) or FlippedShiftRight
// (negative constant).
func declutterMulAsShift(m *graph.Model[facts.TypedFact, op.TypedOp], n *graph.Node[facts.TypedFact, op.TypedOp], constVal *tensor.Tensor, constIsLeft bool, varInput graph.Outlet, varFact facts.TypedFact) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	if !varFact.Shape.DType.IsInt() || !constVal.DType().IsInt() {
		return nil, nil
	}
	uniform, err := constVal.IsUniform()
	if err != nil {
		return nil, err
	}
	if !uniform || constVal.Size() == 0 {
		return nil, nil
	}
	// Every element is equal, so the first one is the constant's value.
	asI64, err := constVal.CastTo(datum.I64)
	if err != nil {
		return nil, err
	}
	c := asI64.Flat().([]int64)[0]
	if c == 0 {
		return nil, nil
	}
	abs := c
	if abs < 0 {
		abs = -abs
	}
	if bits.OnesCount64(uint64(abs)) != 1 {
		return nil, nil // not a power of two
	}
	shift := int64(bits.TrailingZeros64(uint64(abs)))

	shiftTensor, err := tensor.FromValue(shift)
	if err != nil {
		return nil, err
	}
	shiftTensor, err = shiftTensor.CastTo(constVal.DType())
	if err != nil {
		return nil, err
	}

	mini := FlippedShiftLeft
	if c < 0 {
		mini = FlippedShiftRight
	}
	unary := &UnaryOp{Mini: mini, Const: shiftTensor, ConstIsLeftOperand: false}
	return graftUnary(n, varInput, varFact, unary)
}

func graftUnary(n *graph.Node[facts.TypedFact, op.TypedOp], varInput graph.Outlet, varFact facts.TypedFact, unary *UnaryOp) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	patch := graph.NewPatch[facts.TypedFact, op.TypedOp]()
	tap, err := patch.Tap("x", varInput, varFact)
	if err != nil {
		return nil, err
	}
	outFacts, err := unary.OutputFacts([]facts.TypedFact{varFact})
	if err != nil {
		return nil, err
	}
	newNode, err := patch.Interior.AddNode(n.Name+".unary", op.TypedOp(unary), []graph.Outlet{tap}, outFacts)
	if err != nil {
		return nil, err
	}
	patch.Shunt(n.Outlet(0), newNode.Outlet(0))
	return patch, nil
}

// BinaryOp is a broadcasting binary operator instantiated from a BinMiniOp.
type BinaryOp struct {
	Mini *BinMiniOp
}

func (b *BinaryOp) Name() string              { return b.Mini.OpName }
func (b *BinaryOp) Validation() op.Validation { return op.Accurate }
func (b *BinaryOp) Info() []string             { return []string{fmt.Sprintf("commute=%v", b.Mini.Commute)} }

func (b *BinaryOp) SameAs(other op.Op) bool {
	o, ok := other.(*BinaryOp)
	return ok && o.Mini == b.Mini
}

func (b *BinaryOp) OutputFacts(inputs []facts.TypedFact) ([]facts.TypedFact, error) {
	if len(inputs) != 2 {
		return nil, errors.Errorf("%s requires exactly 2 inputs, got %d", b.Name(), len(inputs))
	}
	shp, err := broadcastShapes(inputs[0].Shape, inputs[1].Shape)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", b.Name())
	}
	return []facts.TypedFact{{Shape: shp}}, nil
}

func (b *BinaryOp) Declutter(m *graph.Model[facts.TypedFact, op.TypedOp], n *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	if b.Mini.DeclutterUnary == nil {
		return nil, nil
	}
	leftFact, err := m.Fact(n.Inputs[0])
	if err != nil {
		return nil, err
	}
	rightFact, err := m.Fact(n.Inputs[1])
	if err != nil {
		return nil, err
	}
	switch {
	case rightFact.Value != nil:
		return b.Mini.DeclutterUnary(m, n, rightFact.Value, false, n.Inputs[0], leftFact)
	case leftFact.Value != nil:
		return b.Mini.DeclutterUnary(m, n, leftFact.Value, true, n.Inputs[1], rightFact)
	default:
		return nil, nil
	}
}

func (b *BinaryOp) Fuse(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

func (b *BinaryOp) Cost(inputs []facts.TypedFact) ([]op.Cost, error) {
	outFacts, err := b.OutputFacts(inputs)
	if err != nil {
		return nil, err
	}
	size, err := outFacts[0].Shape.Size()
	if err != nil {
		return nil, err
	}
	kind := op.CostFMA
	if b.Mini.OpName == "Div" {
		kind = op.CostDiv
	}
	return []op.Cost{{Kind: kind, DType: outFacts[0].Shape.DType, Count: size}}, nil
}

func (b *BinaryOp) Codegen(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

// Pulsify: the narrow broadcasting rule this kernel supports (identical
// shapes, or one operand scalar) applies position-independently along any
// non-scalar operand, so it pulsifies as a straight passthrough.
func (b *BinaryOp) Pulsify(_ *graph.Model[facts.TypedFact, op.TypedOp], n *graph.Node[facts.TypedFact, op.TypedOp], axis int, pulse int64) (op.PulsedOp, error) {
	pf, err := facts.PulsedFactFromTyped(n.Outputs[0], axis, pulse, 0)
	if err != nil {
		return nil, err
	}
	return &PulsedPassthrough{Typed: b, Fact: pf}, nil
}

// Eval implements op.StatelessOp: elementwise application, broadcasting
// when one operand is a scalar.
func (b *BinaryOp) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 2 {
		return nil, errors.Errorf("%s requires exactly 2 inputs, got %d", b.Name(), len(inputs))
	}
	return evalBroadcastBinary(b.Mini, inputs[0], inputs[1], false)
}

// UnaryOp is a binary mini-op specialized with one constant operand --
// the result of a declutter such as mul->shift.
type UnaryOp struct {
	Mini               *BinMiniOp
	Const              *tensor.Tensor
	ConstIsLeftOperand bool
}

func (u *UnaryOp) Name() string              { return "UnaryOp(" + u.Mini.OpName + ")" }
func (u *UnaryOp) Validation() op.Validation { return op.Accurate }
func (u *UnaryOp) Info() []string {
	return []string{fmt.Sprintf("mini=%s const=%s const_is_left=%v", u.Mini.OpName, u.Const, u.ConstIsLeftOperand)}
}

func (u *UnaryOp) SameAs(other op.Op) bool {
	o, ok := other.(*UnaryOp)
	return ok && o.Mini == u.Mini && o.ConstIsLeftOperand == u.ConstIsLeftOperand && o.Const.Equal(u.Const)
}

func (u *UnaryOp) OutputFacts(inputs []facts.TypedFact) ([]facts.TypedFact, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s requires exactly 1 input, got %d", u.Name(), len(inputs))
	}
	return []facts.TypedFact{{Shape: inputs[0].Shape.Clone()}}, nil
}

func (u *UnaryOp) Declutter(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

func (u *UnaryOp) Fuse(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

func (u *UnaryOp) Cost(inputs []facts.TypedFact) ([]op.Cost, error) {
	outFacts, err := u.OutputFacts(inputs)
	if err != nil {
		return nil, err
	}
	size, err := outFacts[0].Shape.Size()
	if err != nil {
		return nil, err
	}
	return []op.Cost{{Kind: op.CostFMA, DType: outFacts[0].Shape.DType, Count: size}}, nil
}

func (u *UnaryOp) Codegen(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

// Pulsify: same reasoning as BinaryOp -- position-independent, passthrough.
func (u *UnaryOp) Pulsify(_ *graph.Model[facts.TypedFact, op.TypedOp], n *graph.Node[facts.TypedFact, op.TypedOp], axis int, pulse int64) (op.PulsedOp, error) {
	pf, err := facts.PulsedFactFromTyped(n.Outputs[0], axis, pulse, 0)
	if err != nil {
		return nil, err
	}
	return &PulsedPassthrough{Typed: u, Fact: pf}, nil
}

func (u *UnaryOp) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s requires exactly 1 input, got %d", u.Name(), len(inputs))
	}
	if u.ConstIsLeftOperand {
		return evalBroadcastBinary(u.Mini, u.Const, inputs[0], false)
	}
	return evalBroadcastBinary(u.Mini, inputs[0], u.Const, false)
}

// evalBroadcastBinary applies mini elementwise over a and b, broadcasting
// when one of them is a scalar (size 1). Both operands must share a dtype
// family (float or int) with the mini-op's supported kernel.
func evalBroadcastBinary(mini *BinMiniOp, a, b *tensor.Tensor, _ bool) ([]*tensor.Tensor, error) {
	outDims := a.Dims()
	if a.Size() == 1 && b.Size() > 1 {
		outDims = b.Dims()
	}
	n := product(outDims)

	dtype := a.DType()
	av := reflect.ValueOf(a.Flat())
	bv := reflect.ValueOf(b.Flat())

	get := func(v reflect.Value, idx int64) float64 {
		if v.Len() == 1 {
			idx = 0
		}
		return elemAsFloat64(v.Index(int(idx)), dtype)
	}

	outFlat := make([]float64, n)
	for i := int64(0); i < n; i++ {
		av64 := get(av, i)
		bv64 := get(bv, i)
		r, err := mini.apply(dtype, av64, bv64)
		if err != nil {
			return nil, err
		}
		outFlat[i] = r
	}
	outF64, err := tensor.FromFlat(datum.F64, outDims, outFlat)
	if err != nil {
		return nil, err
	}
	result, err := outF64.CastTo(dtype)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{result}, nil
}

// broadcastShapes implements the (deliberately narrow) broadcasting rule
// this kernel supports: identical shapes, or one operand a scalar.
func broadcastShapes(a, b shape.Shape) (shape.Shape, error) {
	if a.Rank() == 0 {
		return b, nil
	}
	if b.Rank() == 0 {
		return a, nil
	}
	if !a.Equal(b) {
		return shape.Shape{}, errors.Errorf("shapes %s and %s are not broadcast-compatible (only identical shapes or scalars are supported)", a, b)
	}
	return a, nil
}

// elemAsFloat64 reads one reflect.Value of the given dtype as a float64,
// mirroring tensor.Tensor's internal element conversion (duplicated here,
// rather than exported from package tensor, to keep that package's flat
// representation private).
func elemAsFloat64(v reflect.Value, dtype datum.DType) float64 {
	switch dtype {
	case datum.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	case datum.U8, datum.U16:
		return float64(v.Uint())
	case datum.I8, datum.I16, datum.I32, datum.I64:
		return float64(v.Int())
	case datum.F32, datum.F64:
		return v.Float()
	case datum.F16:
		return float64(v.Interface().(float16.Float16).Float32())
	default:
		return 0
	}
}
