// Package ops is the operator library: Conv/ConvUnary (with the
// wire_as_unary fusion declutter), the binary/element-wise kernel-table
// framework, and the concrete mul->shift strength-reduction rewrite.
package ops

import (
	"fmt"
	"reflect"

	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/graph"
	"github.com/gomlx/opgraph/op"
	"github.com/gomlx/opgraph/padding"
	"github.com/gomlx/opgraph/shape"
	"github.com/gomlx/opgraph/solver"
	"github.com/gomlx/opgraph/tensor"
	"github.com/pkg/errors"
)

// NoInput marks a Conv quantization/bias slot as absent.
const NoInput = -1

// DataFormat is the axis ordering convention of a Conv's data input/output.
type DataFormat int

const (
	NCHW DataFormat = iota
	NHWC
)

// ChannelAxis returns the axis index carrying channels for a tensor of the
// given rank in this format. Axis 0 is always the batch axis.
func (f DataFormat) ChannelAxis(rank int) int {
	if f == NCHW {
		return 1
	}
	return rank - 1
}

// SpatialStart returns the axis index of the first spatial axis.
func (f DataFormat) SpatialStart(rank int) int {
	if f == NCHW {
		return 2
	}
	return 1
}

// String implements fmt.Stringer.
func (f DataFormat) String() string {
	if f == NCHW {
		return "NCHW"
	}
	return "NHWC"
}

// KernelFormat is the axis ordering convention of a Conv's kernel input.
type KernelFormat int

const (
	OIHW KernelFormat = iota
	HWIO
)

func (f KernelFormat) spatialStart() int {
	if f == OIHW {
		return 2
	}
	return 0
}

// InChannelAxis returns the kernel axis holding (grouped) input channels.
func (f KernelFormat) InChannelAxis(rank int) int {
	if f == OIHW {
		return 1
	}
	return rank - 2
}

// OutChannels returns the total number of output channels described by a
// concrete kernel shape, given the conv's group count.
func (f KernelFormat) OutChannels(kshape []int64, group int64) int64 {
	if f == OIHW {
		return kshape[0]
	}
	return kshape[len(kshape)-1] * group
}

// String implements fmt.Stringer.
func (f KernelFormat) String() string {
	if f == OIHW {
		return "OIHW"
	}
	return "HWIO"
}

// PaddingSpec configures padding for every spatial axis of a Conv: either a
// uniform Mode (Valid/SameUpper/SameLower), or Explicit per-axis amounts.
type PaddingSpec struct {
	Mode     padding.Mode
	Explicit []padding.ExplicitPadding
}

func (p PaddingSpec) explicitFor(axis int) padding.ExplicitPadding {
	if axis < len(p.Explicit) {
		return p.Explicit[axis]
	}
	return padding.ExplicitPadding{}
}

// ConvConfig is the layout/padding/stride configuration shared by Conv (the
// inference-stage operator, still taking its kernel as a second input) and
// ConvUnary (the typed-stage operator produced once the kernel is fused in
// as a constant).
type ConvConfig struct {
	DataFormat   DataFormat
	KernelFormat KernelFormat
	Dilations    []int64 // per spatial axis; nil entries (or a nil slice) default to 1
	Strides      []int64 // per spatial axis; nil entries (or a nil slice) default to 1
	Group        *int64  // nil defaults to 1
	Padding      PaddingSpec
}

func (cfg ConvConfig) groupOrDefault() int64 {
	if cfg.Group != nil {
		return *cfg.Group
	}
	return 1
}

func fillOrDefault(values []int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		if i < len(values) && values[i] != 0 {
			out[i] = values[i]
		} else {
			out[i] = 1
		}
	}
	return out
}

// OutputShape implements the kernel's output_shape algorithm (SPEC_FULL.md
// §4.3): given a concrete kernel shape and a concrete input shape, it
// computes the output shape, delegating the per-axis padding arithmetic to
// the padding collaborator.
func (cfg ConvConfig) OutputShape(input, kernel shape.Shape) (shape.Shape, error) {
	rank := input.Rank()
	if kernel.Rank() != rank {
		return shape.Shape{}, errors.Errorf("Conv: input rank %d does not match kernel rank %d", rank, kernel.Rank())
	}
	if rank < 3 {
		return shape.Shape{}, errors.Errorf("Conv: rank %d too small, need at least 1 batch, 1 channel, and 1 spatial axis", rank)
	}
	spatialRank := rank - 2
	kdims, err := kernel.ToConcreteInts()
	if err != nil {
		return shape.Shape{}, errors.WithMessage(err, "Conv: kernel shape must be fully concrete")
	}
	inputDims, err := input.ToConcreteInts()
	if err != nil {
		return shape.Shape{}, errors.WithMessage(err, "Conv: output_shape requires a fully concrete input shape")
	}

	dataChAxis := cfg.DataFormat.ChannelAxis(rank)
	dataSpatialStart := cfg.DataFormat.SpatialStart(rank)
	kernelSpatialStart := cfg.KernelFormat.spatialStart()
	dilations := fillOrDefault(cfg.Dilations, spatialRank)
	strides := fillOrDefault(cfg.Strides, spatialRank)
	group := cfg.groupOrDefault()

	result := input.Clone()
	result.Dimensions[dataChAxis] = shape.Int(cfg.KernelFormat.OutChannels(kdims, group))
	for i := 0; i < spatialRank; i++ {
		a, err := padding.Compute(inputDims[dataSpatialStart+i], kdims[kernelSpatialStart+i], dilations[i], strides[i], cfg.Padding.Mode, cfg.Padding.explicitFor(i))
		if err != nil {
			return shape.Shape{}, errors.WithMessagef(err, "Conv: spatial axis %d", i)
		}
		result.Dimensions[dataSpatialStart+i] = shape.Int(a.Output)
	}
	return result, nil
}

// Conv is the inference-stage (and, unchanged, typed-stage) 2D/ND
// convolution operator: it still takes its kernel as a second graph input,
// plus optional quantization and bias inputs at caller-declared slots.
type Conv struct {
	ConvConfig
	// KernelShape, if set, is the expected spatial kernel shape, known
	// ahead of inference (rule 1, SPEC_FULL.md §4.2).
	KernelShape []int64

	XScaleInput     int
	XZeroPointInput int
	KScaleInput     int
	KZeroPointInput int
	YScaleInput     int
	YZeroPointInput int
	BiasInput       int

	OverrideOutputDType *datum.DType
}

// NewConv returns a Conv with every optional input slot marked absent.
func NewConv(cfg ConvConfig) *Conv {
	return &Conv{
		ConvConfig:      cfg,
		XScaleInput:     NoInput,
		XZeroPointInput: NoInput,
		KScaleInput:     NoInput,
		KZeroPointInput: NoInput,
		YScaleInput:     NoInput,
		YZeroPointInput: NoInput,
		BiasInput:       NoInput,
	}
}

func (c *Conv) Name() string             { return "Conv" }
func (c *Conv) Validation() op.Validation { return op.Rounding }

func (c *Conv) Info() []string {
	return []string{
		fmt.Sprintf("data_format=%s kernel_format=%s", c.DataFormat, c.KernelFormat),
		fmt.Sprintf("group=%d", c.groupOrDefault()),
	}
}

func (c *Conv) SameAs(other op.Op) bool {
	o, ok := other.(*Conv)
	return ok && reflect.DeepEqual(c, o)
}

// RulesForInference posts the six solver rules of SPEC_FULL.md §4.2.
func (c *Conv) RulesForInference(s *solver.Solver, inputs, outputs []*facts.InferenceFact) error {
	if len(inputs) < 2 {
		return errors.Errorf("Conv requires at least 2 inputs (data, kernel), got %d", len(inputs))
	}
	if len(outputs) != 1 {
		return errors.Errorf("Conv requires exactly 1 output, got %d", len(outputs))
	}
	data, kernel, output := inputs[0], inputs[1], outputs[0]

	// Rule 1: explicit kernel_shape.
	if c.KernelShape != nil {
		kernelRank := len(c.KernelShape) + 2
		solver.EqualsConst(s, solver.RankCell(kernel), kernelRank)
		spatialStart := c.KernelFormat.spatialStart()
		for i, dim := range c.KernelShape {
			axis := spatialStart + i
			solver.Given(s, solver.RankCell(kernel), func(s *solver.Solver, _ int) error {
				solver.EqualsConst(s, solver.ShapeDimCell(kernel, axis), shape.Int(dim))
				return nil
			})
		}
	}

	// Rule 2: ranks agree.
	solver.Equals(s, solver.RankCell(data), solver.RankCell(kernel))
	solver.Equals(s, solver.RankCell(data), solver.RankCell(output))

	// Rule 3: dtypes.
	solver.Equals(s, solver.DTypeCell(data), solver.DTypeCell(kernel))
	if c.OverrideOutputDType != nil {
		solver.EqualsConst(s, solver.DTypeCell(output), *c.OverrideOutputDType)
	} else {
		solver.Equals(s, solver.DTypeCell(data), solver.DTypeCell(output))
	}

	// Rule 4: bias.
	if c.BiasInput != NoInput {
		if c.BiasInput >= len(inputs) {
			return errors.Errorf("Conv: bias_input slot %d out of range", c.BiasInput)
		}
		bias := inputs[c.BiasInput]
		solver.EqualsConst(s, solver.RankCell(bias), 1)
		solver.Equals(s, solver.DTypeCell(bias), solver.DTypeCell(data))
		solver.Given(s, solver.RankCell(kernel), func(s *solver.Solver, rank int) error {
			outAxis := c.KernelFormat.outChannelAxis(rank)
			solver.Equals(s, solver.ShapeDimCell(bias, 0), solver.ShapeDimCell(kernel, outAxis))
			return nil
		})
	}

	// Rule 5: channel constraint: input_channels = group * filter_in_channels.
	solver.Given(s, solver.RankCell(data), func(s *solver.Solver, rank int) error {
		inChAxis := c.DataFormat.ChannelAxis(rank)
		group := c.groupOrDefault()
		filterAxis := c.KernelFormat.InChannelAxis(rank)
		solver.Given(s, solver.ShapeDimCell(kernel, filterAxis), func(s *solver.Solver, filterIn shape.TDim) error {
			if v, err := filterIn.ToInt64(); err == nil {
				solver.EqualsConst(s, solver.ShapeDimCell(data, inChAxis), shape.Int(v*group))
			}
			return nil
		})
		return nil
	})

	// Rule 6: once both shapes are fully concrete, compute the output shape.
	solver.When(s,
		func() bool { return data.IsFullyKnown() && kernel.IsFullyKnown() },
		func(s *solver.Solver) error {
			dataTyped, err := data.ToTypedFact()
			if err != nil {
				return err
			}
			kernelTyped, err := kernel.ToTypedFact()
			if err != nil {
				return err
			}
			outShape, err := c.OutputShape(dataTyped.Shape, kernelTyped.Shape)
			if err != nil {
				return err
			}
			for axis, d := range outShape.Dimensions {
				solver.EqualsConst(s, solver.ShapeDimCell(output, axis), d)
			}
			return nil
		})
	return nil
}

// Incorporate has no inference-stage-only rewrites for Conv.
func (c *Conv) Incorporate(*graph.Model[facts.InferenceFact, op.InferenceOp], *graph.Node[facts.InferenceFact, op.InferenceOp]) (*graph.Patch[facts.InferenceFact, op.InferenceOp], error) {
	return nil, nil
}

// ToTyped converts a fully-known Conv into its typed-stage self: Conv is
// valid as both an InferenceOp and a TypedOp (it keeps taking its kernel as
// a graph input until wire_as_unary fuses it away), so this simply hands
// back the same value as an op.TypedOp.
func (c *Conv) ToTyped(inputs []facts.TypedFact) (op.TypedOp, error) {
	if len(inputs) < 2 {
		return nil, errors.Errorf("Conv.ToTyped: need at least 2 inputs, got %d", len(inputs))
	}
	return c, nil
}

// OutputFacts implements op.TypedOp.
func (c *Conv) OutputFacts(inputs []facts.TypedFact) ([]facts.TypedFact, error) {
	if len(inputs) < 2 {
		return nil, errors.Errorf("Conv requires at least 2 inputs, got %d", len(inputs))
	}
	outShape, err := c.OutputShape(inputs[0].Shape, inputs[1].Shape)
	if err != nil {
		return nil, err
	}
	dtype := inputs[0].Shape.DType
	if c.OverrideOutputDType != nil {
		dtype = *c.OverrideOutputDType
	}
	outShape.DType = dtype
	return []facts.TypedFact{{Shape: outShape}}, nil
}

// Declutter implements wire_as_unary (SPEC_FULL.md §4.5): when the kernel
// input is constant, Conv is rewritten into ConvUnary.
func (c *Conv) Declutter(m *graph.Model[facts.TypedFact, op.TypedOp], n *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return c.WireAsUnary(m, n)
}

// Fuse has nothing to do for Conv: fusion into ConvUnary already happens in
// Declutter, and once it has happened the node's op is no longer *Conv.
func (c *Conv) Fuse(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

// Cost reports a zero estimate: Conv has no Eval and is not executed itself
// (wire_as_unary replaces it with ConvUnary once the kernel is constant), so
// its cost is not modelled.
func (c *Conv) Cost([]facts.TypedFact) ([]op.Cost, error) {
	return nil, nil
}

// Codegen has nothing to do for Conv.
func (c *Conv) Codegen(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

// Pulsify is unsupported for Conv: wire_as_unary must fuse it to ConvUnary
// first (matching §4.7's "Default: fail" contract for pulsify).
func (c *Conv) Pulsify(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp], int, int64) (op.PulsedOp, error) {
	return nil, errors.New("Conv cannot be pulsified directly; wire_as_unary must fuse it to ConvUnary first")
}

func (f KernelFormat) outChannelAxis(rank int) int {
	if f == OIHW {
		return 0
	}
	return rank - 1
}

// QParams holds quantization scale/zero-point metadata attached to a
// ConvUnary fused from a quantized Conv.
type QParams struct {
	Scale      float64
	ZeroPointA int64 // kernel (weights) zero point
	ZeroPointB int64 // input (activation) zero point
}

// EnableOutputDTypeOverride gates ConvUnary.OutputDType respecting
// Conv.OverrideOutputDType during wire_as_unary. The rewrite traditionally
// hard-codes the fused output to i32 regardless of the override; this flag
// is off by default to preserve that behavior until the override's intended
// semantics are confirmed (SPEC_FULL.md, Open Questions).
var EnableOutputDTypeOverride = false

// ConvUnary is the typed-stage convolution with its kernel weights fused in
// as a constant: it consumes only the data input.
type ConvUnary struct {
	ConvConfig
	Kernel      *tensor.Tensor
	Bias        *tensor.Tensor // optional
	QParams     *QParams       // optional
	OutputDType datum.DType
}

func (u *ConvUnary) Name() string              { return "ConvUnary" }
func (u *ConvUnary) Validation() op.Validation { return op.Rounding }

func (u *ConvUnary) Info() []string {
	info := []string{
		fmt.Sprintf("data_format=%s kernel_format=%s kernel_shape=%v", u.DataFormat, u.KernelFormat, u.Kernel.Dims()),
	}
	if u.QParams != nil {
		info = append(info, fmt.Sprintf("qparams scale=%g zp_a=%d zp_b=%d", u.QParams.Scale, u.QParams.ZeroPointA, u.QParams.ZeroPointB))
	}
	return info
}

func (u *ConvUnary) SameAs(other op.Op) bool {
	o, ok := other.(*ConvUnary)
	if !ok {
		return false
	}
	return reflect.DeepEqual(u.ConvConfig, o.ConvConfig) && u.Kernel.Equal(o.Kernel) && u.OutputDType == o.OutputDType
}

// OutputFacts implements op.TypedOp.
func (u *ConvUnary) OutputFacts(inputs []facts.TypedFact) ([]facts.TypedFact, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("ConvUnary requires exactly 1 input, got %d", len(inputs))
	}
	outShape, err := u.OutputShape(inputs[0].Shape, u.Kernel.Shape())
	if err != nil {
		return nil, err
	}
	outShape.DType = u.OutputDType
	return []facts.TypedFact{{Shape: outShape}}, nil
}

// Declutter is idempotent: ConvUnary is already in fused form.
func (u *ConvUnary) Declutter(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

func (u *ConvUnary) Fuse(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

func (u *ConvUnary) Cost(inputs []facts.TypedFact) ([]op.Cost, error) {
	outFacts, err := u.OutputFacts(inputs)
	if err != nil {
		return nil, err
	}
	outSize, err := outFacts[0].Shape.Size()
	if err != nil {
		return nil, err
	}
	receptive := u.Kernel.Size() / u.Kernel.Dims()[u.KernelFormat.outChannelAxis(u.Kernel.Rank())]
	return []op.Cost{{Kind: op.CostFMA, DType: u.OutputDType, Count: outSize * receptive}}, nil
}

func (u *ConvUnary) Codegen(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	return nil, nil
}

// Pulsify is unsupported: streaming a convolution along a spatial axis
// requires buffering kernel_extent-1 positions of delayed context, which
// this kernel does not implement (out of scope, see DESIGN.md).
func (u *ConvUnary) Pulsify(*graph.Model[facts.TypedFact, op.TypedOp], *graph.Node[facts.TypedFact, op.TypedOp], int, int64) (op.PulsedOp, error) {
	return nil, errors.New("ConvUnary pulsification (streaming receptive-field buffering) is not supported")
}

// WireAsUnary implements the Conv->ConvUnary fusion (SPEC_FULL.md §4.5). It
// returns a nil patch, not an error, when the kernel input is not constant
// (there is simply no rewrite to do yet).
func (c *Conv) WireAsUnary(m *graph.Model[facts.TypedFact, op.TypedOp], n *graph.Node[facts.TypedFact, op.TypedOp]) (*graph.Patch[facts.TypedFact, op.TypedOp], error) {
	kernelFact, err := m.Fact(n.Inputs[1])
	if err != nil {
		return nil, err
	}
	if kernelFact.Value == nil {
		return nil, nil
	}
	kernelTensor := kernelFact.Value

	dataFact, err := m.Fact(n.Inputs[0])
	if err != nil {
		return nil, err
	}
	rank := dataFact.Shape.Rank()
	group := c.groupOrDefault()
	inputChannels, err := dataFact.Shape.Dim(c.DataFormat.ChannelAxis(rank)).ToInt64()
	if err != nil {
		return nil, errors.WithMessage(err, "Conv: wire_as_unary requires a concrete input channel count")
	}
	filterInChannels, err := kernelTensor.Shape().Dim(c.KernelFormat.InChannelAxis(rank)).ToInt64()
	if err != nil {
		return nil, err
	}
	if inputChannels != group*filterInChannels {
		return nil, errors.Errorf("Conv: input channels %d does not match kernel (group=%d, filter_in_channels=%d)", inputChannels, group, filterInChannels)
	}

	if c.YScaleInput != NoInput || c.YZeroPointInput != NoInput {
		return nil, errors.Errorf("Conv: y_scale_input/y_zero_point_input are not supported by wire_as_unary")
	}

	constScalarF64 := func(slot int) (float64, bool, error) {
		if slot == NoInput {
			return 0, false, nil
		}
		f, err := m.Fact(n.Inputs[slot])
		if err != nil {
			return 0, false, err
		}
		if f.Value == nil {
			return 0, false, errors.Errorf("Conv: wire_as_unary requires input slot %d to be constant", slot)
		}
		v, err := f.Value.ToScalarF64()
		return v, true, err
	}
	constScalarI64 := func(slot int) (int64, bool, error) {
		if slot == NoInput {
			return 0, false, nil
		}
		f, err := m.Fact(n.Inputs[slot])
		if err != nil {
			return 0, false, err
		}
		if f.Value == nil {
			return 0, false, errors.Errorf("Conv: wire_as_unary requires input slot %d to be constant", slot)
		}
		v, err := f.Value.ToScalarI64()
		return v, true, err
	}

	xScale, hasXScale, err := constScalarF64(c.XScaleInput)
	if err != nil {
		return nil, err
	}
	kScale, hasKScale, err := constScalarF64(c.KScaleInput)
	if err != nil {
		return nil, err
	}
	xZero, hasXZero, err := constScalarI64(c.XZeroPointInput)
	if err != nil {
		return nil, err
	}
	kZero, hasKZero, err := constScalarI64(c.KZeroPointInput)
	if err != nil {
		return nil, err
	}

	var qp *QParams
	if hasXScale || hasKScale || hasXZero || hasKZero {
		qp = &QParams{Scale: 1}
		if hasXScale {
			qp.Scale *= xScale
		}
		if hasKScale {
			qp.Scale *= kScale
		}
		if hasXZero {
			qp.ZeroPointB = xZero
		}
		if hasKZero {
			qp.ZeroPointA = kZero
		}
	}

	var bias *tensor.Tensor
	if c.BiasInput != NoInput {
		f, err := m.Fact(n.Inputs[c.BiasInput])
		if err != nil {
			return nil, err
		}
		if f.Value == nil {
			return nil, errors.Errorf("Conv: wire_as_unary requires bias_input to be constant")
		}
		bias = f.Value
	}

	outDType := datum.I32
	if EnableOutputDTypeOverride && c.OverrideOutputDType != nil {
		outDType = *c.OverrideOutputDType
	}

	unary := &ConvUnary{
		ConvConfig:  c.ConvConfig,
		Kernel:      kernelTensor,
		Bias:        bias,
		QParams:     qp,
		OutputDType: outDType,
	}

	patch := graph.NewPatch[facts.TypedFact, op.TypedOp]()
	dataTap, err := patch.Tap("data", n.Inputs[0], dataFact)
	if err != nil {
		return nil, err
	}
	outFacts, err := unary.OutputFacts([]facts.TypedFact{dataFact})
	if err != nil {
		return nil, err
	}
	newNode, err := patch.Interior.AddNode(n.Name+".unary", op.TypedOp(unary), []graph.Outlet{dataTap}, outFacts)
	if err != nil {
		return nil, err
	}
	patch.Shunt(n.Outlet(0), newNode.Outlet(0))
	return patch, nil
}
