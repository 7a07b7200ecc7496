package ops

import (
	"testing"

	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/padding"
	"github.com/gomlx/opgraph/shape"
	"github.com/gomlx/opgraph/solver"
	"github.com/gomlx/opgraph/tensor"
	"github.com/stretchr/testify/require"
)

func TestOutputShapeNCHWOIHWStrided(t *testing.T) {
	// Scenario 1: input (1,1,7,5), kernel (1,1,3,3), strides (2,2), Valid.
	cfg := ConvConfig{
		DataFormat:   NCHW,
		KernelFormat: OIHW,
		Strides:      []int64{2, 2},
		Padding:      PaddingSpec{Mode: padding.Valid},
	}
	in := shape.Make(datum.F32, 1, 1, 7, 5)
	k := shape.Make(datum.F32, 1, 1, 3, 3)
	out, err := cfg.OutputShape(in, k)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 1, 3, 2}, require_ToConcreteInts(t, out))
}

func TestOutputShapeChannelInference(t *testing.T) {
	// Scenario 2: input (1,2,1,1), kernel (3,2,1,1) -> output (1,3,1,1).
	cfg := ConvConfig{DataFormat: NCHW, KernelFormat: OIHW, Padding: PaddingSpec{Mode: padding.Valid}}
	in := shape.Make(datum.F32, 1, 2, 1, 1)
	k := shape.Make(datum.F32, 3, 2, 1, 1)
	out, err := cfg.OutputShape(in, k)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3, 1, 1}, require_ToConcreteInts(t, out))
}

func TestConvUnaryEvalNHWCHWIOSameUpperZero(t *testing.T) {
	// Scenario 3: input (1,2,2,2) f32, kernel (2,2,2,1) f32, SameUpper, all
	// zero -> output (1,2,2,1) all zero.
	cfg := ConvConfig{DataFormat: NHWC, KernelFormat: HWIO, Padding: PaddingSpec{Mode: padding.SameUpper}}
	kernel, err := tensor.Zeros(datum.F32, 2, 2, 2, 1)
	require.NoError(t, err)
	unary := &ConvUnary{ConvConfig: cfg, Kernel: kernel, OutputDType: datum.F32}
	data, err := tensor.Zeros(datum.F32, 1, 2, 2, 2)
	require.NoError(t, err)
	outs, err := unary.Eval([]*tensor.Tensor{data})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 2, 1}, outs[0].Dims())
	uniform, err := outs[0].IsUniform()
	require.NoError(t, err)
	require.True(t, uniform)
	zeros, err := tensor.Zeros(datum.F32, 1, 2, 2, 1)
	require.NoError(t, err)
	require.True(t, outs[0].Equal(zeros))
}

func TestConvUnaryEvalNHWCHWIOIdentity(t *testing.T) {
	// Scenario 4: identity 1x1 convolution under SameUpper must reproduce
	// the input exactly.
	cfg := ConvConfig{DataFormat: NHWC, KernelFormat: HWIO, Padding: PaddingSpec{Mode: padding.SameUpper}}
	kernel, err := tensor.FromValue([][][][]float32{{{{1, 0}, {0, 1}}}})
	require.NoError(t, err)
	unary := &ConvUnary{ConvConfig: cfg, Kernel: kernel, OutputDType: datum.F32}
	data, err := tensor.FromValue([][][][]float32{
		{{{0, 1}, {2, 3}}, {{10, 11}, {12, 13}}},
	})
	require.NoError(t, err)
	outs, err := unary.Eval([]*tensor.Tensor{data})
	require.NoError(t, err)
	require.True(t, outs[0].Equal(data))
}

func TestConvUnaryEvalNTCChannelProjection(t *testing.T) {
	// Scenario 5: input (1,1,2) = [[[2,0]]], kernel (1,2,1) HWIO 1-D =
	// [[[1],[0]]] -> output (1,1,1) = [[[2]]].
	cfg := ConvConfig{DataFormat: NHWC, KernelFormat: HWIO, Padding: PaddingSpec{Mode: padding.Valid}}
	kernel, err := tensor.FromValue([][][]float32{{{1}, {0}}})
	require.NoError(t, err)
	unary := &ConvUnary{ConvConfig: cfg, Kernel: kernel, OutputDType: datum.F32}
	data, err := tensor.FromValue([][][]float32{{{2, 0}}})
	require.NoError(t, err)
	outs, err := unary.Eval([]*tensor.Tensor{data})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 1, 1}, outs[0].Dims())
	scalar, err := outs[0].ToScalarF64()
	require.NoError(t, err)
	require.Equal(t, 2.0, scalar)
}

func TestConvRulesForInferenceChannelConstraint(t *testing.T) {
	// Regression test for Cell synchronization across independently-created
	// cells against the same fact: the facts are populated here via
	// solver.EqualsConst on fresh cells built against the very same
	// *facts.InferenceFact pointers RulesForInference already built its own
	// cells against, rather than by mutating the fact's fields directly.
	conv := NewConv(ConvConfig{DataFormat: NCHW, KernelFormat: OIHW, Padding: PaddingSpec{Mode: padding.Valid}})
	data := facts.Unknown()
	kernel := facts.Unknown()
	output := facts.Unknown()
	s := solver.New()
	require.NoError(t, conv.RulesForInference(s, []*facts.InferenceFact{&data, &kernel}, []*facts.InferenceFact{&output}))

	solver.EqualsConst(s, solver.RankCell(&data), 4)
	solver.EqualsConst(s, solver.DTypeCell(&data), datum.F32)
	solver.EqualsConst(s, solver.ShapeDimCell(&data, 1), shape.Int(1))

	solver.EqualsConst(s, solver.RankCell(&kernel), 4)
	solver.EqualsConst(s, solver.ShapeDimCell(&kernel, 0), shape.Int(3))
	solver.EqualsConst(s, solver.ShapeDimCell(&kernel, 1), shape.Int(1))

	require.NoError(t, s.Run())
	require.NotNil(t, output.DType)
	require.Equal(t, datum.F32, *output.DType)
}

func require_ToConcreteInts(t *testing.T, s shape.Shape) []int64 {
	t.Helper()
	ints, err := s.ToConcreteInts()
	require.NoError(t, err)
	return ints
}
