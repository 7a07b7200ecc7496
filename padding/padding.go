// Package padding is the external padding collaborator: given a spatial
// input size, kernel size, dilation, and stride, it computes how much
// padding to add on each side and the resulting output size. It has no
// knowledge of operators, facts, or the graph -- it is a pure function of
// plain integers, one axis at a time.
package padding

import "github.com/pkg/errors"

// Mode selects how padding is computed for one spatial axis.
type Mode int

const (
	// Valid applies no padding; the kernel only visits positions that fit
	// entirely inside the input.
	Valid Mode = iota
	// SameUpper pads so the output size equals ceil(input/stride), placing
	// any extra padding on the high (end) side when it can't be split
	// evenly.
	SameUpper
	// SameLower is SameUpper but places any extra padding on the low
	// (begin) side.
	SameLower
	// Explicit uses caller-supplied (before, after) padding amounts.
	Explicit
)

// Axis is the per-axis result of Compute: how much padding was added before
// and after the input, and the resulting output size.
type Axis struct {
	Before int64
	After  int64
	Output int64
}

// ExplicitPadding holds the caller-supplied padding amounts for Mode == Explicit.
type ExplicitPadding struct {
	Before int64
	After  int64
}

// Compute computes the per-axis padding and output size for one spatial
// axis, given the dilated kernel footprint and stride. dilation and stride
// default to 1 when zero is passed.
func Compute(inputSize, kernelSize, dilation, stride int64, mode Mode, explicit ExplicitPadding) (Axis, error) {
	if inputSize < 0 || kernelSize <= 0 {
		return Axis{}, errors.Errorf("padding.Compute: invalid input size %d or kernel size %d", inputSize, kernelSize)
	}
	if dilation <= 0 {
		dilation = 1
	}
	if stride <= 0 {
		stride = 1
	}
	effectiveKernel := (kernelSize-1)*dilation + 1

	switch mode {
	case Valid:
		if inputSize < effectiveKernel {
			return Axis{}, errors.Errorf("padding.Compute: input size %d smaller than effective kernel size %d under Valid padding", inputSize, effectiveKernel)
		}
		output := (inputSize-effectiveKernel)/stride + 1
		return Axis{Output: output}, nil

	case SameUpper, SameLower:
		output := (inputSize + stride - 1) / stride
		total := (output-1)*stride + effectiveKernel - inputSize
		if total < 0 {
			total = 0
		}
		before := total / 2
		after := total - before
		if mode == SameLower {
			before, after = after, before
		}
		return Axis{Before: before, After: after, Output: output}, nil

	case Explicit:
		padded := inputSize + explicit.Before + explicit.After
		if padded < effectiveKernel {
			return Axis{}, errors.Errorf("padding.Compute: explicitly padded input size %d smaller than effective kernel size %d", padded, effectiveKernel)
		}
		output := (padded-effectiveKernel)/stride + 1
		return Axis{Before: explicit.Before, After: explicit.After, Output: output}, nil

	default:
		return Axis{}, errors.Errorf("padding.Compute: unknown mode %d", mode)
	}
}
