// Package facts defines the four fact flavors that describe a tensor at a
// node's edge at each stage of the pipeline: InferenceFact (progressively
// refined by the solver), TypedFact and NormalizedFact (frozen after
// translation), and PulsedFact (frozen, with streaming metadata attached).
package facts

import (
	"fmt"

	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/shape"
	"github.com/gomlx/opgraph/tensor"
	"github.com/pkg/errors"
)

// InferenceFact is a possibly-partial description of a tensor, refined in
// place by the inference solver as it runs to fixpoint.
//
// Every field is optional (nil/unknown) except where a concrete Value is
// set, in which case DType, Rank and Shape must agree with it.
type InferenceFact struct {
	DType *datum.DType
	Rank  *int
	// Shape holds one entry per known axis once Rank is known; individual
	// entries may still be nil (unknown) even after Rank is known.
	Shape []*shape.TDim
	Value *tensor.Tensor
}

// Unknown returns a fact with nothing known about it yet.
func Unknown() InferenceFact {
	return InferenceFact{}
}

// FromShape returns a fully concrete InferenceFact from a known shape.Shape.
func FromShape(s shape.Shape) InferenceFact {
	dtype := s.DType
	rank := s.Rank()
	dims := make([]*shape.TDim, rank)
	for i := range s.Dimensions {
		d := s.Dimensions[i]
		dims[i] = &d
	}
	return InferenceFact{DType: &dtype, Rank: &rank, Shape: dims}
}

// FromValue returns a fully concrete InferenceFact carrying the given
// constant tensor.
func FromValue(t *tensor.Tensor) InferenceFact {
	f := FromShape(t.Shape())
	f.Value = t
	return f
}

// IsFullyKnown reports whether DType, Rank, and every shape coordinate are
// known (the fact may still lack a concrete Value).
func (f InferenceFact) IsFullyKnown() bool {
	if f.DType == nil || f.Rank == nil {
		return false
	}
	if len(f.Shape) != *f.Rank {
		return false
	}
	for _, d := range f.Shape {
		if d == nil {
			return false
		}
	}
	return true
}

// ToTypedFact converts a fully-known InferenceFact into a TypedFact. Fails
// if the fact is not fully known.
func (f InferenceFact) ToTypedFact() (TypedFact, error) {
	if !f.IsFullyKnown() {
		return TypedFact{}, errors.Errorf("cannot make typed: fact is not fully known (%s)", f)
	}
	dims := make([]shape.TDim, *f.Rank)
	for i, d := range f.Shape {
		dims[i] = *d
	}
	tf := TypedFact{Shape: shape.MakeSymbolic(*f.DType, dims...)}
	if f.Value != nil {
		tf.Value = f.Value
	}
	return tf, nil
}

// String implements fmt.Stringer.
func (f InferenceFact) String() string {
	dtype := "?"
	if f.DType != nil {
		dtype = f.DType.String()
	}
	rank := "?"
	if f.Rank != nil {
		rank = fmt.Sprintf("%d", *f.Rank)
	}
	dims := "?"
	if f.Shape != nil {
		dims = ""
		for i, d := range f.Shape {
			if i > 0 {
				dims += ","
			}
			if d == nil {
				dims += "?"
			} else {
				dims += d.String()
			}
		}
	}
	return fmt.Sprintf("InferenceFact{dtype=%s, rank=%s, shape=(%s)}", dtype, rank, dims)
}

// TypedFact is a fully-known fact, frozen after translation to the typed
// stage: known dtype, known shape over TDim, and an optional constant value.
type TypedFact struct {
	Shape shape.Shape
	Value *tensor.Tensor
}

// DTShape builds a TypedFact from a dtype and dimensions.
func DTShape(dtype datum.DType, dims ...int64) TypedFact {
	return TypedFact{Shape: shape.Make(dtype, dims...)}
}

// FromTensor builds a TypedFact carrying a constant value.
func FromTensor(t *tensor.Tensor) TypedFact {
	return TypedFact{Shape: t.Shape(), Value: t}
}

// Validate checks the fact's invariant: a constant value's shape and dtype
// must match the fact's own shape and dtype.
func (f TypedFact) Validate() error {
	if f.Value == nil {
		return nil
	}
	if !f.Value.Shape().Equal(f.Shape) {
		return errors.Errorf("typed fact shape %s does not match constant value shape %s", f.Shape, f.Value.Shape())
	}
	return nil
}

// String implements fmt.Stringer.
func (f TypedFact) String() string {
	if f.Value != nil {
		return fmt.Sprintf("TypedFact{%s, const}", f.Shape)
	}
	return fmt.Sprintf("TypedFact{%s}", f.Shape)
}

// NormalizedFact is a TypedFact with constants folded away: only shape and
// dtype remain, no inline constant value.
type NormalizedFact struct {
	Shape shape.Shape
}

// FromTypedFact drops the constant (if any) from a TypedFact.
func FromTypedFact(f TypedFact) NormalizedFact {
	return NormalizedFact{Shape: f.Shape}
}

// ToTypedFact promotes a NormalizedFact back to a (const-less) TypedFact.
func (f NormalizedFact) ToTypedFact() TypedFact {
	return TypedFact{Shape: f.Shape}
}

// String implements fmt.Stringer.
func (f NormalizedFact) String() string {
	return fmt.Sprintf("NormalizedFact{%s}", f.Shape)
}

// PulsedFact is a TypedFact with one axis designated as the streaming axis,
// described by a pulse size (how many positions are processed per step) and
// a delay (how many positions of context are buffered before the axis).
type PulsedFact struct {
	Shape shape.Shape
	Axis  int
	Pulse int64
	Delay int64
}

// ToTypedFact returns the typed fact of the full (un-pulsed) stream: the
// streaming axis is set to the symbolic streaming dimension.
func (f PulsedFact) ToTypedFact() TypedFact {
	dims := append([]shape.TDim(nil), f.Shape.Dimensions...)
	dims[f.Axis] = shape.S()
	return TypedFact{Shape: shape.MakeSymbolic(f.Shape.DType, dims...)}
}

// PulsedFactFromTyped builds the pulsed fact of one pulse step from a typed
// fact whose given axis is the (symbolic) streaming dimension: axis is
// narrowed to a concrete window of size pulse, with delay positions of
// buffered context. Fails if axis is out of range.
func PulsedFactFromTyped(f TypedFact, axis int, pulse, delay int64) (PulsedFact, error) {
	if axis < 0 || axis >= f.Shape.Rank() {
		return PulsedFact{}, errors.Errorf("pulsify: axis %d out of range for shape %s", axis, f.Shape)
	}
	dims := append([]shape.TDim(nil), f.Shape.Dimensions...)
	dims[axis] = shape.Int(pulse)
	return PulsedFact{
		Shape: shape.MakeSymbolic(f.Shape.DType, dims...),
		Axis:  axis,
		Pulse: pulse,
		Delay: delay,
	}, nil
}

// String implements fmt.Stringer.
func (f PulsedFact) String() string {
	return fmt.Sprintf("PulsedFact{%s, axis=%d, pulse=%d, delay=%d}", f.Shape, f.Axis, f.Pulse, f.Delay)
}
