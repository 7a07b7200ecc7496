package shape

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/opgraph/datum"
	"github.com/pkg/errors"
)

// Shape describes the data type and dimensions of a tensor. Dimensions are
// TDim, so a Shape can describe a partially symbolic (streaming) tensor as
// well as a fully concrete one.
type Shape struct {
	DType      datum.DType
	Dimensions []TDim
}

// Make creates a concrete Shape from plain integer dimensions.
func Make(dtype datum.DType, dims ...int64) Shape {
	dimensions := make([]TDim, len(dims))
	for i, d := range dims {
		dimensions[i] = Int(d)
	}
	return Shape{DType: dtype, Dimensions: dimensions}
}

// MakeSymbolic creates a Shape from already-built TDim dimensions (may
// include symbolic ones).
func MakeSymbolic(dtype datum.DType, dims ...TDim) Shape {
	return Shape{DType: dtype, Dimensions: slices.Clone(dims)}
}

// Invalid returns the zero-value invalid shape.
func Invalid() Shape {
	return Shape{}
}

// Ok reports whether the shape has a valid data type.
func (s Shape) Ok() bool {
	return s.DType.Ok()
}

// Rank returns the number of dimensions (axes) of the shape.
func (s Shape) Rank() int {
	return len(s.Dimensions)
}

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool {
	return s.Rank() == 0
}

// Dim returns the dimension at the given axis. Negative axis counts from the
// end, as in Python.
func (s Shape) Dim(axis int) TDim {
	if axis < 0 {
		axis += s.Rank()
	}
	return s.Dimensions[axis]
}

// IsConcrete reports whether every dimension of the shape is concrete.
func (s Shape) IsConcrete() bool {
	for _, d := range s.Dimensions {
		if !d.IsConcrete() {
			return false
		}
	}
	return true
}

// ToConcreteInts returns the dimensions as a plain []int64, failing if any
// dimension is still symbolic.
func (s Shape) ToConcreteInts() ([]int64, error) {
	result := make([]int64, s.Rank())
	for i, d := range s.Dimensions {
		v, err := d.ToInt64()
		if err != nil {
			return nil, errors.WithMessagef(err, "shape %s is not fully concrete", s)
		}
		result[i] = v
	}
	return result, nil
}

// Size returns the total number of elements described by the shape. Fails if
// the shape is not concrete.
func (s Shape) Size() (int64, error) {
	dims, err := s.ToConcreteInts()
	if err != nil {
		return 0, err
	}
	size := int64(1)
	for _, d := range dims {
		size *= d
	}
	return size, nil
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Equal reports whether two shapes have the same data type and dimensions.
func (s Shape) Equal(other Shape) bool {
	if s.DType != other.DType || s.Rank() != other.Rank() {
		return false
	}
	for i, d := range s.Dimensions {
		if !d.Equal(other.Dimensions[i]) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer, e.g. "(1,3,7,5)[F32]".
func (s Shape) String() string {
	parts := make([]string, s.Rank())
	for i, d := range s.Dimensions {
		parts[i] = d.String()
	}
	return fmt.Sprintf("(%s)[%s]", strings.Join(parts, ","), s.DType)
}
