// Package tensor implements the owned n-dimensional array that backs
// concrete values flowing through the operator graph: a Tensor carries a
// datum type and concrete shape, and is treated as immutable once it is
// published into a graph (shared by reference, never mutated in place).
package tensor

import (
	"fmt"
	"reflect"

	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/shape"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor is an owned, immutable n-dimensional array. Once constructed it
// should not be mutated -- operators that need to transform a Tensor must
// build a new one. Callers may freely share a *Tensor (e.g. store it in
// multiple Facts) since it is never written to after construction.
type Tensor struct {
	dtype dtype_
	dims  []int64
	flat  any // one of []bool, []uint8, []uint16, []int8, []int16, []int32, []int64, []float16.Float16, []float32, []float64
}

// dtype_ avoids stuttering in the exported API (tensor.Tensor.DType()).
type dtype_ = datum.DType

// Shape returns the concrete shape.Shape describing this tensor.
func (t *Tensor) Shape() shape.Shape {
	return shape.Make(t.dtype, t.dims...)
}

// DType returns the tensor's datum type.
func (t *Tensor) DType() datum.DType {
	return t.dtype
}

// Dims returns the tensor's dimensions.
func (t *Tensor) Dims() []int64 {
	return append([]int64(nil), t.dims...)
}

// Rank returns the number of axes.
func (t *Tensor) Rank() int {
	return len(t.dims)
}

// Size returns the total number of elements.
func (t *Tensor) Size() int64 {
	size := int64(1)
	for _, d := range t.dims {
		size *= d
	}
	return size
}

func newFlat(dtype datum.DType, size int64) (any, error) {
	switch dtype {
	case datum.Bool:
		return make([]bool, size), nil
	case datum.U8:
		return make([]uint8, size), nil
	case datum.U16:
		return make([]uint16, size), nil
	case datum.I8:
		return make([]int8, size), nil
	case datum.I16:
		return make([]int16, size), nil
	case datum.I32:
		return make([]int32, size), nil
	case datum.I64, datum.TDim:
		return make([]int64, size), nil
	case datum.F16:
		return make([]float16.Float16, size), nil
	case datum.F32:
		return make([]float32, size), nil
	case datum.F64:
		return make([]float64, size), nil
	default:
		return nil, errors.Errorf("unsupported data type %s for tensor storage", dtype)
	}
}

// FromFlat builds a Tensor from a flat Go slice of one of the supported
// scalar kinds, plus the dimensions it should be reshaped to. The flat
// slice's length must equal the product of dims.
func FromFlat(dtype datum.DType, dims []int64, flat any) (*Tensor, error) {
	size := int64(1)
	for _, d := range dims {
		size *= d
	}
	v := reflect.ValueOf(flat)
	if v.Kind() != reflect.Slice {
		return nil, errors.Errorf("FromFlat requires a slice, got %T", flat)
	}
	if int64(v.Len()) != size {
		return nil, errors.Errorf("flat data has %d elements, but dims %v require %d", v.Len(), dims, size)
	}
	return &Tensor{dtype: dtype, dims: append([]int64(nil), dims...), flat: flat}, nil
}

// Zeros returns a new Tensor of the given dtype and dims, filled with zero
// values.
func Zeros(dtype datum.DType, dims ...int64) (*Tensor, error) {
	size := int64(1)
	for _, d := range dims {
		size *= d
	}
	flat, err := newFlat(dtype, size)
	if err != nil {
		return nil, err
	}
	return &Tensor{dtype: dtype, dims: append([]int64(nil), dims...), flat: flat}, nil
}

// FromValue infers the shape of a (possibly nested) Go slice or scalar value
// and builds the corresponding Tensor. Multi-dimensional slices must be
// dense (every sub-slice at a given depth has the same length).
func FromValue(v any) (*Tensor, error) {
	shp, flat, err := shapeAndFlatFromValue(v)
	if err != nil {
		return nil, err
	}
	return FromFlat(shp.DType, dimsToInt64(shp), flat)
}

func dimsToInt64(shp shape.Shape) []int64 {
	dims := make([]int64, shp.Rank())
	for i, d := range shp.Dimensions {
		dims[i] = d.MustInt64()
	}
	return dims
}

// shapeAndFlatFromValue recursively walks the Go value, recording
// dimensions and flattening the leaves into one slice of the matching Go
// type.
func shapeAndFlatFromValue(v any) (shape.Shape, any, error) {
	rv := reflect.ValueOf(v)
	var dims []int64
	for rv.Kind() == reflect.Slice {
		if rv.Len() == 0 {
			return shape.Shape{}, nil, errors.New("cannot build a tensor from an empty slice")
		}
		dims = append(dims, int64(rv.Len()))
		rv = rv.Index(0)
		for rv.Kind() == reflect.Interface {
			rv = rv.Elem()
		}
	}
	goType := reflect.ValueOf(v)
	dtype, err := dtypeFromGoType(elemType(goType.Type()))
	if err != nil {
		return shape.Shape{}, nil, err
	}
	flat, err := flatten(v, dtype)
	if err != nil {
		return shape.Shape{}, nil, err
	}
	return shape.Make(dtype, dims...), flat, nil
}

func elemType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	return t
}

func dtypeFromGoType(t reflect.Type) (datum.DType, error) {
	switch t.Kind() {
	case reflect.Bool:
		return datum.Bool, nil
	case reflect.Uint8:
		return datum.U8, nil
	case reflect.Uint16:
		return datum.U16, nil
	case reflect.Int8:
		return datum.I8, nil
	case reflect.Int16:
		return datum.I16, nil
	case reflect.Int32:
		return datum.I32, nil
	case reflect.Int64, reflect.Int:
		return datum.I64, nil
	case reflect.Float32:
		return datum.F32, nil
	case reflect.Float64:
		return datum.F64, nil
	default:
		if t == reflect.TypeOf(float16.Float16(0)) {
			return datum.F16, nil
		}
		return datum.Invalid, errors.Errorf("unsupported Go type %s for tensor conversion", t)
	}
}

func flatten(v any, dtype datum.DType) (any, error) {
	var result reflect.Value
	switch dtype {
	case datum.Bool:
		result = reflect.ValueOf([]bool{})
	case datum.U8:
		result = reflect.ValueOf([]uint8{})
	case datum.U16:
		result = reflect.ValueOf([]uint16{})
	case datum.I8:
		result = reflect.ValueOf([]int8{})
	case datum.I16:
		result = reflect.ValueOf([]int16{})
	case datum.I32:
		result = reflect.ValueOf([]int32{})
	case datum.I64:
		result = reflect.ValueOf([]int64{})
	case datum.F32:
		result = reflect.ValueOf([]float32{})
	case datum.F64:
		result = reflect.ValueOf([]float64{})
	case datum.F16:
		result = reflect.ValueOf([]float16.Float16{})
	default:
		return nil, errors.Errorf("unsupported data type %s", dtype)
	}
	out := reflect.New(result.Type()).Elem()
	out.Set(result)
	var rec func(rv reflect.Value)
	rec = func(rv reflect.Value) {
		for rv.Kind() == reflect.Interface {
			rv = rv.Elem()
		}
		if rv.Kind() == reflect.Slice {
			for i := 0; i < rv.Len(); i++ {
				rec(rv.Index(i))
			}
			return
		}
		elem := reflect.New(out.Type().Elem()).Elem()
		elem.Set(rv.Convert(out.Type().Elem()))
		out.Set(reflect.Append(out, elem))
	}
	rec(reflect.ValueOf(v))
	return out.Interface(), nil
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%s", t.Shape())
}
