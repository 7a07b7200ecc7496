package tensor

import (
	"reflect"

	"github.com/gomlx/opgraph/datum"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// IsUniform reports whether every element of the tensor holds the same
// value (the spec's precondition for e.g. the mul->shift rewrite: the
// constant operand must be "non-empty, uniform").
func (t *Tensor) IsUniform() (bool, error) {
	if t.Size() == 0 {
		return false, nil
	}
	rv := reflect.ValueOf(t.flat)
	first := rv.Index(0).Interface()
	for i := 1; i < rv.Len(); i++ {
		if rv.Index(i).Interface() != first {
			return false, nil
		}
	}
	return true, nil
}

// ToScalarI64 returns the tensor's single value as an int64, failing unless
// the tensor has exactly one element. Bool, integer, F32 and F64 tensors are
// accepted (float values are truncated toward zero); other types fail.
func (t *Tensor) ToScalarI64() (int64, error) {
	if t.Size() != 1 {
		return 0, errors.Errorf("ToScalarI64 requires exactly one element, tensor has shape %s", t.Shape())
	}
	rv := reflect.ValueOf(t.flat)
	v := rv.Index(0)
	switch t.dtype {
	case datum.Bool:
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	case datum.U8, datum.U16:
		return int64(v.Uint()), nil
	case datum.I8, datum.I16, datum.I32, datum.I64:
		return v.Int(), nil
	case datum.F32, datum.F64:
		return int64(v.Float()), nil
	default:
		return 0, errors.Errorf("cannot convert %s tensor to scalar int64", t.dtype)
	}
}

// ToScalarF64 returns the tensor's single value as a float64.
func (t *Tensor) ToScalarF64() (float64, error) {
	if t.Size() != 1 {
		return 0, errors.Errorf("ToScalarF64 requires exactly one element, tensor has shape %s", t.Shape())
	}
	rv := reflect.ValueOf(t.flat)
	v := rv.Index(0)
	switch t.dtype {
	case datum.U8, datum.U16:
		return float64(v.Uint()), nil
	case datum.I8, datum.I16, datum.I32, datum.I64:
		return float64(v.Int()), nil
	case datum.F32, datum.F64:
		return v.Float(), nil
	case datum.F16:
		return float64(v.Interface().(float16.Float16).Float32()), nil
	default:
		return 0, errors.Errorf("cannot convert %s tensor to scalar float64", t.dtype)
	}
}

// CastTo returns a new Tensor with every element converted to the target
// data type.
func (t *Tensor) CastTo(dtype datum.DType) (*Tensor, error) {
	if t.dtype == dtype {
		return t, nil
	}
	n := t.Size()
	dst, err := newFlat(dtype, n)
	if err != nil {
		return nil, err
	}
	srcV := reflect.ValueOf(t.flat)
	dstV := reflect.ValueOf(dst)
	for i := int64(0); i < n; i++ {
		f64, err := elemAsFloat64(srcV.Index(int(i)), t.dtype)
		if err != nil {
			return nil, err
		}
		if err := setElemFromFloat64(dstV.Index(int(i)), dtype, f64); err != nil {
			return nil, err
		}
	}
	return &Tensor{dtype: dtype, dims: append([]int64(nil), t.dims...), flat: dst}, nil
}

func elemAsFloat64(v reflect.Value, dtype datum.DType) (float64, error) {
	switch dtype {
	case datum.Bool:
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	case datum.U8, datum.U16:
		return float64(v.Uint()), nil
	case datum.I8, datum.I16, datum.I32, datum.I64:
		return float64(v.Int()), nil
	case datum.F32, datum.F64:
		return v.Float(), nil
	case datum.F16:
		return float64(v.Interface().(float16.Float16).Float32()), nil
	default:
		return 0, errors.Errorf("unsupported source data type %s", dtype)
	}
}

func setElemFromFloat64(v reflect.Value, dtype datum.DType, f float64) error {
	switch dtype {
	case datum.Bool:
		v.SetBool(f != 0)
	case datum.U8, datum.U16:
		v.SetUint(uint64(f))
	case datum.I8, datum.I16, datum.I32, datum.I64:
		v.SetInt(int64(f))
	case datum.F32, datum.F64:
		v.SetFloat(f)
	case datum.F16:
		v.Set(reflect.ValueOf(float16.Fromfloat32(float32(f))))
	default:
		return errors.Errorf("unsupported target data type %s", dtype)
	}
	return nil
}

// Equal reports whether two tensors have the same shape and elements.
func (t *Tensor) Equal(other *Tensor) bool {
	if t.dtype != other.dtype || t.Size() != other.Size() || len(t.dims) != len(other.dims) {
		return false
	}
	for i := range t.dims {
		if t.dims[i] != other.dims[i] {
			return false
		}
	}
	return reflect.DeepEqual(t.flat, other.flat)
}

// Flat returns the tensor's underlying flat storage. Callers must not mutate
// the returned slice -- tensors are immutable once published.
func (t *Tensor) Flat() any {
	return t.flat
}
