// Package shape implements the symbolic dimension algebra (TDim) and the
// tensor Shape built on top of it, per the kernel's shape algebra component:
// symbolic dimensions supporting equality, multiplication by constants, and
// an IsConcrete predicate, used both as tensor axes and as solver variables.
package shape

import (
	"fmt"

	"github.com/pkg/errors"
)

// TDim is a symbolic dimension: either a plain integer, or a linear
// expression `coefficient*S + constant` over a single streaming variable S.
//
// This mirrors the single-streaming-variable restriction of the spec: no
// general polynomial or multi-variable symbolic shapes are supported, only
// what is needed to describe one pulsed (streaming) axis.
type TDim struct {
	coefficient int64
	constant    int64
}

// Int creates a concrete TDim from an integer.
func Int(v int64) TDim {
	return TDim{constant: v}
}

// S returns the symbolic streaming dimension variable.
func S() TDim {
	return TDim{coefficient: 1}
}

// IsConcrete reports whether the dimension is a plain integer (no
// contribution from the streaming variable).
func (d TDim) IsConcrete() bool {
	return d.coefficient == 0
}

// ToInt64 returns the concrete integer value of the dimension, or fails if
// the dimension still carries symbolic structure.
func (d TDim) ToInt64() (int64, error) {
	if !d.IsConcrete() {
		return 0, errors.Errorf("dimension %s is not concrete", d)
	}
	return d.constant, nil
}

// MustInt64 is like ToInt64 but panics on error -- for use only when the
// caller has already established the dimension is concrete.
func (d TDim) MustInt64() int64 {
	v, err := d.ToInt64()
	if err != nil {
		panic(err)
	}
	return v
}

// Add returns d + other.
func (d TDim) Add(other TDim) TDim {
	return TDim{coefficient: d.coefficient + other.coefficient, constant: d.constant + other.constant}
}

// Sub returns d - other.
func (d TDim) Sub(other TDim) TDim {
	return TDim{coefficient: d.coefficient - other.coefficient, constant: d.constant - other.constant}
}

// MulConst returns d multiplied by a constant factor -- this never loses
// symbolic structure, unlike multiplying two symbolic dimensions together
// (which is not supported, since the result would no longer be linear in a
// single variable with dimension-like semantics).
func (d TDim) MulConst(factor int64) TDim {
	return TDim{coefficient: d.coefficient * factor, constant: d.constant * factor}
}

// Equal reports whether the two dimensions are structurally identical: same
// coefficient and same constant. A concrete dimension only equals another
// dimension with the same value.
func (d TDim) Equal(other TDim) bool {
	return d.coefficient == other.coefficient && d.constant == other.constant
}

// String implements fmt.Stringer.
func (d TDim) String() string {
	if d.coefficient == 0 {
		return fmt.Sprintf("%d", d.constant)
	}
	if d.constant == 0 {
		return fmt.Sprintf("%dS", d.coefficient)
	}
	if d.constant > 0 {
		return fmt.Sprintf("%dS+%d", d.coefficient, d.constant)
	}
	return fmt.Sprintf("%dS%d", d.coefficient, d.constant)
}
