// Package linalg is the linear-algebra collaborator: it exposes the
// vectorized scalar-math and matrix primitives that operator bodies call
// into, discovered through the package-level functions below rather than
// through a struct, mirroring the global-accessor pattern the kernel
// expects this collaborator to provide. Swapping the backing implementation
// (e.g. for a SIMD-tuned one) only ever touches this package.
package linalg

import (
	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Dot64 returns the dot product of a and b, which must have equal length.
// Used by ConvUnary to accumulate one output element's receptive field
// against its kernel slice.
func Dot64(a, b []float64) float64 {
	return floats.Dot(a, b)
}

// MatMul64 multiplies an (m x k) matrix a by a (k x n) matrix b, both given
// row-major, and returns the (m x n) row-major result.
func MatMul64(m, k, n int, a, b []float64) []float64 {
	am := mat.NewDense(m, k, a)
	bm := mat.NewDense(k, n, b)
	var cm mat.Dense
	cm.Mul(am, bm)
	out := make([]float64, m*n)
	for i := 0; i < m; i++ {
		copy(out[i*n:(i+1)*n], mat.Row(nil, i, &cm))
	}
	return out
}

// Tanh32 is the vectorized scalar kernel backing the Tanh element-wise
// operator.
func Tanh32(x float32) float32 {
	return math32.Tanh(x)
}

// Exp32, Log32, Sqrt32 back the Exp/Ln/Sqrt element-wise operators.
func Exp32(x float32) float32  { return math32.Exp(x) }
func Log32(x float32) float32  { return math32.Log(x) }
func Sqrt32(x float32) float32 { return math32.Sqrt(x) }
