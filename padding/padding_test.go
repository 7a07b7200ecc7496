package padding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidStrided(t *testing.T) {
	// Scenario 1 from the kernel's convolution shape-inference tests: a 7
	// wide axis, 3 wide kernel, stride 2, no dilation, Valid padding -> 3.
	a, err := Compute(7, 3, 1, 2, Valid, ExplicitPadding{})
	require.NoError(t, err)
	require.Equal(t, Axis{Before: 0, After: 0, Output: 3}, a)

	a, err = Compute(5, 3, 1, 2, Valid, ExplicitPadding{})
	require.NoError(t, err)
	require.Equal(t, int64(2), a.Output)
}

func TestSameUpperOutputSize(t *testing.T) {
	a, err := Compute(2, 2, 1, 1, SameUpper, ExplicitPadding{})
	require.NoError(t, err)
	require.Equal(t, int64(2), a.Output)
}

func TestSameUpperVsLowerOddSplit(t *testing.T) {
	upper, err := Compute(4, 2, 1, 1, SameUpper, ExplicitPadding{})
	require.NoError(t, err)
	lower, err := Compute(4, 2, 1, 1, SameLower, ExplicitPadding{})
	require.NoError(t, err)
	require.Equal(t, upper.Output, lower.Output)
}

func TestExplicit(t *testing.T) {
	a, err := Compute(5, 3, 1, 1, Explicit, ExplicitPadding{Before: 1, After: 1})
	require.NoError(t, err)
	require.Equal(t, int64(5), a.Output)
}

func TestValidTooSmall(t *testing.T) {
	_, err := Compute(2, 3, 1, 1, Valid, ExplicitPadding{})
	require.Error(t, err)
}
