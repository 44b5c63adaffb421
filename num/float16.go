package num

import (
	"math"

	"github.com/x448/float16"
)

// RoundTrip16 rounds every element to the nearest IEEE-754 half precision
// value in place. This models the autocast precision loss of mixed precision
// training on hardware with native float16.
func RoundTrip16(a *Array) {
	for i, v := range a.Data {
		a.Data[i] = float16.Fromfloat32(v).Float32()
	}
}

// HasOverflow reports whether any element is Inf or NaN. Used by the gradient
// scaler to detect an overflowed backward pass.
func HasOverflow(a *Array) bool {
	for _, v := range a.Data {
		if math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
			return true
		}
	}
	return false
}
