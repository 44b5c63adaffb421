// Package num contains the float32 array backend used by the nnet package:
// BLAS matrix ops via gonum, elementwise kernels, im2col convolution helpers
// and float16 conversion for mixed precision training.
package num

import (
	"fmt"
	"strings"
)

// Array is a dense float32 tensor in row major order. The first axis is the
// batch dimension for all layer inputs and outputs.
type Array struct {
	dims []int
	Data []float32
}

// NewArray allocates a zeroed array with the given shape.
func NewArray(dims ...int) *Array {
	return &Array{dims: append([]int{}, dims...), Data: make([]float32, Prod(dims))}
}

// NewArrayData wraps an existing slice, which must match the shape.
func NewArrayData(data []float32, dims ...int) *Array {
	if len(data) != Prod(dims) {
		panic(fmt.Sprintf("NewArrayData: have %d values for shape %v", len(data), dims))
	}
	return &Array{dims: append([]int{}, dims...), Data: data}
}

// Dims returns the shape of the array.
func (a *Array) Dims() []int { return a.dims }

// Size returns the total number of elements.
func (a *Array) Size() int { return len(a.Data) }

// Reshape returns a view on the same data with a new shape. One dimension may
// be -1 in which case it is inferred from the size.
func (a *Array) Reshape(dims ...int) *Array {
	dims = append([]int{}, dims...)
	wild := -1
	n := 1
	for i, d := range dims {
		if d == -1 {
			if wild >= 0 {
				panic("Reshape: at most one dimension can be -1")
			}
			wild = i
		} else {
			n *= d
		}
	}
	if wild >= 0 {
		dims[wild] = len(a.Data) / n
		n *= dims[wild]
	}
	if n != len(a.Data) {
		panic(fmt.Sprintf("Reshape: cannot reshape %v to %v", a.dims, dims))
	}
	return &Array{dims: dims, Data: a.Data}
}

// Clone makes a deep copy.
func (a *Array) Clone() *Array {
	b := NewArray(a.dims...)
	copy(b.Data, a.Data)
	return b
}

// String formats the array for debug output, matrices one row per line.
func (a *Array) String() string {
	if len(a.dims) != 2 {
		return fmt.Sprintf("%v%v", a.dims, a.Data)
	}
	rows, cols := a.dims[0], a.dims[1]
	var sb strings.Builder
	for r := 0; r < rows; r++ {
		sb.WriteByte('[')
		for c := 0; c < cols; c++ {
			fmt.Fprintf(&sb, "%7.4f ", a.Data[r*cols+c])
		}
		sb.WriteString("]\n")
	}
	return sb.String()
}

// Prod returns the product of the dims, 1 for an empty slice.
func Prod(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

// SameShape reports whether two arrays have identical dims.
func SameShape(a, b *Array) bool {
	if len(a.dims) != len(b.dims) {
		return false
	}
	for i, d := range a.dims {
		if b.dims[i] != d {
			return false
		}
	}
	return true
}
