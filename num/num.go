package num

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// TransType flag indicates if a matrix operand is transposed.
type TransType = blas.Transpose

const (
	NoTrans = blas.NoTrans
	Trans   = blas.Trans
)

// Fill sets every element to a scalar value.
func Fill(a *Array, scalar float32) {
	for i := range a.Data {
		a.Data[i] = scalar
	}
}

// Copy copies src to dst which must be the same size.
func Copy(dst, src *Array) {
	if len(dst.Data) != len(src.Data) {
		panic(fmt.Sprintf("Copy: size mismatch %v %v", dst.Dims(), src.Dims()))
	}
	copy(dst.Data, src.Data)
}

// Axpy calculates y += alpha*x
func Axpy(alpha float32, x, y *Array) {
	if len(x.Data) != len(y.Data) {
		panic(fmt.Sprintf("Axpy: size mismatch %v %v", x.Dims(), y.Dims()))
	}
	blas32.Axpy(alpha, vec(x.Data), vec(y.Data))
}

// Scale multiplies the array by a scalar in place.
func Scale(alpha float32, a *Array) {
	blas32.Scal(alpha, vec(a.Data))
}

// Dot returns the inner product of two equal sized arrays.
func Dot(x, y *Array) float32 {
	return blas32.Dot(vec(x.Data), vec(y.Data))
}

// Nrm2 returns the Euclidean norm of the array.
func Nrm2(a *Array) float32 {
	return blas32.Nrm2(vec(a.Data))
}

func vec(data []float32) blas32.Vector {
	return blas32.Vector{N: len(data), Inc: 1, Data: data}
}

// Gemm calculates c = alpha*a*b + beta*c for 2 dimensional arrays.
func Gemm(alpha, beta float32, a, b, c *Array, aTrans, bTrans TransType) {
	ad, bd, cd := a.Dims(), b.Dims(), c.Dims()
	if len(ad) != 2 || len(bd) != 2 || len(cd) != 2 {
		panic("Gemm: arguments must be 2 dimensional")
	}
	m, ka := ad[0], ad[1]
	if aTrans == Trans {
		m, ka = ka, m
	}
	kb, n := bd[0], bd[1]
	if bTrans == Trans {
		kb, n = n, kb
	}
	if ka != kb || cd[0] != m || cd[1] != n {
		panic(fmt.Sprintf("Gemm: invalid shapes %v %v %v", ad, bd, cd))
	}
	blas32.Implementation().Sgemm(aTrans, bTrans, m, n, ka, alpha,
		a.Data, ad[1], b.Data, bd[1], beta, c.Data, cd[1])
}

// Sum returns the sum of all elements.
func Sum(a *Array) float32 {
	var total float32
	for _, v := range a.Data {
		total += v
	}
	return total
}

// Relu applies max(0,x) elementwise from src to dst.
func Relu(src, dst *Array) {
	for i, v := range src.Data {
		if v > 0 {
			dst.Data[i] = v
		} else {
			dst.Data[i] = 0
		}
	}
}

// ReluD propagates the gradient where the forward input was positive.
func ReluD(src, grad, dst *Array) {
	for i, v := range src.Data {
		if v > 0 {
			dst.Data[i] = grad.Data[i]
		} else {
			dst.Data[i] = 0
		}
	}
}

// Softmax applies a row wise softmax, src and dst shaped [batch, classes].
func Softmax(src, dst *Array) {
	batch, classes := src.Dims()[0], src.Dims()[1]
	for r := 0; r < batch; r++ {
		row := src.Data[r*classes : (r+1)*classes]
		out := dst.Data[r*classes : (r+1)*classes]
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - max))
			out[i] = float32(e)
			sum += e
		}
		for i := range out {
			out[i] /= float32(sum)
		}
	}
}

// LogSoftmax applies a row wise log softmax.
func LogSoftmax(src, dst *Array) {
	batch, classes := src.Dims()[0], src.Dims()[1]
	for r := 0; r < batch; r++ {
		row := src.Data[r*classes : (r+1)*classes]
		out := dst.Data[r*classes : (r+1)*classes]
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - max))
		}
		lse := max + float32(math.Log(sum))
		for i, v := range row {
			out[i] = v - lse
		}
	}
}

// Onehot expands labels to a one hot encoded [batch, classes] array.
func Onehot(labels []int32, dst *Array, classes int) {
	Fill(dst, 0)
	for i, label := range labels {
		if label < 0 || int(label) >= classes {
			panic(fmt.Sprintf("Onehot: label %d out of range", label))
		}
		dst.Data[i*classes+int(label)] = 1
	}
}

// Argmax returns the index of the largest value in each row.
func Argmax(a *Array, out []int32) {
	batch, classes := a.Dims()[0], a.Dims()[1]
	for r := 0; r < batch; r++ {
		row := a.Data[r*classes : (r+1)*classes]
		best := 0
		for i, v := range row[1:] {
			if v > row[best] {
				best = i + 1
			}
		}
		out[r] = int32(best)
	}
}

// TopK reports for each row whether the label is within the k highest scores.
func TopK(a *Array, labels []int32, k int) []bool {
	batch, classes := a.Dims()[0], a.Dims()[1]
	hit := make([]bool, batch)
	for r := 0; r < batch; r++ {
		row := a.Data[r*classes : (r+1)*classes]
		target := row[labels[r]]
		higher := 0
		for i, v := range row {
			if v > target || (v == target && int32(i) < labels[r]) {
				higher++
			}
		}
		hit[r] = higher < k
	}
	return hit
}
