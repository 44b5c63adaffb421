package num

// Convolution is implemented as im2col followed by a single Gemm call.
// Images are stored [batch, channels, height, width].

// ConvDims calculates the output spatial size for a convolution or pooling op.
func ConvDims(h, w, size, stride, pad int) (hOut, wOut int) {
	hOut = (h+2*pad-size)/stride + 1
	wOut = (w+2*pad-size)/stride + 1
	return
}

// Im2col unrolls image patches of one batch element into a matrix shaped
// [channels*size*size, hOut*wOut] so the convolution becomes a Gemm.
func Im2col(src []float32, channels, h, w, size, stride, pad int, dst []float32) {
	hOut, wOut := ConvDims(h, w, size, stride, pad)
	col := 0
	for c := 0; c < channels; c++ {
		plane := src[c*h*w : (c+1)*h*w]
		for ky := 0; ky < size; ky++ {
			for kx := 0; kx < size; kx++ {
				for oy := 0; oy < hOut; oy++ {
					y := oy*stride + ky - pad
					for ox := 0; ox < wOut; ox++ {
						x := ox*stride + kx - pad
						if y >= 0 && y < h && x >= 0 && x < w {
							dst[col] = plane[y*w+x]
						} else {
							dst[col] = 0
						}
						col++
					}
				}
			}
		}
	}
}

// Col2im accumulates the unrolled gradient matrix back into image layout,
// the reverse of Im2col. dst must be zeroed by the caller.
func Col2im(src []float32, channels, h, w, size, stride, pad int, dst []float32) {
	hOut, wOut := ConvDims(h, w, size, stride, pad)
	col := 0
	for c := 0; c < channels; c++ {
		plane := dst[c*h*w : (c+1)*h*w]
		for ky := 0; ky < size; ky++ {
			for kx := 0; kx < size; kx++ {
				for oy := 0; oy < hOut; oy++ {
					y := oy*stride + ky - pad
					for ox := 0; ox < wOut; ox++ {
						x := ox*stride + kx - pad
						if y >= 0 && y < h && x >= 0 && x < w {
							plane[y*w+x] += src[col]
						}
						col++
					}
				}
			}
		}
	}
}

// MaxPool applies max pooling to one batch element and records the index of
// the winning input in argmax for use by the backward pass.
func MaxPool(src []float32, channels, h, w, size, stride int, dst []float32, argmax []int32) {
	hOut, wOut := ConvDims(h, w, size, stride, 0)
	out := 0
	for c := 0; c < channels; c++ {
		plane := src[c*h*w : (c+1)*h*w]
		for oy := 0; oy < hOut; oy++ {
			for ox := 0; ox < wOut; ox++ {
				best := -1
				bestVal := float32(0)
				for ky := 0; ky < size; ky++ {
					y := oy*stride + ky
					if y >= h {
						continue
					}
					for kx := 0; kx < size; kx++ {
						x := ox*stride + kx
						if x >= w {
							continue
						}
						if v := plane[y*w+x]; best < 0 || v > bestVal {
							best, bestVal = y*w+x, v
						}
					}
				}
				dst[out] = bestVal
				argmax[out] = int32(c*h*w + best)
				out++
			}
		}
	}
}

// MaxPoolD scatters the output gradient back to the argmax positions.
// dst must be zeroed by the caller.
func MaxPoolD(grad []float32, argmax []int32, dst []float32) {
	for i, ix := range argmax {
		dst[ix] += grad[i]
	}
}

// AvgPool applies average pooling to one batch element.
func AvgPool(src []float32, channels, h, w, size, stride int, dst []float32) {
	hOut, wOut := ConvDims(h, w, size, stride, 0)
	out := 0
	for c := 0; c < channels; c++ {
		plane := src[c*h*w : (c+1)*h*w]
		for oy := 0; oy < hOut; oy++ {
			for ox := 0; ox < wOut; ox++ {
				var sum float32
				n := 0
				for ky := 0; ky < size; ky++ {
					y := oy*stride + ky
					if y >= h {
						continue
					}
					for kx := 0; kx < size; kx++ {
						x := ox*stride + kx
						if x >= w {
							continue
						}
						sum += plane[y*w+x]
						n++
					}
				}
				dst[out] = sum / float32(n)
				out++
			}
		}
	}
}

// AvgPoolD spreads the output gradient evenly over each pooling window.
// dst must be zeroed by the caller.
func AvgPoolD(grad []float32, channels, h, w, size, stride int, dst []float32) {
	hOut, wOut := ConvDims(h, w, size, stride, 0)
	out := 0
	for c := 0; c < channels; c++ {
		plane := dst[c*h*w : (c+1)*h*w]
		for oy := 0; oy < hOut; oy++ {
			for ox := 0; ox < wOut; ox++ {
				n := 0
				for ky := 0; ky < size; ky++ {
					if oy*stride+ky < h {
						for kx := 0; kx < size; kx++ {
							if ox*stride+kx < w {
								n++
							}
						}
					}
				}
				g := grad[out] / float32(n)
				for ky := 0; ky < size; ky++ {
					y := oy*stride + ky
					if y >= h {
						continue
					}
					for kx := 0; kx < size; kx++ {
						x := ox*stride + kx
						if x >= w {
							continue
						}
						plane[y*w+x] += g
					}
				}
				out++
			}
		}
	}
}
