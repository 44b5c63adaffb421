package img

import (
	"math/rand"
)

// Transform converts a source image into a fixed size network input.
// OutShape reports the [channels, height, width] a transform produces, with
// zero height and width meaning the spatial size passes through unchanged.
type Transform interface {
	Apply(src *Image, rng *rand.Rand) *Image
	OutShape(channels int) []int
}

// Compose chains transforms left to right.
type Compose []Transform

func (c Compose) Apply(src *Image, rng *rand.Rand) *Image {
	for _, t := range c {
		src = t.Apply(src, rng)
	}
	return src
}

func (c Compose) OutShape(channels int) []int {
	shape := []int{channels, 0, 0}
	for _, t := range c {
		if s := t.OutShape(shape[0]); s[1] > 0 {
			shape = s
		} else {
			shape[0] = s[0]
		}
	}
	return shape
}

// TrainTransforms is the standard augmentation stack: resize with a margin,
// random crop to the target size, random horizontal flip then normalisation.
func TrainTransforms(height, width int, mean, std []float32) Compose {
	return Compose{
		Resize{Height: height + height/8, Width: width + width/8},
		RandomCrop{Height: height, Width: width},
		HorizFlip{Prob: 0.5},
		Normalize{Mean: mean, Std: std},
	}
}

// ValTransforms resizes then takes a deterministic center crop.
func ValTransforms(height, width int, mean, std []float32) Compose {
	return Compose{
		Resize{Height: height + height/8, Width: width + width/8},
		CenterCrop{Height: height, Width: width},
		Normalize{Mean: mean, Std: std},
	}
}

// Resize scales the image to a fixed size using bilinear interpolation.
type Resize struct {
	Height, Width int
}

func (t Resize) OutShape(channels int) []int { return []int{channels, t.Height, t.Width} }

func (t Resize) Apply(src *Image, rng *rand.Rand) *Image {
	if src.Height == t.Height && src.Width == t.Width {
		return src
	}
	dst := NewImage(src.Channels, t.Height, t.Width)
	sy := float32(src.Height) / float32(t.Height)
	sx := float32(src.Width) / float32(t.Width)
	for ch := 0; ch < src.Channels; ch++ {
		plane := dst.Plane(ch)
		for y := 0; y < t.Height; y++ {
			fy := (float32(y)+0.5)*sy - 0.5
			y0 := int(fy)
			if fy < 0 {
				fy, y0 = 0, 0
			}
			wy := fy - float32(y0)
			for x := 0; x < t.Width; x++ {
				fx := (float32(x)+0.5)*sx - 0.5
				x0 := int(fx)
				if fx < 0 {
					fx, x0 = 0, 0
				}
				wx := fx - float32(x0)
				v := src.At(ch, y0, x0)*(1-wy)*(1-wx) +
					src.At(ch, y0, x0+1)*(1-wy)*wx +
					src.At(ch, y0+1, x0)*wy*(1-wx) +
					src.At(ch, y0+1, x0+1)*wy*wx
				plane[y*t.Width+x] = v
			}
		}
	}
	return dst
}

// RandomCrop takes a crop at a random offset, used for training.
type RandomCrop struct {
	Height, Width int
}

func (t RandomCrop) OutShape(channels int) []int { return []int{channels, t.Height, t.Width} }

func (t RandomCrop) Apply(src *Image, rng *rand.Rand) *Image {
	oy, ox := 0, 0
	if src.Height > t.Height {
		oy = rng.Intn(src.Height - t.Height + 1)
	}
	if src.Width > t.Width {
		ox = rng.Intn(src.Width - t.Width + 1)
	}
	return crop(src, oy, ox, t.Height, t.Width)
}

// CenterCrop takes a centered crop, used for evaluation.
type CenterCrop struct {
	Height, Width int
}

func (t CenterCrop) OutShape(channels int) []int { return []int{channels, t.Height, t.Width} }

func (t CenterCrop) Apply(src *Image, rng *rand.Rand) *Image {
	return crop(src, (src.Height-t.Height)/2, (src.Width-t.Width)/2, t.Height, t.Width)
}

func crop(src *Image, oy, ox, height, width int) *Image {
	if oy == 0 && ox == 0 && src.Height == height && src.Width == width {
		return src
	}
	dst := NewImage(src.Channels, height, width)
	for ch := 0; ch < src.Channels; ch++ {
		plane := dst.Plane(ch)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				plane[y*width+x] = src.At(ch, y+oy, x+ox)
			}
		}
	}
	return dst
}

// HorizFlip mirrors the image left to right with the given probability.
type HorizFlip struct {
	Prob float64
}

func (t HorizFlip) OutShape(channels int) []int { return []int{channels, 0, 0} }

func (t HorizFlip) Apply(src *Image, rng *rand.Rand) *Image {
	if rng.Float64() >= t.Prob {
		return src
	}
	dst := NewImage(src.Channels, src.Height, src.Width)
	for ch := 0; ch < src.Channels; ch++ {
		plane := dst.Plane(ch)
		for y := 0; y < src.Height; y++ {
			for x := 0; x < src.Width; x++ {
				plane[y*src.Width+x] = src.At(ch, y, src.Width-x-1)
			}
		}
	}
	return dst
}

// Normalize shifts and scales each channel by a fixed mean and stddev.
type Normalize struct {
	Mean, Std []float32
}

func (t Normalize) OutShape(channels int) []int { return []int{channels, 0, 0} }

func (t Normalize) Apply(src *Image, rng *rand.Rand) *Image {
	dst := NewImage(src.Channels, src.Height, src.Width)
	for ch := 0; ch < src.Channels; ch++ {
		mean, std := float32(0), float32(1)
		if ch < len(t.Mean) {
			mean = t.Mean[ch]
		}
		if ch < len(t.Std) && t.Std[ch] != 0 {
			std = t.Std[ch]
		}
		plane := dst.Plane(ch)
		for i, v := range src.Plane(ch) {
			plane[i] = (v - mean) / std
		}
	}
	return dst
}
