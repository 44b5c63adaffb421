// Package img contains routines for manipulating sets of images.
package img

import (
	"image"
	"image/color"
)

// Image stores pixel data as float32 values in range 0-1, one plane per
// channel in [channel, row, col] order to match the network input layout.
type Image struct {
	Pix      []float32
	Channels int
	Height   int
	Width    int
}

// NewImage allocates a zeroed image.
func NewImage(channels, height, width int) *Image {
	return &Image{
		Pix:      make([]float32, channels*height*width),
		Channels: channels, Height: height, Width: width,
	}
}

// FromImage converts a decoded stdlib image. A single channel source gives a
// gray image, anything else an RGB image.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if _, ok := src.(*image.Gray); ok {
		m := NewImage(1, h, w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g, _, _, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
				m.Pix[y*w+x] = float32(g) / 0xffff
			}
		}
		return m
	}
	m := NewImage(3, h, w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			m.Pix[y*w+x] = float32(r) / 0xffff
			m.Pix[plane+y*w+x] = float32(g) / 0xffff
			m.Pix[2*plane+y*w+x] = float32(bl) / 0xffff
		}
	}
	return m
}

// Plane returns the pixel data for one channel.
func (m *Image) Plane(ch int) []float32 {
	n := m.Height * m.Width
	return m.Pix[ch*n : (ch+1)*n]
}

// At returns the value of one pixel in one channel, clamped at the border.
func (m *Image) At(ch, y, x int) float32 {
	if y < 0 {
		y = 0
	} else if y >= m.Height {
		y = m.Height - 1
	}
	if x < 0 {
		x = 0
	} else if x >= m.Width {
		x = m.Width - 1
	}
	return m.Pix[ch*m.Height*m.Width+y*m.Width+x]
}

// Shape returns channels, height, width.
func (m *Image) Shape() []int { return []int{m.Channels, m.Height, m.Width} }

// ToImage converts back to a stdlib image for display.
func (m *Image) ToImage() image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			var r, g, b float32
			if m.Channels == 1 {
				r = m.At(0, y, x)
				g, b = r, r
			} else {
				r, g, b = m.At(0, y, x), m.At(1, y, x), m.At(2, y, x)
			}
			dst.Set(x, y, color.RGBA{R: clamp8(r), G: clamp8(g), B: clamp8(b), A: 0xff})
		}
	}
	return dst
}

func clamp8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
