// Package img contains routines for viewing samples as gray scale images.
package img

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
)

// GrayModel converts any color to Gray.
var GrayModel = color.ModelFunc(grayModel)

// Gray color stored as a float in range 0-1
type Gray struct {
	Y float64
}

func (c Gray) RGBA() (r, g, b, a uint32) {
	y := clampu(c.Y, 0, 1)
	return y, y, y, 0xffff
}

func grayModel(c color.Color) color.Color {
	if _, ok := c.(Gray); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return Gray{Y: 0.299*float64(r)/0xffff + 0.587*float64(g)/0xffff + 0.114*float64(b)/0xffff}
}

// GrayImage type stores the image data as float64 values in row major order, i.e. the same
// layout as a flattened sample.
type GrayImage struct {
	Pix    []float64
	Height int
	Width  int
}

// NewGray returns a new blank image.
func NewGray(width, height int) *GrayImage {
	return &GrayImage{Pix: make([]float64, height*width), Height: height, Width: width}
}

// FromSample returns an image which shares the pixel data with the sample.
func FromSample(pix []float64, width, height int) *GrayImage {
	if len(pix) != width*height {
		panic("FromSample: invalid sample size")
	}
	return &GrayImage{Pix: pix, Height: height, Width: width}
}

func (m *GrayImage) ColorModel() color.Model {
	return GrayModel
}

func (m *GrayImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *GrayImage) GrayAt(x, y int) Gray {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return Gray{}
	}
	return Gray{Y: m.Pix[x+y*m.Width]}
}

func (m *GrayImage) At(x, y int) color.Color {
	return m.GrayAt(x, y)
}

func (m *GrayImage) Set(x, y int, c color.Color) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	m.Pix[x+y*m.Width] = grayModel(c).(Gray).Y
}

// Invert returns a copy of the image with black and white swapped, i.e. dark digits on a light background.
func Invert(src *GrayImage) *GrayImage {
	dst := NewGray(src.Width, src.Height)
	for i, pix := range src.Pix {
		dst.Pix[i] = 1 - pix
	}
	return dst
}

// WritePNG encodes the image in PNG format.
func WritePNG(w io.Writer, m image.Image) error {
	return png.Encode(w, m)
}

// SavePNG writes the image to a PNG file.
func SavePNG(filePath string, m image.Image) error {
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	if err = WritePNG(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func clampu(x, x0, x1 float64) uint32 {
	return uint32(clamp(x, x0, x1) * 0xffff)
}

func clamp(x, x0, x1 float64) float64 {
	switch {
	case x < x0:
		return x0
	case x > x1:
		return x1
	default:
		return x
	}
}

// Scale returns a copy of the image enlarged by an integer factor using nearest neighbour interpolation.
func Scale(src *GrayImage, factor int) *GrayImage {
	if factor <= 1 {
		return src
	}
	dst := NewGray(src.Width*factor, src.Height*factor)
	for y := 0; y < dst.Height; y++ {
		for x := 0; x < dst.Width; x++ {
			dst.Pix[x+y*dst.Width] = src.Pix[x/factor+(y/factor)*src.Width]
		}
	}
	return dst
}
