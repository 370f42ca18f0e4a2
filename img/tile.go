package img

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Border is the gap in pixels between tiles.
var Border = 1

// Tile arranges the first rows*cols samples, one per row of X, into a grid of width x height
// images. Missing samples are left blank and the border is set to Background.
func Tile(X mat.Matrix, rows, cols, width, height int) (*GrayImage, error) {
	n, features := X.Dims()
	if features != width*height {
		return nil, fmt.Errorf("tile: samples have %d features, expecting %dx%d", features, width, height)
	}
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("tile: invalid grid %dx%d", rows, cols)
	}
	dst := NewGray(cols*(width+Border)+Border, rows*(height+Border)+Border)
	for i := range dst.Pix {
		dst.Pix[i] = Background
	}
	for k := 0; k < rows*cols && k < n; k++ {
		x0 := Border + (k%cols)*(width+Border)
		y0 := Border + (k/cols)*(height+Border)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				dst.Pix[x0+x+(y0+y)*dst.Width] = X.At(k, x+y*width)
			}
		}
	}
	return dst, nil
}

// Background is the gray level used for borders between tiles.
var Background = 0.5
