package img

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func printImage(m *GrayImage) string {
	s := make([]string, m.Height)
	for y := range s {
		s[y] = fmt.Sprintf("%4.1f", m.Pix[y*m.Width:(y+1)*m.Width])
	}
	return strings.Join(s, "\n")
}

func TestTile(t *testing.T) {
	X := mat.NewDense(3, 4, []float64{
		1, 0, 0, 1,
		0, 1, 1, 0,
		1, 1, 1, 1,
	})
	m, err := Tile(X, 2, 2, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("\n%s", printImage(m))
	if m.Width != 7 || m.Height != 7 {
		t.Fatalf("size %dx%d", m.Width, m.Height)
	}
	for _, test := range []struct {
		x, y   int
		expect float64
	}{{0, 0, Background}, {1, 1, 1}, {2, 1, 0}, {2, 2, 1}, {4, 1, 0}, {5, 1, 1}, {1, 4, 1}, {4, 4, Background}} {
		if got := m.GrayAt(test.x, test.y).Y; got != test.expect {
			t.Errorf("pixel %d,%d: got %g expect %g", test.x, test.y, got, test.expect)
		}
	}
	if _, err := Tile(X, 2, 2, 3, 2); err == nil {
		t.Error("expecting error for wrong sample size")
	}
}

func TestPNG(t *testing.T) {
	m := NewGray(3, 2)
	m.Set(1, 0, color.White)
	m.Set(2, 1, Gray{Y: 2})
	var buf bytes.Buffer
	if err := WritePNG(&buf, Invert(m)); err != nil {
		t.Fatal(err)
	}
	dec, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Bounds().Dx() != 3 || dec.Bounds().Dy() != 2 {
		t.Error("bounds", dec.Bounds())
	}
	if r, _, _, _ := dec.At(0, 0).RGBA(); r != 0xffff {
		t.Error("expecting white background, got", r)
	}
	if r, _, _, _ := dec.At(1, 0).RGBA(); r != 0 {
		t.Error("expecting black pixel, got", r)
	}
}
