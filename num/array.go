package num

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Parameters for matrix printing
var (
	PrintThreshold = 12
	PrintEdgeitems = 4
)

// Format returns a compact string representation of a matrix or vector,
// eliding the middle rows and columns of large arrays.
func Format(m mat.Matrix) string {
	if v, ok := m.(mat.Vector); ok {
		return formatRow(v.Len(), v.AtVec) + "\n"
	}
	rows, cols := m.Dims()
	var s string
	for i := 0; i < rows; i++ {
		pre, post := " ", "\n"
		if i == 0 {
			pre = "["
		}
		if i == rows-1 {
			post = "]\n"
		}
		if rows > PrintThreshold+1 && i == PrintEdgeitems {
			s += pre + "   ...  ...   " + post
			i = rows - PrintEdgeitems - 1
			continue
		}
		row := i
		s += pre + formatRow(cols, func(j int) float64 { return m.At(row, j) }) + post
	}
	return s
}

func formatRow(n int, at func(int) float64) string {
	s := "["
	for i := 0; i < n; i++ {
		if n > PrintThreshold+1 && i == PrintEdgeitems {
			s += "    ... "
			i = n - PrintEdgeitems - 1
			continue
		}
		val := at(i)
		if abs(val) < 1 {
			val = float64(int(10000*val+0.5)) / 10000
		}
		s += fmt.Sprintf("%7.5g ", val)
	}
	return s + "]"
}

func abs(x float64) float64 {
	if x >= 0 {
		return x
	}
	return -x
}

// Prod returns the product of the elements of an integer array. Zero dimension array (scalar) has size 1.
func Prod(arr []int) int {
	prod := 1
	for _, v := range arr {
		prod *= v
	}
	return prod
}

// SameShape checks if two matrices have the same dimensions.
func SameShape(a, b mat.Matrix) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	return ar == br && ac == bc
}

// Clone returns a deep copy of a matrix.
func Clone(m mat.Matrix) *mat.Dense {
	return mat.DenseCopyOf(m)
}
