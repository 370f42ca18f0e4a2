// Package num contains numeric matrix routines used by the Boltzmann machine models,
// such as sigmoid activation, Bernoulli sampling and weight norm projection.
package num

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Sigmoid activation function: dst <- 1/(1+e**(-src)), element wise.
// dst may be empty in which case it is allocated, or the same matrix as src.
func Sigmoid(dst *mat.Dense, src mat.Matrix) {
	dst.Apply(func(i, j int, x float64) float64 { return sigmoid(x) }, src)
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Softplus returns log(1+e**x) without overflow for large x.
func Softplus(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

// SoftplusSum returns the sum of Softplus over the elements of x.
func SoftplusSum(x []float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += Softplus(v)
	}
	return sum
}

// Bernoulli sets dst to a binary sample where each element is 1 with the probability
// given by the corresponding element of probs.
func Bernoulli(dst *mat.Dense, probs mat.Matrix, rng *rand.Rand) {
	dst.Apply(func(i, j int, p float64) float64 {
		if rng.Float64() < p {
			return 1
		}
		return 0
	}, probs)
}

// AddRowVec adds alpha*v to every row of m, v is tiled row wise.
func AddRowVec(m *mat.Dense, alpha float64, v mat.Vector) {
	rows, cols := m.Dims()
	if v.Len() != cols {
		panic(fmt.Sprintf("AddRowVec: vector length %d, matrix has %d columns", v.Len(), cols))
	}
	b := make([]float64, cols)
	for j := range b {
		b[j] = v.AtVec(j)
	}
	for i := 0; i < rows; i++ {
		floats.AddScaled(m.RawRowView(i), alpha, b)
	}
}

// ColMean sets dst to the mean of each column of m.
func ColMean(dst *mat.VecDense, m mat.Matrix) {
	rows, _ := m.Dims()
	ones := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		ones.SetVec(i, 1)
	}
	dst.MulVec(m.T(), ones)
	dst.ScaleVec(1/float64(rows), dst)
}

// RowSums returns the sum of the elements in each row of m.
func RowSums(m mat.Matrix) []float64 {
	rows, cols := m.Dims()
	sums := make([]float64, rows)
	for i := range sums {
		for j := 0; j < cols; j++ {
			sums[i] += m.At(i, j)
		}
	}
	return sums
}

// ColNorms returns the L2 norm of each column of m.
func ColNorms(m mat.Matrix) []float64 {
	_, cols := m.Dims()
	norms := make([]float64, cols)
	var col []float64
	for j := range norms {
		col = mat.Col(col, j, m)
		norms[j] = floats.Norm(col, 2)
	}
	return norms
}

// MaxNorm rescales each column of w so that its L2 norm is at most maxNorm.
// A maxNorm <= 0 disables the constraint.
func MaxNorm(w *mat.Dense, maxNorm float64) {
	if maxNorm <= 0 || math.IsInf(maxNorm, 1) {
		return
	}
	rows, _ := w.Dims()
	for j, norm := range ColNorms(w) {
		if norm > maxNorm {
			scale := maxNorm / norm
			for i := 0; i < rows; i++ {
				w.Set(i, j, w.At(i, j)*scale)
			}
		}
	}
}

// Finite checks that all elements of m are neither NaN nor Inf.
// If not it returns the index of the first bad element.
func Finite(m mat.Matrix) (row, col int, ok bool) {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			x := m.At(i, j)
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return i, j, false
			}
		}
	}
	return -1, -1, true
}

// Binary checks that every element of m is 0 or 1.
func Binary(m mat.Matrix) bool {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if x := m.At(i, j); x != 0 && x != 1 {
				return false
			}
		}
	}
	return true
}

// InRange checks that every element of m is within [lo, hi].
func InRange(m mat.Matrix, lo, hi float64) bool {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if x := m.At(i, j); !(x >= lo && x <= hi) {
				return false
			}
		}
	}
	return true
}

// MaxAbsDiff returns max |a - b| over all elements.
func MaxAbsDiff(a, b mat.Matrix) float64 {
	rows, cols := a.Dims()
	max := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if d := math.Abs(a.At(i, j) - b.At(i, j)); d > max {
				max = d
			}
		}
	}
	return max
}

// LogSumExp returns log(sum(exp(x))) computed in a numerically stable way.
func LogSumExp(x []float64) float64 {
	return floats.LogSumExp(x)
}

// LogMeanExp returns log(mean(exp(x))).
func LogMeanExp(x []float64) float64 {
	return floats.LogSumExp(x) - math.Log(float64(len(x)))
}

// Normal fills m with samples from a normal distribution with the given stddev.
func Normal(m *mat.Dense, stddev float64, rng *rand.Rand) {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, rng.NormFloat64()*stddev)
		}
	}
}

// Fill returns a new vector of length n with all elements set to x.
func Fill(n int, x float64) *mat.VecDense {
	v := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetVec(i, x)
	}
	return v
}
