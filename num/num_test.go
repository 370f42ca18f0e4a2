package num

import (
	"math"
	"math/rand/v2"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/mat"
)

const eps = 1e-12

func TestSigmoid(t *testing.T) {
	x := mat.NewDense(2, 3, []float64{0, 1, -1, 800, -800, 2})
	var y mat.Dense
	Sigmoid(&y, x)
	t.Logf("sigmoid\n%s", Format(&y))
	expect := []float64{0.5, 1 / (1 + math.Exp(-1)), 1 / (1 + math.Exp(1)), 1, 0, 1 / (1 + math.Exp(-2))}
	for i, v := range y.RawMatrix().Data {
		if math.Abs(v-expect[i]) > eps {
			t.Errorf("element %d: got %g expect %g", i, v, expect[i])
		}
	}
	if !InRange(&y, 0, 1) {
		t.Error("sigmoid output outside [0,1]")
	}
	// in place
	Sigmoid(x, x)
	if !mat.EqualApprox(x, &y, eps) {
		t.Error("in place sigmoid mismatch")
	}
}

func TestSoftplus(t *testing.T) {
	for _, x := range []float64{-50, -3, -0.5, 0, 0.5, 3, 30} {
		expect := math.Log(1 + math.Exp(x))
		if got := Softplus(x); math.Abs(got-expect) > 1e-9 {
			t.Errorf("softplus(%g): got %g expect %g", x, got, expect)
		}
	}
	if got := Softplus(1000); got != 1000 {
		t.Error("softplus(1000) overflow: got", got)
	}
	if got := SoftplusSum([]float64{0, 0}); math.Abs(got-2*math.Ln2) > eps {
		t.Error("softplus sum: got", got)
	}
}

func TestAddRowVec(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 1, 1, 2, 2, 2})
	AddRowVec(m, 2, mat.NewVecDense(3, []float64{3, 2, 1}))
	expect := []float64{7, 5, 3, 8, 6, 4}
	if res := m.RawMatrix().Data; !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

func TestColMean(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 3, 5, 2, 4, 6})
	var mean mat.VecDense
	ColMean(&mean, m)
	expect := []float64{1.5, 3.5, 5.5}
	if res := mean.RawVector().Data; !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
	if sums := RowSums(m); !reflect.DeepEqual(sums, []float64{9, 12}) {
		t.Error("row sums: got", sums)
	}
}

func TestMaxNorm(t *testing.T) {
	w := mat.NewDense(2, 3, []float64{3, 0.1, 0, 4, 0.1, 0})
	MaxNorm(w, 1)
	t.Logf("projected\n%s", Format(w))
	norms := ColNorms(w)
	for j, norm := range norms {
		if norm > 1+1e-12 {
			t.Errorf("column %d norm %g > 1", j, norm)
		}
	}
	if math.Abs(w.At(0, 0)-0.6) > eps || math.Abs(w.At(1, 0)-0.8) > eps {
		t.Error("column 0 not rescaled correctly:", w.At(0, 0), w.At(1, 0))
	}
	if w.At(0, 1) != 0.1 || w.At(1, 1) != 0.1 {
		t.Error("column 1 should be unchanged")
	}
	// disabled
	w2 := mat.NewDense(1, 1, []float64{10})
	MaxNorm(w2, 0)
	MaxNorm(w2, math.Inf(1))
	if w2.At(0, 0) != 10 {
		t.Error("max norm <= 0 should be a no-op")
	}
}

func TestBernoulli(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1))
	n := 2000
	p := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		p.SetRow(i, []float64{0, 0.3, 1})
	}
	var s mat.Dense
	Bernoulli(&s, p, rng)
	if !Binary(&s) {
		t.Fatal("sample is not binary")
	}
	var mean mat.VecDense
	ColMean(&mean, &s)
	t.Logf("mean %s", Format(&mean))
	if mean.AtVec(0) != 0 || mean.AtVec(2) != 1 {
		t.Error("deterministic probabilities not respected:", mean.AtVec(0), mean.AtVec(2))
	}
	if math.Abs(mean.AtVec(1)-0.3) > 0.05 {
		t.Error("sample rate too far from 0.3:", mean.AtVec(1))
	}
}

func TestFinite(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{0, 1, 2, 3})
	if _, _, ok := Finite(m); !ok {
		t.Error("expected finite")
	}
	m.Set(1, 0, math.NaN())
	if i, j, ok := Finite(m); ok || i != 1 || j != 0 {
		t.Error("expected NaN at [1,0], got", i, j, ok)
	}
	m.Set(1, 0, math.Inf(-1))
	if _, _, ok := Finite(m); ok {
		t.Error("expected Inf to be detected")
	}
}

func TestLogSumExp(t *testing.T) {
	x := []float64{1000, 1000}
	if got := LogSumExp(x); math.Abs(got-(1000+math.Ln2)) > 1e-9 {
		t.Error("logsumexp: got", got)
	}
	if got := LogMeanExp(x); math.Abs(got-1000) > 1e-9 {
		t.Error("logmeanexp: got", got)
	}
}

func TestFormat(t *testing.T) {
	m := mat.NewDense(20, 20, nil)
	s := Format(m)
	t.Logf("\n%s", s)
	if len(s) == 0 {
		t.Error("empty format")
	}
}

func BenchmarkBernoulli(b *testing.B) {
	size := 100
	rng := rand.New(rand.NewPCG(1, 2))
	p := mat.NewDense(size, size, nil)
	Normal(p, 1, rng)
	Sigmoid(p, p)
	s := mat.NewDense(size, size, nil)
	for i := 0; i < b.N; i++ {
		Bernoulli(s, p, rng)
	}
}
