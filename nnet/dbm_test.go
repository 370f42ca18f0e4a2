package nnet

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/finderp/boltzmann-machines/num"
	"gonum.org/v1/gonum/mat"
)

func testRBMs(t *testing.T, sizes [3]int, wInit float64, seed int64) [2]*RBM {
	t.Helper()
	rng := rand.New(rand.NewPCG(uint64(seed), 0))
	var rbms [2]*RBM
	for i := range rbms {
		conf := DefaultRBMConfig(sizes[i], sizes[i+1])
		conf.RandSeed = seed + int64(i)
		conf.WInit = wInit
		r, err := NewRBM(conf)
		if err != nil {
			t.Fatal(err)
		}
		for _, b := range []*mat.VecDense{r.Vb, r.Hb} {
			for j := 0; j < b.Len(); j++ {
				b.SetVec(j, rng.NormFloat64())
			}
		}
		rbms[i] = r
	}
	return rbms
}

func testDBM(t *testing.T, sizes [3]int, wInit float64, conf DBMConfig) *DBM {
	t.Helper()
	d, err := NewDBM(testRBMs(t, sizes, wInit, conf.RandSeed), conf)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestNewDBM(t *testing.T) {
	rbms := testRBMs(t, [3]int{6, 5, 7}, 0.1, 1)
	conf := DefaultDBMConfig()
	d, err := NewDBM(rbms, conf)
	if err != nil {
		t.Fatal(err)
	}
	for j := 0; j < 5; j++ {
		expect := (rbms[0].Hb.AtVec(j) + rbms[1].Vb.AtVec(j)) / 2
		if math.Abs(d.B[1].AtVec(j)-expect) > eps {
			t.Errorf("shared bias %d: got %g expect %g", j, d.B[1].AtVec(j), expect)
		}
	}
	if !mat.Equal(d.W[0], rbms[0].W) || !mat.Equal(d.W[1], rbms[1].W) {
		t.Error("weights not copied")
	}
	d.W[0].Set(0, 0, 100)
	if rbms[0].W.At(0, 0) == 100 {
		t.Error("DBM shares weights with RBM")
	}
	bad := testRBMs(t, [3]int{6, 5, 7}, 0.1, 2)
	bad[1], _ = NewRBM(DefaultRBMConfig(4, 7))
	if _, err := NewDBM(bad, conf); !errors.Is(err, ErrShape) {
		t.Error("expecting ErrShape, got", err)
	}
}

func TestMeanFieldZeroVisible(t *testing.T) {
	conf := DefaultDBMConfig()
	conf.RandSeed = 3
	conf.MaxMFUpdates = 100
	conf.MFTol = 1e-8
	d := testDBM(t, [3]int{6, 5, 7}, 1e-4, conf)
	mu, info := d.MeanField(mat.NewDense(3, 6, nil))
	t.Logf("mean field: %d iterations, converged=%v", info.Iters, info.Converged)
	if !info.Converged {
		t.Error("mean field did not converge")
	}
	for l := range mu {
		var expect mat.Dense
		expect.Apply(func(i, j int, x float64) float64 { return d.B[l+1].AtVec(j) }, mu[l])
		num.Sigmoid(&expect, &expect)
		if diff := num.MaxAbsDiff(mu[l], &expect); diff > 1e-3 {
			t.Errorf("layer %d: max diff from sigmoid(bias) = %g", l+1, diff)
		}
	}
}

func TestMeanFieldMonotone(t *testing.T) {
	conf := DefaultDBMConfig()
	conf.RandSeed = 4
	conf.MaxMFUpdates = 50
	conf.MFTol = 1e-12
	d := testDBM(t, [3]int{6, 5, 7}, 0.1, conf)
	V := randBinary(8, 6, 0.5, rand.New(rand.NewPCG(8, 9)))
	_, info := d.MeanField(V)
	t.Logf("deltas: %.3g", info.Deltas)
	if len(info.Deltas) < 3 {
		t.Fatalf("only %d iterations", len(info.Deltas))
	}
	for i := 1; i < len(info.Deltas); i++ {
		if info.Deltas[i] > info.Deltas[i-1]+1e-15 {
			t.Errorf("delta increased at iteration %d: %g > %g", i, info.Deltas[i], info.Deltas[i-1])
		}
	}
}

func TestMeanFieldCap(t *testing.T) {
	conf := DefaultDBMConfig()
	conf.RandSeed = 5
	conf.MaxMFUpdates = 2
	conf.MFTol = 0
	d := testDBM(t, [3]int{6, 5, 7}, 1, conf)
	mu, info := d.MeanField(randBinary(4, 6, 0.5, rand.New(rand.NewPCG(1, 1))))
	if info.Converged || info.Iters != 2 || len(info.Deltas) != 2 {
		t.Errorf("got %+v", info)
	}
	for _, m := range mu {
		if !num.InRange(m, 0, 1) {
			t.Error("mean field output outside [0,1]")
		}
	}
}

func smallDBMConfig(seed int64) DBMConfig {
	conf := DefaultDBMConfig()
	conf.RandSeed = seed
	conf.NParticles = 10
	conf.NGibbsSteps = 2
	conf.BatchSize = 10
	conf.MaxEpoch = 2
	conf.LearningRate = Const(0.01)
	conf.MaxNorm = 2
	conf.SparsityCosts = [2]float64{1e-3, 1e-3}
	conf.AISChains = 20
	conf.TrainMetricsEvery = 2
	return conf
}

func TestDBMFit(t *testing.T) {
	conf := smallDBMConfig(6)
	d := testDBM(t, [3]int{8, 5, 4}, 0.1, conf)
	rng := rand.New(rand.NewPCG(6, 7))
	X, Xval := randBinary(40, 8, 0.3, rng), randBinary(10, 8, 0.3, rng)
	if err := d.InitParticles(X, randUniform(10, 5, rng), randUniform(10, 4, rng)); err != nil {
		t.Fatal(err)
	}
	hist := NewHistory()
	if err := d.Fit(context.Background(), X, Xval, hist); err != nil {
		t.Fatal(err)
	}
	for _, s := range hist.Stats {
		t.Log(s)
	}
	if len(hist.Stats) != 2 || d.Epoch != 2 || d.Iter != 8 {
		t.Errorf("got %d epochs, position %d/%d", len(hist.Stats), d.Epoch, d.Iter)
	}
	if s, _ := hist.Last(); math.IsNaN(s.Get("val msre")) || math.IsNaN(s.Get("msre")) {
		t.Error("missing metrics", s)
	}
	for i, p := range d.Particles {
		if !num.Binary(p) {
			t.Errorf("particles for layer %d not binary", i)
		}
	}
	for i, w := range d.W {
		for j, norm := range num.ColNorms(w) {
			if norm > conf.MaxNorm+1e-12 {
				t.Errorf("W%d column %d norm %g", i+1, j, norm)
			}
		}
	}
	for _, n := range []int{0, 1, 5} {
		v := d.SampleV(n)
		if rows, cols := v.Dims(); rows != conf.NParticles || cols != 8 || !num.Binary(v) {
			t.Errorf("sample shape %dx%d binary=%v", rows, cols, num.Binary(v))
		}
		for i, p := range d.Particles {
			if !num.Binary(p) {
				t.Errorf("particles for layer %d not binary after %d sweeps", i, n)
			}
		}
	}
	h, err := Extract(d, X, 7)
	if err != nil {
		t.Fatal(err)
	}
	if _, cols := h.Dims(); cols != 4 {
		t.Error("transform output has", cols, "columns")
	}
}

func TestDBMCancel(t *testing.T) {
	conf := smallDBMConfig(7)
	d := testDBM(t, [3]int{8, 5, 4}, 0.1, conf)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Fit(ctx, randBinary(20, 8, 0.5, rand.New(rand.NewPCG(1, 2))), nil, NewHistory())
	if !errors.Is(err, context.Canceled) || d.Epoch != 0 {
		t.Error("expecting context.Canceled, got", err)
	}
	err = d.Fit(context.Background(), mat.NewDense(15, 8, nil), nil, NewHistory())
	if !errors.Is(err, ErrBatchSize) {
		t.Error("expecting ErrBatchSize, got", err)
	}
}

func TestDBMResume(t *testing.T) {
	conf := smallDBMConfig(8)
	conf.MaxEpoch = 1
	conf.ModelPath = filepath.Join(t.TempDir(), "dbm.gob")
	d := testDBM(t, [3]int{8, 5, 4}, 0.1, conf)
	X := randBinary(30, 8, 0.4, rand.New(rand.NewPCG(3, 3)))
	if err := d.Fit(context.Background(), X, nil, NewHistory()); err != nil {
		t.Fatal(err)
	}
	d2, err := LoadDBM(conf.ModelPath)
	if err != nil {
		t.Fatal(err)
	}
	h1, _ := d.Transform(X)
	h2, _ := d2.Transform(X)
	if !mat.EqualApprox(h1, h2, 1e-15) {
		t.Error("transform differs after reload")
	}
	for _, m := range []*DBM{d, d2} {
		m.MaxEpoch = 3
		m.ModelPath = ""
		if err := m.Fit(context.Background(), X, nil, NewHistory()); err != nil {
			t.Fatal(err)
		}
	}
	if !mat.Equal(d.W[1], d2.W[1]) {
		t.Error("weights differ after resumed training")
	}
	if !mat.Equal(d.SampleV(3), d2.SampleV(3)) {
		t.Error("samples differ after resumed training")
	}
}

func exactDBMLogZ(d *DBM) float64 {
	var terms []float64
	for _, v := range binaryStates(d.Sizes[0]) {
		for _, h1 := range binaryStates(d.Sizes[1]) {
			for _, h2 := range binaryStates(d.Sizes[2]) {
				x := []*mat.VecDense{mat.NewVecDense(len(v), v), mat.NewVecDense(len(h1), h1), mat.NewVecDense(len(h2), h2)}
				e := mat.Inner(x[0], d.W[0], x[1]) + mat.Inner(x[1], d.W[1], x[2])
				for i := range x {
					e += mat.Dot(x[i], d.B[i])
				}
				terms = append(terms, e)
			}
		}
	}
	return num.LogSumExp(terms)
}

func TestDBMLogZ(t *testing.T) {
	conf := DefaultDBMConfig()
	conf.RandSeed = 10
	conf.AISChains = 200
	d := testDBM(t, [3]int{4, 3, 2}, 1, conf)
	exact := exactDBMLogZ(d)

	base := d.LogZ(1)
	expect := 0.0
	for _, b := range d.B {
		expect += num.SoftplusSum(b.RawVector().Data)
	}
	if math.Abs(base.Estimate-expect) > 1e-12 || math.Abs(base.LogZBase-expect) > 1e-12 {
		t.Errorf("one beta: got %g expect base %g", base.Estimate, expect)
	}
	if len(base.LogZ) != conf.AISChains {
		t.Errorf("got %d chain estimates", len(base.LogZ))
	}

	res := d.LogZ(1000)
	t.Logf("exact log Z = %.4f  %s", exact, res)
	if math.Abs(res.Estimate-exact) > 0.1 {
		t.Errorf("AIS estimate %.4f too far from exact %.4f", res.Estimate, exact)
	}

	// the variational bound never exceeds the true log likelihood
	V := mat.NewDense(16, 4, flatten(binaryStates(4)))
	lp := d.LogProba(V, exact)
	for i, v := range binaryStates(4) {
		var terms []float64
		for _, h1 := range binaryStates(3) {
			for _, h2 := range binaryStates(2) {
				x := []*mat.VecDense{mat.NewVecDense(4, v), mat.NewVecDense(3, h1), mat.NewVecDense(2, h2)}
				e := mat.Inner(x[0], d.W[0], x[1]) + mat.Inner(x[1], d.W[1], x[2])
				for j := range x {
					e += mat.Dot(x[j], d.B[j])
				}
				terms = append(terms, e)
			}
		}
		if logp := num.LogSumExp(terms) - exact; lp[i] > logp+1e-9 {
			t.Errorf("sample %d: bound %g exceeds log p %g", i, lp[i], logp)
		}
	}
}

func TestAISBetas(t *testing.T) {
	if b := AISBetas(1); len(b) != 1 || b[0] != 1 {
		t.Error("AISBetas(1) =", b)
	}
	for _, n := range []int{2, 10, 1000} {
		b := AISBetas(n)
		if len(b) != n || b[0] != 0 || b[n-1] != 1 {
			t.Fatalf("AISBetas(%d): bad endpoints", n)
		}
		for i := 1; i < n; i++ {
			if b[i] <= b[i-1] {
				t.Errorf("AISBetas(%d) not increasing at %d", n, i)
			}
		}
	}
	b := AISBetas(1001)
	if math.Abs(b[100]-0.5) > eps || math.Abs(b[400]-0.9) > eps {
		t.Error("unexpected knots", b[100], b[400])
	}
}

func TestDBMNumericalError(t *testing.T) {
	conf := smallDBMConfig(9)
	conf.MaxEpoch = 1
	conf.ModelPath = filepath.Join(t.TempDir(), "dbm.gob")
	d := testDBM(t, [3]int{8, 5, 4}, 0.1, conf)
	X := randBinary(20, 8, 0.5, rand.New(rand.NewPCG(4, 4)))
	if err := d.Fit(context.Background(), X, nil, NewHistory()); err != nil {
		t.Fatal(err)
	}
	saved, err := os.ReadFile(conf.ModelPath)
	if err != nil {
		t.Fatal(err)
	}
	d.W[0].Set(3, 1, math.Inf(1))
	d.MaxEpoch = 2
	err = d.Fit(context.Background(), X, nil, NewHistory())
	var nerr *NumericalError
	if !errors.As(err, &nerr) {
		t.Fatal("expecting NumericalError, got", err)
	}
	t.Log(err)
	if d.Epoch != 1 {
		t.Error("epoch advanced after error:", d.Epoch)
	}
	after, err := os.ReadFile(conf.ModelPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(saved, after) {
		t.Error("checkpoint was overwritten after numerical error")
	}
}

func TestLoadDBMShape(t *testing.T) {
	conf := smallDBMConfig(10)
	d := testDBM(t, [3]int{8, 5, 4}, 0.1, conf)
	path := filepath.Join(t.TempDir(), "dbm.gob")
	if err := d.Save(path); err != nil {
		t.Fatal(err)
	}
	var s DBMState
	if err := loadGob(path, &s); err != nil {
		t.Fatal(err)
	}
	for name, corrupt := range map[string]func(s *DBMState){
		"W":         func(s *DBMState) { s.W[1] = Matrix{Rows: 4, Cols: 5, Data: make([]float64, 20)} },
		"DW":        func(s *DBMState) { s.DW[0] = Matrix{} },
		"b":         func(s *DBMState) { s.B[2] = s.B[2][:3] },
		"particles": func(s *DBMState) { s.Particles[1] = Matrix{Rows: 2, Cols: 5, Data: make([]float64, 10)} },
	} {
		bad := s
		corrupt(&bad)
		badPath := filepath.Join(t.TempDir(), name+".gob")
		if err := saveGob(badPath, &bad); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadDBM(badPath); !errors.Is(err, ErrShape) {
			t.Errorf("%s: expecting ErrShape, got %v", name, err)
		}
	}
	if _, err := LoadDBM(path); err != nil {
		t.Error("unmodified checkpoint:", err)
	}
}
