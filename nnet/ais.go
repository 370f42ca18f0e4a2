package nnet

import (
	"fmt"
	"log"
	"math/rand/v2"

	"github.com/finderp/boltzmann-machines/num"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// AISResult holds the log partition function estimates from annealed importance sampling.
type AISResult struct {
	LogZ     []float64 // per chain estimate
	Estimate float64   // log of the mean importance weight plus the base log Z
	Mean     float64
	Std      float64
	LogZBase float64
	NBetas   int
}

func (r AISResult) String() string {
	return fmt.Sprintf("log Z = %.4f (mean %.4f ± %.4f over %d chains, base %.4f, %d betas)",
		r.Estimate, r.Mean, r.Std, len(r.LogZ), r.LogZBase, r.NBetas)
}

// annealer is a model whose distribution can be bridged from an independent Bernoulli base at
// beta=0 to the full model at beta=1. The odd hidden layer is summed out analytically, so the
// chain state holds only the remaining layers.
type annealer interface {
	baseLogZ() float64
	sampleBase(n int, rng *rand.Rand) []*mat.Dense
	logUnnorm(x []*mat.Dense, beta float64) []float64
	transition(x []*mat.Dense, beta float64, rng *rand.Rand)
}

// AISBetas returns an increasing temperature schedule from 0 to 1 with n points. A tenth of the
// points cover [0, 0.5], three tenths [0.5, 0.9] and the rest [0.9, 1]. For n <= 1 it returns
// just [1], i.e. no annealing steps.
func AISBetas(n int) []float64 {
	if n <= 1 {
		return []float64{1}
	}
	knots := [][2]float64{{0, 0}, {0.1, 0.5}, {0.4, 0.9}, {1, 1}}
	betas := make([]float64, n)
	for i := range betas {
		u := float64(i) / float64(n-1)
		for k := 1; k < len(knots); k++ {
			if u <= knots[k][0] {
				u0, b0 := knots[k-1][0], knots[k-1][1]
				u1, b1 := knots[k][0], knots[k][1]
				betas[i] = b0 + (b1-b0)*(u-u0)/(u1-u0)
				break
			}
		}
	}
	betas[0], betas[n-1] = 0, 1
	return betas
}

// run annealed importance sampling with nChains independent chains
func runAIS(m annealer, betas []float64, nChains int, rng *rand.Rand) AISResult {
	x := m.sampleBase(nChains, rng)
	logW := make([]float64, nChains)
	for k := 1; k < len(betas); k++ {
		cur := m.logUnnorm(x, betas[k])
		prev := m.logUnnorm(x, betas[k-1])
		for i := range logW {
			logW[i] += cur[i] - prev[i]
		}
		m.transition(x, betas[k], rng)
	}
	res := AISResult{LogZ: make([]float64, nChains), LogZBase: m.baseLogZ(), NBetas: len(betas)}
	for i, w := range logW {
		res.LogZ[i] = w + res.LogZBase
	}
	res.Estimate = num.LogMeanExp(logW) + res.LogZBase
	if nChains > 1 {
		res.Mean, res.Std = stat.MeanStdDev(res.LogZ, nil)
	} else {
		res.Mean = res.LogZ[0]
	}
	return res
}

func sampleBias(n int, b *mat.VecDense, rng *rand.Rand) *mat.Dense {
	x := mat.NewDense(n, b.Len(), nil)
	num.AddRowVec(x, 1, b)
	num.Sigmoid(x, x)
	num.Bernoulli(x, x, rng)
	return x
}

// v.b for each row of v
func dotBias(v mat.Matrix, b mat.Vector) []float64 {
	var res mat.VecDense
	res.MulVec(v, b)
	return res.RawVector().Data
}

func softplusRows(act *mat.Dense) []float64 {
	rows, _ := act.Dims()
	res := make([]float64, rows)
	for i := range res {
		res[i] = num.SoftplusSum(act.RawRowView(i))
	}
	return res
}

func sumSoftplus(vecs ...*mat.VecDense) float64 {
	sum := 0.0
	for _, v := range vecs {
		sum += num.SoftplusSum(v.RawVector().Data)
	}
	return sum
}

// RBM annealing: hidden units summed out, chain state is {v}.
type rbmAnnealer struct{ *RBM }

func (a rbmAnnealer) baseLogZ() float64 {
	return sumSoftplus(a.Vb, a.Hb)
}

func (a rbmAnnealer) sampleBase(n int, rng *rand.Rand) []*mat.Dense {
	return []*mat.Dense{sampleBias(n, a.Vb, rng)}
}

// log p*(v) = v.vb + sum_j softplus(beta*(vW)_j + hb_j)
func (a rbmAnnealer) logUnnorm(x []*mat.Dense, beta float64) []float64 {
	v := x[0]
	var act mat.Dense
	act.Mul(v, a.W)
	act.Scale(beta, &act)
	num.AddRowVec(&act, 1, a.Hb)
	lp := softplusRows(&act)
	for i, vb := range dotBias(v, a.Vb) {
		lp[i] += vb
	}
	return lp
}

func (a rbmAnnealer) transition(x []*mat.Dense, beta float64, rng *rand.Rand) {
	v := x[0]
	var h mat.Dense
	h.Mul(v, a.W)
	h.Scale(beta, &h)
	num.AddRowVec(&h, 1, a.Hb)
	num.Sigmoid(&h, &h)
	num.Bernoulli(&h, &h, rng)
	v.Mul(&h, a.W.T())
	v.Scale(beta, v)
	num.AddRowVec(v, 1, a.Vb)
	num.Sigmoid(v, v)
	num.Bernoulli(v, v, rng)
}

// LogZ estimates the log partition function using AIS with nBetas temperatures and nChains chains.
func (r *RBM) LogZ(nBetas, nChains int) AISResult {
	if nChains < 1 {
		nChains = 1
	}
	return runAIS(rbmAnnealer{r}, AISBetas(nBetas), nChains, r.rng)
}

// DBM annealing: h1 summed out, chain state is {v, h2}.
type dbmAnnealer struct{ *DBM }

func (a dbmAnnealer) baseLogZ() float64 {
	return sumSoftplus(a.B[0], a.B[1], a.B[2])
}

func (a dbmAnnealer) sampleBase(n int, rng *rand.Rand) []*mat.Dense {
	return []*mat.Dense{sampleBias(n, a.B[0], rng), sampleBias(n, a.B[2], rng)}
}

// h1 input scaled by beta: beta*(v W1 + h2 W2^T) + b1
func (a dbmAnnealer) h1Input(dst *mat.Dense, x []*mat.Dense, beta float64) {
	var top mat.Dense
	dst.Mul(x[0], a.W[0])
	top.Mul(x[1], a.W[1].T())
	dst.Add(dst, &top)
	dst.Scale(beta, dst)
	num.AddRowVec(dst, 1, a.B[1])
}

// log p*(v, h2) = v.b0 + h2.b2 + sum_j softplus(beta*(vW1 + h2W2^T)_j + b1_j)
func (a dbmAnnealer) logUnnorm(x []*mat.Dense, beta float64) []float64 {
	var act mat.Dense
	a.h1Input(&act, x, beta)
	lp := softplusRows(&act)
	vb, hb := dotBias(x[0], a.B[0]), dotBias(x[1], a.B[2])
	for i := range lp {
		lp[i] += vb[i] + hb[i]
	}
	return lp
}

func (a dbmAnnealer) transition(x []*mat.Dense, beta float64, rng *rand.Rand) {
	var h1 mat.Dense
	a.h1Input(&h1, x, beta)
	num.Sigmoid(&h1, &h1)
	num.Bernoulli(&h1, &h1, rng)
	for i, layer := range []struct {
		w mat.Matrix
		b *mat.VecDense
	}{{a.W[0].T(), a.B[0]}, {a.W[1], a.B[2]}} {
		x[i].Mul(&h1, layer.w)
		x[i].Scale(beta, x[i])
		num.AddRowVec(x[i], 1, layer.b)
		num.Sigmoid(x[i], x[i])
		num.Bernoulli(x[i], x[i], rng)
	}
}

// LogZ estimates the log partition function using AIS with nBetas temperatures over AISChains chains.
func (d *DBM) LogZ(nBetas int) AISResult {
	res := runAIS(dbmAnnealer{d}, AISBetas(nBetas), d.AISChains, d.rng)
	if d.DebugLevel >= 1 {
		log.Printf("%s: %s\n", d.Name, res)
	}
	return res
}
