// Package nnet contains routines for constructing, training and testing restricted and deep Boltzmann machines.
package nnet

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"time"

	"github.com/finderp/boltzmann-machines/num"
	"github.com/finderp/boltzmann-machines/stats"
	"gonum.org/v1/gonum/mat"
)

// RBMHeaders are the names of the values in the per epoch stats.
var RBMHeaders = []string{"msre", "pll", "lr", "momentum", "k"}

// RBM is a Bernoulli-Bernoulli restricted Boltzmann machine trained with CD-k or PCD.
// W has NVisible rows and NHidden columns.
type RBM struct {
	RBMConfig
	W     *mat.Dense
	Vb    *mat.VecDense
	Hb    *mat.VecDense
	DW    *mat.Dense
	DVb   *mat.VecDense
	DHb   *mat.VecDense
	Q     *mat.VecDense
	Epoch int
	Iter  int
	chain *mat.Dense
	rng   *rand.Rand
	src   *rand.PCG
}

// NewRBM creates a new machine with small random weights and constant biases.
func NewRBM(conf RBMConfig) (*RBM, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	r := &RBM{RBMConfig: conf}
	r.rng, r.src = NewRNG(conf.RandSeed)
	r.W = mat.NewDense(conf.NVisible, conf.NHidden, nil)
	num.Normal(r.W, conf.WInit, r.rng)
	r.Vb = num.Fill(conf.NVisible, conf.VbInit)
	r.Hb = num.Fill(conf.NHidden, conf.HbInit)
	r.DW = mat.NewDense(conf.NVisible, conf.NHidden, nil)
	r.DVb = mat.NewVecDense(conf.NVisible, nil)
	r.DHb = mat.NewVecDense(conf.NHidden, nil)
	r.Q = num.Fill(conf.NHidden, conf.SparsityTarget)
	return r, nil
}

// InitFrom copies the parameters, momentum, sparsity statistics and schedule position
// from a previously trained machine with the same layer sizes, so that training can
// continue with new settings.
func (r *RBM) InitFrom(other *RBM) error {
	if other.NVisible != r.NVisible || other.NHidden != r.NHidden {
		return fmt.Errorf("%w: init from %dx%d to %dx%d", ErrShape, other.NVisible, other.NHidden, r.NVisible, r.NHidden)
	}
	r.W.Copy(other.W)
	r.Vb.CopyVec(other.Vb)
	r.Hb.CopyVec(other.Hb)
	r.DW.Copy(other.DW)
	r.DVb.CopyVec(other.DVb)
	r.DHb.CopyVec(other.DHb)
	r.Q.CopyVec(other.Q)
	r.Epoch, r.Iter = other.Epoch, other.Iter
	r.chain = nil
	if other.chain != nil && r.Persistent && other.BatchSize == r.BatchSize {
		r.chain = mat.DenseCopyOf(other.chain)
	}
	return nil
}

// hidden unit probabilities given visible states
func (r *RBM) hProbs(dst *mat.Dense, v mat.Matrix) {
	dst.Mul(v, r.W)
	if r.DBMFirst {
		dst.Scale(2, dst)
	}
	num.AddRowVec(dst, 1, r.Hb)
	num.Sigmoid(dst, dst)
}

// visible unit probabilities given hidden states
func (r *RBM) vProbs(dst *mat.Dense, h mat.Matrix) {
	dst.Mul(h, r.W.T())
	if r.DBMLast {
		dst.Scale(2, dst)
	}
	num.AddRowVec(dst, 1, r.Vb)
	num.Sigmoid(dst, dst)
}

// Transform returns the hidden unit probabilities for each row of X.
func (r *RBM) Transform(X *mat.Dense) (*mat.Dense, error) {
	if _, cols := X.Dims(); cols != r.NVisible {
		return nil, fmt.Errorf("%w: input has %d columns, expecting %d", ErrShape, cols, r.NVisible)
	}
	h := new(mat.Dense)
	r.hProbs(h, X)
	return h, nil
}

// Reconstruct returns the visible unit probabilities after one up-down pass using mean values.
func (r *RBM) Reconstruct(X *mat.Dense) (*mat.Dense, error) {
	h, err := r.Transform(X)
	if err != nil {
		return nil, err
	}
	v := new(mat.Dense)
	r.vProbs(v, h)
	return v, nil
}

// FreeEnergy returns F(v) = -v.vb - sum_j softplus(v.W_j + hb_j) for each row of V.
func (r *RBM) FreeEnergy(V mat.Matrix) []float64 {
	rows, _ := V.Dims()
	var act mat.Dense
	act.Mul(V, r.W)
	num.AddRowVec(&act, 1, r.Hb)
	var vb mat.VecDense
	vb.MulVec(V, r.Vb)
	fe := make([]float64, rows)
	for i := range fe {
		fe[i] = -vb.AtVec(i) - num.SoftplusSum(act.RawRowView(i))
	}
	return fe
}

// LogProba returns the log likelihood of each row of V given an estimate of log Z.
func (r *RBM) LogProba(V mat.Matrix, logZ float64) []float64 {
	lp := r.FreeEnergy(V)
	for i := range lp {
		lp[i] = -lp[i] - logZ
	}
	return lp
}

// Gibbs runs n steps of block Gibbs sampling starting from visible states V and returns the final
// binary visible states.
func (r *RBM) Gibbs(V mat.Matrix, n int) *mat.Dense {
	v := mat.DenseCopyOf(V)
	var h mat.Dense
	for i := 0; i < n; i++ {
		r.hProbs(&h, v)
		num.Bernoulli(&h, &h, r.rng)
		r.vProbs(v, &h)
		num.Bernoulli(v, v, r.rng)
	}
	return v
}

// Fit trains the machine on the rows of X until MaxEpoch is reached, the tester returns true or
// the context is cancelled. Cancellation is only checked between epochs. If ModelPath is set a
// checkpoint is saved at the end of each epoch.
func (r *RBM) Fit(ctx context.Context, X *mat.Dense, test Tester) error {
	if _, cols := X.Dims(); cols != r.NVisible {
		return fmt.Errorf("%w: input has %d columns, expecting %d", ErrShape, cols, r.NVisible)
	}
	dset, err := NewDataset(X, r.BatchSize, true, r.rng)
	if err != nil {
		return err
	}
	if test == nil {
		test = NewTestLogger(r.LogEvery, r.MaxEpoch)
	}
	if r.DebugLevel >= 1 {
		log.Printf("fit %s: %d samples, %d batches, epoch %d/%d\n", r.Name, dset.Samples, dset.Batches, r.Epoch, r.MaxEpoch)
	}
	batch := mat.NewDense(r.BatchSize, r.NVisible, nil)
	start := time.Now()
	for r.Epoch < r.MaxEpoch {
		if err := ctx.Err(); err != nil {
			return err
		}
		var msreAvg, pllAvg stats.Average
		for index := range dset.Epoch() {
			dset.Batch(batch, index)
			if err := r.trainBatch(batch); err != nil {
				return err
			}
			r.Iter++
			if r.TrainMetricsEvery > 0 && r.Iter%r.TrainMetricsEvery == 0 {
				v, _ := r.Reconstruct(batch)
				msreAvg.Add(msre(batch, v))
				pllAvg.Add(r.pseudoLogLik(batch))
			}
		}
		s := Stats{
			Epoch:   r.Epoch + 1,
			Headers: RBMHeaders,
			Values: []float64{
				statMean(&msreAvg), statMean(&pllAvg),
				r.LearningRate.At(r.Epoch), r.Momentum.At(r.Epoch), float64(r.NGibbsSteps.Int(r.Epoch)),
			},
		}
		r.Epoch++
		s.Elapsed = time.Since(start)
		if r.ModelPath != "" {
			if err := r.Save(r.ModelPath); err != nil {
				return err
			}
		}
		if test.Test(r, s) {
			break
		}
	}
	return nil
}

// one CD-k or PCD update on a minibatch
func (r *RBM) trainBatch(v0 *mat.Dense) error {
	k := r.NGibbsSteps.Int(r.Epoch)
	lr := r.LearningRate.At(r.Epoch)
	mom := r.Momentum.At(r.Epoch)
	n, _ := v0.Dims()

	var h0Means, h0Samples mat.Dense
	r.hProbs(&h0Means, v0)
	hStates := &h0Means
	if r.SampleHStates || r.Persistent {
		num.Bernoulli(&h0Samples, &h0Means, r.rng)
		if r.SampleHStates {
			hStates = &h0Samples
		}
	}
	if r.Persistent {
		if r.chain == nil {
			r.chain = mat.DenseCopyOf(&h0Samples)
		}
		hStates = r.chain
	}

	var vMeans, vSamples, hMeans, hSamples mat.Dense
	var vStates *mat.Dense
	for step := 0; step < k; step++ {
		r.vProbs(&vMeans, hStates)
		vStates = &vMeans
		if r.SampleVStates {
			num.Bernoulli(&vSamples, &vMeans, r.rng)
			vStates = &vSamples
		}
		r.hProbs(&hMeans, vStates)
		hStates = &hMeans
		if r.SampleHStates || r.Persistent {
			num.Bernoulli(&hSamples, &hMeans, r.rng)
			if r.SampleHStates {
				hStates = &hSamples
			}
		}
	}
	if r.Persistent {
		r.chain.Copy(&hSamples)
	}

	// gradient: positive phase from data, negative phase from the chain
	var gW, neg mat.Dense
	gW.Mul(v0.T(), &h0Means)
	neg.Mul(vStates.T(), &hMeans)
	gW.Sub(&gW, &neg)
	gW.Scale(1/float64(n), &gW)
	if r.L2 > 0 {
		var decay mat.Dense
		decay.Scale(-r.L2, r.W)
		gW.Add(&gW, &decay)
	}
	var v0Mean, vkMean, h0Mean, hkMean, gVb, gHb mat.VecDense
	num.ColMean(&v0Mean, v0)
	num.ColMean(&vkMean, vStates)
	num.ColMean(&h0Mean, &h0Means)
	num.ColMean(&hkMean, &hMeans)
	gVb.SubVec(&v0Mean, &vkMean)
	gHb.SubVec(&h0Mean, &hkMean)

	// sparsity: damped running mean of the hidden activations pulled towards the target
	updateRunningMean(r.Q, &h0Mean, r.SparsityDamping)
	if r.SparsityCost > 0 {
		reg := num.Fill(r.NHidden, r.SparsityTarget)
		reg.SubVec(reg, r.Q)
		reg.ScaleVec(r.SparsityCost, reg)
		gHb.AddVec(&gHb, reg)
		gW.RankOne(&gW, 1, &v0Mean, reg)
	}

	// momentum update
	r.DW.Scale(mom, r.DW)
	r.DW.Add(r.DW, scaled(lr, &gW))
	r.W.Add(r.W, r.DW)
	r.DVb.AddScaledVec(scaledVec(mom, r.DVb), lr, &gVb)
	r.Vb.AddVec(r.Vb, r.DVb)
	r.DHb.AddScaledVec(scaledVec(mom, r.DHb), lr, &gHb)
	r.Hb.AddVec(r.Hb, r.DHb)
	num.MaxNorm(r.W, r.MaxNorm)

	for _, t := range []struct {
		name string
		m    mat.Matrix
	}{{"W", r.W}, {"vb", r.Vb}, {"hb", r.Hb}, {"h", &hMeans}} {
		if err := checkFinite(r.Name+"."+t.name, t.m, r.Epoch, r.Iter); err != nil {
			return err
		}
	}
	return nil
}

// stochastic pseudo log likelihood: flip one random unit per sample of the binarised input
func (r *RBM) pseudoLogLik(v0 mat.Matrix) float64 {
	rows, cols := v0.Dims()
	var v mat.Dense
	v.Apply(func(i, j int, x float64) float64 { return math.Round(x) }, v0)
	fe := r.FreeEnergy(&v)
	for i := 0; i < rows; i++ {
		j := r.rng.IntN(cols)
		v.Set(i, j, 1-v.At(i, j))
	}
	feFlip := r.FreeEnergy(&v)
	sum := 0.0
	for i := range fe {
		sum -= float64(cols) * num.Softplus(fe[i]-feFlip[i])
	}
	return sum / float64(rows)
}

// q <- damping*q + (1-damping)*x
func updateRunningMean(q, x *mat.VecDense, damping float64) {
	q.ScaleVec(damping, q)
	q.AddScaledVec(q, 1-damping, x)
}

func scaled(alpha float64, m mat.Matrix) *mat.Dense {
	var d mat.Dense
	d.Scale(alpha, m)
	return &d
}

func scaledVec(alpha float64, v mat.Vector) *mat.VecDense {
	var d mat.VecDense
	d.ScaleVec(alpha, v)
	return &d
}

func statMean(a *stats.Average) float64 {
	if a.Count == 0 {
		return math.NaN()
	}
	return a.Mean
}
