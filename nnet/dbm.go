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

// DBMHeaders are the names of the values in the per epoch stats.
var DBMHeaders = []string{"msre", "mf iters", "q1", "q2", "lr", "momentum", "val msre", "val elbo"}

// MFInfo reports the progress of mean field inference.
type MFInfo struct {
	Iters     int
	Deltas    []float64 // max absolute change after each update
	Converged bool
}

// DBM is a two hidden layer deep Boltzmann machine with binary units. Layer 0 is the visible
// layer, W[0] connects layers 0 and 1 and W[1] connects layers 1 and 2. Particles holds the
// persistent Gibbs chain states for each layer, one particle per row.
type DBM struct {
	DBMConfig
	Sizes     [3]int
	W         [2]*mat.Dense
	B         [3]*mat.VecDense
	DW        [2]*mat.Dense
	DB        [3]*mat.VecDense
	Q         [2]*mat.VecDense
	Particles [3]*mat.Dense
	Epoch     int
	Iter      int
	rng       *rand.Rand
	src       *rand.PCG
}

// NewDBM creates a new deep Boltzmann machine from two pretrained RBMs, which are not modified.
// The bias of the shared middle layer is the average of the first RBM's hidden bias and the
// second RBM's visible bias. Particles are initialised by sampling down from the biases.
func NewDBM(rbms [2]*RBM, conf DBMConfig) (*DBM, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if rbms[0].NHidden != rbms[1].NVisible {
		return nil, fmt.Errorf("%w: rbm1 has %d hidden units, rbm2 has %d visible units", ErrShape, rbms[0].NHidden, rbms[1].NVisible)
	}
	d := &DBM{DBMConfig: conf}
	d.rng, d.src = NewRNG(conf.RandSeed)
	d.Sizes = [3]int{rbms[0].NVisible, rbms[0].NHidden, rbms[1].NHidden}
	d.W = [2]*mat.Dense{mat.DenseCopyOf(rbms[0].W), mat.DenseCopyOf(rbms[1].W)}
	d.B[0] = mat.VecDenseCopyOf(rbms[0].Vb)
	d.B[1] = mat.NewVecDense(d.Sizes[1], nil)
	d.B[1].AddVec(rbms[0].Hb, rbms[1].Vb)
	d.B[1].ScaleVec(0.5, d.B[1])
	d.B[2] = mat.VecDenseCopyOf(rbms[1].Hb)
	d.alloc()
	for i := range d.Particles {
		d.Particles[i] = sampleBias(conf.NParticles, d.B[i], d.rng)
	}
	return d, nil
}

func (d *DBM) alloc() {
	for i := range d.W {
		d.DW[i] = mat.NewDense(d.Sizes[i], d.Sizes[i+1], nil)
		d.Q[i] = num.Fill(d.Sizes[i+1], d.SparsityTargets[i])
	}
	for i := range d.B {
		d.DB[i] = mat.NewVecDense(d.Sizes[i], nil)
	}
}

// InitParticles sets the persistent chain states by sampling from the given probabilities, e.g.
// the training data and its transform through each layer. Each matrix must have NParticles rows;
// extra rows are ignored.
func (d *DBM) InitParticles(layers ...mat.Matrix) error {
	if len(layers) != len(d.Particles) {
		return fmt.Errorf("%w: need %d layers to init particles, got %d", ErrShape, len(d.Particles), len(layers))
	}
	for i, m := range layers {
		rows, cols := m.Dims()
		if rows < d.NParticles || cols != d.Sizes[i] {
			return fmt.Errorf("%w: particle init for layer %d is %dx%d, need %dx%d", ErrShape, i, rows, cols, d.NParticles, d.Sizes[i])
		}
		p := mat.NewDense(d.NParticles, cols, nil)
		p.Copy(m)
		num.Bernoulli(p, p, d.rng)
		d.Particles[i] = p
	}
	return nil
}

// probabilities for layer 1 given states of layers 0 and 2
func (d *DBM) h1Probs(dst *mat.Dense, v, h2 mat.Matrix) {
	var top mat.Dense
	dst.Mul(v, d.W[0])
	top.Mul(h2, d.W[1].T())
	dst.Add(dst, &top)
	num.AddRowVec(dst, 1, d.B[1])
	num.Sigmoid(dst, dst)
}

// probabilities for layer 0 or 2 given states of layer 1
func (d *DBM) evenProbs(dst *mat.Dense, layer int, h1 mat.Matrix) {
	if layer == 0 {
		dst.Mul(h1, d.W[0].T())
	} else {
		dst.Mul(h1, d.W[1])
	}
	num.AddRowVec(dst, 1, d.B[layer])
	num.Sigmoid(dst, dst)
}

// MeanField returns the approximate posterior probabilities for each hidden layer given the
// visible states V. All layers are updated together from the previous estimates until the
// largest change is below MFTol or MaxMFUpdates is reached. The first estimate is a bottom up
// pass with the input to layer 1 doubled.
func (d *DBM) MeanField(V mat.Matrix) ([2]*mat.Dense, MFInfo) {
	var mu [2]*mat.Dense
	var bottomUp mat.Dense
	bottomUp.Mul(V, d.W[0])
	mu[0] = new(mat.Dense)
	mu[0].Scale(2, &bottomUp)
	num.AddRowVec(mu[0], 1, d.B[1])
	num.Sigmoid(mu[0], mu[0])
	mu[1] = new(mat.Dense)
	d.evenProbs(mu[1], 2, mu[0])

	var info MFInfo
	for info.Iters < d.MaxMFUpdates {
		next1, next2 := new(mat.Dense), new(mat.Dense)
		var top mat.Dense
		top.Mul(mu[1], d.W[1].T())
		next1.Add(&bottomUp, &top)
		num.AddRowVec(next1, 1, d.B[1])
		num.Sigmoid(next1, next1)
		d.evenProbs(next2, 2, mu[0])
		delta := math.Max(num.MaxAbsDiff(next1, mu[0]), num.MaxAbsDiff(next2, mu[1]))
		mu[0], mu[1] = next1, next2
		info.Iters++
		info.Deltas = append(info.Deltas, delta)
		if delta < d.MFTol {
			info.Converged = true
			break
		}
	}
	if !info.Converged && d.DebugLevel >= 1 {
		log.Printf("%s: mean field not converged after %d updates, delta=%.3g\n", d.Name, info.Iters, info.Deltas[len(info.Deltas)-1])
	}
	return mu, info
}

// one block Gibbs sweep over the particles: layers 0 and 2 given layer 1, then layer 1 given
// layers 0 and 2. Returns the probabilities used for the final states of each layer.
func (d *DBM) gibbsSweep() [3]*mat.Dense {
	var probs [3]*mat.Dense
	for _, i := range []int{0, 2} {
		probs[i] = new(mat.Dense)
		d.evenProbs(probs[i], i, d.Particles[1])
		num.Bernoulli(d.Particles[i], probs[i], d.rng)
	}
	probs[1] = new(mat.Dense)
	d.h1Probs(probs[1], d.Particles[0], d.Particles[2])
	num.Bernoulli(d.Particles[1], probs[1], d.rng)
	return probs
}

// SampleV advances the persistent particles by n Gibbs sweeps and returns a copy of the binary
// visible states.
func (d *DBM) SampleV(n int) *mat.Dense {
	for i := 0; i < n; i++ {
		d.gibbsSweep()
	}
	return mat.DenseCopyOf(d.Particles[0])
}

// Transform returns the mean field probabilities of the top hidden layer for each row of X.
func (d *DBM) Transform(X *mat.Dense) (*mat.Dense, error) {
	if _, cols := X.Dims(); cols != d.Sizes[0] {
		return nil, fmt.Errorf("%w: input has %d columns, expecting %d", ErrShape, cols, d.Sizes[0])
	}
	mu, _ := d.MeanField(X)
	return mu[1], nil
}

// ELBO returns the variational lower bound on log p*(v) for each row of V, i.e. the negative
// variational free energy using the mean field posterior.
func (d *DBM) ELBO(V mat.Matrix) []float64 {
	mu, _ := d.MeanField(V)
	return d.elbo(V, mu)
}

func (d *DBM) elbo(V mat.Matrix, mu [2]*mat.Dense) []float64 {
	var a0, a1 mat.Dense
	a0.Mul(V, d.W[0])
	a0.MulElem(&a0, mu[0])
	a1.Mul(mu[0], d.W[1])
	a1.MulElem(&a1, mu[1])
	b0, b1, b2 := dotBias(V, d.B[0]), dotBias(mu[0], d.B[1]), dotBias(mu[1], d.B[2])
	e0, e1 := num.RowSums(&a0), num.RowSums(&a1)
	h0, h1 := entropy(mu[0]), entropy(mu[1])
	res := make([]float64, len(b0))
	for i := range res {
		res[i] = b0[i] + b1[i] + b2[i] + e0[i] + e1[i] + h0[i] + h1[i]
	}
	return res
}

// LogProba returns the approximate log likelihood of each row of V given an estimate of log Z.
func (d *DBM) LogProba(V mat.Matrix, logZ float64) []float64 {
	lp := d.ELBO(V)
	for i := range lp {
		lp[i] -= logZ
	}
	return lp
}

// Fit trains the model on the rows of X until MaxEpoch is reached, the tester returns true or
// the context is cancelled. If Xval is not nil validation metrics are calculated every
// ValMetricsEvery epochs.
func (d *DBM) Fit(ctx context.Context, X, Xval *mat.Dense, test Tester) error {
	for _, m := range []*mat.Dense{X, Xval} {
		if m == nil {
			continue
		}
		if _, cols := m.Dims(); cols != d.Sizes[0] {
			return fmt.Errorf("%w: input has %d columns, expecting %d", ErrShape, cols, d.Sizes[0])
		}
	}
	dset, err := NewDataset(X, d.BatchSize, true, d.rng)
	if err != nil {
		return err
	}
	if test == nil {
		test = NewTestLogger(d.LogEvery, d.MaxEpoch)
	}
	if d.DebugLevel >= 1 {
		log.Printf("fit %s: %v units, %d samples, %d batches, epoch %d/%d\n", d.Name, d.Sizes, dset.Samples, dset.Batches, d.Epoch, d.MaxEpoch)
	}
	batch := mat.NewDense(d.BatchSize, d.Sizes[0], nil)
	start := time.Now()
	for d.Epoch < d.MaxEpoch {
		if err := ctx.Err(); err != nil {
			return err
		}
		var msreAvg, itersAvg stats.Average
		for index := range dset.Epoch() {
			dset.Batch(batch, index)
			mu, info, err := d.trainBatch(batch)
			if err != nil {
				return err
			}
			d.Iter++
			itersAvg.Add(float64(info.Iters))
			if d.TrainMetricsEvery > 0 && d.Iter%d.TrainMetricsEvery == 0 {
				var v mat.Dense
				d.evenProbs(&v, 0, mu[0])
				msreAvg.Add(msre(batch, &v))
			}
		}
		s := Stats{
			Epoch:   d.Epoch + 1,
			Headers: DBMHeaders,
			Values: []float64{
				statMean(&msreAvg), statMean(&itersAvg), mat.Sum(d.Q[0]) / float64(d.Sizes[1]), mat.Sum(d.Q[1]) / float64(d.Sizes[2]),
				d.LearningRate.At(d.Epoch), d.Momentum.At(d.Epoch), math.NaN(), math.NaN(),
			},
		}
		d.Epoch++
		if Xval != nil && d.ValMetricsEvery > 0 && d.Epoch%d.ValMetricsEvery == 0 {
			s.Values[6], s.Values[7] = d.validate(Xval)
		}
		s.Elapsed = time.Since(start)
		if d.ModelPath != "" {
			if err := d.Save(d.ModelPath); err != nil {
				return err
			}
		}
		if test.Test(d, s) {
			break
		}
	}
	return nil
}

// mean field reconstruction error and mean ELBO
func (d *DBM) validate(X *mat.Dense) (float64, float64) {
	mu, _ := d.MeanField(X)
	var v mat.Dense
	d.evenProbs(&v, 0, mu[0])
	elbo := d.elbo(X, mu)
	sum := 0.0
	for _, e := range elbo {
		sum += e
	}
	return msre(X, &v), sum / float64(len(elbo))
}

// one joint update: mean field statistics from the data minus statistics from the particles
func (d *DBM) trainBatch(V *mat.Dense) ([2]*mat.Dense, MFInfo, error) {
	lr := d.LearningRate.At(d.Epoch)
	mom := d.Momentum.At(d.Epoch)
	mu, info := d.MeanField(V)

	var probs [3]*mat.Dense
	for i := 0; i < d.NGibbsSteps; i++ {
		probs = d.gibbsSweep()
	}
	// negative phase statistics use the particle states or their probabilities
	neg := probs
	if d.SampleVStates {
		neg[0] = d.Particles[0]
	}
	for i, sample := range d.SampleHStates {
		if sample {
			neg[i+1] = d.Particles[i+1]
		}
	}
	pos := [3]mat.Matrix{V, mu[0], mu[1]}

	var posMean, negMean [3]mat.VecDense
	for i := range pos {
		num.ColMean(&posMean[i], pos[i])
		num.ColMean(&negMean[i], neg[i])
	}
	n, m := float64(d.BatchSize), float64(d.NParticles)
	var gW [2]mat.Dense
	var gB [3]mat.VecDense
	for i := range gW {
		var negW mat.Dense
		gW[i].Mul(pos[i].T(), pos[i+1])
		gW[i].Scale(1/n, &gW[i])
		negW.Mul(neg[i].T(), neg[i+1])
		gW[i].Sub(&gW[i], scaled(1/m, &negW))
		if d.L2 > 0 {
			gW[i].Sub(&gW[i], scaled(d.L2, d.W[i]))
		}
	}
	for i := range gB {
		gB[i].SubVec(&posMean[i], &negMean[i])
	}

	// sparsity targets for each hidden layer
	for i := range d.Q {
		updateRunningMean(d.Q[i], &posMean[i+1], d.SparsityDamping)
		if d.SparsityCosts[i] > 0 {
			reg := num.Fill(d.Sizes[i+1], d.SparsityTargets[i])
			reg.SubVec(reg, d.Q[i])
			reg.ScaleVec(d.SparsityCosts[i], reg)
			gB[i+1].AddVec(&gB[i+1], reg)
			gW[i].RankOne(&gW[i], 1, &posMean[i], reg)
		}
	}

	for i := range d.W {
		d.DW[i].Scale(mom, d.DW[i])
		d.DW[i].Add(d.DW[i], scaled(lr, &gW[i]))
		d.W[i].Add(d.W[i], d.DW[i])
		num.MaxNorm(d.W[i], d.MaxNorm)
		if err := checkFinite(fmt.Sprintf("%s.W%d", d.Name, i+1), d.W[i], d.Epoch, d.Iter); err != nil {
			return mu, info, err
		}
	}
	for i := range d.B {
		d.DB[i].AddScaledVec(scaledVec(mom, d.DB[i]), lr, &gB[i])
		d.B[i].AddVec(d.B[i], d.DB[i])
		if err := checkFinite(fmt.Sprintf("%s.b%d", d.Name, i), d.B[i], d.Epoch, d.Iter); err != nil {
			return mu, info, err
		}
	}
	for i := range mu {
		if err := checkFinite(fmt.Sprintf("%s.mu%d", d.Name, i+1), mu[i], d.Epoch, d.Iter); err != nil {
			return mu, info, err
		}
	}
	return mu, info, nil
}

// entropy of independent Bernoulli units with the given probabilities, summed over each row
func entropy(p *mat.Dense) []float64 {
	var h mat.Dense
	h.Apply(func(i, j int, x float64) float64 {
		e := 0.0
		if x > 0 {
			e -= x * math.Log(x)
		}
		if x < 1 {
			e -= (1 - x) * math.Log1p(-x)
		}
		return e
	}, p)
	return num.RowSums(&h)
}
