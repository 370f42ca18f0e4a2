package main

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/finderp/boltzmann-machines/nnet"
	"gonum.org/v1/gonum/mat"
)

// each sample is filled with its own index / n so rows can be traced after shuffling
func indexData(n, features int) *nnet.Data {
	X := mat.NewDense(n, features, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < features; j++ {
			X.Set(i, j, float64(i)/float64(n))
		}
	}
	return nnet.NewData(X)
}

func TestSplitData(t *testing.T) {
	const n, nTrain, nVal, batch = 120, 118, 2, 24
	d := indexData(n, 3)
	Xall, X, Xval, err := splitData(d, nTrain, nVal, rand.New(rand.NewPCG(42, 42)))
	if err != nil {
		t.Fatal(err)
	}
	if rows, _ := Xall.Dims(); rows != nTrain+nVal {
		t.Fatal("combined rows", rows)
	}
	if !mat.Equal(Xall.Slice(0, nTrain, 0, 3), X) || !mat.Equal(Xall.Slice(nTrain, n, 0, 3), Xval) {
		t.Error("combined set is not training rows followed by validation rows")
	}
	seen := map[float64]bool{}
	for i := 0; i < n; i++ {
		seen[Xall.At(i, 0)] = true
	}
	if len(seen) != n {
		t.Error("samples repeated or lost by the split:", len(seen))
	}
	if d.Inputs[3] != 1.0/n {
		t.Error("input data was modified")
	}
	// pretraining uses the combined rows, which divide into batches when the training rows alone do not
	if _, err := nnet.NewDataset(Xall, batch, true, nil); err != nil {
		t.Error("combined set:", err)
	}
	if _, err := nnet.NewDataset(X, batch, true, nil); !errors.Is(err, nnet.ErrBatchSize) {
		t.Error("expecting ErrBatchSize for training rows, got", err)
	}
	if _, _, _, err := splitData(d, nTrain, 3, rand.New(rand.NewPCG(1, 1))); err == nil {
		t.Error("expecting error when requesting more samples than available")
	}
}

func TestRBM2Stage(t *testing.T) {
	base := nnet.DefaultRBMConfig(8, 4)
	base.LearningRate = nnet.Const(0.01)
	base.Momentum = nnet.Repeat(0.5, 5, 0.9)
	base.MaxEpoch = 50
	for _, test := range []struct {
		epoch, k, maxEpoch int
		lr                 float64
	}{{0, 1, 20, 0.01}, {7, 1, 20, 0.01}, {20, 2, 40, 0.005}, {39, 2, 40, 0.005}, {45, 3, 50, 0.01 / 3}} {
		conf := rbm2Stage(base, test.epoch, 20)
		t.Logf("epoch %d: k=%s lr=%s momentum=%s max=%d", test.epoch, conf.NGibbsSteps, conf.LearningRate, conf.Momentum, conf.MaxEpoch)
		if conf.NGibbsSteps.Int(0) != test.k || conf.MaxEpoch != test.maxEpoch || conf.LearningRate.At(0) != test.lr {
			t.Errorf("epoch %d: got k=%d max=%d lr=%g", test.epoch, conf.NGibbsSteps.Int(0), conf.MaxEpoch, conf.LearningRate.At(0))
		}
		first := test.k == 1
		if first && conf.Momentum.At(2) != 0.5 {
			t.Errorf("epoch %d: first stage should keep the momentum schedule", test.epoch)
		}
		if !first && (conf.Momentum.Kind != nnet.Constant || conf.Momentum.Value != 0.9) {
			t.Errorf("epoch %d: momentum %s", test.epoch, conf.Momentum)
		}
	}
}
