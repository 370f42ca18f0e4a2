// The dbm_mnist command pretrains two RBMs on MNIST, jointly trains a two layer DBM, estimates
// its log partition function with AIS and saves generated samples and training curves.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"path"

	"github.com/finderp/boltzmann-machines/img"
	"github.com/finderp/boltzmann-machines/nnet"
	"github.com/finderp/boltzmann-machines/stats"
	"github.com/finderp/boltzmann-machines/web"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/vg"
)

const (
	model = "dbm_mnist"
	rows  = 10
	cols  = 10
)

var (
	nTrain, nVal  int
	increaseEvery int
	nBetas        int
	sampleSteps   int
	extractBatch  = 1000
)

func main() {
	log.SetFlags(0)
	conf1 := nnet.DefaultRBMConfig(784, 512)
	conf1.Name = model + "_rbm1"
	conf1.WInit = 0.001
	conf1.LearningRate = nnet.Const(0.05)
	conf1.Momentum = nnet.Repeat(0.5, 5, 0.9)
	conf1.MaxEpoch = 64
	conf1.BatchSize = 48
	conf1.L2 = 1e-3
	conf1.SampleVStates = true
	conf1.SparsityCost = 0
	conf1.DBMFirst = true
	conf1.TrainMetricsEvery = 500
	conf1.RandSeed = 1337

	conf2 := nnet.DefaultRBMConfig(512, 1024)
	conf2.Name = model + "_rbm2"
	conf2.WInit = 0.005
	conf2.LearningRate = nnet.Const(0.01)
	conf2.Momentum = nnet.Repeat(0.5, 5, 0.9)
	conf2.MaxEpoch = 120
	conf2.BatchSize = 48
	conf2.L2 = 2e-4
	conf2.SampleVStates = true
	conf2.SparsityCost = 0
	conf2.DBMLast = true
	conf2.TrainMetricsEvery = 2000
	conf2.RandSeed = 1111

	dconf := nnet.DefaultDBMConfig()
	dconf.Name = model
	dconf.MaxMFUpdates = 50
	dconf.LearningRate = nnet.Geom(5e-4, 1e-5, 200)
	dconf.Momentum = nnet.Geom(0.5, 0.9, 8)
	dconf.MaxEpoch = 500
	dconf.L2 = 1e-7
	dconf.MaxNorm = 8
	dconf.SampleVStates = true
	dconf.SparsityTargets = [2]float64{0.2, 0.1}
	dconf.SparsityCosts = [2]float64{1e-3, 1e-3}
	dconf.TrainMetricsEvery = 500
	dconf.ValMetricsEvery = 2
	dconf.RandSeed = 2222

	// settings from config files override the defaults, command line flags override both
	for name, conf := range map[string]interface{}{conf1.Name: &conf1, conf2.Name: &conf2, model: &dconf} {
		if nnet.FileExists(name + ".conf") {
			nnet.CheckErr(nnet.LoadConfig(name+".conf", conf))
		}
	}
	flag.IntVar(&nTrain, "n-train", 59000, "number of training samples")
	flag.IntVar(&nVal, "n-val", 1000, "number of validation samples")
	flag.IntVar(&conf1.MaxEpoch, "epochs1", conf1.MaxEpoch, "max epochs for RBM #1")
	flag.IntVar(&conf2.MaxEpoch, "epochs2", conf2.MaxEpoch, "max epochs for RBM #2")
	flag.IntVar(&dconf.MaxEpoch, "epochs", dconf.MaxEpoch, "max epochs for the DBM")
	flag.IntVar(&increaseEvery, "increase-gibbs-every", 20, "add a Gibbs step every n epochs for RBM #2")
	flag.IntVar(&dconf.NParticles, "particles", dconf.NParticles, "number of persistent chains")
	flag.IntVar(&dconf.NGibbsSteps, "gibbs", dconf.NGibbsSteps, "Gibbs steps per DBM update")
	flag.IntVar(&dconf.MaxMFUpdates, "mf-updates", dconf.MaxMFUpdates, "max mean field updates")
	flag.Float64Var(&dconf.MFTol, "mf-tol", dconf.MFTol, "mean field tolerance")
	flag.Float64Var(&dconf.L2, "l2", dconf.L2, "DBM weight decay")
	flag.Float64Var(&dconf.MaxNorm, "max-norm", dconf.MaxNorm, "DBM max column norm")
	flag.IntVar(&dconf.DebugLevel, "debug", dconf.DebugLevel, "debug logging level")
	flag.IntVar(&nBetas, "betas", 1000, "number of AIS temperatures, 0 to skip")
	flag.IntVar(&sampleSteps, "sample", 10, "Gibbs steps when generating samples")
	saveConf := flag.Bool("save", false, "save config files")
	flag.Parse()
	conf1.DebugLevel, conf2.DebugLevel = dconf.DebugLevel, dconf.DebugLevel
	conf1.ModelPath = modelPath(conf1.Name)
	conf2.ModelPath = modelPath(conf2.Name)
	dconf.ModelPath = modelPath(model)
	if *saveConf {
		nnet.CheckErr(conf1.Save(conf1.Name + ".conf"))
		nnet.CheckErr(conf2.Save(conf2.Name + ".conf"))
		nnet.CheckErr(dconf.Save(model + ".conf"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	train, err := nnet.LoadDataFile("mnist_train")
	nnet.CheckErr(err)
	Xall, X, Xval, err := splitData(train, nTrain, nVal, rand.New(rand.NewPCG(42, 42)))
	nnet.CheckErr(err)

	// the RBMs are pretrained on the training and validation samples together
	rbm1 := trainRBM1(ctx, conf1, Xall)
	fmt.Println("extracting features from RBM #1")
	Q, err := nnet.Extract(rbm1, Xall, extractBatch)
	nnet.CheckErr(err)

	rbm2 := trainRBM2(ctx, conf2, Q)
	fmt.Println("extracting features from RBM #2")
	Z, err := nnet.Extract(rbm2, Q, extractBatch)
	nnet.CheckErr(err)

	hist := nnet.NewHistory()
	dbm := trainDBM(ctx, dconf, [2]*nnet.RBM{rbm1, rbm2}, X, Xval, Q, Z, hist)
	fmt.Println(dbm.Sizes, "DBM trained to epoch", dbm.Epoch)

	if nBetas > 0 {
		res := dbm.LogZ(nBetas)
		fmt.Println(res)
		lp := stats.Of(dbm.LogProba(Xval, res.Estimate))
		fmt.Printf("validation log p(v) >= %s\n", lp)
		elbo := stats.Of(dbm.ELBO(Xval))
		fmt.Printf("validation ELBO = %s\n", elbo)
	}

	V := dbm.SampleV(sampleSteps)
	fmt.Printf("samples: mean %.4f sum %.1f\n", mat.Sum(V)/float64(len(V.RawMatrix().Data)), mat.Sum(V))
	saveTiles(V, model+"_samples.png")
	saveTiles(web.Filters(dbm.W[0], rows*cols), model+"_filters.png")
	if len(hist.Stats) > 0 {
		p := web.HistoryPlot(hist, "msre", "val msre")
		nnet.CheckErr(p.Save(6*vg.Inch, 4*vg.Inch, path.Join(nnet.DataDir, model+"_msre.png")))
	}
}

func modelPath(name string) string {
	return path.Join(nnet.DataDir, name+".gob")
}

// splitData shuffles the samples and returns the first nTrain as the training set and the last
// nVal as the validation set, plus both stacked together with the training rows first.
func splitData(d *nnet.Data, nTrain, nVal int, rng *rand.Rand) (Xall, X, Xval *mat.Dense, err error) {
	if nTrain < 1 || nVal < 1 || nTrain+nVal > d.Len() {
		return nil, nil, nil, fmt.Errorf("requested %d+%d samples but only %d available", nTrain, nVal, d.Len())
	}
	shuffled := &nnet.Data{Dims: d.Dims, Inputs: append([]float64{}, d.Inputs...)}
	shuffled.Shuffle(rng)
	X = shuffled.Slice(0, nTrain).Matrix()
	Xval = shuffled.Slice(d.Len()-nVal, d.Len()).Matrix()
	Xall = new(mat.Dense)
	Xall.Stack(X, Xval)
	return Xall, X, Xval, nil
}

// load checkpoint if present and continue training up to MaxEpoch
func trainRBM1(ctx context.Context, conf nnet.RBMConfig, X *mat.Dense) *nnet.RBM {
	var rbm *nnet.RBM
	var err error
	if nnet.FileExists(conf.Name + ".gob") {
		fmt.Println("loading RBM #1 from", conf.ModelPath)
		rbm, err = nnet.LoadRBM(conf.ModelPath)
		nnet.CheckErr(err)
		rbm.MaxEpoch = conf.MaxEpoch
	} else {
		rbm, err = nnet.NewRBM(conf)
		nnet.CheckErr(err)
	}
	fmt.Println("training RBM #1")
	nnet.CheckErr(rbm.Fit(ctx, X, nil))
	return rbm
}

// the number of Gibbs steps is increased by one every increaseEvery epochs, with the
// learning rate scaled down in proportion
func trainRBM2(ctx context.Context, conf nnet.RBMConfig, Q *mat.Dense) *nnet.RBM {
	var rbm *nnet.RBM
	var err error
	if nnet.FileExists(conf.Name + ".gob") {
		fmt.Println("loading RBM #2 from", conf.ModelPath)
		rbm, err = nnet.LoadRBM(conf.ModelPath)
		nnet.CheckErr(err)
	}
	for rbm == nil || rbm.Epoch < conf.MaxEpoch {
		epoch := 0
		if rbm != nil {
			epoch = rbm.Epoch
		}
		stage := rbm2Stage(conf, epoch, increaseEvery)
		fmt.Printf("training RBM #2 with %s Gibbs steps, learning rate %s\n", stage.NGibbsSteps, stage.LearningRate)
		next, err := nnet.NewRBM(stage)
		nnet.CheckErr(err)
		if rbm != nil {
			nnet.CheckErr(next.InitFrom(rbm))
		}
		rbm = next
		nnet.CheckErr(rbm.Fit(ctx, Q, nil))
		if ctx.Err() != nil || stage.MaxEpoch >= conf.MaxEpoch {
			break
		}
	}
	return rbm
}

// rbm2Stage returns the settings for the stage containing epoch: stage k runs k Gibbs steps at
// the base learning rate divided by k up to epoch k*every. Momentum keeps its schedule for the
// first stage and is 0.9 after.
func rbm2Stage(base nnet.RBMConfig, epoch, every int) nnet.RBMConfig {
	conf := base
	k := epoch/every + 1
	conf.MaxEpoch = min(k*every, base.MaxEpoch)
	conf.NGibbsSteps = nnet.Const(float64(k))
	conf.LearningRate = base.LearningRate.Scale(1 / float64(k))
	if k >= 2 {
		conf.Momentum = nnet.Const(0.9)
	}
	return conf
}

func trainDBM(ctx context.Context, conf nnet.DBMConfig, rbms [2]*nnet.RBM, X, Xval, Q, Z *mat.Dense, hist *nnet.History) *nnet.DBM {
	var dbm *nnet.DBM
	var err error
	if nnet.FileExists(model + ".gob") {
		fmt.Println("loading DBM from", conf.ModelPath)
		dbm, err = nnet.LoadDBM(conf.ModelPath)
		nnet.CheckErr(err)
		dbm.MaxEpoch = conf.MaxEpoch
	} else {
		dbm, err = nnet.NewDBM(rbms, conf)
		nnet.CheckErr(err)
		nnet.CheckErr(dbm.InitParticles(X, Q, Z))
	}
	fmt.Println("training DBM")
	logger := nnet.NewTestLogger(conf.LogEvery, conf.MaxEpoch)
	nnet.CheckErr(dbm.Fit(ctx, X, Xval, nnet.Testers{hist, logger}))
	return dbm
}

func saveTiles(X mat.Matrix, name string) {
	m, err := img.Tile(X, rows, cols, 28, 28)
	nnet.CheckErr(err)
	nnet.CheckErr(img.SavePNG(path.Join(nnet.DataDir, name), img.Scale(m, 2)))
	fmt.Println("saved", name)
}
