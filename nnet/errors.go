package nnet

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/finderp/boltzmann-machines/num"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrBatchSize is returned if the batch size does not evenly divide the number of samples.
	ErrBatchSize = errors.New("batch size must evenly divide the number of samples")
	// ErrShape is returned if adjacent layer sizes do not agree.
	ErrShape = errors.New("layer sizes do not match")
	// ErrConfig is returned for an invalid configuration setting.
	ErrConfig = errors.New("invalid config")
)

// NumericalError reports a NaN or Inf value found after a parameter update. Training
// is stopped: the last saved checkpoint is the recovery point.
type NumericalError struct {
	Name     string
	Epoch    int
	Iter     int
	Row, Col int
	Value    float64
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("non finite value %g in %s[%d,%d] at epoch %d iter %d", e.Value, e.Name, e.Row, e.Col, e.Epoch, e.Iter)
}

func checkFinite(name string, m mat.Matrix, epoch, iter int) error {
	if i, j, ok := num.Finite(m); !ok {
		return &NumericalError{Name: name, Epoch: epoch, Iter: iter, Row: i, Col: j, Value: m.At(i, j)}
	}
	return nil
}

// NewRNG returns a new random number generator with the given seed, or a time based seed if seed <= 0.
func NewRNG(seed int64) (*rand.Rand, *rand.PCG) {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	src := rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)
	return rand.New(src), src
}

// CheckErr exits in case of error.
func CheckErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
