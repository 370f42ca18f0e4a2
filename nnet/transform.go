package nnet

import (
	"fmt"

	"github.com/finderp/boltzmann-machines/num"
	"gonum.org/v1/gonum/mat"
)

// Transformer maps input samples to activation probabilities of a trained model.
type Transformer interface {
	Transform(X *mat.Dense) (*mat.Dense, error)
}

// Extract runs the transformer over X in chunks of batchSize rows and returns the combined
// output, which is used as the training input for the next layer. A batchSize <= 0 processes
// all rows at once.
func Extract(t Transformer, X *mat.Dense, batchSize int) (*mat.Dense, error) {
	rows, _ := X.Dims()
	if batchSize <= 0 || batchSize > rows {
		batchSize = rows
	}
	var out *mat.Dense
	for start := 0; start < rows; start += batchSize {
		end := min(start+batchSize, rows)
		y, err := t.Transform(X.Slice(start, end, 0, X.RawMatrix().Cols).(*mat.Dense))
		if err != nil {
			return nil, err
		}
		if out == nil {
			_, cols := y.Dims()
			out = mat.NewDense(rows, cols, nil)
		}
		out.Slice(start, end, 0, out.RawMatrix().Cols).(*mat.Dense).Copy(y)
	}
	if out != nil && !num.InRange(out, 0, 1) {
		return nil, fmt.Errorf("transform output outside range [0,1]")
	}
	return out, nil
}
