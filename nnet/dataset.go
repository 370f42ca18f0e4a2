package nnet

import (
	"encoding/gob"
	"fmt"
	"iter"
	"math/rand/v2"
	"os"
	"path"

	"github.com/finderp/boltzmann-machines/num"
	"gonum.org/v1/gonum/mat"
)

// Data holds a set of samples normalised to the range [0,1] stored row wise, with optional
// class labels. Dims is the shape of a single sample, e.g. height, width for an image.
type Data struct {
	Dims   []int
	Inputs []float64
	Labels []int32
}

// NewData creates a data set from a matrix with one sample per row.
func NewData(X mat.Matrix, dims ...int) *Data {
	rows, cols := X.Dims()
	if len(dims) == 0 {
		dims = []int{cols}
	}
	if num.Prod(dims) != cols {
		panic(fmt.Sprintf("NewData: shape %v does not match %d features", dims, cols))
	}
	d := &Data{Dims: dims, Inputs: make([]float64, rows*cols)}
	for i := 0; i < rows; i++ {
		mat.Row(d.Inputs[i*cols:(i+1)*cols], i, X)
	}
	return d
}

// Len returns the number of samples.
func (d *Data) Len() int { return len(d.Inputs) / d.Features() }

// Features returns the number of values in each sample.
func (d *Data) Features() int { return num.Prod(d.Dims) }

// Matrix returns the samples as a matrix with one sample per row, sharing the data.
func (d *Data) Matrix() *mat.Dense {
	return mat.NewDense(d.Len(), d.Features(), d.Inputs)
}

// Slice returns samples from start to end.
func (d *Data) Slice(start, end int) *Data {
	nfeat := d.Features()
	res := &Data{Dims: d.Dims, Inputs: d.Inputs[start*nfeat : end*nfeat]}
	if d.Labels != nil {
		res.Labels = d.Labels[start:end]
	}
	return res
}

// Shuffle permutes the samples in place.
func (d *Data) Shuffle(rng *rand.Rand) {
	nfeat := d.Features()
	tmp := make([]float64, nfeat)
	rng.Shuffle(d.Len(), func(i, j int) {
		copy(tmp, d.Inputs[i*nfeat:(i+1)*nfeat])
		copy(d.Inputs[i*nfeat:(i+1)*nfeat], d.Inputs[j*nfeat:(j+1)*nfeat])
		copy(d.Inputs[j*nfeat:(j+1)*nfeat], tmp)
		if d.Labels != nil {
			d.Labels[i], d.Labels[j] = d.Labels[j], d.Labels[i]
		}
	})
}

// Validate checks the inputs are normalised to [0,1].
func (d *Data) Validate() error {
	if len(d.Dims) == 0 || len(d.Inputs)%d.Features() != 0 {
		return fmt.Errorf("invalid data shape %v with %d values", d.Dims, len(d.Inputs))
	}
	for i, x := range d.Inputs {
		if !(x >= 0 && x <= 1) {
			return fmt.Errorf("input %d value %g outside range [0,1]", i, x)
		}
	}
	return nil
}

// LoadDataFile decodes data from file in gob format under DataDir.
func LoadDataFile(name string) (*Data, error) {
	f, err := os.Open(path.Join(DataDir, name+".dat"))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fmt.Printf("loading data from %s.dat:\t", name)
	d := new(Data)
	if err = gob.NewDecoder(f).Decode(d); err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", name, err)
	}
	fmt.Println(append([]int{d.Len()}, d.Dims...))
	return d, d.Validate()
}

// SaveDataFile encodes data in gob format and saves it to a file under DataDir.
func SaveDataFile(d *Data, name string) error {
	f, err := os.Create(path.Join(DataDir, name+".dat"))
	if err != nil {
		return err
	}
	fmt.Println("saving data to", name+".dat")
	if err = gob.NewEncoder(f).Encode(d); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// FileExists checks if a file exists under DataDir.
func FileExists(name string) bool {
	_, err := os.Stat(path.Join(DataDir, name))
	return err == nil
}

// Dataset splits a sample matrix into fixed size minibatches.
type Dataset struct {
	X         *mat.Dense
	Samples   int
	BatchSize int
	Batches   int
	Shuffle   bool
	indexes   []int
	rng       *rand.Rand
}

// NewDataset creates a new dataset. The batch size must evenly divide the number of samples.
func NewDataset(X *mat.Dense, batchSize int, shuffle bool, rng *rand.Rand) (*Dataset, error) {
	n, _ := X.Dims()
	if batchSize < 1 || n%batchSize != 0 {
		return nil, fmt.Errorf("%w: %d samples, batch size %d", ErrBatchSize, n, batchSize)
	}
	d := &Dataset{X: X, Samples: n, BatchSize: batchSize, Batches: n / batchSize, Shuffle: shuffle, rng: rng}
	d.indexes = make([]int, n)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	return d, nil
}

// Epoch returns the sequence of minibatch sample indexes for one pass over the data.
// The order is fixed when the sequence is created.
func (d *Dataset) Epoch() iter.Seq[[]int] {
	if d.Shuffle {
		d.indexes = d.rng.Perm(d.Samples)
	}
	index := append([]int{}, d.indexes...)
	return func(yield func([]int) bool) {
		for start := 0; start < d.Samples; start += d.BatchSize {
			if !yield(index[start : start+d.BatchSize]) {
				return
			}
		}
	}
}

// Batch copies the rows with the given indexes into dst, which must have len(index) rows.
func (d *Dataset) Batch(dst *mat.Dense, index []int) *mat.Dense {
	for i, ix := range index {
		dst.SetRow(i, d.X.RawRowView(ix))
	}
	return dst
}
