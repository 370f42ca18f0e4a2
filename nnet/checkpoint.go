package nnet

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// Matrix is the serialised form of a dense matrix or vector.
type Matrix struct {
	Rows, Cols int
	Data       []float64
}

func fromDense(m *mat.Dense) Matrix {
	if m == nil || m.IsEmpty() {
		return Matrix{}
	}
	rows, cols := m.Dims()
	d := Matrix{Rows: rows, Cols: cols, Data: make([]float64, 0, rows*cols)}
	for i := 0; i < rows; i++ {
		d.Data = append(d.Data, m.RawRowView(i)...)
	}
	return d
}

func fromVec(v *mat.VecDense) []float64 {
	data := make([]float64, v.Len())
	for i := range data {
		data[i] = v.AtVec(i)
	}
	return data
}

// Dense converts back to a matrix, returning nil if empty.
func (m Matrix) Dense() *mat.Dense {
	if m.Rows == 0 || m.Cols == 0 {
		return nil
	}
	return mat.NewDense(m.Rows, m.Cols, append([]float64{}, m.Data...))
}

func toVec(data []float64, n int) (*mat.VecDense, error) {
	if len(data) != n {
		return nil, fmt.Errorf("%w: vector has %d values, expecting %d", ErrShape, len(data), n)
	}
	return mat.NewVecDense(n, append([]float64{}, data...)), nil
}

// RBMState is the checkpoint of an RBM including its training position and random state.
type RBMState struct {
	Config      RBMConfig
	W, DW       Matrix
	Vb, Hb      []float64
	DVb, DHb, Q []float64
	Epoch, Iter int
	Chain       Matrix
	RNG         []byte
}

// DBMState is the checkpoint of a DBM including the persistent particles.
type DBMState struct {
	Config      DBMConfig
	Sizes       [3]int
	W, DW       [2]Matrix
	B, DB       [3][]float64
	Q           [2][]float64
	Particles   [3]Matrix
	Epoch, Iter int
	RNG         []byte
}

// Save writes a checkpoint of the model to filePath. The file is written to a temporary file
// which is then renamed so the previous checkpoint stays valid until the new one is complete.
func (r *RBM) Save(filePath string) error {
	s := RBMState{
		Config: r.RBMConfig,
		W:      fromDense(r.W),
		DW:     fromDense(r.DW),
		Vb:     fromVec(r.Vb),
		Hb:     fromVec(r.Hb),
		DVb:    fromVec(r.DVb),
		DHb:    fromVec(r.DHb),
		Q:      fromVec(r.Q),
		Epoch:  r.Epoch,
		Iter:   r.Iter,
		Chain:  fromDense(r.chain),
	}
	var err error
	if s.RNG, err = r.src.MarshalBinary(); err != nil {
		return err
	}
	return saveGob(filePath, &s)
}

// LoadRBM restores an RBM from a checkpoint file.
func LoadRBM(filePath string) (*RBM, error) {
	var s RBMState
	if err := loadGob(filePath, &s); err != nil {
		return nil, err
	}
	r, err := NewRBM(s.Config)
	if err != nil {
		return nil, err
	}
	nv, nh := s.Config.NVisible, s.Config.NHidden
	if s.W.Rows != nv || s.W.Cols != nh || s.DW.Rows != nv || s.DW.Cols != nh {
		return nil, fmt.Errorf("%w: checkpoint weights %dx%d, expecting %dx%d", ErrShape, s.W.Rows, s.W.Cols, nv, nh)
	}
	r.W, r.DW = s.W.Dense(), s.DW.Dense()
	for _, v := range []struct {
		dst  **mat.VecDense
		data []float64
		n    int
	}{{&r.Vb, s.Vb, nv}, {&r.Hb, s.Hb, nh}, {&r.DVb, s.DVb, nv}, {&r.DHb, s.DHb, nh}, {&r.Q, s.Q, nh}} {
		if *v.dst, err = toVec(v.data, v.n); err != nil {
			return nil, err
		}
	}
	r.Epoch, r.Iter = s.Epoch, s.Iter
	r.chain = s.Chain.Dense()
	if err = r.src.UnmarshalBinary(s.RNG); err != nil {
		return nil, err
	}
	return r, nil
}

// Save writes a checkpoint of the model to filePath, replacing any previous file atomically.
func (d *DBM) Save(filePath string) error {
	s := DBMState{Config: d.DBMConfig, Sizes: d.Sizes, Epoch: d.Epoch, Iter: d.Iter}
	for i := range d.W {
		s.W[i], s.DW[i] = fromDense(d.W[i]), fromDense(d.DW[i])
		s.Q[i] = fromVec(d.Q[i])
	}
	for i := range d.B {
		s.B[i], s.DB[i] = fromVec(d.B[i]), fromVec(d.DB[i])
		s.Particles[i] = fromDense(d.Particles[i])
	}
	var err error
	if s.RNG, err = d.src.MarshalBinary(); err != nil {
		return err
	}
	return saveGob(filePath, &s)
}

// LoadDBM restores a DBM from a checkpoint file.
func LoadDBM(filePath string) (*DBM, error) {
	var s DBMState
	if err := loadGob(filePath, &s); err != nil {
		return nil, err
	}
	if err := s.Config.Validate(); err != nil {
		return nil, err
	}
	d := &DBM{DBMConfig: s.Config, Sizes: s.Sizes, Epoch: s.Epoch, Iter: s.Iter}
	d.rng, d.src = NewRNG(s.Config.RandSeed)
	var err error
	for i := range d.W {
		if s.W[i].Rows != s.Sizes[i] || s.W[i].Cols != s.Sizes[i+1] {
			return nil, fmt.Errorf("%w: checkpoint W%d is %dx%d", ErrShape, i+1, s.W[i].Rows, s.W[i].Cols)
		}
		if s.DW[i].Rows != s.Sizes[i] || s.DW[i].Cols != s.Sizes[i+1] {
			return nil, fmt.Errorf("%w: checkpoint DW%d is %dx%d", ErrShape, i+1, s.DW[i].Rows, s.DW[i].Cols)
		}
		d.W[i], d.DW[i] = s.W[i].Dense(), s.DW[i].Dense()
		if d.Q[i], err = toVec(s.Q[i], s.Sizes[i+1]); err != nil {
			return nil, err
		}
	}
	for i := range d.B {
		if d.B[i], err = toVec(s.B[i], s.Sizes[i]); err != nil {
			return nil, err
		}
		if d.DB[i], err = toVec(s.DB[i], s.Sizes[i]); err != nil {
			return nil, err
		}
		p := s.Particles[i]
		if p.Rows != s.Config.NParticles || p.Cols != s.Sizes[i] {
			return nil, fmt.Errorf("%w: checkpoint particles for layer %d are %dx%d", ErrShape, i, p.Rows, p.Cols)
		}
		d.Particles[i] = p.Dense()
	}
	if err = d.src.UnmarshalBinary(s.RNG); err != nil {
		return nil, err
	}
	return d, nil
}

func saveGob(filePath string, v interface{}) error {
	tmp := filepath.Join(filepath.Dir(filePath), "."+filepath.Base(filePath)+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err = gob.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("error encoding %s: %w", filePath, err)
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}

func loadGob(filePath string, v interface{}) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err = gob.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("error decoding %s: %w", filePath, err)
	}
	return nil
}
