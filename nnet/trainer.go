package nnet

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Model is implemented by the RBM and DBM types.
type Model interface {
	Transformer
	Save(filePath string) error
}

// Stats holds the training statistics recorded at the end of each epoch.
type Stats struct {
	Epoch   int
	Headers []string
	Values  []float64
	Elapsed time.Duration
}

// Get returns the value with the given header, or NaN if not present.
func (s Stats) Get(key string) float64 {
	for i, h := range s.Headers {
		if h == key && i < len(s.Values) {
			return s.Values[i]
		}
	}
	return math.NaN()
}

// Format returns the formatted values.
func (s Stats) Format() []string {
	str := make([]string, len(s.Values))
	for i, v := range s.Values {
		switch {
		case math.IsNaN(v):
			str[i] = "     -"
		case v != 0 && (math.Abs(v) < 1e-3 || math.Abs(v) >= 1e4):
			str[i] = fmt.Sprintf("%.3e", v)
		default:
			str[i] = fmt.Sprintf("%7.4f", v)
		}
	}
	return str
}

func (s Stats) String() string {
	msg := fmt.Sprintf("epoch %3d:", s.Epoch)
	for i, val := range s.Format() {
		msg += fmt.Sprintf("  %s =%s", s.Headers[i], val)
	}
	return msg
}

// Tester interface to evaluate the model after each epoch, Test method returns true if training should stop.
type Tester interface {
	Test(m Model, s Stats) bool
}

// History is a Tester which records the stats for each epoch.
type History struct {
	Stats []Stats
}

// NewHistory creates a new empty history.
func NewHistory() *History {
	return &History{Stats: []Stats{}}
}

// Reset stats prior to new run
func (h *History) Reset() {
	h.Stats = h.Stats[:0]
}

// Test appends the stats for this epoch.
func (h *History) Test(m Model, s Stats) bool {
	h.Stats = append(h.Stats, s)
	return false
}

// Last returns the most recent stats entry.
func (h *History) Last() (Stats, bool) {
	if len(h.Stats) == 0 {
		return Stats{}, false
	}
	return h.Stats[len(h.Stats)-1], true
}

// Series returns the epoch numbers and values for the given header.
func (h *History) Series(key string) (x, y []float64) {
	for _, s := range h.Stats {
		if v := s.Get(key); !math.IsNaN(v) {
			x = append(x, float64(s.Epoch))
			y = append(y, v)
		}
	}
	return x, y
}

type testLogger struct {
	*History
	logEvery int
	maxEpoch int
}

// NewTestLogger creates a new tester which logs stats to stdout every logEvery epochs.
func NewTestLogger(logEvery, maxEpoch int) Tester {
	return testLogger{History: NewHistory(), logEvery: logEvery, maxEpoch: maxEpoch}
}

func (t testLogger) Test(m Model, s Stats) bool {
	t.History.Test(m, s)
	done := s.Epoch >= t.maxEpoch
	if done || t.logEvery == 0 || s.Epoch%t.logEvery == 0 {
		fmt.Println(s)
	}
	if done {
		fmt.Printf("run time: %s\n", s.Elapsed.Round(10*time.Millisecond))
	}
	return false
}

// Testers combines multiple testers, training stops if any of them returns true.
type Testers []Tester

func (ts Testers) Test(m Model, s Stats) bool {
	done := false
	for _, t := range ts {
		if t != nil && t.Test(m, s) {
			done = true
		}
	}
	return done
}

// mean squared difference between two matrices
func msre(a, b mat.Matrix) float64 {
	rows, cols := a.Dims()
	var d mat.Dense
	d.Sub(a, b)
	d.MulElem(&d, &d)
	return mat.Sum(&d) / float64(rows*cols)
}

