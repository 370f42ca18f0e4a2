// Package stats contains running statistics used to summarise training metrics.
package stats

import (
	"fmt"
	"html/template"
	"math"
)

// EMA is an exponential moving average over a window of roughly n values.
type EMA float64

// Add returns the updated average, the first value initialises it.
func (e EMA) Add(val, n float64) float64 {
	if e == 0 || math.IsNaN(float64(e)) {
		return val
	}
	k := 2.0 / (n + 1.0)
	return val*k + float64(e)*(1-k)
}

// Average is a running mean and stddev as per http://www.johndcook.com/blog/standard_deviation/
type Average struct {
	Count, Mean float64
	Var, StdDev float64
	oldM, oldV  float64
}

// Add a new value.
func (s *Average) Add(x float64) {
	s.Count++
	if s.Count == 1 {
		s.oldM, s.Mean = x, x
		s.oldV = 0
		return
	}
	s.Mean = s.oldM + (x-s.oldM)/s.Count
	s.Var = s.oldV + (x-s.oldM)*(x-s.Mean)
	s.oldM, s.oldV = s.Mean, s.Var
	s.StdDev = math.Sqrt(s.Var / (s.Count - 1))
}

// Of returns the average of the values in x.
func Of(x []float64) Average {
	var s Average
	for _, v := range x {
		s.Add(v)
	}
	return s
}

func (s Average) String() string {
	if s.Count < 2 {
		return fmt.Sprintf("%.4g", s.Mean)
	}
	return fmt.Sprintf("%.4g ± %.2g", s.Mean, s.StdDev)
}

// HTML formats the mean with the stddev if it is significant.
func (s *Average) HTML() template.HTML {
	var text string
	prec := 2
	if math.Abs(s.Mean) > 10 {
		prec = 1
	}
	if s.StdDev < math.Pow(10, -float64(prec)) {
		text = fmt.Sprintf("%.*f", prec, s.Mean)
	} else {
		text = fmt.Sprintf("%.*f&PlusMinus;%.*f", prec, s.Mean, prec, s.StdDev)
	}
	return template.HTML(text)
}
