package stats

import (
	"math"
	"testing"
)

func TestAverage(t *testing.T) {
	s := Of([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	t.Log(s)
	if s.Count != 8 || s.Mean != 5 {
		t.Error("mean:", s.Mean)
	}
	if expect := math.Sqrt(32.0 / 7); math.Abs(s.StdDev-expect) > 1e-12 {
		t.Error("stddev:", s.StdDev, expect)
	}
	if h := string(s.HTML()); h != "5.00&PlusMinus;2.14" {
		t.Error("html:", h)
	}
	one := Of([]float64{-120.5})
	if h := string(one.HTML()); h != "-120.5" {
		t.Error("html:", h)
	}
}

func TestEMA(t *testing.T) {
	var e EMA
	e = EMA(e.Add(10, 3))
	if e != 10 {
		t.Error("first value:", e)
	}
	e = EMA(e.Add(20, 3))
	if e != 15 {
		t.Error("second value:", e)
	}
}
