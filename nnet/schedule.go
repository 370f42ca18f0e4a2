package nnet

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParamKind distinguishes constant and per-epoch hyperparameters.
type ParamKind int

const (
	Constant ParamKind = iota
	Schedule
)

// Param is a hyperparameter which is either a single constant value or a sequence
// of per-epoch values. Sequences are indexed by epoch and clamped at the ends.
type Param struct {
	Kind   ParamKind
	Value  float64
	Values []float64
}

// Const returns a constant hyperparameter.
func Const(x float64) Param {
	return Param{Kind: Constant, Value: x}
}

// Seq returns a hyperparameter with one value per epoch.
func Seq(values ...float64) Param {
	if len(values) == 0 {
		panic("Seq: empty sequence")
	}
	return Param{Kind: Schedule, Values: append([]float64{}, values...)}
}

// Repeat returns a sequence of n copies of x followed by the values in then.
func Repeat(x float64, n int, then ...float64) Param {
	values := make([]float64, 0, n+len(then))
	for i := 0; i < n; i++ {
		values = append(values, x)
	}
	return Seq(append(values, then...)...)
}

// Geom returns a sequence of n values spaced evenly on a log scale from start to end inclusive.
func Geom(start, end float64, n int) Param {
	if start <= 0 || end <= 0 || n < 1 {
		panic(fmt.Sprintf("Geom: invalid arguments %g %g %d", start, end, n))
	}
	values := make([]float64, n)
	if n == 1 {
		values[0] = start
		return Seq(values...)
	}
	ls, le := math.Log(start), math.Log(end)
	for i := range values {
		values[i] = math.Exp(ls + (le-ls)*float64(i)/float64(n-1))
	}
	values[0], values[n-1] = start, end
	return Seq(values...)
}

// At returns the effective value for the given zero based epoch.
func (p Param) At(epoch int) float64 {
	if p.Kind == Constant {
		return p.Value
	}
	if epoch < 0 {
		epoch = 0
	}
	if epoch >= len(p.Values) {
		epoch = len(p.Values) - 1
	}
	return p.Values[epoch]
}

// Int returns the effective value rounded to the nearest integer.
func (p Param) Int(epoch int) int {
	return int(math.Round(p.At(epoch)))
}

// Scale returns a copy of the parameter with every value multiplied by x.
func (p Param) Scale(x float64) Param {
	q := Param{Kind: p.Kind, Value: p.Value * x}
	for _, v := range p.Values {
		q.Values = append(q.Values, v*x)
	}
	return q
}

func (p Param) valid(lo, hi float64) bool {
	check := func(x float64) bool { return x >= lo && x <= hi }
	if p.Kind == Constant {
		return check(p.Value)
	}
	if len(p.Values) == 0 {
		return false
	}
	for _, v := range p.Values {
		if !check(v) {
			return false
		}
	}
	return true
}

func (p Param) String() string {
	if p.Kind == Constant {
		return strconv.FormatFloat(p.Value, 'g', -1, 64)
	}
	if len(p.Values) > 4 {
		return fmt.Sprintf("[%g %g ... %g](%d)", p.Values[0], p.Values[1], p.Values[len(p.Values)-1], len(p.Values))
	}
	return fmt.Sprint(p.Values)
}

// MarshalJSON encodes a constant as a number and a schedule as an array.
func (p Param) MarshalJSON() ([]byte, error) {
	if p.Kind == Constant {
		return json.Marshal(p.Value)
	}
	return json.Marshal(p.Values)
}

// UnmarshalJSON accepts a number, an array of numbers or {"geom": [start, end, n]}.
func (p *Param) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(s, "["):
		var values []float64
		if err := json.Unmarshal(data, &values); err != nil {
			return err
		}
		if len(values) == 0 {
			return fmt.Errorf("empty parameter schedule")
		}
		*p = Seq(values...)
	case strings.HasPrefix(s, "{"):
		var g struct{ Geom []float64 }
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		if len(g.Geom) != 3 || g.Geom[0] <= 0 || g.Geom[1] <= 0 || g.Geom[2] < 1 {
			return fmt.Errorf("invalid geometric schedule %v", g.Geom)
		}
		*p = Geom(g.Geom[0], g.Geom[1], int(g.Geom[2]))
	default:
		var x float64
		if err := json.Unmarshal(data, &x); err != nil {
			return err
		}
		*p = Const(x)
	}
	return nil
}

// ParseParam parses the command line form of a parameter: "0.1", "0.5,0.5,0.9" or "geom:0.5:0.9:8".
func ParseParam(s string) (Param, error) {
	if rest, ok := strings.CutPrefix(s, "geom:"); ok {
		f := strings.Split(rest, ":")
		if len(f) != 3 {
			return Param{}, fmt.Errorf("invalid geometric schedule %q", s)
		}
		start, err1 := strconv.ParseFloat(f[0], 64)
		end, err2 := strconv.ParseFloat(f[1], 64)
		n, err3 := strconv.Atoi(f[2])
		if err1 != nil || err2 != nil || err3 != nil || start <= 0 || end <= 0 || n < 1 {
			return Param{}, fmt.Errorf("invalid geometric schedule %q", s)
		}
		return Geom(start, end, n), nil
	}
	fields := strings.Split(s, ",")
	values := make([]float64, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Param{}, err
		}
		values[i] = x
	}
	if len(values) == 1 {
		return Const(values[0]), nil
	}
	return Seq(values...), nil
}
