package nnet

import (
	"encoding/json"
	"math"
	"testing"
)

func TestParamAt(t *testing.T) {
	c := Const(0.5)
	for _, epoch := range []int{-1, 0, 10, 1000} {
		if c.At(epoch) != 0.5 {
			t.Errorf("constant at epoch %d: %g", epoch, c.At(epoch))
		}
	}
	s := Seq(0.1, 0.2, 0.3)
	for epoch, expect := range map[int]float64{-5: 0.1, 0: 0.1, 1: 0.2, 2: 0.3, 3: 0.3, 99: 0.3} {
		if got := s.At(epoch); got != expect {
			t.Errorf("sequence at epoch %d: got %g expect %g", epoch, got, expect)
		}
	}
	r := Repeat(1, 2, 2, 3)
	if r.Int(0) != 1 || r.Int(1) != 1 || r.Int(2) != 2 || r.Int(10) != 3 {
		t.Error("repeat:", r)
	}
	if got := s.Scale(10).At(1); math.Abs(got-2) > eps {
		t.Error("scale:", got)
	}
}

func TestGeom(t *testing.T) {
	g := Geom(5e-4, 1e-5, 200)
	t.Log(g)
	if g.At(0) != 5e-4 || g.At(199) != 1e-5 || g.At(500) != 1e-5 {
		t.Error("endpoints:", g.At(0), g.At(199))
	}
	ratio := g.At(1) / g.At(0)
	for i := 2; i < 200; i++ {
		if math.Abs(g.At(i)/g.At(i-1)-ratio) > 1e-9 {
			t.Fatalf("ratio at %d not constant", i)
		}
	}
	m := Geom(0.5, 0.9, 8)
	if math.Abs(m.At(4)-0.5*math.Pow(1.8, 4.0/7)) > eps {
		t.Error("geom momentum:", m.At(4))
	}
}

func TestParamJSON(t *testing.T) {
	var conf struct{ A, B, C Param }
	data := `{"A": 0.01, "B": [1, 2, 3], "C": {"geom": [0.5, 0.9, 8]}}`
	if err := json.Unmarshal([]byte(data), &conf); err != nil {
		t.Fatal(err)
	}
	if conf.A.Kind != Constant || conf.A.At(3) != 0.01 {
		t.Error("A:", conf.A)
	}
	if conf.B.Kind != Schedule || conf.B.Int(1) != 2 {
		t.Error("B:", conf.B)
	}
	if len(conf.C.Values) != 8 || conf.C.At(7) != 0.9 {
		t.Error("C:", conf.C)
	}
	out, err := json.Marshal(conf)
	if err != nil {
		t.Fatal(err)
	}
	t.Log(string(out))
	for _, bad := range []string{`{"A": []}`, `{"A": {"geom": [1, 2]}}`, `{"A": "x"}`} {
		if err := json.Unmarshal([]byte(bad), &conf); err == nil {
			t.Error("expecting error for", bad)
		}
	}
}

func TestParseParam(t *testing.T) {
	p, err := ParseParam("0.1")
	if err != nil || p.Kind != Constant || p.Value != 0.1 {
		t.Error("constant:", p, err)
	}
	p, err = ParseParam("1, 2,3")
	if err != nil || p.Kind != Schedule || p.Int(2) != 3 {
		t.Error("sequence:", p, err)
	}
	p, err = ParseParam("geom:0.5:0.9:8")
	if err != nil || len(p.Values) != 8 {
		t.Error("geom:", p, err)
	}
	for _, bad := range []string{"", "a", "geom:1:2", "geom:-1:2:3"} {
		if _, err := ParseParam(bad); err == nil {
			t.Error("expecting error for", bad)
		}
	}
}

func TestConfigSetString(t *testing.T) {
	conf, err := DefaultDBMConfig().SetString("LearningRate", "geom:5e-4:1e-5:200")
	if err != nil {
		t.Fatal(err)
	}
	if conf, err = conf.SetString("SparsityTargets", "0.2,0.1"); err != nil {
		t.Fatal(err)
	}
	if conf, err = conf.SetString("SampleHStates", "false"); err != nil {
		t.Fatal(err)
	}
	if len(conf.LearningRate.Values) != 200 || conf.SparsityTargets != [2]float64{0.2, 0.1} || conf.SampleHStates[1] {
		t.Error(conf)
	}
	if _, err := conf.SetString("Unknown", "1"); err == nil {
		t.Error("expecting error for unknown field")
	}
	rconf := DefaultRBMConfig(4, 4)
	rconf.DBMFirst, rconf.DBMLast = true, true
	if rconf.Validate() == nil {
		t.Error("expecting error for DBMFirst and DBMLast")
	}
}
