package web

import (
	"net/http"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// FiltersPage shows the first layer weights, one tile per hidden unit.
type FiltersPage struct {
	*Templates
	Rows, Cols int
	Scale      int
	mon        *Monitor
}

// Base data for handler functions to view the learned filters
func NewFiltersPage(t *Templates, mon *Monitor, scale, rows, cols int) *FiltersPage {
	return &FiltersPage{mon: mon, Templates: t.Select("/filters"), Scale: scale, Rows: rows, Cols: cols}
}

// Handler function for the main filters page
func (p *FiltersPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		defer p.mon.Unlock()
		p.Heading = p.mon.heading()
		p.Toplevel = true
		p.Exec(w, "filters", p)
	}
}

// Handler function to generate the filter image
func (p *FiltersPage) Image() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		filters := Filters(p.mon.filters, p.Rows*p.Cols)
		p.mon.Unlock()
		writeTiles(w, filters, p.Rows, p.Cols, p.mon.Dims, p.Scale, false)
	}
}

// Filters returns the first n columns of W as rows, each rescaled to the range [0,1].
func Filters(W mat.Matrix, n int) *mat.Dense {
	nv, nh := W.Dims()
	n = min(n, nh)
	res := mat.NewDense(n, nv, nil)
	for j := 0; j < n; j++ {
		row := res.RawRowView(j)
		mat.Col(row, j, W)
		lo, hi := floats.Min(row), floats.Max(row)
		if hi > lo {
			floats.AddConst(-lo, row)
			floats.Scale(1/(hi-lo), row)
		} else {
			for i := range row {
				row[i] = 0.5
			}
		}
	}
	return res
}
