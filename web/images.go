package web

import (
	"log"
	"net/http"
	"strconv"

	"github.com/finderp/boltzmann-machines/img"
	"github.com/gorilla/mux"
	"gonum.org/v1/gonum/mat"
)

const defaultSteps = 100

type SamplesPage struct {
	*Templates
	Rows, Cols int
	Scale      int
	Steps      int
	Invert     bool
	mon        *Monitor
}

// Base data for handler functions to view samples drawn from the model
func NewSamplesPage(t *Templates, mon *Monitor, scale, rows, cols int) *SamplesPage {
	p := &SamplesPage{mon: mon, Templates: t.Select("/samples"), Scale: scale, Rows: rows, Cols: cols}
	p.AddOption(Link{Name: "sample", Url: "/samples/sample"})
	p.AddOption(Link{Name: "invert", Url: "/samples/invert"})
	return p
}

// per user view settings
func (p *SamplesPage) settings(r *http.Request) (steps int, invert bool) {
	s := p.session(r)
	steps, invert = defaultSteps, false
	if v, ok := s.Values["steps"].(int); ok {
		steps = v
	}
	if v, ok := s.Values["invert"].(bool); ok {
		invert = v
	}
	return steps, invert
}

// Handler function for the main samples page
func (p *SamplesPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		defer p.mon.Unlock()
		p.Steps, p.Invert = p.settings(r)
		p.Heading = p.mon.heading()
		p.Toplevel = true
		p.Exec(w, "samples", p)
	}
}

// Set option from top menu
func (p *SamplesPage) Setopt() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		defer p.mon.Unlock()
		s := p.session(r)
		steps, invert := p.settings(r)
		switch mux.Vars(r)["opt"] {
		case "invert":
			s.Values["invert"] = !invert
		case "sample":
			if n, err := strconv.Atoi(r.FormValue("steps")); err == nil && n > 0 {
				steps = n
			}
			s.Values["steps"] = steps
			if p.mon.running {
				log.Println("skip sample - training is running")
			} else {
				p.mon.Sample(steps)
			}
		}
		if err := s.Save(r, w); err != nil {
			log.Println("error saving session:", err)
		}
		http.Redirect(w, r, "/samples", http.StatusFound)
	}
}

// Handler function to generate the image with the grid of samples
func (p *SamplesPage) Image() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		_, invert := p.settings(r)
		samples := p.mon.samples
		p.mon.Unlock()
		writeTiles(w, samples, p.Rows, p.Cols, p.mon.Dims, p.Scale, invert)
	}
}

func writeTiles(w http.ResponseWriter, X mat.Matrix, rows, cols int, dims [2]int, scale int, invert bool) {
	m, err := img.Tile(X, rows, cols, dims[0], dims[1])
	if err != nil {
		logError(w, err)
		return
	}
	if invert {
		m = img.Invert(m)
	}
	w.Header().Set("Content-type", "image/png")
	if err = img.WritePNG(w, img.Scale(m, scale)); err != nil {
		log.Println("error writing image:", err)
	}
}
