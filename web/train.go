package web

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/finderp/boltzmann-machines/nnet"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/vgsvg"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type TrainPage struct {
	*Templates
	mon *Monitor
}

// Base data for handler functions to perform training and display the stats
func NewTrainPage(t *Templates, mon *Monitor) *TrainPage {
	p := &TrainPage{mon: mon}
	p.Templates = t.Select("/train")
	p.AddOption(Link{Name: "start", Url: "/train/start"})
	p.AddOption(Link{Name: "stop", Url: "/train/stop"})
	return p
}

// Handler function for the train template
func (p *TrainPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := mux.Vars(r)["cmd"]
		p.mon.Lock()
		defer p.mon.Unlock()
		switch cmd {
		case "start":
			p.mon.Start()
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		case "stop":
			p.mon.Stop()
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		default:
			p.Heading = p.mon.heading()
			p.Toplevel = true
			p.Exec(w, "train", p)
		}
	}
}

// Handler function for the stats frame
func (p *TrainPage) Stats() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		defer p.mon.Unlock()
		p.Toplevel = false
		p.Exec(w, "stats", p)
	}
}

// Handler function for websocket connection
func (p *TrainPage) Websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("websocket upgrade:", err)
			return
		}
		p.mon.Lock()
		if p.mon.conn != nil {
			p.mon.conn.Close()
		}
		p.mon.conn = conn
		p.mon.Unlock()
	}
}

func (p *TrainPage) Headers() []string {
	return nnet.DBMHeaders
}

// LatestStats returns up to n entries, most recent first.
func (p *TrainPage) LatestStats(n int) []nnet.Stats {
	all := p.mon.History.Stats
	res := []nnet.Stats{}
	for i := len(all) - 1; i >= 0 && i >= len(all)-n; i-- {
		res = append(res, all[i])
	}
	return res
}

func (p *TrainPage) RunTime() string {
	s, ok := p.mon.History.Last()
	if !ok {
		return ""
	}
	msg := fmt.Sprintf("run time: %s  smoothed msre: %.4f", s.Elapsed.Round(10*time.Millisecond), float64(p.mon.Smooth))
	if p.mon.Err != nil {
		msg += "  error: " + p.mon.Err.Error()
	}
	return msg
}

func (p *TrainPage) ErrorPlot(width, height int) template.HTML {
	return writePlot(HistoryPlot(p.mon.History, "msre", "val msre"), width, height)
}

func (p *TrainPage) ELBOPlot(width, height int) template.HTML {
	return writePlot(HistoryPlot(p.mon.History, "val elbo"), width, height)
}

// HistoryPlot returns a plot with a line for each of the named stats against epoch.
func HistoryPlot(hist *nnet.History, keys ...string) *plot.Plot {
	plt := newPlot()
	for i, key := range keys {
		x, y := hist.Series(key)
		if len(x) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(x))
		for j := range pts {
			pts[j].X, pts[j].Y = x[j], y[j]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			log.Println("plot error:", err)
			continue
		}
		line.Width = 2
		line.Color = plotutil.Color(i)
		plt.Add(line)
		plt.Legend.Add(key+" ", line)
	}
	return plt
}

func newPlot() *plot.Plot {
	p := plot.New()
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Label.Text = "epoch"
	p.Legend.Top = true
	p.Add(plotter.NewGrid())
	return p
}

func writePlot(p *plot.Plot, w, h int) template.HTML {
	var buf bytes.Buffer
	writer, err := p.WriterTo(vg.Inch*vg.Length(w)/vgsvg.DPI, vg.Inch*vg.Length(h)/vgsvg.DPI, "svg")
	if err != nil {
		log.Println("error writing plot:", err)
		return ""
	}
	if _, err = writer.WriteTo(&buf); err != nil {
		log.Println("error writing plot:", err)
		return ""
	}
	return template.HTML(buf.String())
}
