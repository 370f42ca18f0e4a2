// Package web has a web based interface to monitor DBM training and view samples.
package web

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"math"
	"strconv"
	"sync"

	"github.com/finderp/boltzmann-machines/nnet"
	"github.com/finderp/boltzmann-machines/stats"
	"github.com/gorilla/websocket"
	"gonum.org/v1/gonum/mat"
)

// Monitor runs DBM training in the background and holds a snapshot of its state which is
// updated between epochs. All fields are protected by the embedded mutex, and the DBM itself
// is only accessed from handlers when training is not running.
type Monitor struct {
	Model   string
	DBM     *nnet.DBM
	X, Xval *mat.Dense
	Dims    [2]int // width, height of a visible sample
	History *nnet.History
	Err     error
	Smooth  stats.EMA
	Epoch   int
	samples *mat.Dense
	filters *mat.Dense
	conn    *websocket.Conn
	cancel  context.CancelFunc
	running bool
	stop    bool
	done    chan struct{}
	sync.Mutex
}

// NewMonitor creates a new monitor for the given model and training data.
func NewMonitor(model string, dbm *nnet.DBM, X, Xval *mat.Dense, width, height int) *Monitor {
	return &Monitor{
		Model:   model,
		DBM:     dbm,
		X:       X,
		Xval:    Xval,
		Dims:    [2]int{width, height},
		History: nnet.NewHistory(),
		Epoch:   dbm.Epoch,
		samples: mat.DenseCopyOf(dbm.Particles[0]),
		filters: mat.DenseCopyOf(dbm.W[0]),
	}
}

// Running reports if training is in progress.
func (m *Monitor) Running() bool {
	m.Lock()
	defer m.Unlock()
	return m.running
}

// Start training in a new goroutine, unless already running. Must be called with the lock held.
func (m *Monitor) Start() {
	if m.running {
		log.Println("skip start - already running")
		return
	}
	if m.DBM.Epoch >= m.DBM.MaxEpoch {
		log.Println("skip start - reached max epoch")
		return
	}
	log.Printf("train %s: epoch %d/%d\n", m.Model, m.DBM.Epoch, m.DBM.MaxEpoch)
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel, m.running, m.stop, m.Err = cancel, true, false, nil
	m.done = make(chan struct{})
	go func() {
		err := m.DBM.Fit(ctx, m.X, m.Xval, m)
		m.Lock()
		m.running = false
		m.stop = false
		if err != nil && err != context.Canceled {
			m.Err = err
		}
		close(m.done)
		m.Unlock()
		log.Println("train: end", err)
	}()
}

// Stop training at the end of the current epoch. Must be called with the lock held.
func (m *Monitor) Stop() {
	if m.running {
		m.stop = true
		m.cancel()
	}
}

// Wait blocks until the current training run has finished.
func (m *Monitor) Wait() {
	m.Lock()
	done := m.done
	m.Unlock()
	if done != nil {
		<-done
	}
}

// Test is called by the trainer at the end of each epoch.
func (m *Monitor) Test(model nnet.Model, s nnet.Stats) bool {
	m.Lock()
	m.History.Test(model, s)
	if msre := s.Get("msre"); !math.IsNaN(msre) {
		m.Smooth = stats.EMA(m.Smooth.Add(msre, 5))
	}
	m.Epoch = s.Epoch
	m.samples = mat.DenseCopyOf(m.DBM.Particles[0])
	m.filters = mat.DenseCopyOf(m.DBM.W[0])
	stop := m.stop
	conn := m.conn
	m.Unlock()
	if m.DBM.LogEvery > 0 && s.Epoch%m.DBM.LogEvery == 0 {
		log.Println(s)
	}
	if conn != nil {
		msg := []byte(strconv.Itoa(s.Epoch))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Println("test: error writing to websocket", err)
		}
	}
	return stop
}

// Sample advances the particles by n Gibbs sweeps, only if training is not running. Must be
// called with the lock held.
func (m *Monitor) Sample(n int) {
	if !m.running && n > 0 {
		m.samples = m.DBM.SampleV(n)
	}
}

func (m *Monitor) heading() template.HTML {
	s := fmt.Sprintf(`%s: epoch <span id="epoch">%d</span> of %d`, m.Model, m.Epoch, m.DBM.MaxEpoch)
	return template.HTML(s)
}
