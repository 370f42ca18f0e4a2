// The web command serves a browser interface to continue training a saved DBM checkpoint,
// follow its progress and view samples and filters.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/finderp/boltzmann-machines/nnet"
	"github.com/finderp/boltzmann-machines/web"
	"github.com/gorilla/mux"
)

const (
	scale = 2
	rows  = 10
	cols  = 10
)

func main() {
	log.SetFlags(0)
	addr := flag.String("addr", ":8080", "address to listen on")
	dataset := flag.String("data", "mnist_train", "training data set")
	nVal := flag.Int("n-val", 1000, "number of samples held back for validation")
	auth := flag.Bool("auth", false, "require login")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: web [opts] <model>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	model := flag.Arg(0)

	dbm, err := nnet.LoadDBM(path.Join(nnet.DataDir, model+".gob"))
	nnet.CheckErr(err)
	if nnet.FileExists(model + ".conf") {
		nparticles := dbm.NParticles
		nnet.CheckErr(nnet.LoadConfig(model+".conf", &dbm.DBMConfig))
		dbm.NParticles = nparticles
	}
	data, err := nnet.LoadDataFile(*dataset)
	nnet.CheckErr(err)
	if len(data.Dims) != 2 || data.Features() != dbm.Sizes[0] {
		nnet.CheckErr(fmt.Errorf("data shape %v does not match %d visible units", data.Dims, dbm.Sizes[0]))
	}
	n := data.Len() - *nVal
	X, Xval := data.Slice(0, n).Matrix(), data.Slice(n, data.Len()).Matrix()
	mon := web.NewMonitor(model, dbm, X, Xval, data.Dims[1], data.Dims[0])

	t, err := web.NewTemplates()
	nnet.CheckErr(err)
	trainPage := web.NewTrainPage(t.Clone(), mon)
	samplesPage := web.NewSamplesPage(t.Clone(), mon, scale, rows, cols)
	filtersPage := web.NewFiltersPage(t.Clone(), mon, scale, rows, cols)
	configPage := web.NewConfigPage(t.Clone(), mon)

	r := mux.NewRouter()
	if *auth {
		r.Use(web.NewAuthMiddleware("boltzmann", 12*time.Hour, "/static/").Middleware)
	}
	r.Handle("/", http.RedirectHandler("/train/stats", http.StatusFound))
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(web.AssetDir))))

	r.Handle("/train", http.RedirectHandler("/train/stats", http.StatusFound))
	r.HandleFunc("/train/{cmd:(?:stats|start|stop)}", trainPage.Base())
	r.HandleFunc("/stats", trainPage.Stats())
	r.HandleFunc("/ws", trainPage.Websocket())

	r.HandleFunc("/samples", samplesPage.Base())
	r.HandleFunc("/samples/{opt:(?:invert|sample)}", samplesPage.Setopt())
	r.HandleFunc("/img/samples.png", samplesPage.Image())

	r.HandleFunc("/filters", filtersPage.Base())
	r.HandleFunc("/img/filters.png", filtersPage.Image())

	r.HandleFunc("/config", configPage.Base())
	r.HandleFunc("/config/save", configPage.Save()).Methods("POST")

	fmt.Printf("serving web page at http://localhost%s\n", *addr)
	nnet.CheckErr(http.ListenAndServe(*addr, r))
}
