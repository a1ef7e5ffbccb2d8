/*
Client-Server package adapted from Mat Ryer's Go Blueprints examples
see https://github.com/matryer/goblueprints
This book is highly recommended!
*/

// Command ahrsweb_server runs the estimator over a simulated or recorded
// sample stream and serves its output to browsers and prometheus.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"flag"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gareth-cross/kalman-ios/ahrs"
	"github.com/gareth-cross/kalman-ios/ahrsweb"
	"github.com/gareth-cross/kalman-ios/calibration"
	"github.com/gareth-cross/kalman-ios/sim"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed res
var res embed.FS

// templ represents a single template
type templateHandler struct {
	once     sync.Once
	filename string
	templ    *template.Template
}

// ServeHTTP handles the HTTP request.
func (t *templateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.once.Do(func() {
		t.templ = template.Must(template.ParseFS(res, "res/"+t.filename))
	})
	t.templ.Execute(w, r)
}

// command is run on the goroutine feeding the estimator.
type command func(est *ahrs.Estimator)

func commandHandler(cmds chan<- command, c command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		select {
		case cmds <- c:
			w.WriteHeader(http.StatusAccepted)
		default:
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}
	}
}

// configHandler takes a JSON object of numeric settings, as accepted by
// ahrs.Config.SetConfig.
func configHandler(cmds chan<- command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var m map[string]float64
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		commandHandler(cmds, func(e *ahrs.Estimator) { e.SetConfig(m) })(w, r)
	}
}

func main() {
	var (
		addr     = flag.String("addr", fmt.Sprintf(":%d", ahrsweb.Port), "The port for the AHRS data publication.")
		cfgFile  = flag.String("config", "", "YAML estimator configuration; defaults if empty")
		calFile  = flag.String("cal", "", "JSON calibration file, loaded at start and saved at exit")
		scenario = flag.String("scenario", "rotating", "Simulated scenario: "+strings.Join(sim.ScenarioNames(), ", "))
		replay   = flag.String("replay", "", "CSV recording to replay instead of a scenario")
		rate     = flag.Float64("rate", 10, "Publication rate, Hz")
		dt       = flag.Float64("dt", 0.01, "Sample interval, s")
		seed     = flag.Int64("seed", 1, "Seed for simulated sensor noise")
		loop     = flag.Bool("loop", true, "Restart the stream when it ends")
	)
	flag.Parse()

	cfg := ahrs.DefaultConfig()
	if *cfgFile != "" {
		var err error
		if cfg, err = ahrs.LoadConfig(*cfgFile); err != nil {
			log.Fatalln("AHRSWeb:", err)
		}
	}

	var cal *calibration.CalData
	if *calFile != "" {
		cal = calibration.NewCalData()
		if err := cal.Load(*calFile); err != nil {
			log.Printf("AHRSWeb: no calibration loaded: %v\n", err)
			cal = nil
		}
	}

	var sit sim.Situation
	if *replay != "" {
		s, err := sim.NewSituationFromFile(*replay)
		if err != nil {
			log.Fatalln("AHRSWeb:", err)
		}
		sit = s
	} else {
		mk, ok := sim.Scenarios[*scenario]
		if !ok {
			log.Fatalf("AHRSWeb: no such scenario %q\n", *scenario)
		}
		sit = mk(sim.TypicalSensors(), *seed)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	est := ahrs.NewEstimator(cfg, cal)
	cmds := make(chan command, 4)

	// get the room going
	r := ahrsweb.NewRoom()
	go r.Run()
	defer r.Close()
	go ahrsweb.NewPublisher(est, r, *rate).Run(ctx)

	reg := prometheus.NewRegistry()
	if err := ahrsweb.NewMetrics(est).Register(reg); err != nil {
		log.Fatalln("AHRSWeb:", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", &templateHandler{filename: "analyzer.html"})
	mux.Handle("/ahrsweb", r)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/calibrate/gyro", commandHandler(cmds, func(e *ahrs.Estimator) { e.StartGyroCalibration(0) }))
	mux.Handle("/calibrate/compass", commandHandler(cmds, func(e *ahrs.Estimator) { e.StartCompassCalibration(0) }))
	mux.Handle("/reset", commandHandler(cmds, func(e *ahrs.Estimator) { e.Reset() }))
	mux.Handle("/config", configHandler(cmds))
	srv := &http.Server{Addr: *addr, Handler: mux}

	done := make(chan struct{})
	go func() {
		defer close(done)
		feed(ctx, est, sit, *dt, *loop, cmds)
	}()

	go func() {
		log.Println("AHRSWeb: Starting web server on", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("AHRSWeb: ListenAndServe fatal error:", err.Error())
		}
	}()

	<-ctx.Done()
	<-done
	shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Shutdown(shutCtx)

	if *calFile != "" {
		d := est.CalData()
		if d.GyroCalibrated || d.CompassCalibrated {
			if err := d.Save(*calFile); err != nil {
				log.Println("AHRSWeb:", err)
			} else {
				log.Println("AHRSWeb: calibration saved to", *calFile)
			}
		}
	}
}

// feed paces samples from sit into est in real time until ctx is done,
// running commands between samples.
func feed(ctx context.Context, est *ahrs.Estimator, sit sim.Situation, dt float64, loop bool, cmds <-chan command) {
	tick := time.NewTicker(time.Duration(dt * float64(time.Second)))
	defer tick.Stop()

	var offset float64
	for {
		err := sim.Run(sit, dt, func(s ahrs.Sample) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c := <-cmds:
				c(est)
			case <-tick.C:
			}
			s.T += offset
			est.Ingest(s)
			return nil
		})
		if err != nil {
			if ctx.Err() == nil {
				log.Println("AHRSWeb:", err)
			}
			return
		}
		if !loop {
			log.Println("AHRSWeb: stream ended")
			<-ctx.Done()
			return
		}
		offset += sit.EndTime() - sit.BeginTime() + dt
	}
}
