package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/boatnav/internal/api"
	"github.com/banshee-data/boatnav/internal/command"
	"github.com/banshee-data/boatnav/internal/config"
	"github.com/banshee-data/boatnav/internal/db"
	"github.com/banshee-data/boatnav/internal/estimator"
	"github.com/banshee-data/boatnav/internal/monitoring"
	"github.com/banshee-data/boatnav/internal/recorder"
	"github.com/banshee-data/boatnav/internal/route"
	"github.com/banshee-data/boatnav/internal/serialmux"
	"github.com/banshee-data/boatnav/internal/session"
	"github.com/banshee-data/boatnav/internal/sim"
	"github.com/banshee-data/boatnav/internal/telemetry"
	"github.com/banshee-data/boatnav/internal/timeutil"
	"github.com/banshee-data/boatnav/internal/units"
	"github.com/banshee-data/boatnav/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run against the built-in boat simulator")
	disableLink = flag.Bool("disable-link", false, "Run without a serial link")
	port        = flag.String("port", "/dev/ttyUSB0", "Serial port to use (ignored in dev mode)")
	baud        = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
	listen      = flag.String("listen", ":8080", "Listen address (empty disables the HTTP server)")
	dbPath      = flag.String("db", "boat.db", "SQLite database for run history (empty disables)")
	configPath  = flag.String("config", "", "Estimator tuning JSON (built-in defaults when empty)")
	routePath   = flag.String("route", "", "GPX route pushed by the send command")
	recordDir   = flag.String("record-dir", "telem", "Directory for JSON recordings (empty disables)")
	runLabel    = flag.String("label", "", "Label stored with this run")
	speedUnits  = flag.String("units", units.MPS, "Speed units for display ("+units.GetValidUnitsString()+")")
	logFile     = flag.String("log-file", "", "Write diagnostics to a rotating log file")
	noConsole   = flag.Bool("no-console", false, "Do not read operator commands from stdin")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("boat"))
		return
	}
	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	if !units.IsValid(*speedUnits) {
		log.Fatalf("invalid -units %q, want one of %s", *speedUnits, units.GetValidUnitsString())
	}
	if *logFile != "" {
		w := monitoring.NewRotatingWriter(monitoring.FileOptions{Filename: *logFile, MaxBackups: 5, Compress: true})
		defer w.Close()
		monitoring.UseWriter(w)
	}
	log.Printf("starting %s", version.String("boat"))

	cfg := config.DefaultTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}
	estCfg := estimator.ConfigFromTuning(cfg)
	sess := session.New(estimator.New(estCfg), session.OptionsFromTuning(cfg))
	encoding := telemetry.PowerEncoding(cfg.GetPowerEncoding())

	var rt route.Route
	if *routePath != "" {
		var err error
		rt, err = route.LoadFile(*routePath)
		if err != nil {
			log.Fatalf("failed to load route: %v", err)
		}
		log.Printf("loaded route: %d waypoints, %.0f m", len(rt), rt.Length())
	}

	var link serialmux.SerialMuxInterface
	switch {
	case *disableLink:
		link = serialmux.NewDisabledSerialMux()
	case *devMode:
		opts := sim.DefaultOptions()
		opts.Params = estCfg.Params
		opts.Dt = cfg.GetNominalDt()
		opts.Encoding = encoding
		link = serialmux.NewSimulatedSerialMux(sim.New(opts), time.Duration(opts.Dt*float64(time.Second)))
		log.Printf("dev mode: simulating boat at %.0f Hz", 1/opts.Dt)
	default:
		var err error
		link, err = serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baud})
		if err != nil {
			log.Fatalf("failed to open serial port %s: %v", *port, err)
		}
		log.Printf("opened %s at %d baud", *port, *baud)
	}
	defer link.Close()

	var database *db.DB
	var run db.Run
	if *dbPath != "" {
		var err error
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer database.Close()
		run, err = database.CreateRun(*runLabel, timeutil.Seconds(time.Now()), sess.Params())
		if err != nil {
			log.Fatalf("failed to create run: %v", err)
		}
		log.Printf("recording run %s", run.ID)
	}

	var rec *recorder.Recorder
	if database != nil || *recordDir != "" {
		opts := recorder.Options{Dir: *recordDir, RunID: run.ID}
		if database != nil {
			opts.Store = database
		}
		var err error
		rec, err = recorder.New(opts)
		if err != nil {
			log.Fatalf("failed to create recorder: %v", err)
		}
	}

	decoder := telemetry.NewDecoder(encoding)
	observations := make(chan session.Observation, cfg.GetQueueSize())

	dispatcher := &command.Dispatcher{
		Route: rt,
		Tuner: sess,
		Status: func() string {
			return statusLine(sess, decoder, rec, *speedUnits)
		},
		OnTune: func(cmp session.Comparison) {
			for _, c := range cmp.Changes {
				log.Printf("tuned %s: %g -> %g", c.Param, c.Before, c.After)
			}
			if database != nil {
				if err := database.UpdateRunParams(run.ID, sess.Params()); err != nil {
					log.Printf("failed to persist tuned params: %v", err)
				}
			}
		},
	}
	if !*disableLink {
		dispatcher.Link = link
	}
	if rec != nil {
		dispatcher.Recorder = rec
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// serial monitor
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// producers append to the recorder; its final flush waits for them
	var producers sync.WaitGroup
	producers.Add(2)
	producersDone := make(chan struct{})
	go func() {
		producers.Wait()
		close(producersDone)
	}()

	// decode link traffic into recordings and the estimator queue
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer producers.Done()
		defer close(observations)
		id, c := link.Subscribe()
		defer link.Unsubscribe(id)
		p := &pipeline{decoder: decoder, recorder: rec, obs: observations}
		for {
			select {
			case line, ok := <-c:
				if !ok {
					log.Print("link subscription closed")
					return
				}
				if err := p.handleLine(ctx, line); err != nil {
					log.Printf("subscribe routine terminated: %v", err)
					return
				}
			case <-ctx.Done():
				log.Printf("subscribe routine terminated")
				return
			}
		}
	}()

	// estimator
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer producers.Done()
		w := session.NewWorker(sess, observations)
		if rec != nil {
			w.OnStep = rec.AppendEstimate
		}
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("estimator worker stopped: %v", err)
		}
		log.Print("estimator routine terminated")
	}()

	if rec != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := flushUntil(producersDone, rec, cfg.GetFlushInterval()); err != nil {
				log.Printf("final flush failed: %v", err)
			}
			log.Print("recorder routine terminated")
		}()
	}

	if !*noConsole {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Println(command.Help)
			if err := dispatcher.Run(ctx, os.Stdin, os.Stdout); err != nil && err != context.Canceled {
				log.Printf("console stopped: %v", err)
			}
			// exit or end of input ends the session
			stop()
		}()
	}

	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mux := api.NewServer(sess, dispatcher, *speedUnits).ServeMux()
			link.AttachAdminRoutes(mux)
			if database != nil {
				if err := database.AttachAdminRoutes(mux); err != nil {
					log.Printf("failed to attach db admin routes: %v", err)
				}
			}

			server := &http.Server{
				Addr:    *listen,
				Handler: api.LoggingMiddleware(mux),
			}

			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("failed to start server: %v", err)
				}
			}()

			<-ctx.Done()
			log.Println("shutting down HTTP server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					log.Printf("HTTP server force close error: %v", err)
				}
			}

			log.Printf("HTTP server routine stopped")
		}()
	}

	wg.Wait()
	log.Printf("graceful shutdown complete")
}
