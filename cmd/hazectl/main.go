package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/haze/internal/actuation"
	"github.com/banshee-data/haze/internal/config"
	"github.com/banshee-data/haze/internal/control"
	"github.com/banshee-data/haze/internal/forwardmodel"
	"github.com/banshee-data/haze/internal/monitoring"
	"github.com/banshee-data/haze/internal/telemetry"
	"github.com/banshee-data/haze/internal/timeutil"
	"github.com/banshee-data/haze/internal/version"
)

var (
	showVersion = flag.Bool("version", false, "Print version and exit")
	configPath  = flag.String("config", "config/tuning.defaults.json", "Tuning config file")
	sensorAddr  = flag.String("sensor", ":7400", "UDP address to read observation frames from")
	udpOut      = flag.String("udp-out", "", "Send commands as UDP CSV datagrams to host:port")
	serialOut   = flag.String("serial-out", "", "Send commands over this serial device")
	serialBaud  = flag.Int("serial-baud", 115200, "Baud rate for -serial-out")
	modelAddr   = flag.String("model-addr", "", "gRPC address of a remote forward model (local constant-velocity model if empty)")
	dbPath      = flag.String("db", "haze_telemetry.db", "Telemetry database path (empty disables recording)")
	listen      = flag.String("listen", ":8081", "Listen address for /debug/ routes (empty disables)")
	label       = flag.String("label", "hazectl", "Label for the telemetry run")
	trace       = flag.Bool("trace", false, "Log one line per tick")
	diag        = flag.Bool("diag", true, "Log per-tick fallbacks and dropped observations")
)

// latestFrame holds the most recent frame received. Stale frames are
// overwritten; the loop always acts on the newest one.
type latestFrame struct {
	mu    sync.Mutex
	frame control.Frame
	fresh bool
}

func (l *latestFrame) store(f control.Frame) {
	l.mu.Lock()
	l.frame, l.fresh = f, true
	l.mu.Unlock()
}

func (l *latestFrame) take() (control.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.frame, l.fresh
	l.fresh = false
	return f, ok
}

// tickFunc runs one control tick on a frame.
type tickFunc func(context.Context, control.Frame) (control.Decision, error)

// controlLoop sends one command to sink per ticker event: the tick's command
// when a fresh frame arrived, otherwise the decayed command from hold. It
// returns when ctx is done.
func controlLoop(ctx context.Context, clock timeutil.Clock, ticker timeutil.Ticker, latest *latestFrame, tick tickFunc, hold func() r2.Vec, sink actuation.Sink) {
	start := clock.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			var u r2.Vec
			if f, ok := latest.take(); ok {
				d, err := tick(ctx, f)
				if err != nil {
					if ctx.Err() == nil {
						monitoring.Opsf("tick failed: %v", err)
					}
					continue
				}
				u = d.Command
			} else {
				u = hold()
			}
			cmd := actuation.Command{T: clock.Since(start).Seconds(), U: u}
			if err := sink.Send(cmd); err != nil {
				monitoring.Diagf("actuation: %v", err)
			}
		}
	}
}

func openSink() (actuation.Sink, error) {
	switch {
	case *serialOut != "":
		return actuation.OpenSerialSink(*serialOut, actuation.PortOptions{BaudRate: *serialBaud})
	case *udpOut != "":
		return actuation.NewUDPSink(*udpOut)
	default:
		return &actuation.MemorySink{}, nil
	}
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("hazectl"))
		return
	}

	writers := monitoring.LogWriters{Ops: os.Stderr}
	if *diag {
		writers.Diag = os.Stderr
	}
	if *trace {
		writers.Trace = os.Stdout
	}
	monitoring.SetLogWriters(writers)

	cfg, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	sink, err := openSink()
	if err != nil {
		log.Fatalf("failed to open actuation sink: %v", err)
	}
	defer sink.Close()

	var model forwardmodel.Model = forwardmodel.DefaultConstantVelocity()
	if *modelAddr != "" {
		conn, err := grpc.NewClient(*modelAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			log.Fatalf("failed to dial forward model: %v", err)
		}
		defer conn.Close()
		model = forwardmodel.NewRemoteClient(conn)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := control.Options{Model: model}
	var store *telemetry.Store
	if *dbPath != "" {
		store, err = telemetry.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open telemetry database: %v", err)
		}
		defer store.Close()

		cfgJSON, _ := json.Marshal(cfg)
		runID, err := store.StartRun(ctx, *label, string(cfgJSON))
		if err != nil {
			log.Fatalf("failed to start telemetry run: %v", err)
		}
		opts.Recorder = store
		opts.RunID = runID
		monitoring.Opsf("recording telemetry run %s to %s", runID, *dbPath)
	}

	ctrl, err := control.New(cfg, opts)
	if err != nil {
		log.Fatalf("failed to build controller: %v", err)
	}
	monitoring.Opsf("started %s", ctrl)

	pc, err := net.ListenPacket("udp", *sensorAddr)
	if err != nil {
		log.Fatalf("failed to listen for frames: %v", err)
	}

	var wg sync.WaitGroup
	var latest latestFrame

	// sensor routine: decode datagrams into the latest frame
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 64*1024)
		for {
			n, _, err := pc.ReadFrom(buf)
			if err != nil {
				if ctx.Err() == nil {
					monitoring.Opsf("sensor read error: %v", err)
				}
				return
			}
			f, err := decodeFrame(buf[:n])
			if err != nil {
				monitoring.Diagf("dropping frame: %v", err)
				continue
			}
			latest.store(f)
		}
	}()
	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	// control routine: one tick per period on the newest frame
	wg.Add(1)
	go func() {
		defer wg.Done()
		clock := timeutil.RealClock{}
		ticker := clock.NewTicker(time.Duration(cfg.GetTickSeconds() * float64(time.Second)))
		defer ticker.Stop()
		controlLoop(ctx, clock, ticker, &latest, ctrl.Tick, ctrl.Hold, sink)
		log.Printf("control routine terminated")
	}()

	// HTTP server goroutine
	if *listen != "" && store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mux := http.NewServeMux()
			if err := store.AttachAdminRoutes(mux); err != nil {
				monitoring.Opsf("failed to attach admin routes: %v", err)
			}
			server := &http.Server{Addr: *listen, Handler: mux}

			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("failed to start server: %v", err)
				}
			}()

			<-ctx.Done()
			log.Println("shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					log.Printf("HTTP server force close error: %v", err)
				}
			}
		}()
	}

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
