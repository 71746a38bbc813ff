package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/haze/internal/config"
	"github.com/banshee-data/haze/internal/monitoring"
	"github.com/banshee-data/haze/internal/swarm"
	"github.com/banshee-data/haze/internal/telemetry"
	"github.com/banshee-data/haze/internal/version"
)

var (
	showVersion = flag.Bool("version", false, "Print version and exit")
	configPath  = flag.String("config", "config/tuning.defaults.json", "Tuning config file")
	agents      = flag.Int("agents", 50, "Number of agents")
	steps       = flag.Int("steps", 500, "Number of generations to run")
	spread      = flag.Float64("spread", 10, "Side of the square the agents start in (m)")
	speed       = flag.Float64("speed", 1, "Initial speed (m/s)")
	seed        = flag.Uint64("seed", 1, "Random seed for the initial layout")
	dbPath      = flag.String("db", "", "Telemetry database path (empty disables recording)")
	label       = flag.String("label", "swarm", "Label for the telemetry run")
	trace       = flag.Bool("trace", false, "Log one line per generation")
)

// initialAgents scatters n agents over a side x side square with random
// headings at the given speed.
func initialAgents(n int, side, speed float64, rng *rand.Rand) []swarm.AgentState {
	out := make([]swarm.AgentState, n)
	for i := range out {
		heading := rng.Float64()*2*math.Pi - math.Pi
		out[i] = swarm.AgentState{
			ID:       i,
			Position: r2.Vec{X: rng.Float64() * side, Y: rng.Float64() * side},
			Velocity: r2.Vec{X: speed * math.Cos(heading), Y: speed * math.Sin(heading)},
			Heading:  heading,
		}
	}
	return out
}

// records converts one generation into telemetry rows.
func records(runID string, snap swarm.Snapshot) []telemetry.TickRecord {
	recs := make([]telemetry.TickRecord, 0, snap.Len())
	for _, a := range snap.Agents() {
		recs = append(recs, telemetry.TickRecord{
			RunID:             runID,
			Agent:             a.ID,
			Tick:              snap.Generation(),
			Haze:              a.Haze,
			Precision:         a.Precision,
			Beta:              a.Beta,
			HazeMode:          "residual",
			Ux:                a.Command.X,
			Uy:                a.Command.Y,
			OptimizerFallback: a.Fallback,
		})
	}
	return recs
}

// meanBeta is the generation's average inverse temperature.
func meanBeta(snap swarm.Snapshot) float64 {
	if snap.Len() == 0 {
		return 0
	}
	var sum float64
	for _, a := range snap.Agents() {
		sum += a.Beta
	}
	return sum / float64(snap.Len())
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("swarm"))
		return
	}

	writers := monitoring.LogWriters{Ops: os.Stderr, Diag: os.Stderr}
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
	engine, err := swarm.EngineFromTuning(cfg)
	if err != nil {
		log.Fatalf("failed to build swarm engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *telemetry.Store
	var runID string
	if *dbPath != "" {
		store, err = telemetry.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open telemetry database: %v", err)
		}
		defer store.Close()
		cfgJSON, _ := json.Marshal(cfg)
		runID, err = store.StartRun(ctx, *label, string(cfgJSON))
		if err != nil {
			log.Fatalf("failed to start telemetry run: %v", err)
		}
		monitoring.Opsf("recording swarm run %s to %s", runID, *dbPath)
	}

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	snap := swarm.NewSnapshot(0, initialAgents(*agents, *spread, *speed, rng), cfg.GetWorldWidth(), cfg.GetWorldHeight())

	final, err := engine.Run(ctx, snap, *steps, func(s swarm.Snapshot) error {
		if monitoring.TraceEnabled() {
			monitoring.Tracef("generation=%d agents=%d mean_beta=%.3f", s.Generation(), s.Len(), meanBeta(s))
		}
		if store == nil {
			return nil
		}
		return store.RecordTicks(ctx, records(runID, s))
	})
	if err != nil && ctx.Err() == nil {
		log.Fatalf("swarm run failed: %v", err)
	}
	monitoring.Opsf("stopped at generation %d", final.Generation())

	if store != nil {
		sum, err := store.Summary(context.Background(), runID)
		if err != nil {
			log.Fatalf("failed to summarise run: %v", err)
		}
		out, _ := json.MarshalIndent(sum, "", "  ")
		os.Stdout.Write(append(out, '\n'))
	}
}
