package swarm

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/haze/internal/config"
	"github.com/banshee-data/haze/internal/freeenergy"
	"github.com/banshee-data/haze/internal/geom"
	"github.com/banshee-data/haze/internal/precision"
	"github.com/banshee-data/haze/internal/uncertainty"
)

// Config holds the swarm rule weights.
type Config struct {
	VisualRange      float64
	SeparationWeight float64
	MatchingFactor   float64 // per tick, boids style
	CenteringFactor  float64 // per tick, boids style
	Epsilon          float64
	MaxCommand       float64
	FallbackDecay    float64
	Dt               float64
	Workers          int
}

// ConfigFromTuning reads the swarm settings from a TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		VisualRange:      cfg.GetVisualRange(),
		SeparationWeight: cfg.GetSeparationWeight(),
		MatchingFactor:   cfg.GetMatchingFactor(),
		CenteringFactor:  cfg.GetCenteringFactor(),
		Epsilon:          cfg.GetEpsilon(),
		MaxCommand:       cfg.GetMaxCommand(),
		FallbackDecay:    cfg.GetFallbackDecay(),
		Dt:               cfg.GetTickSeconds(),
		Workers:          cfg.GetSwarmWorkers(),
	}
}

// Engine advances snapshots. It holds no per-generation state.
type Engine struct {
	cfg       Config
	modulator *precision.Modulator
	reducer   uncertainty.Reducer
}

// NewEngine builds an Engine.
func NewEngine(cfg Config, mod *precision.Modulator, reducer uncertainty.Reducer) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Engine{cfg: cfg, modulator: mod, reducer: reducer}
}

// EngineFromTuning builds an Engine from a TuningConfig.
func EngineFromTuning(cfg *config.TuningConfig) (*Engine, error) {
	mod, err := precision.ModulatorFromTuning(cfg)
	if err != nil {
		return nil, err
	}
	red, err := uncertainty.ReducerFromTuning(cfg)
	if err != nil {
		return nil, err
	}
	return NewEngine(ConfigFromTuning(cfg), mod, red), nil
}

// Step computes generation k+1 from snap. Every agent reads only snap and
// writes only its own slot of the next generation, which is published after
// all workers finish. A cancelled ctx aborts the step and returns its error.
func (e *Engine) Step(ctx context.Context, snap Snapshot) (Snapshot, error) {
	next := make([]AgentState, snap.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := 0; i < snap.Len(); i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			next[i] = e.stepAgent(snap, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	width, height := snap.World()
	return Snapshot{generation: snap.Generation() + 1, agents: next, width: width, height: height}, nil
}

// neighbors gathers the agents within visual range of agent i, relative to
// it, along with the previous and current tracks used for residual Haze.
func (e *Engine) neighbors(snap Snapshot, i int) ([]Neighbor, []uncertainty.Track, []uncertainty.Track) {
	self := snap.agents[i]
	var ns []Neighbor
	var prev, curr []uncertainty.Track
	r2max := e.cfg.VisualRange * e.cfg.VisualRange
	for j, other := range snap.agents {
		if j == i {
			continue
		}
		rel := snap.Delta(self.Position, other.Position)
		if r2.Dot(rel, rel) > r2max {
			continue
		}
		relVel := r2.Sub(other.Velocity, self.Velocity)
		ns = append(ns, Neighbor{Rel: rel, RelVel: relVel})
		if other.HasPrev {
			// Tracks are anchored at the neighbour's previous position so
			// the residual is its own deviation from constant velocity,
			// whatever self did, and stays correct across a wrap.
			prev = append(prev, uncertainty.Track{ID: other.ID, Velocity: other.PrevVelocity})
			curr = append(curr, uncertainty.Track{
				ID:       other.ID,
				Position: snap.Delta(other.PrevPosition, other.Position),
				Velocity: other.Velocity,
			})
		}
	}
	return ns, prev, curr
}

func (e *Engine) stepAgent(snap Snapshot, i int) AgentState {
	self := snap.agents[i]
	ns, prev, curr := e.neighbors(snap, i)

	haze := uncertainty.FromResiduals(prev, curr, e.cfg.Dt, e.reducer)
	mod := e.modulator.Modulate(haze)

	sep := r2.Scale(e.cfg.SeparationWeight, SoftSeparation(ns, mod.Beta, e.cfg.Epsilon))
	align := r2.Scale(1/e.cfg.Dt, Alignment(ns, e.cfg.MatchingFactor))
	coh := r2.Scale(1/e.cfg.Dt, Cohesion(ns, e.cfg.CenteringFactor))
	raw := r2.Add(sep, r2.Add(align, coh))

	u, fallback := freeenergy.SafeCommand(raw, self.Command, e.cfg.MaxCommand, e.cfg.FallbackDecay)

	width, height := snap.World()
	vel := r2.Add(self.Velocity, r2.Scale(e.cfg.Dt, u))
	pos := geom.Wrap(r2.Add(self.Position, r2.Scale(e.cfg.Dt, vel)), width, height)
	heading := self.Heading
	if r2.Norm(vel) > 0 {
		heading = math.Atan2(vel.Y, vel.X)
	}

	return AgentState{
		ID:           self.ID,
		Position:     pos,
		Velocity:     vel,
		Heading:      heading,
		Command:      u,
		PrevPosition: self.Position,
		PrevVelocity: self.Velocity,
		HasPrev:      true,
		Haze:         mod.Haze,
		Precision:    mod.Precision,
		Beta:         mod.Beta,
		Fallback:     fallback,
	}
}

// Run advances snap by steps generations, calling visit with each new one.
// It stops at the first error from Step or visit.
func (e *Engine) Run(ctx context.Context, snap Snapshot, steps int, visit func(Snapshot) error) (Snapshot, error) {
	for k := 0; k < steps; k++ {
		next, err := e.Step(ctx, snap)
		if err != nil {
			return snap, err
		}
		snap = next
		if visit != nil {
			if err := visit(snap); err != nil {
				return snap, err
			}
		}
	}
	return snap, nil
}
