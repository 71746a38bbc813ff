// Package control runs one perception-action tick: SPM construction, Haze
// estimation, precision modulation and free-energy action selection.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/haze/internal/config"
	"github.com/banshee-data/haze/internal/forwardmodel"
	"github.com/banshee-data/haze/internal/freeenergy"
	"github.com/banshee-data/haze/internal/geom"
	"github.com/banshee-data/haze/internal/monitoring"
	"github.com/banshee-data/haze/internal/precision"
	"github.com/banshee-data/haze/internal/spm"
	"github.com/banshee-data/haze/internal/telemetry"
	"github.com/banshee-data/haze/internal/timeutil"
	"github.com/banshee-data/haze/internal/uncertainty"
)

// Frame is everything sensed for one tick.
type Frame struct {
	// Position and Heading locate the agent in the odometry frame that the
	// forward model works in.
	Position r2.Vec
	Heading  float64
	// Velocity is the agent's own velocity in the ego frame.
	Velocity     r2.Vec
	Observations []spm.Observation
	// Neighbors are tracked agents in the odometry frame, used for residual
	// Haze when the forward model is unavailable.
	Neighbors  []uncertainty.Track
	Preference *r2.Vec // ego frame
	Obstacles  []r2.Vec
}

// Decision is the output of one tick.
type Decision struct {
	Command    r2.Vec // ego frame acceleration
	Map        *spm.Map
	Modulation precision.Result
	Optimizer  freeenergy.Result
	Record     telemetry.TickRecord
	Dropped    []*spm.SensorInputError
}

// Options carries the collaborators a Controller needs beyond its tuning.
type Options struct {
	Model    forwardmodel.Model // nil forces residual Haze
	Recorder telemetry.Recorder // nil disables recording
	Clock    timeutil.Clock     // nil uses the real clock
	RunID    string
	Agent    int
}

// Controller is one agent's control loop. It carries the warm start, the
// forward-model history and the self-haze detector across ticks and is not
// safe for concurrent use.
type Controller struct {
	spmCfg       spm.Config
	modulator    *precision.Modulator
	reducer      uncertainty.Reducer
	optimizer    *freeenergy.Optimizer
	model        forwardmodel.Model
	recorder     telemetry.Recorder
	clock        timeutil.Clock
	hazeMode     string
	modelTimeout time.Duration
	dt           float64
	horizonSteps int
	historyLen   int
	umax         float64
	decay        float64
	runID        string
	agent        int

	selfHaze      *uncertainty.SelfHaze
	history       []forwardmodel.State
	prevNeighbors []uncertainty.Track
	prevCommand   r2.Vec
	tick          int64
}

// New builds a Controller from a validated TuningConfig. The returned error
// is a *config.ConfigurationError for any invalid setting.
func New(cfg *config.TuningConfig, opts Options) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spmCfg := spm.ConfigFromTuning(cfg)
	if err := spmCfg.Validate(); err != nil {
		return nil, &config.ConfigurationError{Field: "spm", Reason: err.Error()}
	}
	mod, err := precision.ModulatorFromTuning(cfg)
	if err != nil {
		return nil, err
	}
	reducer, err := uncertainty.ReducerFromTuning(cfg)
	if err != nil {
		return nil, err
	}
	obj, err := freeenergy.DefaultRegistry().Build(cfg, freeenergy.DefaultTerms...)
	if err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	opt, err := freeenergy.NewOptimizer(obj, freeenergy.SettingsFromTuning(cfg), clock)
	if err != nil {
		return nil, err
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = telemetry.Nop{}
	}

	c := &Controller{
		spmCfg:       spmCfg,
		modulator:    mod,
		reducer:      reducer,
		optimizer:    opt,
		model:        opts.Model,
		recorder:     recorder,
		clock:        clock,
		hazeMode:     cfg.GetHazeMode(),
		modelTimeout: cfg.GetModelTimeout(),
		dt:           cfg.GetTickSeconds(),
		horizonSteps: cfg.GetHorizonSteps(),
		historyLen:   cfg.GetHistoryLength(),
		umax:         cfg.GetMaxCommand(),
		decay:        cfg.GetFallbackDecay(),
		runID:        opts.RunID,
		agent:        opts.Agent,
	}
	if cfg.GetSelfHazeEnable() {
		c.selfHaze = &uncertainty.SelfHaze{StuckSpeed: cfg.GetStuckSpeed(), StuckTicks: cfg.GetStuckTicks()}
	}
	return c, nil
}

// hazeEstimate is the outcome of the Haze stage.
type hazeEstimate struct {
	haze     float64
	mode     string
	fallback bool
	expected *r2.Vec // ego-frame velocity the model expects next
}

func (c *Controller) pushHistory(f Frame) {
	c.history = append(c.history, forwardmodel.State{
		Position: f.Position,
		Velocity: geom.FromEgo(f.Velocity, f.Heading),
	})
	if over := len(c.history) - c.historyLen; over > 0 {
		c.history = append(c.history[:0], c.history[over:]...)
	}
}

func (c *Controller) estimateHaze(ctx context.Context, f Frame) hazeEstimate {
	residual := func() float64 {
		return uncertainty.FromResiduals(c.prevNeighbors, f.Neighbors, c.dt, c.reducer)
	}
	if c.hazeMode == config.HazeModeResidual {
		return hazeEstimate{haze: residual(), mode: config.HazeModeResidual}
	}

	h := forwardmodel.History{
		States:  append([]forwardmodel.State(nil), c.history...),
		Dt:      c.dt,
		Horizon: c.horizonSteps,
	}
	pred, err := forwardmodel.Query(ctx, c.model, h, c.modelTimeout)
	if err == nil {
		var haze float64
		haze, err = uncertainty.FromVariance(pred.Variance, c.reducer)
		if err == nil {
			est := hazeEstimate{haze: haze, mode: config.HazeModeModel}
			if len(pred.Mean) > 0 {
				world := r2.Scale(1/c.dt, r2.Sub(pred.Mean[0], f.Position))
				exp := geom.ToEgo(world, f.Heading)
				est.expected = &exp
			}
			return est
		}
		err = &forwardmodel.UnavailableError{Cause: err}
	}
	monitoring.Diagf("agent %d tick %d: %v; using residual haze", c.agent, c.tick, err)
	return hazeEstimate{haze: residual(), mode: config.HazeModeResidual, fallback: true}
}

// Tick runs one control step. Per-tick failures (dropped observations,
// forward-model unavailability, optimizer degeneracy) are handled locally
// and reported in the Decision; the only error returned is ctx's.
func (c *Controller) Tick(ctx context.Context, f Frame) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	start := c.clock.Now()
	c.tick++

	c.pushHistory(f)
	est := c.estimateHaze(ctx, f)
	c.prevNeighbors = append(c.prevNeighbors[:0], f.Neighbors...)

	var self float64
	if c.selfHaze != nil {
		self = c.selfHaze.Update(r2.Norm(f.Velocity))
	}
	mod := c.modulator.Modulate(est.haze + self)

	m, dropped := spm.Build(c.spmCfg, f.Observations, spm.Temperatures{Proximity: mod.Beta, Risk: mod.Beta})
	for _, d := range dropped {
		monitoring.Diagf("agent %d tick %d: %v", c.agent, c.tick, d)
	}

	in := &freeenergy.Input{
		Velocity:   f.Velocity,
		Map:        m,
		Precision:  mod,
		Preference: f.Preference,
		Expected:   est.expected,
		Obstacles:  f.Obstacles,
		Previous:   c.prevCommand,
		Horizon:    c.dt * float64(c.horizonSteps),
	}
	res := c.optimizer.Act(in)
	if res.Err != nil {
		monitoring.Diagf("agent %d tick %d: %v", c.agent, c.tick, res.Err)
	}
	cmd, guarded := freeenergy.SafeCommand(res.Command, c.prevCommand, c.umax, c.decay)
	if guarded {
		res.Fallback = true
	}
	c.prevCommand = cmd
	latency := c.clock.Since(start)

	rec := telemetry.TickRecord{
		RunID:             c.runID,
		Agent:             c.agent,
		Tick:              c.tick,
		RecordedAt:        start,
		Haze:              mod.Haze,
		SelfHaze:          self,
		Precision:         mod.Precision,
		Beta:              mod.Beta,
		HazeMode:          est.mode,
		ModelFallback:     est.fallback,
		Objective:         res.Value,
		Ux:                cmd.X,
		Uy:                cmd.Y,
		Iterations:        res.Iterations,
		OptimizerFallback: res.Fallback,
		Dropped:           len(dropped),
		Latency:           latency,
	}
	if monitoring.TraceEnabled() {
		monitoring.Tracef("agent=%d tick=%d H=%.4f Π=%.3f β=%.3f F=%.4f u=(%.3f,%.3f) mode=%s iters=%d fb=%t",
			c.agent, c.tick, mod.Haze, mod.Precision, mod.Beta, res.Value, cmd.X, cmd.Y, est.mode, res.Iterations, res.Fallback)
	}
	if c.runID != "" {
		if err := c.recorder.RecordTick(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Diagf("agent %d tick %d: record telemetry: %v", c.agent, c.tick, err)
		}
	}

	return Decision{
		Command:    cmd,
		Map:        m,
		Modulation: mod,
		Optimizer:  res,
		Record:     rec,
		Dropped:    dropped,
	}, nil
}

// Previous returns the last command issued.
func (c *Controller) Previous() r2.Vec { return c.prevCommand }

// Hold issues the previous command decayed by the fallback factor, for a
// tick that has no fresh frame to act on. Repeated holds bring the agent to
// rest.
func (c *Controller) Hold() r2.Vec {
	c.prevCommand, _ = freeenergy.SafeCommand(r2.Scale(c.decay, c.prevCommand), c.prevCommand, c.umax, c.decay)
	return c.prevCommand
}

// Reset clears all per-agent state carried between ticks.
func (c *Controller) Reset() {
	c.history = c.history[:0]
	c.prevNeighbors = c.prevNeighbors[:0]
	c.prevCommand = r2.Vec{}
	c.tick = 0
	if c.selfHaze != nil {
		c.selfHaze.Reset()
	}
}

func (c *Controller) String() string {
	return fmt.Sprintf("Controller(agent=%d mode=%s grid=%dx%d)", c.agent, c.hazeMode, c.spmCfg.RangeBins, c.spmCfg.BearingBins)
}
