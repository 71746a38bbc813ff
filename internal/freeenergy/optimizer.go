package freeenergy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/haze/internal/config"
	"github.com/banshee-data/haze/internal/geom"
	"github.com/banshee-data/haze/internal/timeutil"
)

// ErrDegenerate reports that the objective offered no usable descent
// direction, or was not finite, and the fallback command was used.
var ErrDegenerate = errors.New("optimizer degenerate")

// Settings bound the descent.
type Settings struct {
	Iterations    int
	Tolerance     float64 // stop once ‖Δu‖ falls below
	StepSize      float64
	GradientClip  float64 // per component
	MaxCommand    float64 // u_max
	FallbackDecay float64
	TimeBudget    time.Duration // 0 disables
}

// SettingsFromTuning reads optimizer settings from a TuningConfig.
func SettingsFromTuning(cfg *config.TuningConfig) Settings {
	return Settings{
		Iterations:    cfg.GetIterations(),
		Tolerance:     cfg.GetTolerance(),
		StepSize:      cfg.GetStepSize(),
		GradientClip:  cfg.GetGradientClip(),
		MaxCommand:    cfg.GetMaxCommand(),
		FallbackDecay: cfg.GetFallbackDecay(),
		TimeBudget:    cfg.GetTimeBudget(),
	}
}

// Result is the outcome of one Act call.
type Result struct {
	Command    r2.Vec
	Value      float64
	Iterations int
	Converged  bool
	Fallback   bool
	Err        error
}

// Optimizer minimises an Objective. It holds no per-tick state and is safe
// for concurrent use when its objective's terms are.
type Optimizer struct {
	objective *Objective
	settings  Settings
	clock     timeutil.Clock
	fd        *fd.Settings
}

// NewOptimizer validates settings. A nil clock uses the real clock.
func NewOptimizer(obj *Objective, s Settings, clock timeutil.Clock) (*Optimizer, error) {
	switch {
	case obj == nil:
		return nil, &config.ConfigurationError{Field: "objective", Reason: "missing objective"}
	case s.Iterations < 1:
		return nil, &config.ConfigurationError{Field: "optimizer_iterations", Reason: fmt.Sprintf("must be at least 1, got %d", s.Iterations)}
	case !(s.StepSize > 0):
		return nil, &config.ConfigurationError{Field: "optimizer_step_size", Reason: fmt.Sprintf("must be positive, got %g", s.StepSize)}
	case !(s.MaxCommand > 0):
		return nil, &config.ConfigurationError{Field: "max_command", Reason: fmt.Sprintf("must be positive, got %g", s.MaxCommand)}
	case !(s.GradientClip > 0):
		return nil, &config.ConfigurationError{Field: "gradient_clip", Reason: fmt.Sprintf("must be positive, got %g", s.GradientClip)}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Optimizer{
		objective: obj,
		settings:  s,
		clock:     clock,
		fd:        &fd.Settings{Formula: fd.Central, Step: 1e-6},
	}, nil
}

// Settings returns the optimizer's settings.
func (o *Optimizer) Settings() Settings { return o.settings }

// ClampCommand clamps each component to [-umax, umax]. Non-finite
// components become zero.
func ClampCommand(u r2.Vec, umax float64) r2.Vec {
	c := func(x float64) float64 {
		if math.IsNaN(x) {
			return 0
		}
		return geom.Clamp(x, -umax, umax)
	}
	return r2.Vec{X: c(u.X), Y: c(u.Y)}
}

// SafeCommand returns u clamped, or the decayed previous command when u is
// not finite. The bool reports whether the fallback was used.
func SafeCommand(u, prev r2.Vec, umax, decay float64) (r2.Vec, bool) {
	if geom.Finite(u) {
		return ClampCommand(u, umax), false
	}
	if !geom.Finite(prev) {
		return r2.Vec{}, true
	}
	return ClampCommand(r2.Scale(decay, prev), umax), true
}

func (o *Optimizer) gradient(u r2.Vec, in *Input, scratch []float64) r2.Vec {
	if g, ok := o.objective.Gradient(u, in); ok {
		return g
	}
	f := func(x []float64) float64 {
		return o.objective.Value(r2.Vec{X: x[0], Y: x[1]}, in)
	}
	fd.Gradient(scratch, f, []float64{u.X, u.Y}, o.fd)
	return r2.Vec{X: scratch[0], Y: scratch[1]}
}

// flatAround reports whether the objective has the same finite value at u
// and at offsets of a twentieth of u_max along each axis.
func (o *Optimizer) flatAround(u r2.Vec, in *Input) bool {
	f0 := o.objective.Value(u, in)
	if math.IsNaN(f0) || math.IsInf(f0, 0) {
		return true
	}
	d := 0.05 * o.settings.MaxCommand
	tol := 1e-12 * (1 + math.Abs(f0))
	for _, off := range []r2.Vec{{X: d}, {X: -d}, {Y: d}, {Y: -d}} {
		if math.Abs(o.objective.Value(r2.Add(u, off), in)-f0) > tol {
			return false
		}
	}
	return true
}

// Act runs the descent for one tick.
func (o *Optimizer) Act(in *Input) Result {
	s := o.settings
	start := o.clock.Now()

	prev := in.Previous
	if !geom.Finite(prev) {
		prev = r2.Vec{}
	}
	u := ClampCommand(prev, s.MaxCommand)

	var res Result
	useful := false
	scratch := make([]float64, 2)
	for i := 0; i < s.Iterations; i++ {
		if i > 0 && s.TimeBudget > 0 && o.clock.Since(start) >= s.TimeBudget {
			break
		}
		g := o.gradient(u, in, scratch)
		res.Iterations++
		if !geom.Finite(g) {
			break
		}
		if g.X == 0 && g.Y == 0 {
			// A stationary point is a valid answer; only a surface that is
			// flat all around u gives no direction at all.
			if !o.flatAround(u, in) {
				useful = true
				res.Converged = true
			}
			break
		}
		useful = true
		g.X = geom.Clamp(g.X, -s.GradientClip, s.GradientClip)
		g.Y = geom.Clamp(g.Y, -s.GradientClip, s.GradientClip)

		next := ClampCommand(r2.Sub(u, r2.Scale(s.StepSize, g)), s.MaxCommand)
		step := r2.Norm(r2.Sub(next, u))
		u = next
		if step < s.Tolerance {
			res.Converged = true
			break
		}
	}

	value := o.objective.Value(u, in)
	if !useful || math.IsNaN(value) || math.IsInf(value, 0) {
		res.Command = ClampCommand(r2.Scale(s.FallbackDecay, prev), s.MaxCommand)
		res.Fallback = true
		res.Err = fmt.Errorf("%w: after %d iterations, F=%g", ErrDegenerate, res.Iterations, value)
		if v := o.objective.Value(res.Command, in); !math.IsNaN(v) && !math.IsInf(v, 0) {
			res.Value = v
		}
		return res
	}

	res.Command = ClampCommand(u, s.MaxCommand)
	res.Value = value
	return res
}
