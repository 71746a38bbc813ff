package freeenergy

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/haze/internal/precision"
	"github.com/banshee-data/haze/internal/spm"
)

// Input is everything a term may look at for one tick. All vectors are in
// the ego frame (+X ahead, +Y left).
type Input struct {
	Velocity   r2.Vec  // current ego velocity
	Map        *spm.Map
	Precision  precision.Result
	Preference *r2.Vec // preferred velocity; nil rewards forward progress
	Expected   *r2.Vec // velocity the forward model expects next; nil disables surprise
	Obstacles  []r2.Vec
	Previous   r2.Vec  // last tick's command, the warm start
	Horizon    float64 // seconds the acceleration is applied for
}

// Resulting returns the velocity after applying u for the horizon.
func (in *Input) Resulting(u r2.Vec) r2.Vec {
	return r2.Add(in.Velocity, r2.Scale(in.Horizon, u))
}

// Term is one component of the objective.
type Term interface {
	Name() string
	Value(u r2.Vec, in *Input) float64
}

// Gradienter is implemented by terms with an analytic gradient in u.
type Gradienter interface {
	Gradient(u r2.Vec, in *Input) r2.Vec
}

func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

// GoalTerm pulls the resulting velocity towards the preference.
type GoalTerm struct{}

func (GoalTerm) Name() string { return "goal" }

func (GoalTerm) Value(u r2.Vec, in *Input) float64 {
	v := in.Resulting(u)
	if in.Preference == nil {
		return -v.X
	}
	d := r2.Sub(v, *in.Preference)
	return r2.Dot(d, d)
}

func (GoalTerm) Gradient(u r2.Vec, in *Input) r2.Vec {
	if in.Preference == nil {
		return r2.Vec{X: -in.Horizon}
	}
	return r2.Scale(2*in.Horizon, r2.Sub(in.Resulting(u), *in.Preference))
}

// precisionFloor keeps some caution even at zero confidence.
const precisionFloor = 0.2

// deadAhead is the bearing tolerance inside which an obstacle is treated as
// straight ahead and passed on the left.
const deadAhead = 1e-9

// SafetyTerm penalises approaching salient SPM cells.
//
// Each occupied cell c at bearing θ contributes w_c·softplus(v'·e_r) where
// w_c = risk + proximity·occupancy and v' is the resulting velocity. The
// intimate bin adds InsidePenalty·occupancy to w_c. A detour reward
// −κ·w_c·side·(v'·e_t) steers around the cell: obstacles on the right or
// dead ahead are passed on the left, obstacles on the left on the right.
//
// The whole term scales with 0.2 + 0.8·s(Π), so a hazy agent reacts less
// sharply than a confident one.
type SafetyTerm struct {
	InsidePenalty float64
	DetourWeight  float64
}

func (SafetyTerm) Name() string { return "safety" }

func (t SafetyTerm) Value(u r2.Vec, in *Input) float64 {
	m := in.Map
	if m == nil {
		return 0
	}
	cfg := m.Config()
	v := in.Resulting(u)
	rb, bb := m.Shape()

	var sum float64
	for r := 0; r < rb; r++ {
		for b := 0; b < bb; b++ {
			occ := m.At(spm.ChannelOccupancy, r, b)
			w := m.At(spm.ChannelRisk, r, b) + m.At(spm.ChannelProximity, r, b)*occ
			if r == 0 {
				w += t.InsidePenalty * occ
			}
			if w == 0 {
				continue
			}
			theta := cfg.BearingCenter(b)
			er := r2.Vec{X: math.Cos(theta), Y: math.Sin(theta)}
			et := r2.Vec{X: -math.Sin(theta), Y: math.Cos(theta)}
			side := 1.0
			if theta > deadAhead {
				side = -1
			}
			sum += w*softplus(r2.Dot(v, er)) - t.DetourWeight*w*side*r2.Dot(v, et)
		}
	}
	gain := precisionFloor + (1-precisionFloor)*in.Precision.Confidence
	return gain * sum
}

// SurpriseTerm penalises deviating from the velocity the forward model
// expects, weighted by λ_s in the objective.
type SurpriseTerm struct{}

func (SurpriseTerm) Name() string { return "surprise" }

func (SurpriseTerm) Value(u r2.Vec, in *Input) float64 {
	if in.Expected == nil {
		return 0
	}
	d := r2.Sub(in.Resulting(u), *in.Expected)
	return r2.Dot(d, d)
}

func (SurpriseTerm) Gradient(u r2.Vec, in *Input) r2.Vec {
	if in.Expected == nil {
		return r2.Vec{}
	}
	return r2.Scale(2*in.Horizon, r2.Sub(in.Resulting(u), *in.Expected))
}

// ObstacleTerm is a soft barrier around explicit obstacle points: each
// point costs Softness·softplus((Radius − d)/Softness), where d is its
// distance from the position reached after the horizon.
type ObstacleTerm struct {
	Radius   float64
	Softness float64
}

func (ObstacleTerm) Name() string { return "obstacle" }

func (t ObstacleTerm) Value(u r2.Vec, in *Input) float64 {
	if len(in.Obstacles) == 0 {
		return 0
	}
	soft := t.Softness
	if soft <= 0 {
		soft = 0.25
	}
	reach := r2.Scale(in.Horizon, in.Resulting(u))
	var sum float64
	for _, p := range in.Obstacles {
		d := r2.Norm(r2.Sub(p, reach))
		sum += soft * softplus((t.Radius-d)/soft)
	}
	return sum
}
