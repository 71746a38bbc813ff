// Package uncertainty estimates Haze, the scalar epistemic-uncertainty proxy
// that drives precision modulation.
//
// Two estimators are provided. FromVariance reduces a forward model's
// predictive variance. FromResiduals reduces the one-step constant-velocity
// prediction errors of tracked neighbours and is used when no model output
// is available. Both return H ≥ 0 with no upper bound.
package uncertainty

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/haze/internal/config"
)

// ErrInvalidVariance is returned for empty, negative or non-finite variance.
var ErrInvalidVariance = errors.New("invalid predictive variance")

// Reducer collapses a vector of non-negative values to a scalar.
type Reducer interface {
	Name() string
	Reduce(v []float64) float64
}

// Mean is the arithmetic mean.
type Mean struct{}

func (Mean) Name() string { return "mean" }

func (Mean) Reduce(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return stat.Mean(v, nil)
}

// L2 is the Euclidean norm.
type L2 struct{}

func (L2) Name() string { return "l2" }

func (L2) Reduce(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, 2)
}

// Max is the largest element.
type Max struct{}

func (Max) Name() string { return "max" }

func (Max) Reduce(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Max(v)
}

// Weighted is a weighted mean. Weights are cycled when the input is longer
// than the weight vector, so [wx, wy] applies per axis to a flattened
// [x0, y0, x1, y1, ...] variance.
type Weighted struct {
	Weights []float64
}

func (Weighted) Name() string { return "weighted" }

func (w Weighted) Reduce(v []float64) float64 {
	if len(v) == 0 || len(w.Weights) == 0 {
		return 0
	}
	ws := make([]float64, len(v))
	for i := range ws {
		ws[i] = w.Weights[i%len(w.Weights)]
	}
	if floats.Sum(ws) == 0 {
		return 0
	}
	return stat.Mean(v, ws)
}

// NewReducer builds a reducer by name.
func NewReducer(name string, weights []float64) (Reducer, error) {
	switch name {
	case "mean", "":
		return Mean{}, nil
	case "l2":
		return L2{}, nil
	case "max":
		return Max{}, nil
	case "weighted":
		if len(weights) == 0 {
			return nil, &config.ConfigurationError{Field: "haze_weights", Reason: "required when haze_reducer is weighted"}
		}
		return Weighted{Weights: append([]float64(nil), weights...)}, nil
	default:
		return nil, &config.ConfigurationError{Field: "haze_reducer", Reason: fmt.Sprintf("unknown reducer %q", name)}
	}
}

// ReducerFromTuning builds the configured reducer.
func ReducerFromTuning(cfg *config.TuningConfig) (Reducer, error) {
	return NewReducer(cfg.GetHazeReducer(), cfg.HazeWeights)
}

// FromVariance reduces a predictive variance vector to Haze.
func FromVariance(variance []float64, r Reducer) (float64, error) {
	if len(variance) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrInvalidVariance)
	}
	for i, v := range variance {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return 0, fmt.Errorf("%w: element %d is %g", ErrInvalidVariance, i, v)
		}
	}
	h := r.Reduce(variance)
	if math.IsNaN(h) || h < 0 {
		return 0, fmt.Errorf("%w: reducer %s produced %g", ErrInvalidVariance, r.Name(), h)
	}
	return h, nil
}

// Track is one neighbour's observed kinematic state at a tick.
type Track struct {
	ID       int
	Position r2.Vec
	Velocity r2.Vec
}

// FromResiduals compares each neighbour's current position with the
// constant-velocity extrapolation of its previous state and reduces the
// squared errors. Neighbours missing from either tick are skipped. With no
// matched neighbours Haze is 0.
func FromResiduals(prev, curr []Track, dt float64, r Reducer) float64 {
	if len(prev) == 0 || len(curr) == 0 {
		return 0
	}
	byID := make(map[int]Track, len(prev))
	for _, t := range prev {
		byID[t.ID] = t
	}
	errs := make([]float64, 0, len(curr))
	for _, c := range curr {
		p, ok := byID[c.ID]
		if !ok {
			continue
		}
		predicted := r2.Add(p.Position, r2.Scale(dt, p.Velocity))
		d := r2.Sub(c.Position, predicted)
		e := r2.Dot(d, d)
		if math.IsNaN(e) || math.IsInf(e, 0) {
			continue
		}
		errs = append(errs, e)
	}
	if len(errs) == 0 {
		return 0
	}
	h := r.Reduce(errs)
	if math.IsNaN(h) || h < 0 {
		return 0
	}
	return h
}
