// Package forwardmodel defines the world-model contract consumed by the
// control loop and a few implementations of it.
//
// A Model receives a short history of an agent's relative kinematic state
// and returns a mean trajectory over a fixed horizon together with a
// per-dimension predictive variance. Any model satisfying that contract can
// be plugged in: the constant-velocity extrapolator in this package, a stub
// for tests, or a remote model served over gRPC.
package forwardmodel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// ErrModelUnavailable marks a forward-model result that cannot be used this
// tick: a timeout, a transport failure or invalid output.
var ErrModelUnavailable = errors.New("forward model unavailable")

// UnavailableError wraps the underlying cause of an unusable model result.
// Both ErrModelUnavailable and the cause match with errors.Is.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%v: %v", ErrModelUnavailable, e.Cause)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrModelUnavailable, e.Cause}
}

// State is one sample of the kinematic state handed to the model.
type State struct {
	Position r2.Vec
	Velocity r2.Vec
}

// History is the model input: the most recent states, oldest first, sampled
// every Dt seconds, and the number of future steps to predict.
type History struct {
	States  []State
	Dt      float64
	Horizon int
}

// MaxHorizon bounds the number of steps a model is asked to predict.
const MaxHorizon = 1024

// Validate reports why h cannot be predicted from, or nil.
func (h History) Validate() error {
	if math.IsNaN(h.Dt) || math.IsInf(h.Dt, 0) || h.Dt <= 0 {
		return fmt.Errorf("dt must be positive and finite, got %g", h.Dt)
	}
	if h.Horizon < 1 || h.Horizon > MaxHorizon {
		return fmt.Errorf("horizon must be in [1, %d], got %d", MaxHorizon, h.Horizon)
	}
	return nil
}

// Latest returns the newest state.
func (h History) Latest() (State, bool) {
	if len(h.States) == 0 {
		return State{}, false
	}
	return h.States[len(h.States)-1], true
}

// Prediction is the model output. Mean holds one position per horizon step.
// Variance holds the predictive variance flattened as [x0, y0, x1, y1, ...].
type Prediction struct {
	Mean     []r2.Vec
	Variance []float64
}

// Model predicts a short future trajectory with uncertainty.
// Implementations should return promptly once ctx is done.
type Model interface {
	Predict(ctx context.Context, h History) (Prediction, error)
}

// Validate reports why a prediction is unusable, or nil.
func (p Prediction) Validate() error {
	if len(p.Variance) == 0 {
		return errors.New("empty variance")
	}
	for i, v := range p.Variance {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("variance[%d] = %g", i, v)
		}
	}
	for i, m := range p.Mean {
		if math.IsNaN(m.X) || math.IsNaN(m.Y) || math.IsInf(m.X, 0) || math.IsInf(m.Y, 0) {
			return fmt.Errorf("mean[%d] is not finite", i)
		}
	}
	return nil
}

// Query calls m under a deadline and validates the result. Any failure is
// returned as an *UnavailableError. Query returns by the deadline even when
// the model ignores its context; the late result is discarded.
func Query(ctx context.Context, m Model, h History, timeout time.Duration) (Prediction, error) {
	if m == nil {
		return Prediction{}, &UnavailableError{Cause: errors.New("no model configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		p   Prediction
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := m.Predict(ctx, h)
		done <- result{p, err}
	}()

	select {
	case <-ctx.Done():
		return Prediction{}, &UnavailableError{Cause: ctx.Err()}
	case r := <-done:
		if r.err != nil {
			return Prediction{}, &UnavailableError{Cause: r.err}
		}
		if err := r.p.Validate(); err != nil {
			return Prediction{}, &UnavailableError{Cause: err}
		}
		return r.p, nil
	}
}

// Stub returns a fixed prediction after an optional delay. It honours ctx.
type Stub struct {
	Prediction Prediction
	Err        error
	Delay      time.Duration
}

func (s *Stub) Predict(ctx context.Context, _ History) (Prediction, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Prediction{}, ctx.Err()
		case <-t.C:
		}
	}
	if s.Err != nil {
		return Prediction{}, s.Err
	}
	return s.Prediction, nil
}
