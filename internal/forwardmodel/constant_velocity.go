package forwardmodel

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"
)

// ConstantVelocity extrapolates the newest state at constant velocity and
// propagates a 4-state [x, y, vx, vy] covariance through P' = F·P·Fᵀ + Q.
//
// The initial velocity covariance is the spread of the velocities in the
// history, so an agent whose motion has been erratic gets a wider predictive
// variance than one moving steadily.
type ConstantVelocity struct {
	ProcessNoisePos float64 // σ² added to position per step
	ProcessNoiseVel float64 // σ² added to velocity per step
	MeasurementVar  float64 // initial position variance
}

// DefaultConstantVelocity returns a model with modest noise levels.
func DefaultConstantVelocity() *ConstantVelocity {
	return &ConstantVelocity{
		ProcessNoisePos: 0.01,
		ProcessNoiseVel: 0.05,
		MeasurementVar:  0.01,
	}
}

func (m *ConstantVelocity) Predict(ctx context.Context, h History) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	last, ok := h.Latest()
	if !ok {
		return Prediction{}, errors.New("empty history")
	}
	if err := h.Validate(); err != nil {
		return Prediction{}, err
	}

	vx := make([]float64, len(h.States))
	vy := make([]float64, len(h.States))
	for i, s := range h.States {
		vx[i], vy[i] = s.Velocity.X, s.Velocity.Y
	}
	velVarX, velVarY := 0.0, 0.0
	if len(h.States) > 1 {
		velVarX = stat.Variance(vx, nil)
		velVarY = stat.Variance(vy, nil)
	}

	dt := h.Dt
	F := mat.NewDense(4, 4, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	Q := mat.NewDiagDense(4, []float64{m.ProcessNoisePos, m.ProcessNoisePos, m.ProcessNoiseVel, m.ProcessNoiseVel})
	P := mat.NewDense(4, 4, nil)
	P.Copy(mat.NewDiagDense(4, []float64{
		m.MeasurementVar, m.MeasurementVar,
		velVarX + m.ProcessNoiseVel, velVarY + m.ProcessNoiseVel,
	}))

	pred := Prediction{
		Mean:     make([]r2.Vec, h.Horizon),
		Variance: make([]float64, 0, 2*h.Horizon),
	}
	var FP, FPFt mat.Dense
	pos := last.Position
	for k := 0; k < h.Horizon; k++ {
		pos = r2.Add(pos, r2.Scale(dt, last.Velocity))
		pred.Mean[k] = pos

		FP.Mul(F, P)
		FPFt.Mul(&FP, F.T())
		P.Add(&FPFt, Q)

		pred.Variance = append(pred.Variance, math.Max(0, P.At(0, 0)), math.Max(0, P.At(1, 1)))
	}
	return pred, nil
}
