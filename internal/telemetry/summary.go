package telemetry

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary condenses a run's ticks.
type Summary struct {
	RunID              string  `json:"run_id"`
	Ticks              int     `json:"ticks"`
	ModelFallbacks     int     `json:"model_fallbacks"`
	OptimizerFallbacks int     `json:"optimizer_fallbacks"`
	MeanHaze           float64 `json:"mean_haze"` // over ticks with a finite estimate
	UnknownHaze        int     `json:"unknown_haze"`
	MinBeta            float64 `json:"min_beta"`
	MaxBeta            float64 `json:"max_beta"`
	MeanCommand        float64 `json:"mean_command"` // mean ‖u‖
	MeanJerk           float64 `json:"mean_jerk"`    // mean ‖u_k − u_{k−1}‖ per agent
	MeanLatencyMs      float64 `json:"mean_latency_ms"`
}

// Summarize computes a Summary over records, which must be ordered by agent
// then tick as ListTicks returns them.
func Summarize(runID string, ticks []TickRecord) Summary {
	s := Summary{RunID: runID, Ticks: len(ticks)}
	if len(ticks) == 0 {
		return s
	}
	haze := make([]float64, 0, len(ticks))
	beta := make([]float64, len(ticks))
	mag := make([]float64, len(ticks))
	lat := make([]float64, len(ticks))
	var jerk []float64
	for i, t := range ticks {
		if math.IsInf(t.Haze, 0) || math.IsNaN(t.Haze) {
			s.UnknownHaze++
		} else {
			haze = append(haze, t.Haze)
		}
		beta[i] = t.Beta
		mag[i] = math.Hypot(t.Ux, t.Uy)
		lat[i] = float64(t.Latency) / 1e6
		if t.ModelFallback {
			s.ModelFallbacks++
		}
		if t.OptimizerFallback {
			s.OptimizerFallbacks++
		}
		if i > 0 && ticks[i-1].Agent == t.Agent {
			jerk = append(jerk, math.Hypot(t.Ux-ticks[i-1].Ux, t.Uy-ticks[i-1].Uy))
		}
	}
	if len(haze) > 0 {
		s.MeanHaze = stat.Mean(haze, nil)
	}
	s.MinBeta = floats.Min(beta)
	s.MaxBeta = floats.Max(beta)
	s.MeanCommand = stat.Mean(mag, nil)
	s.MeanLatencyMs = stat.Mean(lat, nil)
	if len(jerk) > 0 {
		s.MeanJerk = stat.Mean(jerk, nil)
	}
	return s
}

// Summary loads a run's ticks and summarises them.
func (s *Store) Summary(ctx context.Context, runID string) (Summary, error) {
	ticks, err := s.ListTicks(ctx, runID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(runID, ticks), nil
}
