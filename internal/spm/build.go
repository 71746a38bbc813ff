package spm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/haze/internal/geom"
)

// Observation is a single point or agent sample in the ego frame.
type Observation struct {
	Range              float64 // metres, >= 0
	Bearing            float64 // radians relative to heading, counter-clockwise positive
	RadialVelocity     float64 // m/s along the line of sight; negative is closing
	TangentialVelocity float64 // m/s perpendicular to the line of sight
}

// ObservationFromRelative builds an Observation from an ego-frame relative
// position and relative velocity.
func ObservationFromRelative(rel, relVel r2.Vec) Observation {
	rng, bearing := geom.Polar(rel)
	radial, tangential := geom.RadialTangential(relVel, bearing)
	return Observation{Range: rng, Bearing: bearing, RadialVelocity: radial, TangentialVelocity: tangential}
}

// ClosingSpeed returns the approach speed, or 0 for a receding target.
func (o Observation) ClosingSpeed() float64 {
	if o.RadialVelocity >= 0 {
		return 0
	}
	return -o.RadialVelocity
}

// Temperatures carries the soft-aggregation sharpness for the channels that
// use one. Larger is sharper.
type Temperatures struct {
	Proximity float64 // β_r for the softmin distance
	Risk      float64 // β for the risk soft maximum
}

// SensorInputError describes an observation that was dropped because it was
// malformed. It is never fatal.
type SensorInputError struct {
	Index  int
	Obs    Observation
	Reason string
}

func (e *SensorInputError) Error() string {
	return fmt.Sprintf("observation %d dropped: %s (range=%g bearing=%g)", e.Index, e.Reason, e.Obs.Range, e.Obs.Bearing)
}

func validate(o Observation) string {
	switch {
	case math.IsNaN(o.Range) || math.IsInf(o.Range, 0):
		return "non-finite range"
	case o.Range < 0:
		return "negative range"
	case math.IsNaN(o.Bearing) || math.IsInf(o.Bearing, 0):
		return "non-finite bearing"
	case math.IsNaN(o.RadialVelocity) || math.IsInf(o.RadialVelocity, 0),
		math.IsNaN(o.TangentialVelocity) || math.IsInf(o.TangentialVelocity, 0):
		return "non-finite velocity"
	}
	return ""
}

// Risk returns exp(-ttc/τ) for an observation, where ttc is its time to
// collision at the current closing speed. Receding or static targets carry
// no risk.
func (c Config) Risk(o Observation) float64 {
	closing := o.ClosingSpeed()
	if closing == 0 {
		return 0
	}
	ttc := o.Range / closing
	return math.Exp(-ttc / c.RiskHorizon)
}

// Build maps observations into a fresh Map.
//
// Malformed observations are dropped and returned as SensorInputErrors.
// Observations in the rear blind zone or beyond MaxRange are dropped
// silently. Cells with no observations take the background values
// distance = MaxRange, proximity = 0, risk = 0, occupancy = 0.
func Build(cfg Config, obs []Observation, temps Temperatures) (*Map, []*SensorInputError) {
	n := cfg.Cells()
	m := &Map{
		cfg:      cfg,
		distance: make([]float64, n),
		counts:   make([]int, n),
	}
	for ch := range m.channels {
		m.channels[ch] = make([]float64, n)
	}

	var dropped []*SensorInputError
	dists := make([][]float64, n)
	risks := make([][]float64, n)

	for i, o := range obs {
		if reason := validate(o); reason != "" {
			dropped = append(dropped, &SensorInputError{Index: i, Obs: o, Reason: reason})
			continue
		}
		b, ok := cfg.BearingBin(geom.NormalizeAngle(o.Bearing))
		if !ok {
			continue
		}
		r, ok := cfg.RangeBin(o.Range)
		if !ok {
			continue
		}
		idx := r*cfg.BearingBins + b
		dists[idx] = append(dists[idx], o.Range)
		risks[idx] = append(risks[idx], cfg.Risk(o))
	}

	for idx := 0; idx < n; idx++ {
		count := len(dists[idx])
		m.counts[idx] = count
		if count == 0 {
			m.distance[idx] = cfg.MaxRange
			continue
		}
		d := Softmin(dists[idx], temps.Proximity)
		m.distance[idx] = d
		m.channels[ChannelOccupancy][idx] = 1 - math.Exp(-float64(count)/cfg.OccupancyScale)
		m.channels[ChannelProximity][idx] = 1 - geom.Clamp(d/cfg.MaxRange, 0, 1)
		m.channels[ChannelRisk][idx] = geom.Clamp(Softmax(risks[idx], temps.Risk), 0, 1)
	}

	return m, dropped
}
