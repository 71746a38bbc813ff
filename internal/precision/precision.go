// Package precision turns a Haze value into a precision and a soft-aggregation
// temperature β.
//
// Π = 1/(H + ε) and β = β_min + (β_max − β_min)·s(Π) where s is a
// non-decreasing squash onto [0, 1]. Low haze gives high precision and a
// sharp (large β) perception; high haze blurs it towards β_min.
package precision

import (
	"fmt"
	"math"

	"github.com/banshee-data/haze/internal/config"
)

// Squash maps a non-negative precision onto [0, 1]. Implementations must be
// non-decreasing with s(0) = 0.
type Squash interface {
	Name() string
	Apply(pi float64) float64
}

// Logistic is a logistic curve centred on Center with slope Gain, rescaled so
// that s(0) = 0 and s(∞) = 1.
type Logistic struct {
	Center float64
	Gain   float64
}

func (Logistic) Name() string { return "logistic" }

func (l Logistic) Apply(pi float64) float64 {
	if pi <= 0 {
		return 0
	}
	if math.IsInf(pi, 1) {
		return 1
	}
	lo := sigmoid(-l.Gain * l.Center)
	s := (sigmoid(l.Gain*(pi-l.Center)) - lo) / (1 - lo)
	return clamp01(s)
}

// Saturating is Π/(Π + Center): half way at Π = Center.
type Saturating struct {
	Center float64
}

func (Saturating) Name() string { return "saturating" }

func (s Saturating) Apply(pi float64) float64 {
	if pi <= 0 {
		return 0
	}
	if math.IsInf(pi, 1) {
		return 1
	}
	return clamp01(pi / (pi + s.Center))
}

// Clamp is linear up to Max and flat afterwards.
type Clamp struct {
	Max float64
}

func (Clamp) Name() string { return "clamp" }

func (c Clamp) Apply(pi float64) float64 {
	return clamp01(pi / c.Max)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NewSquash builds a squash function by name.
func NewSquash(name string, center, gain float64) (Squash, error) {
	if center <= 0 {
		return nil, &config.ConfigurationError{Field: "squash_center", Reason: fmt.Sprintf("must be positive, got %g", center)}
	}
	switch name {
	case "logistic", "":
		if gain <= 0 {
			return nil, &config.ConfigurationError{Field: "squash_gain", Reason: fmt.Sprintf("must be positive, got %g", gain)}
		}
		return Logistic{Center: center, Gain: gain}, nil
	case "saturating":
		return Saturating{Center: center}, nil
	case "clamp":
		return Clamp{Max: center}, nil
	default:
		return nil, &config.ConfigurationError{Field: "squash", Reason: fmt.Sprintf("unknown squash function %q", name)}
	}
}

// Result is one modulation step.
type Result struct {
	Haze      float64
	Precision float64
	// Confidence is s(Π) in [0, 1].
	Confidence float64
	Beta       float64
}

// Modulator is pure and safe for concurrent use.
type Modulator struct {
	epsilon float64
	betaMin float64
	betaMax float64
	squash  Squash
}

// NewModulator validates the bounds and returns a Modulator. The error is a
// *config.ConfigurationError.
func NewModulator(epsilon, betaMin, betaMax float64, squash Squash) (*Modulator, error) {
	switch {
	case !(epsilon > 0) || math.IsInf(epsilon, 0):
		return nil, &config.ConfigurationError{Field: "epsilon", Reason: fmt.Sprintf("must be positive and finite, got %g", epsilon)}
	case !(betaMin > 0):
		return nil, &config.ConfigurationError{Field: "beta_min", Reason: fmt.Sprintf("must be positive, got %g", betaMin)}
	case betaMin > betaMax || math.IsInf(betaMax, 0):
		return nil, &config.ConfigurationError{Field: "beta_max", Reason: fmt.Sprintf("must be finite and at least beta_min (%g), got %g", betaMin, betaMax)}
	case squash == nil:
		return nil, &config.ConfigurationError{Field: "squash", Reason: "missing squash function"}
	}
	return &Modulator{epsilon: epsilon, betaMin: betaMin, betaMax: betaMax, squash: squash}, nil
}

// ModulatorFromTuning builds a Modulator from a loaded TuningConfig.
func ModulatorFromTuning(cfg *config.TuningConfig) (*Modulator, error) {
	sq, err := NewSquash(cfg.GetSquash(), cfg.GetSquashCenter(), cfg.GetSquashGain())
	if err != nil {
		return nil, err
	}
	return NewModulator(cfg.GetEpsilon(), cfg.GetBetaMin(), cfg.GetBetaMax(), sq)
}

// Bounds returns (β_min, β_max).
func (m *Modulator) Bounds() (float64, float64) { return m.betaMin, m.betaMax }

// Squash returns the configured squash function.
func (m *Modulator) Squash() Squash { return m.squash }

// Precision returns 1/(H+ε). Negative haze is treated as zero; NaN haze is
// unknown and gets no precision at all.
func (m *Modulator) Precision(h float64) float64 {
	h = sanitizeHaze(h)
	return 1 / (h + m.epsilon)
}

// sanitizeHaze clamps negative haze to zero and maps NaN to +Inf, so an
// unreadable estimate blurs attention instead of sharpening it.
func sanitizeHaze(h float64) float64 {
	switch {
	case math.IsNaN(h):
		return math.Inf(1)
	case h < 0:
		return 0
	}
	return h
}

// Beta maps a precision onto [β_min, β_max].
func (m *Modulator) Beta(pi float64) float64 {
	s := m.squash.Apply(pi)
	return m.betaMin + (m.betaMax-m.betaMin)*s
}

// Modulate runs the full H → Π → β chain.
func (m *Modulator) Modulate(h float64) Result {
	h = sanitizeHaze(h)
	pi := m.Precision(h)
	s := m.squash.Apply(pi)
	return Result{
		Haze:       h,
		Precision:  pi,
		Confidence: s,
		Beta:       m.betaMin + (m.betaMax-m.betaMin)*s,
	}
}
