package precision

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/haze/internal/config"
)

func defaultModulator(t *testing.T) *Modulator {
	t.Helper()
	m, err := ModulatorFromTuning(config.MustLoadDefaultConfig())
	require.NoError(t, err)
	return m
}

func allSquashes() []Squash {
	return []Squash{
		Logistic{Center: 1, Gain: 2},
		Logistic{Center: 5, Gain: 0.3},
		Saturating{Center: 1},
		Clamp{Max: 10},
	}
}

func TestSquash_ZeroAndSaturation(t *testing.T) {
	t.Parallel()
	for _, s := range allSquashes() {
		assert.InDelta(t, 0, s.Apply(0), 1e-12, s.Name())
		assert.InDelta(t, 1, s.Apply(math.Inf(1)), 1e-12, s.Name())
	}
	assert.Equal(t, 1.0, Clamp{Max: 10}.Apply(10))
	assert.Equal(t, 1.0, Clamp{Max: 10}.Apply(100))
	assert.InDelta(t, 0.5, Saturating{Center: 2}.Apply(2), 1e-12)
}

func TestSquash_NonDecreasing(t *testing.T) {
	t.Parallel()
	for _, s := range allSquashes() {
		prev := s.Apply(0)
		for pi := 0.01; pi < 200; pi *= 1.1 {
			v := s.Apply(pi)
			require.GreaterOrEqual(t, v, prev, "%s at Π=%g", s.Name(), pi)
			require.LessOrEqual(t, v, 1.0)
			prev = v
		}
	}
}

func TestPrecision_StrictlyDecreasing(t *testing.T) {
	t.Parallel()
	m := defaultModulator(t)
	prev := math.Inf(1)
	for h := 0.0; h < 100; h += 0.37 {
		pi := m.Precision(h)
		require.Greater(t, pi, 0.0)
		require.Less(t, pi, prev, "H=%g", h)
		prev = pi
	}
	assert.InDelta(t, 100, m.Precision(0), 1e-9, "Π(0) = 1/ε")
}

func TestBeta_WithinBoundsForEverySquash(t *testing.T) {
	t.Parallel()
	for _, s := range allSquashes() {
		m, err := NewModulator(0.01, 0.5, 20, s)
		require.NoError(t, err)
		prev := 0.0
		for _, pi := range []float64{0, 1e-6, 0.1, 0.5, 1, 2, 10, 100, 1e6} {
			b := m.Beta(pi)
			assert.GreaterOrEqual(t, b, 0.5, s.Name())
			assert.LessOrEqual(t, b, 20.0, s.Name())
			assert.GreaterOrEqual(t, b, prev, s.Name())
			prev = b
		}
	}
}

func TestModulate_LowAndHighHaze(t *testing.T) {
	t.Parallel()
	m := defaultModulator(t)
	lo, hi := m.Bounds()

	clear := m.Modulate(0.1)
	assert.Greater(t, clear.Beta, hi-0.1*(hi-lo), "low haze sharpens towards β_max")
	assert.Greater(t, clear.Confidence, 0.9)

	hazy := m.Modulate(5.0)
	assert.Less(t, hazy.Beta, lo+0.1*(hi-lo), "high haze blurs towards β_min")
	assert.Less(t, hazy.Confidence, 0.1)
	assert.Less(t, hazy.Precision, clear.Precision)
}

func TestModulate_NegativeHazeIsClear(t *testing.T) {
	t.Parallel()
	m := defaultModulator(t)
	r := m.Modulate(-3)
	assert.Equal(t, 0.0, r.Haze)
	assert.Equal(t, m.Modulate(0), r)
}

func TestModulate_UnknownHazeBlursToBetaMin(t *testing.T) {
	t.Parallel()
	m := defaultModulator(t)
	lo, _ := m.Bounds()
	for _, h := range []float64{math.NaN(), math.Inf(1)} {
		r := m.Modulate(h)
		assert.True(t, math.IsInf(r.Haze, 1))
		assert.Equal(t, 0.0, r.Precision)
		assert.Equal(t, 0.0, r.Confidence)
		assert.Equal(t, lo, r.Beta)
	}
	assert.Equal(t, 0.0, m.Precision(math.NaN()))
	assert.Less(t, m.Modulate(math.NaN()).Beta, m.Modulate(1e-3).Beta)
}

func TestNewModulator_RejectsBadBounds(t *testing.T) {
	t.Parallel()
	sq := Logistic{Center: 1, Gain: 2}
	tests := []struct {
		name            string
		eps, bmin, bmax float64
		squash          Squash
		field           string
	}{
		{"zero epsilon", 0, 0.5, 20, sq, "epsilon"},
		{"nan epsilon", math.NaN(), 0.5, 20, sq, "epsilon"},
		{"non-positive beta min", 0.01, 0, 20, sq, "beta_min"},
		{"inverted", 0.01, 5, 1, sq, "beta_max"},
		{"no squash", 0.01, 0.5, 20, nil, "squash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModulator(tt.eps, tt.bmin, tt.bmax, tt.squash)
			var cfgErr *config.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNewSquash(t *testing.T) {
	t.Parallel()
	s, err := NewSquash("saturating", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, "saturating", s.Name())

	_, err = NewSquash("cubic", 1, 1)
	assert.Error(t, err)

	_, err = NewSquash("logistic", 1, 0)
	assert.Error(t, err)
}
