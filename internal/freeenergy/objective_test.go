package freeenergy

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/haze/internal/config"
)

func TestRegistry_ListAndBuild(t *testing.T) {
	t.Parallel()
	reg := DefaultRegistry()
	if diff := cmp.Diff([]string{"goal", "obstacle", "safety", "surprise"}, reg.List()); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}

	cfg := config.MustLoadDefaultConfig()
	obj, err := reg.Build(cfg, DefaultTerms...)
	require.NoError(t, err)
	// Surprise is disabled by default (λ_s = 0).
	assert.Equal(t, []string{"goal", "safety"}, obj.Names())

	_, err = reg.Build(cfg, "goal", "gravity")
	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "objective", cfgErr.Field)
}

func TestObjective_AnalyticGradientOnlyWhenAllTermsProvideOne(t *testing.T) {
	t.Parallel()
	pref := r2.Vec{X: 1}
	in := &Input{Preference: &pref, Horizon: 0.5}

	analytic := &Objective{Terms: []WeightedTerm{{GoalTerm{}, 1}, {SurpriseTerm{}, 2}}}
	g, ok := analytic.Gradient(r2.Vec{}, in)
	require.True(t, ok)
	assert.InDelta(t, -1, g.X, 1e-12) // 2·0.5·(0 − 1)

	mixed := &Objective{Terms: []WeightedTerm{{GoalTerm{}, 1}, {SafetyTerm{}, 1}}}
	_, ok = mixed.Gradient(r2.Vec{}, in)
	assert.False(t, ok)

	// Zero-weighted terms do not count.
	disabled := &Objective{Terms: []WeightedTerm{{GoalTerm{}, 1}, {SafetyTerm{}, 0}}}
	_, ok = disabled.Gradient(r2.Vec{}, in)
	assert.True(t, ok)
}

func TestSurpriseTerm(t *testing.T) {
	t.Parallel()
	expected := r2.Vec{X: 1, Y: 1}
	in := &Input{Velocity: r2.Vec{X: 1}, Expected: &expected, Horizon: 0.5}
	assert.InDelta(t, 1, SurpriseTerm{}.Value(r2.Vec{}, in), 1e-12)
	assert.InDelta(t, 0, SurpriseTerm{}.Value(r2.Vec{Y: 2}, in), 1e-12)

	in.Expected = nil
	assert.Zero(t, SurpriseTerm{}.Value(r2.Vec{Y: 2}, in))
}

func TestObstacleTerm_RepelsNearPoints(t *testing.T) {
	t.Parallel()
	term := ObstacleTerm{Radius: 0.5, Softness: 0.25}
	in := &Input{Velocity: r2.Vec{X: 1}, Obstacles: []r2.Vec{{X: 0.6}}, Horizon: 0.5}

	towards := term.Value(r2.Vec{X: 1}, in)
	away := term.Value(r2.Vec{X: -1}, in)
	assert.Greater(t, towards, away)

	in.Obstacles = nil
	assert.Zero(t, term.Value(r2.Vec{X: 1}, in))
}

func TestSafetyTerm_EmptyMapIsFree(t *testing.T) {
	t.Parallel()
	assert.Zero(t, SafetyTerm{InsidePenalty: 10, DetourWeight: 0.5}.Value(r2.Vec{X: 1}, &Input{Horizon: 0.5}))
}
