package swarm

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/haze/internal/config"
)

func defaultEngine(t *testing.T, workers int) *Engine {
	t.Helper()
	e, err := EngineFromTuning(config.MustLoadDefaultConfig())
	require.NoError(t, err)
	e.cfg.Workers = workers
	return e
}

// grid lays out n agents on a square lattice with a small rotating velocity
// field so neighbourhoods are non-trivial.
func grid(n int, spacing float64) []AgentState {
	side := int(math.Ceil(math.Sqrt(float64(n))))
	agents := make([]AgentState, n)
	for i := range agents {
		x := float64(i%side) * spacing
		y := float64(i/side) * spacing
		agents[i] = AgentState{
			ID:       i,
			Position: r2.Vec{X: x, Y: y},
			Velocity: r2.Vec{X: math.Cos(float64(i)), Y: math.Sin(float64(i))},
		}
	}
	return agents
}

func TestAttention_SumsToOne(t *testing.T) {
	t.Parallel()
	for _, beta := range []float64{0, 0.01, 1, 20, 500} {
		w := Attention([]float64{0.3, 2, 7, 1, 1}, beta)
		assert.InDelta(t, 1, floats.Sum(w), 1e-12, "beta=%g", beta)
		for _, v := range w {
			assert.GreaterOrEqual(t, v, 0.0)
		}
	}
	assert.Nil(t, Attention(nil, 1))
}

func TestAttention_OutlierConcentration(t *testing.T) {
	t.Parallel()
	scores := []float64{1, 1, 1, 5}

	sharp := Attention(scores, 20)
	assert.InDelta(t, 1, sharp[3], 1e-9)

	flat := Attention(scores, 0.01)
	assert.InDelta(t, 0.25, flat[3], 0.01)
	assert.InDelta(t, flat[0], flat[1], 1e-12)

	assert.Greater(t, Attention(scores, 2)[3], Attention(scores, 1)[3])
}

func TestAttention_LargeScoresStayFinite(t *testing.T) {
	t.Parallel()
	w := Attention([]float64{1e6, 1e6 - 1}, 100)
	for _, v := range w {
		assert.False(t, math.IsNaN(v))
	}
	assert.InDelta(t, 1, w[0], 1e-9)
}

func TestSoftSeparation_PointsAwayFromNearest(t *testing.T) {
	t.Parallel()
	ns := []Neighbor{
		{Rel: r2.Vec{X: 1}},
		{Rel: r2.Vec{X: 0, Y: 4}},
	}
	a := SoftSeparation(ns, 20, 0.01)
	assert.Less(t, a.X, -0.9)
	assert.InDelta(t, 0, a.Y, 0.05)

	// At low temperature both neighbours contribute.
	b := SoftSeparation(ns, 0.01, 0.01)
	assert.Less(t, b.X, 0.0)
	assert.Less(t, b.Y, -0.1)

	assert.Equal(t, r2.Vec{}, SoftSeparation(nil, 1, 0.01))
}

func TestSaliency_ClosingNeighbourScoresHigher(t *testing.T) {
	t.Parallel()
	still := Neighbor{Rel: r2.Vec{X: 2}}
	closing := Neighbor{Rel: r2.Vec{X: 2}, RelVel: r2.Vec{X: -1}}
	receding := Neighbor{Rel: r2.Vec{X: 2}, RelVel: r2.Vec{X: 1}}
	assert.Greater(t, Saliency(closing, 0.01), Saliency(still, 0.01))
	assert.Equal(t, Saliency(still, 0.01), Saliency(receding, 0.01))
}

func TestAlignmentAndCohesion(t *testing.T) {
	t.Parallel()
	ns := []Neighbor{
		{Rel: r2.Vec{X: 2}, RelVel: r2.Vec{Y: 1}},
		{Rel: r2.Vec{X: 4}, RelVel: r2.Vec{Y: 3}},
	}
	assert.Equal(t, r2.Vec{Y: 1}, Alignment(ns, 0.5))
	assert.Equal(t, r2.Vec{X: 1.5}, Cohesion(ns, 0.5))
	assert.Equal(t, r2.Vec{}, Alignment(nil, 0.5))
	assert.Equal(t, r2.Vec{}, Cohesion(nil, 0.5))
}

func TestSnapshot_CopiesInput(t *testing.T) {
	t.Parallel()
	agents := grid(4, 1)
	snap := NewSnapshot(0, agents, 0, 0)
	agents[0].Position = r2.Vec{X: 99}
	assert.Equal(t, r2.Vec{}, snap.Agent(0).Position)

	out := snap.Agents()
	out[1].Position = r2.Vec{X: 99}
	assert.NotEqual(t, r2.Vec{X: 99}, snap.Agent(1).Position)
}

func TestSnapshot_DeltaWraps(t *testing.T) {
	t.Parallel()
	snap := NewSnapshot(0, nil, 10, 10)
	assert.Equal(t, r2.Vec{X: -2, Y: 1}, snap.Delta(r2.Vec{X: 1, Y: 1}, r2.Vec{X: 9, Y: 2}))
}

func TestStep_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	e := defaultEngine(t, 4)
	snap := NewSnapshot(0, grid(25, 1.5), 0, 0)
	before := snap.Agents()

	next, err := e.Step(context.Background(), snap)
	require.NoError(t, err)

	if diff := cmp.Diff(before, snap.Agents()); diff != "" {
		t.Errorf("input snapshot changed (-before +after):\n%s", diff)
	}
	assert.Equal(t, int64(1), next.Generation())
	assert.Equal(t, int64(0), snap.Generation())
}

func TestStep_DeterministicAcrossWorkerCounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	start := NewSnapshot(0, grid(36, 1.2), 20, 20)

	serial, err := defaultEngine(t, 1).Run(ctx, start, 10, nil)
	require.NoError(t, err)
	parallel, err := defaultEngine(t, 8).Run(ctx, start, 10, nil)
	require.NoError(t, err)

	if diff := cmp.Diff(serial.Agents(), parallel.Agents()); diff != "" {
		t.Errorf("worker count changed the result (-1 +8):\n%s", diff)
	}
	assert.Equal(t, int64(10), parallel.Generation())
}

func TestStep_CommandsBoundedAndFinite(t *testing.T) {
	t.Parallel()
	e := defaultEngine(t, 8)
	// Tight cluster so separation is strong.
	snap := NewSnapshot(0, grid(16, 0.2), 0, 0)

	bmin, bmax := e.modulator.Bounds()
	_, err := e.Run(context.Background(), snap, 30, func(s Snapshot) error {
		for _, a := range s.Agents() {
			require.LessOrEqual(t, math.Abs(a.Command.X), e.cfg.MaxCommand)
			require.LessOrEqual(t, math.Abs(a.Command.Y), e.cfg.MaxCommand)
			require.False(t, math.IsNaN(a.Position.X) || math.IsNaN(a.Position.Y))
			require.GreaterOrEqual(t, a.Haze, 0.0)
			require.GreaterOrEqual(t, a.Beta, bmin)
			require.LessOrEqual(t, a.Beta, bmax)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestStep_HazeFromSecondGeneration(t *testing.T) {
	t.Parallel()
	e := defaultEngine(t, 2)
	snap := NewSnapshot(0, grid(9, 1), 0, 0)

	g1, err := e.Step(context.Background(), snap)
	require.NoError(t, err)
	for _, a := range g1.Agents() {
		assert.True(t, a.HasPrev)
		assert.Equal(t, 0.0, a.Haze)
	}

	g2, err := e.Step(context.Background(), g1)
	require.NoError(t, err)
	var total float64
	for _, a := range g2.Agents() {
		total += a.Haze
	}
	assert.Greater(t, total, 0.0)
}

func TestStep_OwnAccelerationIsNotNeighbourSurprise(t *testing.T) {
	t.Parallel()
	e := defaultEngine(t, 1)
	dt := e.cfg.Dt
	self := AgentState{ID: 0, Velocity: r2.Vec{X: 5}, HasPrev: true}

	steady := AgentState{
		ID: 1, Position: r2.Vec{X: 1 + dt}, Velocity: r2.Vec{X: 1},
		PrevPosition: r2.Vec{X: 1}, PrevVelocity: r2.Vec{X: 1}, HasPrev: true,
	}
	next, err := e.Step(context.Background(), NewSnapshot(1, []AgentState{self, steady}, 0, 0))
	require.NoError(t, err)
	assert.InDelta(t, 0, next.Agent(0).Haze, 1e-12)

	jumped := steady
	jumped.Position.X += 0.3
	next, err = e.Step(context.Background(), NewSnapshot(1, []AgentState{self, jumped}, 0, 0))
	require.NoError(t, err)
	assert.InDelta(t, 0.09, next.Agent(0).Haze, 1e-9)
}

func TestStep_NeighbourResidualAcrossWrap(t *testing.T) {
	t.Parallel()
	e := defaultEngine(t, 1)
	dt := e.cfg.Dt
	self := AgentState{ID: 0, Position: r2.Vec{X: 0.5, Y: 5}, HasPrev: true}
	other := AgentState{
		ID: 1, Position: r2.Vec{X: dt / 2, Y: 5}, Velocity: r2.Vec{X: 1},
		PrevPosition: r2.Vec{X: 10 - dt/2, Y: 5}, PrevVelocity: r2.Vec{X: 1}, HasPrev: true,
	}
	next, err := e.Step(context.Background(), NewSnapshot(1, []AgentState{self, other}, 10, 10))
	require.NoError(t, err)
	assert.InDelta(t, 0, next.Agent(0).Haze, 1e-12)
}

func TestStep_SeparatesClosePair(t *testing.T) {
	t.Parallel()
	e := defaultEngine(t, 2)
	snap := NewSnapshot(0, []AgentState{
		{ID: 0, Position: r2.Vec{X: 0}},
		{ID: 1, Position: r2.Vec{X: 0.5}},
	}, 0, 0)

	next, err := e.Step(context.Background(), snap)
	require.NoError(t, err)
	assert.Less(t, next.Agent(0).Command.X, 0.0)
	assert.Greater(t, next.Agent(1).Command.X, 0.0)
	assert.Greater(t, next.Agent(1).Position.X-next.Agent(0).Position.X, 0.5)
}

func TestStep_WrapsPositions(t *testing.T) {
	t.Parallel()
	e := defaultEngine(t, 1)
	snap := NewSnapshot(0, []AgentState{
		{ID: 0, Position: r2.Vec{X: 9.95, Y: 5}, Velocity: r2.Vec{X: 1}},
	}, 10, 10)

	next, err := e.Step(context.Background(), snap)
	require.NoError(t, err)
	p := next.Agent(0).Position
	assert.InDelta(t, 0.05, p.X, 1e-9)
	assert.InDelta(t, 5, p.Y, 1e-9)
	assert.InDelta(t, 0, next.Agent(0).Heading, 1e-12)
}

func TestStep_Cancelled(t *testing.T) {
	t.Parallel()
	e := defaultEngine(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := NewSnapshot(3, grid(10, 1), 0, 0)
	_, err := e.Step(ctx, snap)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRun_StopsOnVisitError(t *testing.T) {
	t.Parallel()
	e := defaultEngine(t, 2)
	stop := errors.New("stop")
	calls := 0
	last, err := e.Run(context.Background(), NewSnapshot(0, grid(4, 1), 0, 0), 10, func(Snapshot) error {
		calls++
		if calls == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(3), last.Generation())
}
