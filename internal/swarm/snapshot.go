// Package swarm runs many haze-precision agents in lock step.
//
// Each generation is an immutable Snapshot. Engine.Step computes every
// agent's next state in parallel from the same snapshot and publishes the
// next generation only after all agents are done, so no agent ever sees a
// mix of generations.
package swarm

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/haze/internal/geom"
)

// AgentState is one agent in one generation.
type AgentState struct {
	ID       int
	Position r2.Vec
	Velocity r2.Vec
	Heading  float64
	Command  r2.Vec // acceleration applied to reach this state

	// State of the previous generation, for residual Haze.
	PrevPosition r2.Vec
	PrevVelocity r2.Vec
	HasPrev      bool

	Haze      float64
	Precision float64
	Beta      float64
	Fallback  bool
}

// Snapshot is a frozen generation. Its accessors return copies.
type Snapshot struct {
	generation int64
	agents     []AgentState
	width      float64
	height     float64
}

// NewSnapshot copies agents into a new generation. A zero width or height
// disables wrapping on that axis.
func NewSnapshot(generation int64, agents []AgentState, width, height float64) Snapshot {
	return Snapshot{
		generation: generation,
		agents:     append([]AgentState(nil), agents...),
		width:      width,
		height:     height,
	}
}

// Generation returns the generation index.
func (s Snapshot) Generation() int64 { return s.generation }

// Len returns the number of agents.
func (s Snapshot) Len() int { return len(s.agents) }

// Agent returns agent i.
func (s Snapshot) Agent(i int) AgentState { return s.agents[i] }

// Agents returns a copy of all agents.
func (s Snapshot) Agents() []AgentState { return append([]AgentState(nil), s.agents...) }

// World returns the wrap dimensions.
func (s Snapshot) World() (width, height float64) { return s.width, s.height }

// Delta returns the shortest displacement from p to q in this world.
func (s Snapshot) Delta(p, q r2.Vec) r2.Vec {
	return geom.ToroidalDelta(p, q, s.width, s.height)
}
