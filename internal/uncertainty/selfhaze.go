package uncertainty

// Self-haze step sizes per tick.
const (
	selfHazeRise  = 0.05
	selfHazeDecay = 0.01
)

// SelfHaze is a stuck detector. When the agent's speed stays below
// StuckSpeed for more than StuckTicks consecutive ticks its own uncertainty
// rises by 0.05 per tick; otherwise it decays by 0.01 per tick. The value is
// bounded to [0, 1] and is added to the estimated Haze.
//
// SelfHaze is per-agent state and is not safe for concurrent use.
type SelfHaze struct {
	StuckSpeed float64
	StuckTicks int

	slowTicks int
	value     float64
}

// Update feeds one tick's speed and returns the new self-haze.
func (s *SelfHaze) Update(speed float64) float64 {
	if speed < s.StuckSpeed {
		s.slowTicks++
	} else {
		s.slowTicks = 0
	}
	if s.slowTicks > s.StuckTicks {
		s.value += selfHazeRise
	} else {
		s.value -= selfHazeDecay
	}
	if s.value > 1 {
		s.value = 1
	}
	if s.value < 0 {
		s.value = 0
	}
	return s.value
}

// Value returns the current self-haze without advancing it.
func (s *SelfHaze) Value() float64 { return s.value }

// Reset clears the detector.
func (s *SelfHaze) Reset() {
	s.slowTicks = 0
	s.value = 0
}
