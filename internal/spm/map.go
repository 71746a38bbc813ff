package spm

import (
	"fmt"
	"math"

	"github.com/banshee-data/haze/internal/config"
)

// Channel indexes one layer of the saliency map.
type Channel int

const (
	// ChannelOccupancy is the squashed observation density of a cell, in [0, 1).
	ChannelOccupancy Channel = iota
	// ChannelProximity is 1 - d/r_max where d is the softmin distance of the
	// cell's observations, in [0, 1].
	ChannelProximity
	// ChannelRisk is the soft maximum of per-observation collision risk
	// exp(-ttc/τ), in [0, 1].
	ChannelRisk

	NumChannels
)

func (c Channel) String() string {
	switch c {
	case ChannelOccupancy:
		return "occupancy"
	case ChannelProximity:
		return "proximity"
	case ChannelRisk:
		return "risk"
	default:
		return fmt.Sprintf("Channel(%d)", int(c))
	}
}

// Config fixes the shape and extent of the map. It is constant for the
// lifetime of a controller so every tick produces the same grid shape.
type Config struct {
	RangeBins      int     // includes the intimate bin 0
	BearingBins    int     // linear bins across FieldOfView
	FieldOfView    float64 // radians, centred on the heading
	PersonalRadius float64 // metres; [0, PersonalRadius] is range bin 0
	MaxRange       float64 // metres; observations beyond are dropped
	RiskHorizon    float64 // seconds; time-to-collision scale of the risk channel
	OccupancyScale float64 // count that maps to 1-1/e occupancy
}

// DefaultConfig returns the map configuration from the canonical tuning
// defaults file. Panics if the file cannot be found; intended for tests.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		RangeBins:      cfg.GetRangeBins(),
		BearingBins:    cfg.GetBearingBins(),
		FieldOfView:    cfg.GetFieldOfViewDeg() * math.Pi / 180,
		PersonalRadius: cfg.GetPersonalRadius(),
		MaxRange:       cfg.GetMaxRange(),
		RiskHorizon:    cfg.GetRiskHorizonSeconds(),
		OccupancyScale: cfg.GetOccupancyScale(),
	}
}

// Validate checks that the configuration describes a usable grid.
func (c Config) Validate() error {
	if c.RangeBins < 2 {
		return fmt.Errorf("RangeBins must be at least 2, got %d", c.RangeBins)
	}
	if c.BearingBins < 1 {
		return fmt.Errorf("BearingBins must be at least 1, got %d", c.BearingBins)
	}
	if c.FieldOfView <= 0 || c.FieldOfView > 2*math.Pi {
		return fmt.Errorf("FieldOfView must be in (0, 2π], got %f", c.FieldOfView)
	}
	if c.PersonalRadius <= 0 || c.MaxRange <= c.PersonalRadius {
		return fmt.Errorf("need 0 < PersonalRadius < MaxRange, got %f, %f", c.PersonalRadius, c.MaxRange)
	}
	if c.RiskHorizon <= 0 {
		return fmt.Errorf("RiskHorizon must be positive, got %f", c.RiskHorizon)
	}
	if c.OccupancyScale <= 0 {
		return fmt.Errorf("OccupancyScale must be positive, got %f", c.OccupancyScale)
	}
	return nil
}

// Cells returns the number of cells per channel.
func (c Config) Cells() int {
	return c.RangeBins * c.BearingBins
}

// RangeBin maps a distance to its range bin. Bin 0 is the intimate zone
// [0, PersonalRadius]; bins 1..RangeBins-1 split (PersonalRadius, MaxRange]
// logarithmically so resolution is finest close to the agent.
func (c Config) RangeBin(d float64) (int, bool) {
	if d < 0 || d > c.MaxRange || math.IsNaN(d) {
		return 0, false
	}
	if d <= c.PersonalRadius {
		return 0, true
	}
	logPS := math.Log(c.PersonalRadius)
	span := math.Log(c.MaxRange) - logPS
	bin := 1 + int(float64(c.RangeBins-1)*(math.Log(d)-logPS)/span)
	if bin > c.RangeBins-1 {
		bin = c.RangeBins - 1
	}
	return bin, true
}

// BearingBin maps a bearing (radians, relative to the heading) to its
// bearing bin. Bearings outside the visible arc report false.
func (c Config) BearingBin(theta float64) (int, bool) {
	half := c.FieldOfView / 2
	if math.IsNaN(theta) || theta < -half || theta > half {
		return 0, false
	}
	bin := int((theta + half) / c.FieldOfView * float64(c.BearingBins))
	if bin > c.BearingBins-1 {
		bin = c.BearingBins - 1
	}
	return bin, true
}

// RangeCenter returns the representative distance of a range bin: the
// midpoint of the intimate bin, otherwise the geometric centre.
func (c Config) RangeCenter(r int) float64 {
	if r <= 0 {
		return c.PersonalRadius / 2
	}
	logPS := math.Log(c.PersonalRadius)
	width := (math.Log(c.MaxRange) - logPS) / float64(c.RangeBins-1)
	return math.Exp(logPS + (float64(r)-0.5)*width)
}

// BearingCenter returns the centre bearing of a bearing bin.
func (c Config) BearingCenter(b int) float64 {
	width := c.FieldOfView / float64(c.BearingBins)
	return -c.FieldOfView/2 + (float64(b)+0.5)*width
}

// Map is one tick's saliency polar map. It is immutable once Build returns.
type Map struct {
	cfg      Config
	channels [NumChannels][]float64
	distance []float64
	counts   []int
}

// Config returns the configuration the map was built with.
func (m *Map) Config() Config { return m.cfg }

// Shape returns (range bins, bearing bins).
func (m *Map) Shape() (int, int) { return m.cfg.RangeBins, m.cfg.BearingBins }

func (m *Map) index(r, b int) int { return r*m.cfg.BearingBins + b }

// At returns the value of channel ch at (range bin r, bearing bin b).
func (m *Map) At(ch Channel, r, b int) float64 {
	return m.channels[ch][m.index(r, b)]
}

// Distance returns the softmin-aggregated distance of a cell, or MaxRange
// for an empty cell.
func (m *Map) Distance(r, b int) float64 {
	return m.distance[m.index(r, b)]
}

// Count returns the number of observations that landed in a cell.
func (m *Map) Count(r, b int) int {
	return m.counts[m.index(r, b)]
}

// Channel returns a copy of one channel in row-major (range, bearing) order.
func (m *Map) Channel(ch Channel) []float64 {
	out := make([]float64, len(m.channels[ch]))
	copy(out, m.channels[ch])
	return out
}

// Total returns the sum of a channel over all cells.
func (m *Map) Total(ch Channel) float64 {
	var sum float64
	for _, v := range m.channels[ch] {
		sum += v
	}
	return sum
}

// Empty reports whether no observation contributed to the map.
func (m *Map) Empty() bool {
	for _, n := range m.counts {
		if n > 0 {
			return false
		}
	}
	return true
}
