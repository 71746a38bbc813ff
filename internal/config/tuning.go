package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Haze estimation modes.
const (
	HazeModeModel    = "model"
	HazeModeResidual = "residual"
)

// TuningConfig is the root configuration for the control loop.
// Every field is optional; the Get* accessors supply defaults so partial
// files are safe.
type TuningConfig struct {
	// SPM grid
	RangeBins          *int     `json:"range_bins,omitempty"`
	BearingBins        *int     `json:"bearing_bins,omitempty"`
	FieldOfViewDeg     *float64 `json:"fov_deg,omitempty"` // visible arc centred on the heading
	PersonalRadius     *float64 `json:"personal_radius,omitempty"`
	MaxRange           *float64 `json:"max_range,omitempty"`
	RiskHorizonSeconds *float64 `json:"risk_horizon_seconds,omitempty"`
	OccupancyScale     *float64 `json:"occupancy_scale,omitempty"`

	// Precision / temperature
	Epsilon      *float64 `json:"epsilon,omitempty"`
	BetaMin      *float64 `json:"beta_min,omitempty"`
	BetaMax      *float64 `json:"beta_max,omitempty"`
	Squash       *string  `json:"squash,omitempty"` // logistic | saturating | clamp
	SquashCenter *float64 `json:"squash_center,omitempty"`
	SquashGain   *float64 `json:"squash_gain,omitempty"`

	// Haze
	HazeMode       *string   `json:"haze_mode,omitempty"`    // model | residual
	HazeReducer    *string   `json:"haze_reducer,omitempty"` // mean | l2 | max | weighted
	HazeWeights    []float64 `json:"haze_weights,omitempty"`
	ModelTimeout   *string   `json:"model_timeout,omitempty"` // duration string like "20ms"
	HistoryLength  *int      `json:"history_length,omitempty"`
	HorizonSteps   *int      `json:"horizon_steps,omitempty"`
	StuckSpeed     *float64  `json:"stuck_speed,omitempty"`
	StuckTicks     *int      `json:"stuck_ticks,omitempty"`
	SelfHazeEnable *bool     `json:"self_haze_enable,omitempty"`

	// Free-energy optimizer
	Iterations     *int     `json:"optimizer_iterations,omitempty"`
	Tolerance      *float64 `json:"optimizer_tolerance,omitempty"`
	StepSize       *float64 `json:"optimizer_step_size,omitempty"`
	GradientClip   *float64 `json:"gradient_clip,omitempty"`
	TimeBudget     *string  `json:"optimizer_time_budget,omitempty"` // duration string like "5ms"
	FallbackDecay  *float64 `json:"fallback_decay,omitempty"`
	MaxCommand     *float64 `json:"max_command,omitempty"` // u_max
	GoalWeight     *float64 `json:"goal_weight,omitempty"`
	SafetyWeight   *float64 `json:"safety_weight,omitempty"`
	SurpriseWeight *float64 `json:"surprise_weight,omitempty"` // λ_s; 0 disables the term
	InsidePenalty  *float64 `json:"inside_penalty,omitempty"`
	DetourWeight   *float64 `json:"detour_weight,omitempty"` // κ; lateral circulation around obstacles
	TickSeconds    *float64 `json:"tick_seconds,omitempty"` // Δt used by prediction and objectives

	// Swarm
	VisualRange      *float64 `json:"visual_range,omitempty"`
	SeparationWeight *float64 `json:"separation_weight,omitempty"`
	MatchingFactor   *float64 `json:"matching_factor,omitempty"`
	CenteringFactor  *float64 `json:"centering_factor,omitempty"`
	SwarmWorkers     *int     `json:"swarm_workers,omitempty"`
	WorldWidth       *float64 `json:"world_width,omitempty"` // 0 disables toroidal wrap
	WorldHeight      *float64 `json:"world_height,omitempty"`
}

// ConfigurationError reports an invalid configuration value. It is fatal at
// startup: binaries must not enter the control loop once one is returned.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func cfgErr(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks individual values and the cross-field bounds the control
// loop relies on. The returned error is always a *ConfigurationError.
func (c *TuningConfig) Validate() error {
	if c.GetRangeBins() < 2 {
		return cfgErr("range_bins", "must be at least 2, got %d", c.GetRangeBins())
	}
	if c.GetBearingBins() < 1 {
		return cfgErr("bearing_bins", "must be at least 1, got %d", c.GetBearingBins())
	}
	if fov := c.GetFieldOfViewDeg(); fov <= 0 || fov > 360 {
		return cfgErr("fov_deg", "must be in (0, 360], got %g", fov)
	}
	if c.GetPersonalRadius() <= 0 {
		return cfgErr("personal_radius", "must be positive, got %g", c.GetPersonalRadius())
	}
	if c.GetMaxRange() <= c.GetPersonalRadius() {
		return cfgErr("max_range", "must exceed personal_radius (%g), got %g", c.GetPersonalRadius(), c.GetMaxRange())
	}
	if c.GetRiskHorizonSeconds() <= 0 {
		return cfgErr("risk_horizon_seconds", "must be positive, got %g", c.GetRiskHorizonSeconds())
	}
	if c.GetOccupancyScale() <= 0 {
		return cfgErr("occupancy_scale", "must be positive, got %g", c.GetOccupancyScale())
	}

	if c.GetEpsilon() <= 0 {
		return cfgErr("epsilon", "must be positive, got %g", c.GetEpsilon())
	}
	if c.GetBetaMin() <= 0 {
		return cfgErr("beta_min", "must be positive, got %g", c.GetBetaMin())
	}
	if c.GetBetaMin() > c.GetBetaMax() {
		return cfgErr("beta_min", "must not exceed beta_max (%g), got %g", c.GetBetaMax(), c.GetBetaMin())
	}
	switch c.GetSquash() {
	case "logistic", "saturating", "clamp":
	default:
		return cfgErr("squash", "unknown squash function %q", c.GetSquash())
	}
	if c.GetSquashCenter() <= 0 {
		return cfgErr("squash_center", "must be positive, got %g", c.GetSquashCenter())
	}
	if c.GetSquashGain() <= 0 {
		return cfgErr("squash_gain", "must be positive, got %g", c.GetSquashGain())
	}

	switch c.GetHazeMode() {
	case HazeModeModel, HazeModeResidual:
	default:
		return cfgErr("haze_mode", "unknown haze mode %q", c.GetHazeMode())
	}
	switch c.GetHazeReducer() {
	case "mean", "l2", "max":
	case "weighted":
		if len(c.HazeWeights) == 0 {
			return cfgErr("haze_weights", "required when haze_reducer is weighted")
		}
		for i, w := range c.HazeWeights {
			if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				return cfgErr("haze_weights", "weight %d must be finite and non-negative, got %g", i, w)
			}
		}
	default:
		return cfgErr("haze_reducer", "unknown reducer %q", c.GetHazeReducer())
	}
	if c.ModelTimeout != nil && *c.ModelTimeout != "" {
		d, err := time.ParseDuration(*c.ModelTimeout)
		if err != nil {
			return cfgErr("model_timeout", "invalid duration %q: %v", *c.ModelTimeout, err)
		}
		if d <= 0 {
			return cfgErr("model_timeout", "must be positive, got %v", d)
		}
	}
	if c.GetHistoryLength() < 2 {
		return cfgErr("history_length", "must be at least 2, got %d", c.GetHistoryLength())
	}
	if c.GetHorizonSteps() < 1 {
		return cfgErr("horizon_steps", "must be at least 1, got %d", c.GetHorizonSteps())
	}
	if c.GetStuckTicks() < 1 {
		return cfgErr("stuck_ticks", "must be at least 1, got %d", c.GetStuckTicks())
	}

	if c.GetIterations() < 1 {
		return cfgErr("optimizer_iterations", "must be at least 1, got %d", c.GetIterations())
	}
	if c.GetTolerance() < 0 {
		return cfgErr("optimizer_tolerance", "must be non-negative, got %g", c.GetTolerance())
	}
	if c.GetStepSize() <= 0 {
		return cfgErr("optimizer_step_size", "must be positive, got %g", c.GetStepSize())
	}
	if c.GetGradientClip() <= 0 {
		return cfgErr("gradient_clip", "must be positive, got %g", c.GetGradientClip())
	}
	if c.TimeBudget != nil && *c.TimeBudget != "" {
		if _, err := time.ParseDuration(*c.TimeBudget); err != nil {
			return cfgErr("optimizer_time_budget", "invalid duration %q: %v", *c.TimeBudget, err)
		}
	}
	if d := c.GetFallbackDecay(); d < 0 || d > 1 {
		return cfgErr("fallback_decay", "must be in [0, 1], got %g", d)
	}
	if c.GetMaxCommand() <= 0 {
		return cfgErr("max_command", "must be positive, got %g", c.GetMaxCommand())
	}
	if c.GetGoalWeight() < 0 || c.GetSafetyWeight() < 0 || c.GetSurpriseWeight() < 0 {
		return cfgErr("weights", "objective weights must be non-negative")
	}
	if c.GetInsidePenalty() < 0 {
		return cfgErr("inside_penalty", "must be non-negative, got %g", c.GetInsidePenalty())
	}
	if c.GetDetourWeight() < 0 {
		return cfgErr("detour_weight", "must be non-negative, got %g", c.GetDetourWeight())
	}
	if c.GetTickSeconds() <= 0 {
		return cfgErr("tick_seconds", "must be positive, got %g", c.GetTickSeconds())
	}

	if c.GetVisualRange() <= 0 {
		return cfgErr("visual_range", "must be positive, got %g", c.GetVisualRange())
	}
	if c.GetSwarmWorkers() < 1 {
		return cfgErr("swarm_workers", "must be at least 1, got %d", c.GetSwarmWorkers())
	}
	if c.GetWorldWidth() < 0 || c.GetWorldHeight() < 0 {
		return cfgErr("world_width", "world dimensions must be non-negative")
	}

	return nil
}

// GetRangeBins returns the number of log-range bins (including the intimate bin).
func (c *TuningConfig) GetRangeBins() int {
	if c.RangeBins == nil {
		return 8
	}
	return *c.RangeBins
}

// GetBearingBins returns the number of bearing bins across the visible arc.
func (c *TuningConfig) GetBearingBins() int {
	if c.BearingBins == nil {
		return 15
	}
	return *c.BearingBins
}

// GetFieldOfViewDeg returns the visible arc in degrees.
// The default leaves a 150° rear blind zone.
func (c *TuningConfig) GetFieldOfViewDeg() float64 {
	if c.FieldOfViewDeg == nil {
		return 210
	}
	return *c.FieldOfViewDeg
}

// GetPersonalRadius returns the outer edge of the intimate range bin in metres.
func (c *TuningConfig) GetPersonalRadius() float64 {
	if c.PersonalRadius == nil {
		return 0.5
	}
	return *c.PersonalRadius
}

// GetMaxRange returns the sensing range in metres.
func (c *TuningConfig) GetMaxRange() float64 {
	if c.MaxRange == nil {
		return 10.0
	}
	return *c.MaxRange
}

// GetRiskHorizonSeconds returns the time-to-collision scale for the risk channel.
func (c *TuningConfig) GetRiskHorizonSeconds() float64 {
	if c.RiskHorizonSeconds == nil {
		return 2.0
	}
	return *c.RiskHorizonSeconds
}

// GetOccupancyScale returns the observation count that maps to ~63% occupancy.
func (c *TuningConfig) GetOccupancyScale() float64 {
	if c.OccupancyScale == nil {
		return 1.0
	}
	return *c.OccupancyScale
}

// GetEpsilon returns the precision floor ε.
func (c *TuningConfig) GetEpsilon() float64 {
	if c.Epsilon == nil {
		return 0.01
	}
	return *c.Epsilon
}

// GetBetaMin returns the lowest temperature (averaged perception).
func (c *TuningConfig) GetBetaMin() float64 {
	if c.BetaMin == nil {
		return 0.5
	}
	return *c.BetaMin
}

// GetBetaMax returns the highest temperature (sharp perception).
func (c *TuningConfig) GetBetaMax() float64 {
	if c.BetaMax == nil {
		return 20.0
	}
	return *c.BetaMax
}

// GetSquash returns the precision squashing function name.
func (c *TuningConfig) GetSquash() string {
	if c.Squash == nil || *c.Squash == "" {
		return "logistic"
	}
	return *c.Squash
}

// GetSquashCenter returns Π₀, the precision at which the squash is half way
// (logistic, saturating) or saturates (clamp).
func (c *TuningConfig) GetSquashCenter() float64 {
	if c.SquashCenter == nil {
		return 1.0
	}
	return *c.SquashCenter
}

// GetSquashGain returns the logistic slope k.
func (c *TuningConfig) GetSquashGain() float64 {
	if c.SquashGain == nil {
		return 2.0
	}
	return *c.SquashGain
}

// GetHazeMode returns the configured Haze estimation mode.
func (c *TuningConfig) GetHazeMode() string {
	if c.HazeMode == nil || *c.HazeMode == "" {
		return HazeModeModel
	}
	return *c.HazeMode
}

// GetHazeReducer returns the reduction applied to variance or residual vectors.
func (c *TuningConfig) GetHazeReducer() string {
	if c.HazeReducer == nil || *c.HazeReducer == "" {
		return "mean"
	}
	return *c.HazeReducer
}

// GetModelTimeout parses and returns the forward-model query timeout.
func (c *TuningConfig) GetModelTimeout() time.Duration {
	if c.ModelTimeout == nil || *c.ModelTimeout == "" {
		return 20 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.ModelTimeout)
	if err != nil {
		return 20 * time.Millisecond
	}
	return d
}

// GetHistoryLength returns the number of past states handed to the forward model.
func (c *TuningConfig) GetHistoryLength() int {
	if c.HistoryLength == nil {
		return 8
	}
	return *c.HistoryLength
}

// GetHorizonSteps returns the forward-model prediction horizon in ticks.
func (c *TuningConfig) GetHorizonSteps() int {
	if c.HorizonSteps == nil {
		return 5
	}
	return *c.HorizonSteps
}

// GetStuckSpeed returns the speed below which an agent counts as stuck.
func (c *TuningConfig) GetStuckSpeed() float64 {
	if c.StuckSpeed == nil {
		return 0.05
	}
	return *c.StuckSpeed
}

// GetStuckTicks returns how many consecutive slow ticks raise self-haze.
func (c *TuningConfig) GetStuckTicks() int {
	if c.StuckTicks == nil {
		return 50
	}
	return *c.StuckTicks
}

// GetSelfHazeEnable reports whether the stuck detector contributes to Haze.
func (c *TuningConfig) GetSelfHazeEnable() bool {
	if c.SelfHazeEnable == nil {
		return true
	}
	return *c.SelfHazeEnable
}

// GetIterations returns the optimizer iteration budget.
func (c *TuningConfig) GetIterations() int {
	if c.Iterations == nil {
		return 20
	}
	return *c.Iterations
}

// GetTolerance returns the convergence tolerance on the command step norm.
func (c *TuningConfig) GetTolerance() float64 {
	if c.Tolerance == nil {
		return 1e-4
	}
	return *c.Tolerance
}

// GetStepSize returns the gradient descent learning rate.
func (c *TuningConfig) GetStepSize() float64 {
	if c.StepSize == nil {
		return 0.5
	}
	return *c.StepSize
}

// GetGradientClip returns the per-component gradient clip.
func (c *TuningConfig) GetGradientClip() float64 {
	if c.GradientClip == nil {
		return 10.0
	}
	return *c.GradientClip
}

// GetTimeBudget parses the optimizer wall-clock budget. Zero means no budget.
func (c *TuningConfig) GetTimeBudget() time.Duration {
	if c.TimeBudget == nil || *c.TimeBudget == "" {
		return 5 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.TimeBudget)
	if err != nil {
		return 5 * time.Millisecond
	}
	return d
}

// GetFallbackDecay returns the factor applied to the previous command when
// the optimizer degenerates.
func (c *TuningConfig) GetFallbackDecay() float64 {
	if c.FallbackDecay == nil {
		return 0.5
	}
	return *c.FallbackDecay
}

// GetMaxCommand returns u_max.
func (c *TuningConfig) GetMaxCommand() float64 {
	if c.MaxCommand == nil {
		return 2.0
	}
	return *c.MaxCommand
}

// GetGoalWeight returns the weight of the goal term.
func (c *TuningConfig) GetGoalWeight() float64 {
	if c.GoalWeight == nil {
		return 0.5
	}
	return *c.GoalWeight
}

// GetSafetyWeight returns the weight of the safety term.
func (c *TuningConfig) GetSafetyWeight() float64 {
	if c.SafetyWeight == nil {
		return 1.0
	}
	return *c.SafetyWeight
}

// GetSurpriseWeight returns λ_s.
func (c *TuningConfig) GetSurpriseWeight() float64 {
	if c.SurpriseWeight == nil {
		return 0
	}
	return *c.SurpriseWeight
}

// GetInsidePenalty returns the weight on occupancy inside the intimate bin.
func (c *TuningConfig) GetInsidePenalty() float64 {
	if c.InsidePenalty == nil {
		return 10.0
	}
	return *c.InsidePenalty
}

// GetDetourWeight returns κ, the weight of the lateral detour reward that
// breaks the left/right symmetry around an obstacle.
func (c *TuningConfig) GetDetourWeight() float64 {
	if c.DetourWeight == nil {
		return 0.5
	}
	return *c.DetourWeight
}

// GetTickSeconds returns the control period Δt in seconds.
func (c *TuningConfig) GetTickSeconds() float64 {
	if c.TickSeconds == nil {
		return 0.1
	}
	return *c.TickSeconds
}

// GetVisualRange returns the swarm neighbourhood radius.
func (c *TuningConfig) GetVisualRange() float64 {
	if c.VisualRange == nil {
		return 5.0
	}
	return *c.VisualRange
}

// GetSeparationWeight returns the gain on the soft separation acceleration.
func (c *TuningConfig) GetSeparationWeight() float64 {
	if c.SeparationWeight == nil {
		return 1.5
	}
	return *c.SeparationWeight
}

// GetMatchingFactor returns the boids alignment gain.
func (c *TuningConfig) GetMatchingFactor() float64 {
	if c.MatchingFactor == nil {
		return 0.05
	}
	return *c.MatchingFactor
}

// GetCenteringFactor returns the boids cohesion gain.
func (c *TuningConfig) GetCenteringFactor() float64 {
	if c.CenteringFactor == nil {
		return 0.005
	}
	return *c.CenteringFactor
}

// GetSwarmWorkers returns the maximum number of agent ticks run in parallel.
func (c *TuningConfig) GetSwarmWorkers() int {
	if c.SwarmWorkers == nil {
		return 8
	}
	return *c.SwarmWorkers
}

// GetWorldWidth returns the toroidal world width; 0 disables wrapping.
func (c *TuningConfig) GetWorldWidth() float64 {
	if c.WorldWidth == nil {
		return 0
	}
	return *c.WorldWidth
}

// GetWorldHeight returns the toroidal world height; 0 disables wrapping.
func (c *TuningConfig) GetWorldHeight() float64 {
	if c.WorldHeight == nil {
		return 0
	}
	return *c.WorldHeight
}
