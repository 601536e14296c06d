// pkg/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Options holds the raw, user supplied simulation parameters. Shares are given
// as percentages (0-100) and durations in seconds.
type Options struct {
	SimulationDuration float64         `json:"simulationDuration"`
	Behavior           BehaviorOptions `json:"behavior"`
	Illness            IllnessOptions  `json:"illness"`
	Immunity           ImmunityOptions `json:"immunity"`
}

// BehaviorOptions describes how agents move and protect themselves
type BehaviorOptions struct {
	NumberOfPoints                     int     `json:"numberOfPoints"`
	MovingPercentage                   float64 `json:"movingPercentage"`
	ProtectionPercentageAmongMoving    float64 `json:"protectionPercentageAmongMoving"`
	ProtectionPercentageAmongResting   float64 `json:"protectionPercentageAmongResting"`
	InfectiousSpeedReductionPercentage float64 `json:"infectiousSpeedReductionPercentage"`
}

// IllnessOptions describes the course of the disease
type IllnessOptions struct {
	LethalityPercentage  float64 `json:"lethalityPercentage"`
	IncubationPeriod     float64 `json:"incubationPeriod"`
	InfectiousPercentage float64 `json:"infectiousPercentage"`
	InfectiousDuration   float64 `json:"infectiousDuration"`
}

// ImmunityOptions describes how long recovered agents stay immune
type ImmunityOptions struct {
	PermanentImmunityPercentage           float64 `json:"permanentImmunityPercentage"`
	ImmunityDurationOfNonPermanentImmunes float64 `json:"immunityDurationOfNonPermanentImmunes"`
}

// Configuration is the normalized, immutable parameter set the engine runs on.
// Build it with New; the zero value is not meaningful.
type Configuration struct {
	SimulationDuration float64
	Behavior           Behavior
	Illness            Illness
	Immunity           Immunity
	Fixed              Fixed
}

// Behavior holds normalized movement and protection parameters
type Behavior struct {
	NumberOfPoints              int
	MovingShare                 float64
	ProtectionShareAmongMoving  float64
	ProtectionShareAmongResting float64
	// InfectiousSpeedReductionFactor scales the speed of infectious agents.
	InfectiousSpeedReductionFactor float64
}

// Illness holds normalized disease parameters
type Illness struct {
	Lethality        float64
	IncubationPeriod float64
	// InfectiousShare is the share of exposed agents that become infectious.
	// It is never below Lethality.
	InfectiousShare    float64
	InfectiousDuration float64
}

// Immunity holds normalized immunity parameters
type Immunity struct {
	PermanentImmunityShare                float64
	ImmunityDurationOfNonPermanentImmunes float64
}

// Fixed holds the constants of the model plus their precomputed squares
type Fixed struct {
	VelocityAbs        float64
	PointRadius        float64
	SquaredVelocityAbs float64
	SquaredPointRadius float64
}

// Model constants and input bounds
const (
	VelocityAbs = 0.15
	PointRadius = 0.009

	MinSimulationDuration = 5
	MaxSimulationDuration = 1000
	MinNumberOfPoints     = 5
	MaxNumberOfPoints     = 200
)

// New normalizes opts into a Configuration. Out of range values are clamped,
// never rejected.
func New(opts Options) Configuration {
	lethality := clampShare(opts.Illness.LethalityPercentage)

	return Configuration{
		SimulationDuration: clamp(opts.SimulationDuration, MinSimulationDuration, MaxSimulationDuration),
		Behavior: Behavior{
			NumberOfPoints:                 min(MaxNumberOfPoints, max(MinNumberOfPoints, opts.Behavior.NumberOfPoints)),
			MovingShare:                    clampShare(opts.Behavior.MovingPercentage),
			ProtectionShareAmongMoving:     clampShare(opts.Behavior.ProtectionPercentageAmongMoving),
			ProtectionShareAmongResting:    clampShare(opts.Behavior.ProtectionPercentageAmongResting),
			InfectiousSpeedReductionFactor: clamp(1-opts.Behavior.InfectiousSpeedReductionPercentage/100, 0, 1),
		},
		Illness: Illness{
			Lethality:          lethality,
			IncubationPeriod:   nonNegative(opts.Illness.IncubationPeriod),
			InfectiousShare:    clamp(opts.Illness.InfectiousPercentage/100, lethality, 1),
			InfectiousDuration: nonNegative(opts.Illness.InfectiousDuration),
		},
		Immunity: Immunity{
			PermanentImmunityShare:                clampShare(opts.Immunity.PermanentImmunityPercentage),
			ImmunityDurationOfNonPermanentImmunes: nonNegative(opts.Immunity.ImmunityDurationOfNonPermanentImmunes),
		},
		Fixed: Fixed{
			VelocityAbs:        VelocityAbs,
			PointRadius:        PointRadius,
			SquaredVelocityAbs: VelocityAbs * VelocityAbs,
			SquaredPointRadius: PointRadius * PointRadius,
		},
	}
}

// DeathProbability returns the chance that an infectious agent dies. Only
// infectious agents can die, so lethality is renormalized by the infectious
// share.
func (c Configuration) DeathProbability() float64 {
	if c.Illness.InfectiousShare == 0 {
		return 0
	}
	return c.Illness.Lethality / c.Illness.InfectiousShare
}

func clampShare(percentage float64) float64 {
	return clamp(percentage/100, 0, 1)
}

// clamp bounds v to [lo, hi]. NaN collapses to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// LoadOptions loads simulation options from a JSON file
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var opts Options
	if err := json.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &opts, nil
}

// SaveOptions saves simulation options to a JSON file
func SaveOptions(opts *Options, path string) error {
	data, err := json.MarshalIndent(opts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
