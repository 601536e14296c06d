// pkg/config/presets.go
package config

import (
	"fmt"
	"sort"
)

// Preset names
const (
	PresetMock             = "mock"
	PresetSocialDistancing = "social-distancing"
	PresetLethalityParadox = "lethality-paradox"
	PresetLab              = "lab"
)

var presets = map[string]func() Options{
	PresetMock:             mockOptions,
	PresetSocialDistancing: socialDistancingOptions,
	PresetLethalityParadox: lethalityParadoxOptions,
	PresetLab:              DefaultOptions,
}

// DefaultOptions returns the lab preset, a fully free parameter set with
// temporary immunity.
func DefaultOptions() Options {
	return Options{
		SimulationDuration: 60,
		Behavior: BehaviorOptions{
			NumberOfPoints:                   150,
			MovingPercentage:                 80,
			ProtectionPercentageAmongMoving:  0,
			ProtectionPercentageAmongResting: 50,
		},
		Illness: IllnessOptions{
			LethalityPercentage:  10,
			IncubationPeriod:     5,
			InfectiousPercentage: 80,
			InfectiousDuration:   10,
		},
		Immunity: ImmunityOptions{
			PermanentImmunityPercentage:           0,
			ImmunityDurationOfNonPermanentImmunes: 20,
		},
	}
}

// mockOptions is an unchecked outbreak where everybody moves
func mockOptions() Options {
	return Options{
		SimulationDuration: 20,
		Behavior: BehaviorOptions{
			NumberOfPoints:   150,
			MovingPercentage: 100,
		},
		Illness: IllnessOptions{
			LethalityPercentage:  10,
			IncubationPeriod:     2,
			InfectiousPercentage: 100,
			InfectiousDuration:   5,
		},
		Immunity: ImmunityOptions{
			PermanentImmunityPercentage: 100,
		},
	}
}

func socialDistancingOptions() Options {
	opts := mockOptions()
	opts.Behavior.MovingPercentage = 50
	opts.Behavior.ProtectionPercentageAmongMoving = 25
	opts.Behavior.ProtectionPercentageAmongResting = 25
	opts.Behavior.InfectiousSpeedReductionPercentage = 75
	return opts
}

// lethalityParadoxOptions kills every infectious agent quickly, which starves
// the outbreak.
func lethalityParadoxOptions() Options {
	opts := mockOptions()
	opts.Illness.LethalityPercentage = 100
	opts.Illness.InfectiousDuration = 0.5
	return opts
}

// Preset returns the named option set
func Preset(name string) (Options, error) {
	build, ok := presets[name]
	if !ok {
		return Options{}, fmt.Errorf("unknown preset %q", name)
	}
	return build(), nil
}

// PresetNames lists all preset names in sorted order
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsPreset reports whether name is a known preset
func IsPreset(name string) bool {
	_, ok := presets[name]
	return ok
}
