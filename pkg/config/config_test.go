package config

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestNew_Clamping(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		check func(t *testing.T, c Configuration)
	}{
		{
			name: "PointsBelowMinimum",
			opts: Options{Behavior: BehaviorOptions{NumberOfPoints: 1}},
			check: func(t *testing.T, c Configuration) {
				if c.Behavior.NumberOfPoints != MinNumberOfPoints {
					t.Errorf("Expected %d points, got %d", MinNumberOfPoints, c.Behavior.NumberOfPoints)
				}
			},
		},
		{
			name: "PointsAboveMaximum",
			opts: Options{Behavior: BehaviorOptions{NumberOfPoints: 5000}},
			check: func(t *testing.T, c Configuration) {
				if c.Behavior.NumberOfPoints != MaxNumberOfPoints {
					t.Errorf("Expected %d points, got %d", MaxNumberOfPoints, c.Behavior.NumberOfPoints)
				}
			},
		},
		{
			name: "DurationBounds",
			opts: Options{SimulationDuration: 1},
			check: func(t *testing.T, c Configuration) {
				if c.SimulationDuration != MinSimulationDuration {
					t.Errorf("Expected duration %d, got %f", MinSimulationDuration, c.SimulationDuration)
				}
			},
		},
		{
			name: "SharesClampedToUnitInterval",
			opts: Options{Behavior: BehaviorOptions{
				MovingPercentage:                 150,
				ProtectionPercentageAmongMoving:  -20,
				ProtectionPercentageAmongResting: 50,
			}},
			check: func(t *testing.T, c Configuration) {
				if c.Behavior.MovingShare != 1 {
					t.Errorf("Expected MovingShare 1, got %f", c.Behavior.MovingShare)
				}
				if c.Behavior.ProtectionShareAmongMoving != 0 {
					t.Errorf("Expected ProtectionShareAmongMoving 0, got %f", c.Behavior.ProtectionShareAmongMoving)
				}
				if c.Behavior.ProtectionShareAmongResting != 0.5 {
					t.Errorf("Expected ProtectionShareAmongResting 0.5, got %f", c.Behavior.ProtectionShareAmongResting)
				}
			},
		},
		{
			name: "SpeedReductionBecomesFactor",
			opts: Options{Behavior: BehaviorOptions{InfectiousSpeedReductionPercentage: 75}},
			check: func(t *testing.T, c Configuration) {
				if c.Behavior.InfectiousSpeedReductionFactor != 0.25 {
					t.Errorf("Expected factor 0.25, got %f", c.Behavior.InfectiousSpeedReductionFactor)
				}
			},
		},
		{
			name: "InfectiousShareNeverBelowLethality",
			opts: Options{Illness: IllnessOptions{LethalityPercentage: 50, InfectiousPercentage: 25}},
			check: func(t *testing.T, c Configuration) {
				if c.Illness.InfectiousShare != 0.5 {
					t.Errorf("Expected InfectiousShare 0.5, got %f", c.Illness.InfectiousShare)
				}
			},
		},
		{
			name: "NegativeDurationsBecomeZero",
			opts: Options{
				Illness:  IllnessOptions{IncubationPeriod: -3, InfectiousDuration: -1},
				Immunity: ImmunityOptions{ImmunityDurationOfNonPermanentImmunes: -5},
			},
			check: func(t *testing.T, c Configuration) {
				if c.Illness.IncubationPeriod != 0 || c.Illness.InfectiousDuration != 0 {
					t.Errorf("Expected zero illness durations, got %+v", c.Illness)
				}
				if c.Immunity.ImmunityDurationOfNonPermanentImmunes != 0 {
					t.Errorf("Expected zero immunity duration, got %f", c.Immunity.ImmunityDurationOfNonPermanentImmunes)
				}
			},
		},
		{
			name: "NaNCollapsesToLowerBound",
			opts: Options{Illness: IllnessOptions{LethalityPercentage: math.NaN()}},
			check: func(t *testing.T, c Configuration) {
				if c.Illness.Lethality != 0 {
					t.Errorf("Expected Lethality 0, got %f", c.Illness.Lethality)
				}
			},
		},
		{
			name: "FixedConstants",
			opts: Options{},
			check: func(t *testing.T, c Configuration) {
				if c.Fixed.VelocityAbs != 0.15 || c.Fixed.PointRadius != 0.009 {
					t.Errorf("Unexpected fixed constants %+v", c.Fixed)
				}
				if c.Fixed.SquaredPointRadius != 0.009*0.009 {
					t.Errorf("Expected squared radius %f, got %f", 0.009*0.009, c.Fixed.SquaredPointRadius)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, New(tt.opts))
		})
	}
}

func TestConfiguration_DeathProbability(t *testing.T) {
	c := New(Options{Illness: IllnessOptions{LethalityPercentage: 10, InfectiousPercentage: 80}})
	if got := c.DeathProbability(); math.Abs(got-0.125) > 1e-12 {
		t.Errorf("Expected death probability 0.125, got %f", got)
	}

	c = New(Options{})
	if got := c.DeathProbability(); got != 0 {
		t.Errorf("Expected death probability 0 with no infectious share, got %f", got)
	}
}

func TestPresets(t *testing.T) {
	names := PresetNames()
	if len(names) != 4 {
		t.Fatalf("Expected 4 presets, got %d", len(names))
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			opts, err := Preset(name)
			if err != nil {
				t.Fatalf("Preset(%q) failed: %v", name, err)
			}
			if opts.Behavior.NumberOfPoints != 150 {
				t.Errorf("Expected 150 points, got %d", opts.Behavior.NumberOfPoints)
			}
		})
	}

	lab, _ := Preset(PresetLab)
	if lab != DefaultOptions() {
		t.Error("Expected lab preset to equal DefaultOptions")
	}

	paradox, _ := Preset(PresetLethalityParadox)
	if paradox.Illness.LethalityPercentage != 100 || paradox.Illness.InfectiousDuration != 0.5 {
		t.Errorf("Unexpected lethality-paradox illness %+v", paradox.Illness)
	}

	if _, err := Preset("nonexistent"); err == nil {
		t.Error("Expected error for unknown preset")
	}
}

func TestLoadOptions_Success(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "options.json")

	data := `{
		"simulationDuration": 30,
		"behavior": {"numberOfPoints": 80, "movingPercentage": 40},
		"illness": {"lethalityPercentage": 5, "incubationPeriod": 1, "infectiousPercentage": 90, "infectiousDuration": 4},
		"immunity": {"permanentImmunityPercentage": 100}
	}`
	if err := os.WriteFile(configPath, []byte(data), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	opts, err := LoadOptions(configPath)
	if err != nil {
		t.Fatalf("LoadOptions failed: %v", err)
	}

	if opts.SimulationDuration != 30 {
		t.Errorf("Expected duration 30, got %f", opts.SimulationDuration)
	}
	if opts.Behavior.NumberOfPoints != 80 {
		t.Errorf("Expected 80 points, got %d", opts.Behavior.NumberOfPoints)
	}
	if opts.Illness.InfectiousPercentage != 90 {
		t.Errorf("Expected infectious percentage 90, got %f", opts.Illness.InfectiousPercentage)
	}
}

func TestLoadOptions_FileNotFound(t *testing.T) {
	if _, err := LoadOptions(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadOptions_InvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(configPath, []byte("{ not json"), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := LoadOptions(configPath); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestSaveOptions_Success(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "saved.json")
	opts := DefaultOptions()

	if err := SaveOptions(&opts, configPath); err != nil {
		t.Fatalf("SaveOptions failed: %v", err)
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read saved config: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Saved config is not valid JSON: %v", err)
	}
	if _, ok := decoded["behavior"]; !ok {
		t.Error("Expected saved config to contain behavior section")
	}

	loaded, err := LoadOptions(configPath)
	if err != nil {
		t.Fatalf("LoadOptions failed: %v", err)
	}
	if *loaded != opts {
		t.Errorf("Loaded options differ from saved: %+v vs %+v", *loaded, opts)
	}
}

func TestSaveOptions_InvalidPath(t *testing.T) {
	opts := DefaultOptions()
	if err := SaveOptions(&opts, filepath.Join(t.TempDir(), "missing", "dir", "x.json")); err == nil {
		t.Error("Expected error for invalid path")
	}
}
