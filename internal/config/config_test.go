package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Sweep.NumJoint != 20 {
		t.Errorf("expected 20 joints, got %d", cfg.Sweep.NumJoint)
	}
	if cfg.Sweep.ResetThreshold != 2.1 || cfg.Sweep.FinishThreshold != 2.1 {
		t.Errorf("expected thresholds 2.1, got %f/%f", cfg.Sweep.ResetThreshold, cfg.Sweep.FinishThreshold)
	}
	if cfg.Sweep.TickRate != 50 {
		t.Errorf("expected tick rate 50, got %f", cfg.Sweep.TickRate)
	}
	if cfg.Bus.TorqueTopic != "torque_data" || cfg.Bus.ParamTopic != "auto_change_param" {
		t.Errorf("unexpected topics %q %q", cfg.Bus.TorqueTopic, cfg.Bus.ParamTopic)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestSteps(t *testing.T) {
	tests := []struct {
		name     string
		min, max float64
		step     float64
		expected int
	}{
		{"default", 0, 0.2, 0.01, 21},
		{"coarse", 0, 0.2, 0.05, 5},
		{"fine", 0, 0.2, 0.005, 41},
		{"single", 0.1, 0.1, 0.01, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SweepConfig{ParamMin: tt.min, ParamMax: tt.max, ParamStep: tt.step, MaxTrials: 10}
			if got := s.Steps(); got != tt.expected {
				t.Errorf("Steps() = %d, want %d", got, tt.expected)
			}
			if got := s.TotalTrials(); got != tt.expected*10 {
				t.Errorf("TotalTrials() = %d, want %d", got, tt.expected*10)
			}
		})
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autosim.yaml")
	data := []byte(`
sweep:
  max_trials: 3
  tick_rate: 25
backend:
  timeout: 2s
bus:
  kind: redis
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Sweep.MaxTrials != 3 {
		t.Errorf("expected max_trials 3, got %d", cfg.Sweep.MaxTrials)
	}
	if cfg.Sweep.TickRate != 25 {
		t.Errorf("expected tick_rate 25, got %f", cfg.Sweep.TickRate)
	}
	if cfg.Backend.Timeout != 2*time.Second {
		t.Errorf("expected timeout 2s, got %s", cfg.Backend.Timeout)
	}
	if cfg.Bus.Kind != "redis" {
		t.Errorf("expected redis bus, got %s", cfg.Bus.Kind)
	}
	if cfg.Sweep.NumJoint != DefaultNumJoint {
		t.Errorf("unset field should keep default, got %d", cfg.Sweep.NumJoint)
	}
}

func TestLoadOverPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autosim.yaml")
	data := []byte(`
sweep:
  tick_rate: 25
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadOver(path, GetPreset("quick"))
	if err != nil {
		t.Fatalf("LoadOver: %v", err)
	}
	if cfg.Sweep.TickRate != 25 {
		t.Errorf("expected tick rate from file, got %f", cfg.Sweep.TickRate)
	}
	if cfg.Sweep.MaxTrials != 1 || cfg.Sweep.ParamStep != 0.05 {
		t.Errorf("preset values lost: max_trials=%d param_step=%f", cfg.Sweep.MaxTrials, cfg.Sweep.ParamStep)
	}
	if cfg.Backend.Local.TimeScale != 10 {
		t.Errorf("expected preset time scale 10, got %f", cfg.Backend.Local.TimeScale)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Sweep.StartStep = 4

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Sweep.StartStep != 4 {
		t.Errorf("expected start_step 4, got %d", loaded.Sweep.StartStep)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero joints", func(c *Config) { c.Sweep.NumJoint = 0 }},
		{"zero step", func(c *Config) { c.Sweep.ParamStep = 0 }},
		{"inverted range", func(c *Config) { c.Sweep.ParamMax = -1 }},
		{"no trials", func(c *Config) { c.Sweep.MaxTrials = 0 }},
		{"zero tick rate", func(c *Config) { c.Sweep.TickRate = 0 }},
		{"start step past range", func(c *Config) { c.Sweep.StartStep = 21 }},
		{"negative start count", func(c *Config) { c.Sweep.StartCount = -1 }},
		{"unknown backend", func(c *Config) { c.Backend.Kind = "vrep" }},
		{"empty object", func(c *Config) { c.Backend.ObjectName = "" }},
		{"zero timeout", func(c *Config) { c.Backend.Timeout = 0 }},
		{"unknown bus", func(c *Config) { c.Bus.Kind = "ros" }},
		{"empty topic", func(c *Config) { c.Bus.ParamTopic = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("quick")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.Sweep.MaxTrials != 1 {
		t.Errorf("expected max_trials 1, got %d", cfg.Sweep.MaxTrials)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("quick preset should validate: %v", err)
	}

	if GetPreset("nonexistent") != nil {
		t.Error("expected nil for nonexistent preset")
	}
}

func TestListPresets(t *testing.T) {
	presets := ListPresets()
	if len(presets) != len(Presets) {
		t.Fatalf("expected %d presets, got %d", len(Presets), len(presets))
	}
	for _, name := range presets {
		if err := GetPreset(name).Validate(); err != nil {
			t.Errorf("preset %s does not validate: %v", name, err)
		}
	}
}
