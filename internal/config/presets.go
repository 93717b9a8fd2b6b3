package config

import (
	"sort"
	"time"
)

// Presets override a subset of DefaultConfig; see GetPreset.
var Presets = map[string]func(*Config){
	"default": func(c *Config) {},
	"quick": func(c *Config) {
		c.Sweep.MaxTrials = 1
		c.Sweep.ParamStep = 0.05
		c.Backend.Local.TimeScale = 10
		c.Backend.Local.ResetDelay = 100 * time.Millisecond
	},
	"fine": func(c *Config) {
		c.Sweep.ParamStep = 0.005
		c.Sweep.MaxTrials = 5
	},
	"single": func(c *Config) {
		c.Sweep.ParamMax = c.Sweep.ParamMin
		c.Sweep.MaxTrials = 1
	},
	"redis": func(c *Config) {
		c.Bus.Kind = "redis"
	},
}

// GetPreset returns DefaultConfig with the named preset applied, or nil.
func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
