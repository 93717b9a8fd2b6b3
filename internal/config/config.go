package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultNumJoint        = 20
	DefaultParamMin        = 0.0
	DefaultParamMax        = 0.2
	DefaultParamStep       = 0.01
	DefaultMaxTrials       = 10
	DefaultResetThreshold  = 2.1
	DefaultFinishThreshold = 2.1
	DefaultTickRate        = 50.0

	DefaultBackend     = "local"
	DefaultAddress     = "127.0.0.1"
	DefaultPort        = 19997
	DefaultTimeout     = 5 * time.Second
	DefaultObjectName  = "isnake_hp_robot"
	DefaultIntegrator  = "rk4"
	DefaultPhysicsRate = 100.0
	DefaultTimeScale   = 1.0
	DefaultResetDelay  = 500 * time.Millisecond

	DefaultBus         = "memory"
	DefaultRedisURL    = "redis://127.0.0.1:6379/0"
	DefaultTorqueTopic = "torque_data"
	DefaultParamTopic  = "auto_change_param"

	DefaultOutputDir = "."
	DefaultLogLevel  = "info"
)

type Config struct {
	Sweep       SweepConfig   `yaml:"sweep"`
	Backend     BackendConfig `yaml:"backend"`
	Bus         BusConfig     `yaml:"bus"`
	Output      OutputConfig  `yaml:"output"`
	LogLevel    string        `yaml:"log_level"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

// SweepConfig holds the tunables of the sweep state machine.
type SweepConfig struct {
	NumJoint        int     `yaml:"num_joint"`
	ParamMin        float64 `yaml:"param_min"`
	ParamMax        float64 `yaml:"param_max"`
	ParamStep       float64 `yaml:"param_step"`
	MaxTrials       int     `yaml:"max_trials"`
	ResetThreshold  float64 `yaml:"reset_threshold"`
	FinishThreshold float64 `yaml:"finish_threshold"`
	TickRate        float64 `yaml:"tick_rate"`
	// StartStep and StartCount pre-seed the parameter before the first trial.
	StartStep    int  `yaml:"start_step"`
	StartCount   int  `yaml:"start_count"`
	Preseed      bool `yaml:"preseed"`
	ExitWhenDone bool `yaml:"exit_when_done"`
}

type BackendConfig struct {
	Kind       string        `yaml:"kind"`
	Address    string        `yaml:"address"`
	Port       int           `yaml:"port"`
	Timeout    time.Duration `yaml:"timeout"`
	ObjectName string        `yaml:"object_name"`
	Local      LocalConfig   `yaml:"local"`
}

// LocalConfig tunes the built-in simulated snake.
type LocalConfig struct {
	Integrator  string        `yaml:"integrator"`
	PhysicsRate float64       `yaml:"physics_rate"`
	TimeScale   float64       `yaml:"time_scale"`
	ResetDelay  time.Duration `yaml:"reset_delay"`
	BaseThrust  float64       `yaml:"base_thrust"`
	ParamGain   float64       `yaml:"param_gain"`
	Damping     float64       `yaml:"damping"`
}

type BusConfig struct {
	Kind        string `yaml:"kind"`
	RedisURL    string `yaml:"redis_url"`
	TorqueTopic string `yaml:"torque_topic"`
	ParamTopic  string `yaml:"param_topic"`
}

type OutputConfig struct {
	Dir     string `yaml:"dir"`
	Catalog string `yaml:"catalog"`
}

func DefaultConfig() *Config {
	return &Config{
		Sweep: SweepConfig{
			NumJoint:        DefaultNumJoint,
			ParamMin:        DefaultParamMin,
			ParamMax:        DefaultParamMax,
			ParamStep:       DefaultParamStep,
			MaxTrials:       DefaultMaxTrials,
			ResetThreshold:  DefaultResetThreshold,
			FinishThreshold: DefaultFinishThreshold,
			TickRate:        DefaultTickRate,
			ExitWhenDone:    true,
		},
		Backend: BackendConfig{
			Kind:       DefaultBackend,
			Address:    DefaultAddress,
			Port:       DefaultPort,
			Timeout:    DefaultTimeout,
			ObjectName: DefaultObjectName,
			Local: LocalConfig{
				Integrator:  DefaultIntegrator,
				PhysicsRate: DefaultPhysicsRate,
				TimeScale:   DefaultTimeScale,
				ResetDelay:  DefaultResetDelay,
				BaseThrust:  0.6,
				ParamGain:   2.0,
				Damping:     0.8,
			},
		},
		Bus: BusConfig{
			Kind:        DefaultBus,
			RedisURL:    DefaultRedisURL,
			TorqueTopic: DefaultTorqueTopic,
			ParamTopic:  DefaultParamTopic,
		},
		Output: OutputConfig{
			Dir: DefaultOutputDir,
		},
		LogLevel: DefaultLogLevel,
	}
}

func Load(path string) (*Config, error) {
	return LoadOver(path, DefaultConfig())
}

// LoadOver reads path on top of base. Keys missing from the file keep the
// value base already has.
func LoadOver(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, base); err != nil {
		return nil, err
	}
	return base, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects tunables the sweep cannot run with.
func (c *Config) Validate() error {
	s := c.Sweep
	if s.NumJoint <= 0 {
		return fmt.Errorf("num_joint must be positive, got %d", s.NumJoint)
	}
	if s.ParamStep <= 0 {
		return fmt.Errorf("param_step must be positive, got %f", s.ParamStep)
	}
	if s.ParamMax < s.ParamMin {
		return fmt.Errorf("param_max (%f) is below param_min (%f)", s.ParamMax, s.ParamMin)
	}
	if s.MaxTrials <= 0 {
		return fmt.Errorf("max_trials must be positive, got %d", s.MaxTrials)
	}
	if s.TickRate <= 0 {
		return fmt.Errorf("tick_rate must be positive, got %f", s.TickRate)
	}
	if s.StartStep < 0 || s.StartStep > s.Steps()-1 {
		return fmt.Errorf("start_step %d outside [0, %d]", s.StartStep, s.Steps()-1)
	}
	if s.StartCount < 0 {
		return fmt.Errorf("start_count must not be negative, got %d", s.StartCount)
	}

	switch c.Backend.Kind {
	case "local":
	default:
		return fmt.Errorf("unknown backend: %s", c.Backend.Kind)
	}
	if c.Backend.ObjectName == "" {
		return fmt.Errorf("backend object_name is empty")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive, got %s", c.Backend.Timeout)
	}
	if l := c.Backend.Local; l.PhysicsRate <= 0 || l.TimeScale <= 0 {
		return fmt.Errorf("local backend physics_rate and time_scale must be positive")
	}

	switch c.Bus.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown bus: %s", c.Bus.Kind)
	}
	if c.Bus.TorqueTopic == "" || c.Bus.ParamTopic == "" {
		return fmt.Errorf("bus topics must be set")
	}
	return nil
}

// Steps is the number of parameter values visited per trial round.
func (s SweepConfig) Steps() int {
	return int((s.ParamMax-s.ParamMin)/s.ParamStep+1e-6) + 1
}

// TotalTrials is the number of trial files a full sweep writes.
func (s SweepConfig) TotalTrials() int {
	return s.Steps() * s.MaxTrials
}
