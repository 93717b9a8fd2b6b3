package models

import (
	"fmt"
	"math"

	"github.com/san-kum/autosim/internal/dynamo"
)

// Snake is a lumped model of a serpentine robot crawling along +x. It is not
// a contact model: forward thrust grows linearly with the swept gait
// parameter k and joint torques follow a travelling serpenoid wave.
//
// State is [x, v, phase]; control is [k].
type Snake struct {
	NumJoint  int
	Mass      float64
	Thrust    float64
	Gain      float64
	Damping   float64
	Omega     float64
	Beta      float64
	Amplitude float64
}

func NewSnake(numJoint int) *Snake {
	return &Snake{
		NumJoint:  numJoint,
		Mass:      1.0,
		Thrust:    0.6,
		Gain:      2.0,
		Damping:   0.8,
		Omega:     2 * math.Pi * 0.5,
		Beta:      2 * math.Pi / 10,
		Amplitude: 1.5,
	}
}

func (s *Snake) StateDim() int   { return 3 }
func (s *Snake) ControlDim() int { return 1 }

func (s *Snake) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	v := x[1]
	k := 0.0
	if len(u) > 0 {
		k = u[0]
	}
	accel := (s.Thrust*(1+s.Gain*k) - s.Damping*v) / s.Mass
	return dynamo.State{v, accel, s.Omega}
}

// Torques fills dst with the joint torques for state x under parameter k.
func (s *Snake) Torques(dst []float64, x dynamo.State, k float64) {
	scale := s.Amplitude * (1 + s.Gain*k)
	phase := x[2]
	for i := range dst {
		dst[i] = scale * math.Sin(phase-float64(i)*s.Beta)
	}
}

// TerminalSpeed is the steady forward speed reached under parameter k.
func (s *Snake) TerminalSpeed(k float64) float64 {
	if s.Damping == 0 {
		return math.Inf(1)
	}
	return s.Thrust * (1 + s.Gain*k) / s.Damping
}

func (s *Snake) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":      s.Mass,
		"thrust":    s.Thrust,
		"gain":      s.Gain,
		"damping":   s.Damping,
		"omega":     s.Omega,
		"beta":      s.Beta,
		"amplitude": s.Amplitude,
	}
}

func (s *Snake) SetParam(name string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%s=%v: %w", name, value, dynamo.ErrParameterBounds)
	}
	switch name {
	case "mass":
		if value <= 0 {
			return fmt.Errorf("mass=%v: %w", value, dynamo.ErrParameterBounds)
		}
		s.Mass = value
	case "thrust":
		s.Thrust = value
	case "gain":
		s.Gain = value
	case "damping":
		if value < 0 {
			return fmt.Errorf("damping=%v: %w", value, dynamo.ErrParameterBounds)
		}
		s.Damping = value
	case "omega":
		s.Omega = value
	case "beta":
		s.Beta = value
	case "amplitude":
		s.Amplitude = value
	default:
		return fmt.Errorf("%s: %w", name, dynamo.ErrUnknownParameter)
	}
	return nil
}
