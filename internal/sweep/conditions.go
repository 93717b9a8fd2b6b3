package sweep

import "github.com/san-kum/autosim/internal/sim"

// Thresholds holds the two x positions the state machine reacts to. They
// are configured separately even though both default to the finish line.
type Thresholds struct {
	Reset  float64
	Finish float64
}

// IsResetComplete reports whether the robot is back behind the line after
// the previous trial, so a new one may start.
func (t Thresholds) IsResetComplete(pos sim.Vec3) bool {
	return !(pos.X() > t.Reset)
}

// IsTrialFinished reports whether the robot has crossed the finish line.
func (t Thresholds) IsTrialFinished(pos sim.Vec3) bool {
	return pos.X() > t.Finish
}
