package sweep

import "fmt"

// State is the phase of the sweep state machine.
type State int

const (
	// Init waits for the robot to be back behind the line, then starts a trial.
	Init State = iota
	// Running logs one record per tick until the robot crosses the line.
	Running
	// Finalizing stops the simulation, closes the log and advances the parameter.
	Finalizing
	// Done is terminal.
	Done
	// Preseed is only ever an initial state: it yields one idle tick before
	// Init so a pre-seeded parameter reaches the robot before the first trial.
	Preseed
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Running:
		return "running"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	case Preseed:
		return "preseed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
