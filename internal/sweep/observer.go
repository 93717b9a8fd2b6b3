package sweep

import (
	"time"

	"github.com/san-kum/autosim/internal/sim"
)

// Snapshot is the controller's view after one tick.
type Snapshot struct {
	Tick        int
	From        State
	State       State
	K           float64
	Count       int
	Position    sim.Vec3
	Elapsed     float64
	SettleWaits int
}

// TrialSummary describes a trial that just finished.
type TrialSummary struct {
	K        float64
	Count    int
	Path     string
	Records  int
	Started  time.Time
	Finished time.Time
}

func (t TrialSummary) Elapsed() time.Duration {
	return t.Finished.Sub(t.Started)
}

// Observer is notified on the controller goroutine; implementations must
// not block.
type Observer interface {
	OnTick(s Snapshot)
	OnTrialComplete(t TrialSummary)
}
