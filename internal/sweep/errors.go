package sweep

import (
	"errors"
	"fmt"
)

// ErrNotPrepared is returned by Tick and Run before Prepare succeeded.
var ErrNotPrepared = errors.New("sweep: controller not prepared")

// TrialError reports a failure on the trial log of trial (K, Count).
type TrialError struct {
	K     float64
	Count int
	Op    string
	Err   error
}

func (e *TrialError) Error() string {
	return fmt.Sprintf("trial k=%.3f count=%d: %s log: %v", e.K, e.Count, e.Op, e.Err)
}

func (e *TrialError) Unwrap() error {
	return e.Err
}
