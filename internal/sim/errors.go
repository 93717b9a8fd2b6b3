package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by calls made before Connect succeeded.
	ErrNotConnected = errors.New("sim: not connected")

	// ErrInvalidHandle indicates an object handle the backend did not issue.
	ErrInvalidHandle = errors.New("sim: invalid object handle")

	// ErrUnknownObject indicates GetObjectHandle found no object by that name.
	ErrUnknownObject = errors.New("sim: unknown object")

	// ErrNoValue indicates a Buffer read before Streaming was requested.
	ErrNoValue = errors.New("sim: no streamed value yet")
)

// ConnectError reports a failed Connect.
type ConnectError struct {
	Address string
	Port    int
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("could not connect to simulator at %s:%d: %v", e.Address, e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
