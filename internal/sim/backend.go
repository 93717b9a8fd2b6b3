// Package sim defines the simulator remote API the sweep drives, and a local
// in-process implementation of it.
package sim

import (
	"context"
	"fmt"
)

// ClientID identifies a backend connection. InvalidClient is the failure
// sentinel returned by Connect.
type ClientID int

const InvalidClient ClientID = -1

// ObjectHandle identifies a scene object.
type ObjectHandle int

const InvalidHandle ObjectHandle = -1

// OpMode selects how a remote call is carried out.
type OpMode int

const (
	// OneshotWait sends the command and blocks for the reply.
	OneshotWait OpMode = iota
	// Oneshot sends the command without waiting.
	Oneshot
	// Streaming asks the backend to push the value continuously.
	Streaming
	// Buffer reads the latest streamed value.
	Buffer
)

func (m OpMode) String() string {
	switch m {
	case OneshotWait:
		return "oneshot_wait"
	case Oneshot:
		return "oneshot"
	case Streaming:
		return "streaming"
	case Buffer:
		return "buffer"
	default:
		return fmt.Sprintf("opmode(%d)", int(m))
	}
}

// Vec3 is a world-frame position.
type Vec3 [3]float64

func (v Vec3) X() float64 { return v[0] }
func (v Vec3) Y() float64 { return v[1] }
func (v Vec3) Z() float64 { return v[2] }

// Backend is the remote API of the simulator. Calls are synchronous; each
// may block up to the backend's configured timeout.
type Backend interface {
	Connect(ctx context.Context, address string, port int) (ClientID, error)
	GetObjectHandle(ctx context.Context, name string) (ObjectHandle, error)
	GetObjectPosition(ctx context.Context, h ObjectHandle, mode OpMode) (Vec3, error)
	StartSimulation(ctx context.Context, mode OpMode) error
	StopSimulation(ctx context.Context, mode OpMode) error
	Close() error
}
