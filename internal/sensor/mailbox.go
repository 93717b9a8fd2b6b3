// Package sensor holds the most recent joint torque sample delivered on the
// message bus.
package sensor

import (
	"errors"
	"fmt"
	"sync"
)

// ErrShortSample is returned when a torque message carries fewer values than
// the reserved slot plus one per joint.
var ErrShortSample = errors.New("sensor: torque message too short")

// Sample is one torque value per joint.
type Sample []float64

// Mailbox is a single-slot holder for the latest Sample. Stores overwrite in
// place; loads copy out, so callers never share the slot.
type Mailbox struct {
	mu       sync.Mutex
	slot     Sample
	received uint64
}

func NewMailbox(numJoint int) *Mailbox {
	return &Mailbox{slot: make(Sample, numJoint)}
}

// Store copies msg[1:1+NumJoint] into the slot. msg[0] is reserved by the
// publisher and ignored.
func (m *Mailbox) Store(msg []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(msg) < len(m.slot)+1 {
		return fmt.Errorf("%w: got %d values, want %d", ErrShortSample, len(msg), len(m.slot)+1)
	}
	copy(m.slot, msg[1:])
	m.received++
	return nil
}

// Latest returns a copy of the most recent sample. Before any message has
// arrived it is all zeros.
func (m *Mailbox) Latest() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(Sample(nil), m.slot...)
}

// Received reports how many messages have been stored.
func (m *Mailbox) Received() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

func (m *Mailbox) NumJoint() int {
	return len(m.slot)
}
