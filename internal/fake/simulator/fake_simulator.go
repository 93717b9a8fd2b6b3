package simulator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/autosim/internal/sim"
)

var logger = logrus.WithFields(logrus.Fields{
	"pkg": "fake/simulator",
})

// FakeSimulator is a scripted sim.Backend. Buffered position reads pop
// Positions first; once that queue is empty the head sits at the origin
// while stopped and moves Speed units per read while running.
type FakeSimulator struct {
	mu sync.Mutex

	Client    sim.ClientID
	Handle    sim.ObjectHandle
	Positions []float64
	Speed     float64

	ConnectErr  error
	HandleErr   error
	PrimeErr    error
	PositionErr error
	StartErr    error
	StopErr     error

	running  bool
	runReads int
	connects int
	starts   int
	stops    int
	reads    int
	primes   int
	lastName string
}

func New(positions ...float64) *FakeSimulator {
	return &FakeSimulator{Client: 1, Handle: 1, Positions: positions, Speed: 1}
}

func (s *FakeSimulator) Connect(ctx context.Context, address string, port int) (sim.ClientID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	logger.Debugf("connect %s:%d", address, port)
	if s.ConnectErr != nil {
		return sim.InvalidClient, s.ConnectErr
	}
	return s.Client, nil
}

func (s *FakeSimulator) GetObjectHandle(ctx context.Context, name string) (sim.ObjectHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastName = name
	if s.HandleErr != nil {
		return sim.InvalidHandle, s.HandleErr
	}
	return s.Handle, nil
}

func (s *FakeSimulator) GetObjectPosition(ctx context.Context, h sim.ObjectHandle, mode sim.OpMode) (sim.Vec3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == sim.Streaming {
		s.primes++
		return sim.Vec3{}, s.PrimeErr
	}

	s.reads++
	if s.PositionErr != nil {
		return sim.Vec3{}, s.PositionErr
	}
	if len(s.Positions) > 0 {
		x := s.Positions[0]
		s.Positions = s.Positions[1:]
		return sim.Vec3{x, 0, 0}, nil
	}
	if !s.running {
		return sim.Vec3{}, nil
	}
	s.runReads++
	return sim.Vec3{float64(s.runReads) * s.Speed, 0, 0}, nil
}

func (s *FakeSimulator) StartSimulation(ctx context.Context, mode sim.OpMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.running = true
	s.runReads = 0
	return nil
}

func (s *FakeSimulator) StopSimulation(ctx context.Context, mode sim.OpMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if s.StopErr != nil {
		return s.StopErr
	}
	s.running = false
	return nil
}

func (s *FakeSimulator) Close() error {
	return nil
}

func (s *FakeSimulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *FakeSimulator) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *FakeSimulator) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *FakeSimulator) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// Reads counts buffered position reads.
func (s *FakeSimulator) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *FakeSimulator) Primes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primes
}

func (s *FakeSimulator) LastObjectName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastName
}
