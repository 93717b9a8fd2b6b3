package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/autosim/internal/bus"
	"github.com/san-kum/autosim/internal/config"
	"github.com/san-kum/autosim/internal/dynamo"
	"github.com/san-kum/autosim/internal/integrators"
	"github.com/san-kum/autosim/internal/models"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "sim",
})

const (
	localClient ClientID     = 0
	headHandle  ObjectHandle = 1

	// headHeight is the resting z of the head link.
	headHeight = 0.05
)

// Local is an in-process stand-in for the remote simulator. It also plays
// the robot node on the bus: it listens for the swept parameter and streams
// joint torques while the simulation runs. Physics advances only in Step,
// which Run calls at the configured physics rate.
type Local struct {
	cfg         config.BackendConfig
	bus         bus.Bus
	torqueTopic string
	paramTopic  string
	now         func() time.Time

	mu           sync.Mutex
	snake        *models.Snake
	integ        dynamo.Integrator
	connected    bool
	streaming    bool
	running      bool
	resetPending bool
	stoppedAt    time.Time
	x            dynamo.State
	k            float64
	simTime      float64
	steps        int
	torques      []float64
	paramSub     bus.Subscription
}

type LocalOption func(*Local)

// WithLocalClock replaces time.Now, which drives the post-stop reset delay.
func WithLocalClock(now func() time.Time) LocalOption {
	return func(l *Local) { l.now = now }
}

func NewLocal(cfg *config.Config, b bus.Bus, opts ...LocalOption) (*Local, error) {
	integ, err := integrators.New(cfg.Backend.Local.Integrator)
	if err != nil {
		return nil, err
	}

	snake := models.NewSnake(cfg.Sweep.NumJoint)
	lc := cfg.Backend.Local
	for name, v := range map[string]float64{
		"thrust":  lc.BaseThrust,
		"gain":    lc.ParamGain,
		"damping": lc.Damping,
	} {
		if err := snake.SetParam(name, v); err != nil {
			return nil, fmt.Errorf("local backend: %w", err)
		}
	}

	l := &Local{
		cfg:         cfg.Backend,
		bus:         b,
		torqueTopic: cfg.Bus.TorqueTopic,
		paramTopic:  cfg.Bus.ParamTopic,
		now:         time.Now,
		snake:       snake,
		integ:       integ,
		x:           make(dynamo.State, snake.StateDim()),
		torques:     make([]float64, cfg.Sweep.NumJoint),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Local) Connect(ctx context.Context, address string, port int) (ClientID, error) {
	if address == "" || port <= 0 || port > 65535 {
		return InvalidClient, &ConnectError{Address: address, Port: port, Err: errors.New("invalid address")}
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	sub, err := l.bus.Subscribe(ctx, l.paramTopic, l.onParam)
	if err != nil {
		return InvalidClient, &ConnectError{Address: address, Port: port, Err: err}
	}

	l.mu.Lock()
	prev := l.paramSub
	l.paramSub = sub
	l.connected = true
	l.mu.Unlock()

	// Closing a Redis subscription waits for its handler, which takes l.mu.
	if prev != nil {
		prev.Close()
	}
	log.Infof("local simulator listening on %s:%d", address, port)
	return localClient, nil
}

func (l *Local) onParam(msg []float64) {
	if len(msg) == 0 {
		log.Warnf("empty message on %s", l.paramTopic)
		return
	}
	l.mu.Lock()
	l.k = msg[0]
	l.mu.Unlock()
	log.WithFields(logrus.Fields{"k": msg[0]}).Info("parameter updated")
}

func (l *Local) GetObjectHandle(ctx context.Context, name string) (ObjectHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return InvalidHandle, ErrNotConnected
	}
	if name != l.cfg.ObjectName {
		return InvalidHandle, fmt.Errorf("%w: %q", ErrUnknownObject, name)
	}
	return headHandle, nil
}

func (l *Local) GetObjectPosition(ctx context.Context, h ObjectHandle, mode OpMode) (Vec3, error) {
	if err := ctx.Err(); err != nil {
		return Vec3{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return Vec3{}, ErrNotConnected
	}
	if h != headHandle {
		return Vec3{}, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}

	switch mode {
	case Streaming:
		l.streaming = true
	case Buffer:
		if !l.streaming {
			return Vec3{}, ErrNoValue
		}
	}

	l.applyResetLocked()
	return Vec3{l.x[0], 0, headHeight}, nil
}

// applyResetLocked returns the robot to the origin once the reset delay after
// a stop has elapsed.
func (l *Local) applyResetLocked() {
	if l.resetPending && l.now().Sub(l.stoppedAt) >= l.cfg.Local.ResetDelay {
		l.resetLocked()
	}
}

func (l *Local) resetLocked() {
	for i := range l.x {
		l.x[i] = 0
	}
	l.simTime = 0
	l.resetPending = false
}

func (l *Local) StartSimulation(ctx context.Context, mode OpMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return ErrNotConnected
	}
	if l.running {
		return nil
	}
	if l.resetPending {
		l.resetLocked()
	}
	l.running = true
	log.Info("simulation started")
	return nil
}

func (l *Local) StopSimulation(ctx context.Context, mode OpMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return ErrNotConnected
	}
	if !l.running {
		return nil
	}
	l.running = false
	l.resetPending = true
	l.stoppedAt = l.now()
	log.WithFields(logrus.Fields{"x": l.x[0], "t": l.simTime}).Info("simulation stopped")
	return nil
}

// Step advances the simulation by dt seconds of simulated time and publishes
// one torque message. It is a no-op while the simulation is stopped.
func (l *Local) Step(ctx context.Context, dt float64) error {
	l.mu.Lock()
	if !l.running {
		l.applyResetLocked()
		l.mu.Unlock()
		return nil
	}

	next := l.integ.Step(l.snake, l.x, dynamo.Control{l.k}, l.simTime, dt)
	if !next.IsValid() {
		err := &dynamo.SimulationError{Step: l.steps, Time: l.simTime, State: next, Wrapped: dynamo.ErrInvalidState}
		l.running = false
		l.mu.Unlock()
		return err
	}
	l.x = next
	l.simTime += dt
	l.steps++
	l.snake.Torques(l.torques, l.x, l.k)

	msg := make([]float64, 0, len(l.torques)+1)
	msg = append(msg, l.simTime)
	msg = append(msg, l.torques...)
	l.mu.Unlock()

	return l.bus.Publish(ctx, l.torqueTopic, msg)
}

// Run steps the physics at the configured rate until ctx is cancelled.
func (l *Local) Run(ctx context.Context) error {
	rate := l.cfg.Local.PhysicsRate
	dt := l.cfg.Local.TimeScale / rate
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := l.Step(ctx, dt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var simErr *dynamo.SimulationError
			if errors.As(err, &simErr) {
				return fmt.Errorf("local simulator diverged at t=%.3f: %w", simErr.Time, err)
			}
			log.Warnf("torque publish failed: %v", err)
		}
	}
}

// Param returns the last parameter value received on the bus.
func (l *Local) Param() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.k
}

func (l *Local) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Local) Close() error {
	l.mu.Lock()
	sub := l.paramSub
	l.paramSub = nil
	l.connected = false
	l.running = false
	l.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}
