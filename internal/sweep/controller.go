// Package sweep drives the simulator through one trial per parameter value,
// logging joint torques for each trial to its own file.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/san-kum/autosim/internal/bus"
	"github.com/san-kum/autosim/internal/config"
	"github.com/san-kum/autosim/internal/sensor"
	"github.com/san-kum/autosim/internal/sim"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "sweep",
})

// stopTimeout bounds the StopSimulation issued while shutting down, when the
// run context is already cancelled.
const stopTimeout = time.Second

// Deps are the collaborators a Controller drives.
type Deps struct {
	Backend   sim.Backend
	Publisher bus.Publisher
	Mailbox   *sensor.Mailbox
	Store     TrialStore
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// WithInitialState overrides the starting state, normally Init. Running and
// Finalizing need an open trial log and are replaced by Init.
func WithInitialState(s State) Option {
	return func(c *Controller) { c.state = s }
}

func WithParameter(p Parameter) Option {
	return func(c *Controller) { c.param = p }
}

// Controller is the sweep state machine. All methods must be called from a
// single goroutine.
type Controller struct {
	cfg        config.SweepConfig
	backendCfg config.BackendConfig
	paramTopic string
	thresholds Thresholds

	backend   sim.Backend
	pub       bus.Publisher
	mailbox   *sensor.Mailbox
	store     TrialStore
	now       func() time.Time
	observers []Observer

	prepared    bool
	head        sim.ObjectHandle
	state       State
	param       Parameter
	trial       TrialLog
	trialStart  time.Time
	lastPos     sim.Vec3
	elapsed     float64
	ticks       int
	settleWaits int
}

func New(cfg *config.Config, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		cfg:        cfg.Sweep,
		backendCfg: cfg.Backend,
		paramTopic: cfg.Bus.ParamTopic,
		thresholds: Thresholds{
			Reset:  cfg.Sweep.ResetThreshold,
			Finish: cfg.Sweep.FinishThreshold,
		},
		backend: deps.Backend,
		pub:     deps.Publisher,
		mailbox: deps.Mailbox,
		store:   deps.Store,
		now:     time.Now,
		head:    sim.InvalidHandle,
		state:   Init,
		param:   NewParameter(cfg.Sweep),
	}
	if cfg.Sweep.Preseed {
		c.state = Preseed
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.state == Running || c.state == Finalizing {
		log.Warnf("cannot start in %v without an open trial, starting in %v", c.state, Init)
		c.state = Init
	}
	return c
}

// Prepare connects to the backend, resolves the robot head and primes the
// position stream, then announces the starting parameter. Any failure here
// is fatal.
func (c *Controller) Prepare(ctx context.Context) error {
	addr, port := c.backendCfg.Address, c.backendCfg.Port
	log.Infof("connecting to simulator at %s:%d", addr, port)

	id, err := c.backend.Connect(ctx, addr, port)
	if err != nil {
		var connErr *sim.ConnectError
		if errors.As(err, &connErr) {
			return err
		}
		return &sim.ConnectError{Address: addr, Port: port, Err: err}
	}
	if id == sim.InvalidClient {
		return &sim.ConnectError{Address: addr, Port: port, Err: sim.ErrNotConnected}
	}
	log.Info("connected to simulator")

	name := c.backendCfg.ObjectName
	h, err := c.backend.GetObjectHandle(ctx, name)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", name, err)
	}
	if h == sim.InvalidHandle {
		return fmt.Errorf("resolve %q: %w", name, sim.ErrInvalidHandle)
	}
	c.head = h

	if _, err := c.backend.GetObjectPosition(ctx, h, sim.Streaming); err != nil && !errors.Is(err, sim.ErrNoValue) {
		return fmt.Errorf("stream position of %q: %w", name, err)
	}

	c.publishParam(ctx)
	c.prepared = true
	return nil
}

// Tick performs one state's worth of work.
func (c *Controller) Tick(ctx context.Context) error {
	if !c.prepared {
		return ErrNotPrepared
	}

	from := c.state
	var err error
	switch c.state {
	case Preseed:
		c.state = Init
	case Init:
		err = c.tickInit(ctx)
	case Running:
		err = c.tickRunning(ctx)
	case Finalizing:
		err = c.tickFinalizing(ctx)
	case Done:
	default:
		log.Warnf("state %v isn't defined", c.state)
	}
	c.ticks++

	if from != c.state {
		c.logger().Debugf("%v -> %v", from, c.state)
	}
	c.notifyTick(from)
	return err
}

func (c *Controller) tickInit(ctx context.Context) error {
	pos, err := c.position(ctx)
	if err != nil {
		c.logger().Warnf("position read failed: %v", err)
		return nil
	}
	if !c.thresholds.IsResetComplete(pos) {
		c.settleWaits++
		return nil
	}

	if err := c.backend.StartSimulation(ctx, sim.OneshotWait); err != nil {
		c.logger().Warnf("start simulation failed: %v", err)
		return nil
	}
	c.publishParam(ctx)
	c.trialStart = c.now()
	c.elapsed = 0

	trial, err := c.store.Open(c.param.K(), c.param.Count)
	if err != nil {
		c.stopSimulation(ctx)
		return &TrialError{K: c.param.K(), Count: c.param.Count, Op: "open", Err: err}
	}
	c.trial = trial
	c.state = Running
	c.logger().WithField("file", trial.Path()).Info("trial started")
	return nil
}

func (c *Controller) tickRunning(ctx context.Context) error {
	pos, posErr := c.position(ctx)

	c.elapsed = c.now().Sub(c.trialStart).Seconds()
	if err := c.trial.Write(c.elapsed, c.mailbox.Latest()); err != nil {
		return &TrialError{K: c.param.K(), Count: c.param.Count, Op: "write", Err: err}
	}

	if posErr != nil {
		c.logger().Warnf("position read failed: %v", posErr)
		return nil
	}
	if c.thresholds.IsTrialFinished(pos) {
		c.state = Finalizing
	}
	return nil
}

func (c *Controller) tickFinalizing(ctx context.Context) error {
	c.stopSimulation(ctx)

	summary := TrialSummary{
		K:        c.param.K(),
		Count:    c.param.Count,
		Path:     c.trial.Path(),
		Records:  c.trial.Records(),
		Started:  c.trialStart,
		Finished: c.now(),
	}
	closeErr := c.trial.Close()
	c.trial = nil

	if c.param.Advance() {
		log.WithFields(logrus.Fields{"count": c.param.Count}).Info("parameter range exhausted, next round")
	}
	if c.param.Exhausted(c.cfg.MaxTrials) {
		c.state = Done
		log.WithFields(logrus.Fields{"count": c.param.Count}).Info("sweep complete")
	} else {
		c.state = Init
	}

	log.WithFields(logrus.Fields{
		"k":       summary.K,
		"count":   summary.Count,
		"records": summary.Records,
		"elapsed": summary.Elapsed().Round(time.Millisecond),
	}).Info("trial finished")
	for _, o := range c.observers {
		o.OnTrialComplete(summary)
	}

	if closeErr != nil {
		return &TrialError{K: summary.K, Count: summary.Count, Op: "close", Err: closeErr}
	}
	return nil
}

// Run ticks at the configured rate until ctx is cancelled, a tick fails, or
// (with ExitWhenDone) the sweep completes. Cancellation is a clean exit.
func (c *Controller) Run(ctx context.Context) error {
	if !c.prepared {
		return ErrNotPrepared
	}

	limiter := rate.NewLimiter(rate.Limit(c.cfg.TickRate), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			c.abort()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.Tick(ctx); err != nil {
			c.abort()
			return err
		}
		if c.state == Done && c.cfg.ExitWhenDone {
			return nil
		}
	}
}

// abort releases an in-flight trial: the log is closed and the simulation
// stopped. The partial log is kept.
func (c *Controller) abort() {
	if c.trial == nil {
		return
	}
	c.logger().Warn("sweep interrupted, closing partial trial")

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	c.stopSimulation(ctx)

	if err := c.trial.Close(); err != nil {
		c.logger().Errorf("close trial log: %v", err)
	}
	c.trial = nil
}

func (c *Controller) position(ctx context.Context) (sim.Vec3, error) {
	pos, err := c.backend.GetObjectPosition(ctx, c.head, sim.Buffer)
	if err != nil {
		return sim.Vec3{}, err
	}
	c.lastPos = pos
	return pos, nil
}

func (c *Controller) stopSimulation(ctx context.Context) {
	if err := c.backend.StopSimulation(ctx, sim.OneshotWait); err != nil {
		c.logger().Warnf("stop simulation failed: %v", err)
	}
}

// publishParam announces k. Delivery is best effort.
func (c *Controller) publishParam(ctx context.Context) {
	if err := c.pub.Publish(ctx, c.paramTopic, []float64{c.param.K()}); err != nil {
		c.logger().Warnf("publish %s failed: %v", c.paramTopic, err)
	}
}

func (c *Controller) notifyTick(from State) {
	if len(c.observers) == 0 {
		return
	}
	s := c.Snapshot()
	s.From = from
	for _, o := range c.observers {
		o.OnTick(s)
	}
}

func (c *Controller) logger() *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"state": c.state,
		"k":     fmt.Sprintf("%.3f", c.param.K()),
		"count": c.param.Count,
	})
}

func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Tick:        c.ticks,
		From:        c.state,
		State:       c.state,
		K:           c.param.K(),
		Count:       c.param.Count,
		Position:    c.lastPos,
		Elapsed:     c.elapsed,
		SettleWaits: c.settleWaits,
	}
}

func (c *Controller) State() State { return c.state }
func (c *Controller) Parameter() Parameter { return c.param }
func (c *Controller) TrialOpen() bool { return c.trial != nil }
func (c *Controller) SettleWaits() int { return c.settleWaits }
func (c *Controller) Thresholds() Thresholds { return c.thresholds }
