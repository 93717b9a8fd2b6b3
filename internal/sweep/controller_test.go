package sweep_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/autosim/internal/config"
	"github.com/san-kum/autosim/internal/fake/publisher"
	"github.com/san-kum/autosim/internal/fake/simulator"
	"github.com/san-kum/autosim/internal/fake/triallog"
	"github.com/san-kum/autosim/internal/sensor"
	"github.com/san-kum/autosim/internal/sim"
	"github.com/san-kum/autosim/internal/storage"
	"github.com/san-kum/autosim/internal/sweep"
)

type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

type recorder struct {
	mu     sync.Mutex
	ticks  []sweep.Snapshot
	trials []sweep.TrialSummary
}

func (r *recorder) OnTick(s sweep.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, s)
}

func (r *recorder) OnTrialComplete(t sweep.TrialSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trials = append(r.trials, t)
}

func (r *recorder) Trials() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trials)
}

func torqueMessage(base float64) []float64 {
	msg := []float64{0.5}
	for i := 1; i <= config.DefaultNumJoint; i++ {
		msg = append(msg, base+float64(i))
	}
	return msg
}

func trialFiles(dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "Auto_*.dat"))
	Expect(err).NotTo(HaveOccurred())
	return matches
}

func readLines(path string) []string {
	data, err := os.ReadFile(path)
	Expect(err).NotTo(HaveOccurred())
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

var _ = Describe("Controller", func() {
	var (
		ctx     context.Context
		cfg     *config.Config
		backend *simulator.FakeSimulator
		pub     *publisher.FakePublisher
		mailbox *sensor.Mailbox
		dir     string
		store   sweep.TrialStore
		clock   *stepClock
		rec     *recorder
	)

	newController := func(opts ...sweep.Option) *sweep.Controller {
		opts = append([]sweep.Option{sweep.WithClock(clock.Now), sweep.WithObserver(rec)}, opts...)
		return sweep.New(cfg, sweep.Deps{
			Backend:   backend,
			Publisher: pub,
			Mailbox:   mailbox,
			Store:     store,
		}, opts...)
	}

	prepared := func(opts ...sweep.Option) *sweep.Controller {
		c := newController(opts...)
		Expect(c.Prepare(ctx)).To(Succeed())
		return c
	}

	tickN := func(c *sweep.Controller, n int) {
		for i := 0; i < n; i++ {
			Expect(c.Tick(ctx)).To(Succeed())
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		cfg = config.DefaultConfig()
		backend = simulator.New()
		pub = publisher.New()
		mailbox = sensor.NewMailbox(cfg.Sweep.NumJoint)
		dir = GinkgoT().TempDir()
		store = sweep.FileStore(storage.New(dir))
		clock = &stepClock{t: time.Unix(1700000000, 0), step: 20 * time.Millisecond}
		rec = &recorder{}
	})

	Describe("Prepare", func() {
		It("connects, resolves the head, primes streaming and announces k", func() {
			c := prepared()

			Expect(backend.Connects()).To(Equal(1))
			Expect(backend.LastObjectName()).To(Equal(config.DefaultObjectName))
			Expect(backend.Primes()).To(Equal(1))
			Expect(pub.Values(config.DefaultParamTopic)).To(Equal([]float64{0.0}))
			Expect(c.State()).To(Equal(sweep.Init))
		})

		It("refuses to tick before it has run", func() {
			c := newController()
			Expect(c.Tick(ctx)).To(MatchError(sweep.ErrNotPrepared))
			Expect(c.Run(ctx)).To(MatchError(sweep.ErrNotPrepared))
		})

		It("wraps connection failures", func() {
			backend.ConnectErr = errors.New("refused")

			err := newController().Prepare(ctx)

			var connErr *sim.ConnectError
			Expect(errors.As(err, &connErr)).To(BeTrue())
			Expect(connErr.Port).To(Equal(config.DefaultPort))
			Expect(err).To(MatchError(ContainSubstring("refused")))
		})

		It("treats an invalid client id as a connection failure", func() {
			backend.Client = sim.InvalidClient

			err := newController().Prepare(ctx)

			Expect(err).To(MatchError(sim.ErrNotConnected))
		})

		It("fails when the head cannot be resolved", func() {
			backend.HandleErr = sim.ErrUnknownObject
			Expect(newController().Prepare(ctx)).To(MatchError(sim.ErrUnknownObject))
		})

		It("fails on an invalid handle", func() {
			backend.Handle = sim.InvalidHandle
			Expect(newController().Prepare(ctx)).To(MatchError(sim.ErrInvalidHandle))
		})

		It("tolerates an empty buffer while priming the stream", func() {
			backend.PrimeErr = sim.ErrNoValue
			Expect(newController().Prepare(ctx)).To(Succeed())
		})

		It("fails on other priming errors", func() {
			backend.PrimeErr = errors.New("socket closed")
			Expect(newController().Prepare(ctx)).To(MatchError(ContainSubstring("socket closed")))
		})
	})

	Describe("a single trial", func() {
		It("waits for the reset, runs until the line and finalizes", func() {
			backend.Positions = []float64{2.5, 2.5, 1.0, 1.0, 2.2}
			mailbox.Store(torqueMessage(0))
			c := prepared()

			tickN(c, 2)
			Expect(c.State()).To(Equal(sweep.Init))
			Expect(c.SettleWaits()).To(Equal(2))
			Expect(backend.Starts()).To(Equal(0))
			Expect(trialFiles(dir)).To(BeEmpty())

			tickN(c, 1)
			Expect(c.State()).To(Equal(sweep.Running))
			Expect(backend.Starts()).To(Equal(1))
			Expect(c.TrialOpen()).To(BeTrue())
			Expect(pub.Values(config.DefaultParamTopic)).To(Equal([]float64{0.0, 0.0}))

			tickN(c, 1)
			Expect(c.State()).To(Equal(sweep.Running))

			tickN(c, 1)
			Expect(c.State()).To(Equal(sweep.Finalizing))

			tickN(c, 1)
			Expect(c.State()).To(Equal(sweep.Init))
			Expect(c.TrialOpen()).To(BeFalse())
			Expect(backend.Stops()).To(Equal(1))
			Expect(c.Parameter().Index).To(Equal(1))
			Expect(c.Parameter().K()).To(BeNumerically("~", 0.01, 1e-12))
			Expect(c.Parameter().Count).To(Equal(0))

			path := filepath.Join(dir, "Auto_k=0.000_count=0.dat")
			Expect(trialFiles(dir)).To(ConsistOf(path))
			lines := readLines(path)
			Expect(lines).To(HaveLen(2))
			for _, line := range lines {
				Expect(strings.Split(line, ", ")).To(HaveLen(config.DefaultNumJoint + 1))
			}

			Expect(rec.trials).To(HaveLen(1))
			Expect(rec.trials[0].Path).To(Equal(path))
			Expect(rec.trials[0].Records).To(Equal(2))
		})

		It("writes elapsed time and the latest sample verbatim", func() {
			backend.Positions = []float64{1.0, 1.0, 2.2}
			mailbox.Store(torqueMessage(0))
			c := prepared()

			tickN(c, 2)
			mailbox.Store(torqueMessage(100))
			tickN(c, 2)

			want := func(elapsed, base float64) string {
				fields := []string{fmt.Sprintf("%.6f", elapsed)}
				for i := 1; i <= config.DefaultNumJoint; i++ {
					fields = append(fields, fmt.Sprintf("%.6f", base+float64(i)))
				}
				return strings.Join(fields, ", ")
			}
			lines := readLines(filepath.Join(dir, "Auto_k=0.000_count=0.dat"))
			Expect(lines).To(Equal([]string{want(0.02, 0), want(0.04, 100)}))
		})

		It("logs zeros before any torque message arrives", func() {
			backend.Positions = []float64{1.0, 2.2}
			c := prepared()
			tickN(c, 3)

			lines := readLines(filepath.Join(dir, "Auto_k=0.000_count=0.dat"))
			Expect(lines).To(HaveLen(1))
			Expect(lines[0]).To(HavePrefix("0.020000, 0.000000, 0.000000"))
		})

		It("keeps waiting when the position cannot be read", func() {
			backend.PositionErr = errors.New("no reply")
			c := prepared()
			tickN(c, 3)

			Expect(c.State()).To(Equal(sweep.Init))
			Expect(backend.Starts()).To(Equal(0))
		})

		It("stays in Init when the simulation refuses to start", func() {
			backend.StartErr = errors.New("busy")
			c := prepared()
			tickN(c, 3)

			Expect(c.State()).To(Equal(sweep.Init))
			Expect(backend.Starts()).To(Equal(3))
			Expect(trialFiles(dir)).To(BeEmpty())
		})

		It("carries on when the parameter cannot be published", func() {
			pub.Err = errors.New("bus down")
			backend.Positions = []float64{1.0, 2.2}
			c := prepared()
			tickN(c, 3)

			Expect(c.State()).To(Equal(sweep.Init))
			Expect(trialFiles(dir)).To(HaveLen(1))
		})

		It("reports a trial error when the log cannot be created", func() {
			blocker := filepath.Join(dir, "blocker")
			Expect(os.WriteFile(blocker, nil, 0644)).To(Succeed())
			store = sweep.FileStore(storage.New(filepath.Join(blocker, "out")))
			c := prepared()

			err := c.Tick(ctx)

			var trialErr *sweep.TrialError
			Expect(errors.As(err, &trialErr)).To(BeTrue())
			Expect(trialErr.Op).To(Equal("open"))
			Expect(trialErr.Count).To(Equal(0))
			Expect(c.TrialOpen()).To(BeFalse())
			Expect(backend.Running()).To(BeFalse())
		})
	})

	Describe("trial log failures", func() {
		var logs *triallog.FakeStore

		BeforeEach(func() {
			logs = triallog.New()
			store = logs
			mailbox.Store(torqueMessage(0))
		})

		It("reports a failed write and keeps the trial open", func() {
			logs.WriteErr = errors.New("disk full")
			backend.Positions = []float64{1.0, 1.5}
			c := prepared()
			tickN(c, 1)
			Expect(c.State()).To(Equal(sweep.Running))

			err := c.Tick(ctx)

			var trialErr *sweep.TrialError
			Expect(errors.As(err, &trialErr)).To(BeTrue())
			Expect(trialErr.Op).To(Equal("write"))
			Expect(trialErr.K).To(Equal(0.0))
			Expect(trialErr.Count).To(Equal(0))
			Expect(c.State()).To(Equal(sweep.Running))
			Expect(c.TrialOpen()).To(BeTrue())
		})

		It("advances past a failed close and reports it", func() {
			logs.CloseErr = errors.New("flush failed")
			backend.Positions = []float64{1.0, 2.2}
			c := prepared()
			tickN(c, 2)
			Expect(c.State()).To(Equal(sweep.Finalizing))

			err := c.Tick(ctx)

			var trialErr *sweep.TrialError
			Expect(errors.As(err, &trialErr)).To(BeTrue())
			Expect(trialErr.Op).To(Equal("close"))
			Expect(trialErr.K).To(Equal(0.0))
			Expect(c.State()).To(Equal(sweep.Init))
			Expect(c.TrialOpen()).To(BeFalse())
			Expect(c.Parameter().K()).To(BeNumerically("~", 0.01, 1e-12))
			Expect(backend.Stops()).To(Equal(1))
			Expect(rec.Trials()).To(Equal(1))
			Expect(logs.Logs()).To(HaveLen(1))
			Expect(logs.Logs()[0].Records()).To(Equal(1))
		})
	})

	Describe("a full sweep", func() {
		It("writes one log per (k, count) and then stays done", func() {
			c := prepared()

			for i := 0; i < 5000 && c.State() != sweep.Done; i++ {
				Expect(c.Tick(ctx)).To(Succeed())
				inTrial := c.State() == sweep.Running || c.State() == sweep.Finalizing
				Expect(c.TrialOpen()).To(Equal(inTrial))
			}

			Expect(c.State()).To(Equal(sweep.Done))
			files := trialFiles(dir)
			Expect(files).To(HaveLen(cfg.Sweep.TotalTrials()))
			Expect(files).To(ContainElement(filepath.Join(dir, "Auto_k=0.200_count=9.dat")))
			Expect(files).NotTo(ContainElement(filepath.Join(dir, "Auto_k=0.210_count=0.dat")))
			Expect(files).NotTo(ContainElement(filepath.Join(dir, "Auto_k=0.000_count=10.dat")))
			Expect(rec.Trials()).To(Equal(210))
			Expect(backend.Starts()).To(Equal(210))
			Expect(backend.Stops()).To(Equal(210))

			tickN(c, 20)
			Expect(c.State()).To(Equal(sweep.Done))
			Expect(trialFiles(dir)).To(HaveLen(210))
			Expect(backend.Starts()).To(Equal(210))
		})

		It("visits every k in order within a round", func() {
			c := prepared()
			for c.Parameter().Count == 0 {
				Expect(c.Tick(ctx)).To(Succeed())
			}

			Expect(rec.trials).To(HaveLen(21))
			for i, t := range rec.trials {
				Expect(t.K).To(BeNumerically("~", float64(i)*0.01, 1e-9))
				Expect(t.Count).To(Equal(0))
			}
			Expect(c.Parameter().K()).To(Equal(0.0))
		})
	})

	Describe("initial state", func() {
		It("spends one idle tick in Preseed", func() {
			cfg.Sweep.Preseed = true
			cfg.Sweep.StartStep = 5
			cfg.Sweep.StartCount = 2
			c := prepared()
			Expect(c.State()).To(Equal(sweep.Preseed))
			Expect(pub.Values(config.DefaultParamTopic)).To(HaveLen(1))
			Expect(pub.Values(config.DefaultParamTopic)[0]).To(BeNumerically("~", 0.05, 1e-12))

			tickN(c, 1)
			Expect(c.State()).To(Equal(sweep.Init))
			Expect(backend.Reads()).To(Equal(0))

			backend.Positions = []float64{1.0, 2.2}
			tickN(c, 3)
			Expect(trialFiles(dir)).To(ConsistOf(filepath.Join(dir, "Auto_k=0.050_count=2.dat")))
		})

		It("ignores an unknown state", func() {
			c := prepared(sweep.WithInitialState(sweep.State(42)))
			tickN(c, 3)

			Expect(c.State()).To(Equal(sweep.State(42)))
			Expect(backend.Reads()).To(Equal(0))
			Expect(trialFiles(dir)).To(BeEmpty())
		})

		DescribeTable("falls back to Init from states that need an open trial",
			func(start sweep.State) {
				c := prepared(sweep.WithInitialState(start))
				Expect(c.State()).To(Equal(sweep.Init))
				Expect(c.TrialOpen()).To(BeFalse())

				Expect(c.Tick(ctx)).To(Succeed())
				Expect(c.State()).To(Equal(sweep.Running))
				Expect(trialFiles(dir)).To(HaveLen(1))
			},
			Entry("running", sweep.Running),
			Entry("finalizing", sweep.Finalizing),
		)

		It("resumes from an injected parameter", func() {
			p := sweep.NewParameter(cfg.Sweep)
			p.Index = 20
			p.Count = 9
			c := prepared(sweep.WithParameter(p))
			tickN(c, 5)

			Expect(c.State()).To(Equal(sweep.Done))
			Expect(trialFiles(dir)).To(ConsistOf(filepath.Join(dir, "Auto_k=0.200_count=9.dat")))
		})
	})

	Describe("observers", func() {
		It("see every tick with the state it came from", func() {
			backend.Positions = []float64{2.5, 1.0, 2.2}
			c := prepared()
			tickN(c, 4)

			Expect(rec.ticks).To(HaveLen(4))
			Expect(rec.ticks[0].From).To(Equal(sweep.Init))
			Expect(rec.ticks[0].State).To(Equal(sweep.Init))
			Expect(rec.ticks[0].SettleWaits).To(Equal(1))
			Expect(rec.ticks[1].State).To(Equal(sweep.Running))
			Expect(rec.ticks[2].From).To(Equal(sweep.Running))
			Expect(rec.ticks[2].State).To(Equal(sweep.Finalizing))
			Expect(rec.ticks[2].Position.X()).To(Equal(2.2))
			Expect(rec.ticks[3].Tick).To(Equal(4))
		})
	})

	Describe("Run", func() {
		BeforeEach(func() {
			cfg.Sweep.TickRate = 1000
			cfg.Sweep.ParamMax = cfg.Sweep.ParamMin
			cfg.Sweep.MaxTrials = 2
		})

		It("returns once the sweep is done", func() {
			c := prepared()

			Expect(c.Run(ctx)).To(Succeed())
			Expect(c.State()).To(Equal(sweep.Done))
			Expect(trialFiles(dir)).To(HaveLen(2))
		})

		It("keeps ticking in Done until cancelled when asked to", func() {
			cfg.Sweep.ExitWhenDone = false
			c := prepared()
			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- c.Run(runCtx) }()

			Eventually(rec.Trials).Should(Equal(2))
			Consistently(done, 50*time.Millisecond).ShouldNot(Receive())
			cancel()
			Eventually(done).Should(Receive(BeNil()))
			Expect(trialFiles(dir)).To(HaveLen(2))
		})

		It("closes the open trial and stops the simulation on cancel", func() {
			backend.Speed = 0
			c := prepared()
			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- c.Run(runCtx) }()

			Eventually(backend.Reads).Should(BeNumerically(">=", 5))
			cancel()
			Eventually(done).Should(Receive(BeNil()))

			Expect(c.TrialOpen()).To(BeFalse())
			Expect(backend.Stops()).To(Equal(1))
			Expect(backend.Running()).To(BeFalse())
			path := filepath.Join(dir, "Auto_k=0.000_count=0.dat")
			Expect(len(readLines(path))).To(BeNumerically(">=", 1))
		})

		It("stops the simulation and returns a failed write", func() {
			logs := triallog.New()
			logs.WriteErr = errors.New("disk full")
			store = logs
			c := prepared()

			err := c.Run(ctx)

			var trialErr *sweep.TrialError
			Expect(errors.As(err, &trialErr)).To(BeTrue())
			Expect(trialErr.Op).To(Equal("write"))
			Expect(c.TrialOpen()).To(BeFalse())
			Expect(backend.Starts()).To(Equal(1))
			Expect(backend.Stops()).To(Equal(1))
			Expect(backend.Running()).To(BeFalse())
			Expect(logs.Logs()).To(HaveLen(1))
			Expect(logs.Logs()[0].Closes()).To(Equal(1))
		})

		It("stops on a trial error", func() {
			blocker := filepath.Join(dir, "blocker")
			Expect(os.WriteFile(blocker, nil, 0644)).To(Succeed())
			store = sweep.FileStore(storage.New(filepath.Join(blocker, "out")))
			c := prepared()

			var trialErr *sweep.TrialError
			Expect(errors.As(c.Run(ctx), &trialErr)).To(BeTrue())
		})
	})
})
