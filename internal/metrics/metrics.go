// Package metrics exposes sweep progress as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/san-kum/autosim/internal/sweep"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "metrics",
})

var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autosim",
		Subsystem: "sweep",
		Name:      "ticks_total",
		Help:      "Total controller ticks, by the state the tick ran in",
	}, []string{"state"})

	SettleWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autosim",
		Subsystem: "sweep",
		Name:      "settle_waits_total",
		Help:      "Ticks spent waiting for the robot to return behind the reset line",
	})

	TrialsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autosim",
		Subsystem: "sweep",
		Name:      "trials_completed_total",
		Help:      "Total trials finalized",
	})

	RecordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autosim",
		Subsystem: "sweep",
		Name:      "records_written_total",
		Help:      "Total torque records written to trial logs",
	})

	TrialDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "autosim",
		Subsystem: "sweep",
		Name:      "trial_duration_seconds",
		Help:      "Wall time from simulation start to crossing the finish line",
		Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60},
	})

	Param = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "autosim",
		Subsystem: "sweep",
		Name:      "param",
		Help:      "Current value of the swept parameter k",
	})

	Count = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "autosim",
		Subsystem: "sweep",
		Name:      "count",
		Help:      "Current trial round",
	})

	State = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "autosim",
		Subsystem: "sweep",
		Name:      "state",
		Help:      "Current controller state (0 init, 1 running, 2 finalizing, 3 done, 4 preseed)",
	})

	HeadX = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "autosim",
		Subsystem: "sweep",
		Name:      "head_x",
		Help:      "Last read x position of the robot head",
	})
)

// Observer feeds the package collectors from controller callbacks.
type Observer struct {
	lastSettle int
}

func NewObserver() *Observer {
	return &Observer{}
}

func (o *Observer) OnTick(s sweep.Snapshot) {
	TicksTotal.WithLabelValues(s.From.String()).Inc()
	if d := s.SettleWaits - o.lastSettle; d > 0 {
		SettleWaitsTotal.Add(float64(d))
	}
	o.lastSettle = s.SettleWaits

	Param.Set(s.K)
	Count.Set(float64(s.Count))
	State.Set(float64(s.State))
	HeadX.Set(s.Position.X())
}

func (o *Observer) OnTrialComplete(t sweep.TrialSummary) {
	TrialsCompleted.Inc()
	RecordsWritten.Add(float64(t.Records))
	TrialDuration.Observe(t.Elapsed().Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("metrics server shutdown: %v", err)
		}
	}()

	log.Infof("metrics listening on %s", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
