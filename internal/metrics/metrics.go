// Package metrics exposes Prometheus collectors for a running QD search.
package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cwbudde/qdemitter/internal/archive"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qdemitter"

// Collector holds every metric of a run. A nil *Collector is valid and
// records nothing.
type Collector struct {
	tells         prometheus.Counter
	restarts      prometheus.Counter
	solutions     *prometheus.CounterVec
	tellDuration  prometheus.Histogram
	elites        prometheus.Gauge
	coverage      prometheus.Gauge
	qdScore       prometheus.Gauge
	bestObjective prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tells: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tells_total",
			Help:      "Completed ask/tell cycles",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Emitter restarts",
		}),
		solutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solutions_total",
			Help:      "Evaluated solutions by archive outcome",
		}, []string{"outcome"}),
		tellDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Duration of one ask/evaluate/tell cycle",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		elites: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "elites",
			Help:      "Number of occupied archive cells",
		}),
		coverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "coverage_ratio",
			Help:      "Fraction of archive cells occupied",
		}),
		qdScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "qd_score",
			Help:      "Sum of elite objectives",
		}),
		bestObjective: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "best_objective",
			Help:      "Highest elite objective",
		}),
	}

	reg.MustRegister(
		c.tells, c.restarts, c.solutions, c.tellDuration,
		c.elites, c.coverage, c.qdScore, c.bestObjective,
	)
	return c
}

// ObserveIteration records one ask/evaluate/tell cycle.
func (c *Collector) ObserveIteration(batch, added, newRestarts int, d time.Duration) {
	if c == nil {
		return
	}
	c.tells.Inc()
	c.restarts.Add(float64(newRestarts))
	c.solutions.WithLabelValues("added").Add(float64(added))
	c.solutions.WithLabelValues("rejected").Add(float64(batch - added))
	c.tellDuration.Observe(d.Seconds())
}

// SetArchive publishes the archive summary.
func (c *Collector) SetArchive(s archive.Stats) {
	if c == nil {
		return
	}
	c.elites.Set(float64(s.NumElites))
	c.coverage.Set(s.Coverage)
	c.qdScore.Set(s.QDScore)
	if s.NumElites > 0 {
		c.bestObjective.Set(s.BestObjective)
	}
}

// Serve starts an HTTP server exposing gatherer on /metrics. The caller
// shuts it down.
func Serve(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	return srv
}
