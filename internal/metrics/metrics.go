// Package metrics exposes solver activity as prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the solver metrics on a private registry. It is safe for
// concurrent use by several solvers.
type Recorder struct {
	registry *prometheus.Registry

	iterations  *prometheus.CounterVec
	deltaGuess  *prometheus.CounterVec
	attempts    prometheus.Counter
	transitions prometheus.Counter
	delta       prometheus.Gauge
	r1          prometheus.Gauge
	toTransit   prometheus.Histogram
}

// NewRecorder registers the solver metrics on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cflip_iterations_total",
			Help: "Density modification iterations by strategy",
		}, []string{"strategy"}),
		deltaGuess: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cflip_delta_guesses_total",
			Help: "Delta guessing rounds by outcome",
		}, []string{"outcome"}),
		attempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "cflip_solving_attempts_total",
			Help: "Solving attempts started",
		}),
		transitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "cflip_phase_transitions_total",
			Help: "Phase transitions detected",
		}),
		delta: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cflip_delta",
			Help: "Last delta tried during guessing",
		}),
		r1: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cflip_r1",
			Help: "R1 factor after the last iteration",
		}),
		toTransit: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cflip_iterations_to_transition",
			Help:    "Solving iterations before a phase transition",
			Buckets: []float64{10, 25, 50, 100, 200, 300, 500, 1000},
		}),
	}
}

// Registry returns the registry holding the metrics.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// IterationDone counts an iteration and records its R1.
func (r *Recorder) IterationDone(strategy string, r1 float64) {
	r.iterations.WithLabelValues(strategy).Inc()
	r.r1.Set(r1)
}

// DeltaGuessed counts a guessing round.
func (r *Recorder) DeltaGuessed(accepted bool, delta float64) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	r.deltaGuess.WithLabelValues(outcome).Inc()
	r.delta.Set(delta)
}

// AttemptStarted counts a solving attempt.
func (r *Recorder) AttemptStarted() { r.attempts.Inc() }

// TransitionDetected counts a transition after the given iterations.
func (r *Recorder) TransitionDetected(iterations int) {
	r.transitions.Inc()
	r.toTransit.Observe(float64(iterations))
}

// WriteTextfile writes the metrics in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
