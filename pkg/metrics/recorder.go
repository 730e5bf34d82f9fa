// Package metrics provides Prometheus-based metrics recording for the
// orchestration loop: role turns, retries, iterations, and checkpoints.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records orchestration metrics into a Prometheus registry.
type Recorder struct {
	turnsTotal       *prometheus.CounterVec
	turnRetries      *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	promptTokens     *prometheus.CounterVec
	iterationsTotal  *prometheus.CounterVec
	checkpointsTotal *prometheus.CounterVec
}

// NewRecorder creates a recorder registering its collectors with reg.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry to avoid duplicate registration.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ace_turns_total",
				Help: "Total number of role turns by role and status",
			},
			[]string{"role", "status"},
		),
		turnRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ace_turn_retries_total",
				Help: "Total number of transient-failure retries by role",
			},
			[]string{"role"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ace_turn_duration_seconds",
				Help:    "Duration of role turns in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"role"},
		),
		promptTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ace_prompt_tokens_total",
				Help: "Estimated prompt tokens sent to the agent by role",
			},
			[]string{"role"},
		),
		iterationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ace_iterations_total",
				Help: "Total number of completed loop iterations by outcome",
			},
			[]string{"outcome"},
		),
		checkpointsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ace_checkpoints_total",
				Help: "Total number of checkpoint attempts by result",
			},
			[]string{"result"},
		),
	}
}

// ObserveTurn records one finished role turn.
func (r *Recorder) ObserveTurn(role string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	r.turnsTotal.WithLabelValues(role, status).Inc()
	r.turnDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// ObserveRetry records one retry attempt for a role turn.
func (r *Recorder) ObserveRetry(role string) {
	r.turnRetries.WithLabelValues(role).Inc()
}

// ObservePromptTokens records the estimated token count of an outgoing task.
func (r *Recorder) ObservePromptTokens(role string, tokens int) {
	if tokens > 0 {
		r.promptTokens.WithLabelValues(role).Add(float64(tokens))
	}
}

// ObserveIteration records a finished loop iteration.
func (r *Recorder) ObserveIteration(outcome string) {
	r.iterationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCheckpoint records a checkpoint attempt. result should be one of
// "committed", "empty", "error".
func (r *Recorder) ObserveCheckpoint(result string) {
	r.checkpointsTotal.WithLabelValues(result).Inc()
}

// Handler returns an HTTP handler exposing the default registry, for the
// optional -metrics-addr listener.
func Handler() http.Handler {
	return promhttp.Handler()
}
