package orchestrator

import (
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Turn outcomes reported by sasya_turns_total.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeInvalid  = "invalid_input"
	OutcomeBusy     = "session_busy"
	OutcomeInternal = "internal"
	OutcomeCanceled = "canceled"
)

// Metrics are the Prometheus collectors updated by the orchestrator.
type Metrics struct {
	Turns        *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	Transitions  *prometheus.CounterVec
	InFlight     prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg, when given.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sasya_turns_total",
				Help: "Total number of turns by outcome",
			},
			[]string{"outcome"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sasya_step_duration_seconds",
				Help:    "Duration of handler executions",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"state"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sasya_transitions_total",
				Help: "Workflow state transitions",
			},
			[]string{"from", "to"},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sasya_turns_in_flight",
				Help: "Turns currently being processed",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Turns, m.StepDuration, m.Transitions, m.InFlight)
	}
	return m
}

func (m *Metrics) turn(outcome string) {
	m.Turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) step(st domain.WorkflowState, seconds float64) {
	m.StepDuration.WithLabelValues(st.String()).Observe(seconds)
}

func (m *Metrics) transition(from, to domain.WorkflowState) {
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}
