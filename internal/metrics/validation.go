package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ValidationMetrics tracks the validation-timing policy.
type ValidationMetrics struct {
	// Decisions counts policy lookups by chosen action.
	// Labels: action
	Decisions *prometheus.CounterVec

	// OutOfDomain counts records whose delay could not be bucketed.
	OutOfDomain prometheus.Counter

	// SolveSweeps is the number of value-iteration sweeps the last solve ran.
	SolveSweeps prometheus.Gauge

	// SolveResidual is the last sweep's maximum state-value change.
	SolveResidual prometheus.Gauge

	// BatchValidated counts records marked validated in batches.
	BatchValidated prometheus.Counter
}

// NewValidationMetrics creates validation metrics on the default registry.
func NewValidationMetrics() *ValidationMetrics {
	return NewValidationMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewValidationMetricsWithRegistry creates validation metrics registered with reg.
func NewValidationMetricsWithRegistry(reg prometheus.Registerer) *ValidationMetrics {
	f := promauto.With(reg)
	return &ValidationMetrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "validation",
			Name:      "decisions_total",
			Help:      "Number of validation-timing decisions by action.",
		}, []string{"action"}),
		OutOfDomain: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "validation",
			Name:      "out_of_domain_total",
			Help:      "Number of metadata records whose delay could not be bucketed.",
		}),
		SolveSweeps: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "validation",
			Name:      "solve_sweeps",
			Help:      "Value-iteration sweeps run by the last policy solve.",
		}),
		SolveResidual: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "validation",
			Name:      "solve_residual",
			Help:      "Maximum state-value change in the last value-iteration sweep.",
		}),
		BatchValidated: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "validation",
			Name:      "batch_validated_total",
			Help:      "Number of metadata records validated in batches.",
		}),
	}
}

// RecordDecision counts a policy lookup.
func (m *ValidationMetrics) RecordDecision(action string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(action).Inc()
}

// RecordOutOfDomain counts an unbucketable record.
func (m *ValidationMetrics) RecordOutOfDomain() {
	if m == nil {
		return
	}
	m.OutOfDomain.Inc()
}

// RecordSolve publishes the solver's convergence figures.
func (m *ValidationMetrics) RecordSolve(sweeps int, residual float64) {
	if m == nil {
		return
	}
	m.SolveSweeps.Set(float64(sweeps))
	m.SolveResidual.Set(residual)
}

// RecordBatchValidated counts records validated in one batch.
func (m *ValidationMetrics) RecordBatchValidated(n int) {
	if m == nil {
		return
	}
	m.BatchValidated.Add(float64(n))
}
