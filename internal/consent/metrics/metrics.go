package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the consent module.
// Tracks decision counts by outcome and critical path durations.
type Metrics struct {
	Decisions           *prometheus.CounterVec
	BatchDecisions      *prometheus.CounterVec
	DatasetTokensIssued prometheus.Counter
	RollupDuration      prometheus.Histogram
	ViewDuration        prometheus.Histogram
}

// New creates a new Metrics instance with all consent module metrics registered.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_consent_decisions_total",
			Help: "Total number of single-field consent decisions by outcome",
		}, []string{"outcome"}),
		BatchDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_consent_batch_decisions_total",
			Help: "Total number of batch consent decisions by outcome",
		}, []string{"outcome"}),
		DatasetTokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_dataset_tokens_issued_total",
			Help: "Total number of dataset access tokens minted",
		}),
		RollupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_consent_rollup_duration_seconds",
			Help:    "Duration of consent decision processing including status rollup",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ViewDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_consent_view_duration_seconds",
			Help:    "Duration of grouped consent view assembly",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementDecision records a single-field decision outcome ("approved" or "rejected").
func (m *Metrics) IncrementDecision(outcome string) {
	m.Decisions.WithLabelValues(outcome).Inc()
}

// IncrementBatchDecision records a batch decision outcome.
func (m *Metrics) IncrementBatchDecision(outcome string) {
	m.BatchDecisions.WithLabelValues(outcome).Inc()
}

// IncrementDatasetTokenIssued records a freshly minted dataset token.
func (m *Metrics) IncrementDatasetTokenIssued() {
	m.DatasetTokensIssued.Inc()
}

// ObserveRollup records the duration of a decision's processing.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRollup(start time.Time) {
	m.RollupDuration.Observe(time.Since(start).Seconds())
}

// ObserveView records the duration of a grouped view assembly.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveView(start time.Time) {
	m.ViewDuration.Observe(time.Since(start).Seconds())
}
