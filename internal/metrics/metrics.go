// Package metrics collects generation counters in a private Prometheus
// registry that is written out as a node-exporter textfile after a run.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the run's collectors.
type Recorder struct {
	registry *prometheus.Registry

	rows           *prometheus.CounterVec
	batches        *prometheus.CounterVec
	batchDuration  *prometheus.HistogramVec
	nullRelaxation *prometheus.GaugeVec
	domainResize   *prometheus.GaugeVec
	conflicts      *prometheus.CounterVec
	parameters     prometheus.Gauge
	thresholdError *prometheus.GaugeVec
	shift          *prometheus.GaugeVec
}

// New builds a recorder; labels are attached to every series.
func New(labels map[string]string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels(labels), reg))
	return &Recorder{
		registry: reg,
		rows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mirage_rows_generated_total",
			Help: "Rows written per table.",
		}, []string{"table"}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mirage_batches_total",
			Help: "Batches materialized per table.",
		}, []string{"table"}),
		batchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirage_batch_duration_seconds",
			Help:    "Time to materialize and write one batch.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"table"}),
		nullRelaxation: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mirage_null_fraction_relaxed",
			Help: "Null fraction given up to satisfy predicates, per column.",
		}, []string{"column"}),
		domainResize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mirage_domain_resize",
			Help: "Distinct-value count change applied at reconciliation, per column.",
		}, []string{"column"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mirage_constraint_conflicts_total",
			Help: "Constraints that could not be placed, per column.",
		}, []string{"column"}),
		parameters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mirage_parameters_assigned",
			Help: "Parameter slots with an assigned literal.",
		}),
		thresholdError: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mirage_threshold_selectivity_error",
			Help: "Absolute selectivity error of resolved multi-column thresholds.",
		}, []string{"table", "expression"}),
		shift: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mirage_selectivity_shift",
			Help: "Probability moved when cuts were snapped out of equal ranges, per column.",
		}, []string{"column"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveBatch records one written batch.
func (r *Recorder) ObserveBatch(table string, rows int, elapsed time.Duration) {
	r.rows.WithLabelValues(table).Add(float64(rows))
	r.batches.WithLabelValues(table).Inc()
	r.batchDuration.WithLabelValues(table).Observe(elapsed.Seconds())
}

// NullRelaxed records the null fraction a column gave up.
func (r *Recorder) NullRelaxed(column string, amount float64) {
	r.nullRelaxation.WithLabelValues(column).Set(amount)
}

// DomainResized records a reconciliation size change.
func (r *Recorder) DomainResized(column string, delta int64) {
	r.domainResize.WithLabelValues(column).Set(float64(delta))
}

// Conflict counts a constraint that could not be placed.
func (r *Recorder) Conflict(column string) {
	r.conflicts.WithLabelValues(column).Inc()
}

// ParametersAssigned sets the assigned slot count.
func (r *Recorder) ParametersAssigned(n int) {
	r.parameters.Set(float64(n))
}

// ThresholdError records how far a resolved threshold is from its target.
func (r *Recorder) ThresholdError(table, expression string, err float64) {
	r.thresholdError.WithLabelValues(table, expression).Set(err)
}

// SelectivityShifted records selectivity a column could not deliver exactly.
func (r *Recorder) SelectivityShifted(column string, amount float64) {
	r.shift.WithLabelValues(column).Set(amount)
}

// WriteTextfile writes all series in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return errors.Wrapf(prometheus.WriteToTextfile(path, r.registry), "write metrics %s", path)
}
