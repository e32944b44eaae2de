// Package metrics records reconcile metrics and exports them in the
// node-exporter textfile format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder owns a private registry. A nil *Recorder records nothing, so
// callers never need to check whether metrics are enabled.
type Recorder struct {
	registry *prometheus.Registry

	reconcileTotal       *prometheus.CounterVec
	reconcileDuration    *prometheus.HistogramVec
	rulesChangedTotal    *prometheus.CounterVec
	packageAttemptsTotal *prometheus.CounterVec
	containersManaged    prometheus.Gauge
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		reconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lxc_compose",
				Name:      "reconcile_total",
				Help:      "Total number of container operations by operation and result",
			},
			[]string{"container", "operation", "result"},
		),
		reconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lxc_compose",
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of container operations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
			},
			[]string{"operation"},
		),
		rulesChangedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lxc_compose",
				Subsystem: "firewall",
				Name:      "rules_changed_total",
				Help:      "Total number of firewall rules inserted or deleted",
			},
			[]string{"container", "action"},
		),
		packageAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lxc_compose",
				Subsystem: "packages",
				Name:      "install_attempts_total",
				Help:      "Total number of package install attempts by OS and outcome",
			},
			[]string{"os", "outcome"},
		),
		containersManaged: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "lxc_compose",
				Name:      "containers_managed",
				Help:      "Number of containers in the allocation record",
			},
		),
	}
	r.registry.MustRegister(
		r.reconcileTotal,
		r.reconcileDuration,
		r.rulesChangedTotal,
		r.packageAttemptsTotal,
		r.containersManaged,
	)
	return r
}

// Reconcile records one container operation.
func (r *Recorder) Reconcile(container, operation string, err error, seconds float64) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.reconcileTotal.WithLabelValues(container, operation, result).Inc()
	r.reconcileDuration.WithLabelValues(operation).Observe(seconds)
}

// RulesChanged records inserted or deleted firewall rules.
func (r *Recorder) RulesChanged(container, action string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.rulesChangedTotal.WithLabelValues(container, action).Add(float64(n))
}

// PackageAttempt records one package install attempt.
func (r *Recorder) PackageAttempt(os, outcome string) {
	if r == nil {
		return
	}
	r.packageAttemptsTotal.WithLabelValues(os, outcome).Inc()
}

// ContainersManaged sets the number of recorded containers.
func (r *Recorder) ContainersManaged(n int) {
	if r == nil {
		return
	}
	r.containersManaged.Set(float64(n))
}

// Gatherer exposes the registry, mainly for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile atomically writes all metrics to path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
