// Package metrics exposes Prometheus instrumentation of the countdown service.
//
// Collectors are created and registered once by Init. Every helper is a no-op
// until then, so packages can record metrics unconditionally.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "countdown_"

	resultSuccess = "success"
	resultError   = "error"
)

//nolint:gochecknoglobals // Collectors are process-wide by nature.
var (
	registerOnce sync.Once

	transitionsTotal     *prometheus.CounterVec
	authorityCommands    *prometheus.CounterVec
	authorityLatency     *prometheus.HistogramVec
	reconciliationsTotal *prometheus.CounterVec
	persistenceFailures  prometheus.Counter
	knownArmed           prometheus.Gauge
)

// Init registers the collectors with the default registry.
func Init() {
	registerOnce.Do(func() {
		transitionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "timer_transitions_total",
				Help: "Total timer state transitions by event",
			},
			[]string{"event"},
		)
		authorityCommands = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "authority_commands_total",
				Help: "Total authority commands by operation and result",
			},
			[]string{"operation", "result"},
		)
		authorityLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "authority_command_latency_seconds",
				Help:    "Authority command latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		)
		reconciliationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconciliations_total",
				Help: "Total reconciliation passes by source",
			},
			[]string{"source"},
		)
		persistenceFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "persistence_failures_total",
				Help: "Total failed timer store commits",
			},
		)
		knownArmed = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "known_armed_alarms",
				Help: "Alarm ids the registration guard believes are armed",
			},
		)

		prometheus.MustRegister(
			transitionsTotal,
			authorityCommands,
			authorityLatency,
			reconciliationsTotal,
			persistenceFailures,
			knownArmed,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncTransition counts a timer transition.
func IncTransition(event string) {
	if event == "" {
		event = "unknown"
	}
	if transitionsTotal != nil {
		transitionsTotal.WithLabelValues(event).Inc()
	}
}

// ObserveAuthorityCommand records the outcome and latency of an authority call.
func ObserveAuthorityCommand(operation string, err error, duration time.Duration) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if authorityCommands != nil {
		authorityCommands.WithLabelValues(operation, result).Inc()
	}
	if authorityLatency != nil {
		authorityLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// IncReconciliation counts a reconciliation pass.
func IncReconciliation(source string) {
	if reconciliationsTotal != nil {
		reconciliationsTotal.WithLabelValues(source).Inc()
	}
}

// IncPersistenceFailure counts a failed store commit.
func IncPersistenceFailure() {
	if persistenceFailures != nil {
		persistenceFailures.Inc()
	}
}

// SetKnownArmed sets the size of the guard's known set.
func SetKnownArmed(n int) {
	if knownArmed != nil {
		knownArmed.Set(float64(n))
	}
}
