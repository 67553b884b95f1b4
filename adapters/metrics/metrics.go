// Package metrics provides Prometheus metrics collection for docmap.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artpar/docmap/core/odm"
	"github.com/artpar/docmap/core/storage"
	"github.com/artpar/docmap/core/validation"
)

// Collector holds all Prometheus metrics for docmap. It implements
// odm.Recorder.
type Collector struct {
	// Operation metrics
	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	OperationsInFlight *prometheus.GaugeVec

	// Migration metrics
	MigratedDocuments *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge

	gatherer prometheus.Gatherer
}

var _ odm.Recorder = (*Collector)(nil)

// New creates a collector registered with the default Prometheus registry.
func New() *Collector {
	return newCollector(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	return newCollector(reg, reg)
}

func newCollector(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Name:      "operations_total",
				Help:      "Total number of record operations by outcome",
			},
			[]string{"kind", "op", "result"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docmap",
				Name:      "operation_duration_seconds",
				Help:      "Record operation duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"kind", "op"},
		),
		OperationsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "docmap",
				Name:      "operations_in_flight",
				Help:      "Number of record operations currently running",
			},
			[]string{"kind"},
		),

		MigratedDocuments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Name:      "documents_migrated_total",
				Help:      "Total number of stored documents rewritten by migrations",
			},
			[]string{"kind"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Name:      "http_requests_total",
				Help:      "Total number of browse API requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docmap",
				Name:      "http_request_duration_seconds",
				Help:      "Browse API request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "docmap",
				Name:      "http_requests_in_flight",
				Help:      "Number of browse API requests currently being processed",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docmap",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "docmap",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),

		gatherer: gatherer,
	}
}

// OperationStarted implements odm.Recorder.
func (c *Collector) OperationStarted(kind, op string) {
	c.OperationsInFlight.WithLabelValues(kind).Inc()
}

// OperationFinished implements odm.Recorder.
func (c *Collector) OperationFinished(kind, op string, elapsed time.Duration, err error) {
	c.OperationsInFlight.WithLabelValues(kind).Dec()
	c.OperationDuration.WithLabelValues(kind, op).Observe(elapsed.Seconds())
	c.OperationsTotal.WithLabelValues(kind, op, Result(err)).Inc()
}

// DocumentsMigrated implements odm.Recorder.
func (c *Collector) DocumentsMigrated(kind string, n int) {
	c.MigratedDocuments.WithLabelValues(kind).Add(float64(n))
}

// ConfigReloaded records the outcome of a config reload.
func (c *Collector) ConfigReloaded(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.SetToCurrentTime()
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Result classifies an operation error into a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, validation.ErrValidation):
		return "invalid"
	case errors.Is(err, storage.ErrDuplicateKey):
		return "duplicate"
	case errors.Is(err, odm.ErrNeedsMigration), errors.Is(err, odm.ErrVersionTooNew):
		return "version_mismatch"
	case errors.Is(err, odm.ErrClosed), errors.Is(err, storage.ErrClosed):
		return "closed"
	}
	var me *odm.MigrationError
	if errors.As(err, &me) {
		return "migration_failed"
	}
	return "error"
}

// StatusClass reduces an HTTP status code to its class, e.g. 404 -> "4xx".
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	}
	return "1xx"
}
