// Package metrics exposes Prometheus metrics for the capture daemons.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "polymarket_capture"

// Metrics holds the per-asset capture metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RecordsCaptured   *prometheus.CounterVec
	RecordsFlushed    *prometheus.CounterVec
	FlushFailures     *prometheus.CounterVec
	Reconnects        *prometheus.CounterVec
	DiscoveryFailures *prometheus.CounterVec
	WindowsCompleted  *prometheus.CounterVec
	WindowsSkipped    *prometheus.CounterVec
	PendingRecords    *prometheus.GaugeVec
}

// New registers every metric with reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)
	labels := []string{"asset"}

	return &Metrics{
		RecordsCaptured: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "records_captured_total",
			Help:      "Messages appended to the ingest buffer",
		}, labels),
		RecordsFlushed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_flushed_total",
			Help:      "Records written to window files",
		}, labels),
		FlushFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "flush_failures_total",
			Help:      "Failed attempts to write buffered records",
		}, labels),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Sessions replaced after the connection was lost",
		}, labels),
		DiscoveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "failures_total",
			Help:      "Failed token resolutions",
		}, labels),
		WindowsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "window",
			Name:      "completed_total",
			Help:      "Windows captured until their deadline",
		}, labels),
		WindowsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "window",
			Name:      "skipped_total",
			Help:      "Windows abandoned because tokens or a session could not be obtained",
		}, labels),
		PendingRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "pending_records",
			Help:      "Records buffered but not yet flushed",
		}, labels),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordCaptured(asset string, pending int) {
	if m == nil {
		return
	}
	m.RecordsCaptured.WithLabelValues(asset).Inc()
	m.PendingRecords.WithLabelValues(asset).Set(float64(pending))
}

func (m *Metrics) Flushed(asset string, records int, pending int) {
	if m == nil {
		return
	}
	m.RecordsFlushed.WithLabelValues(asset).Add(float64(records))
	m.PendingRecords.WithLabelValues(asset).Set(float64(pending))
}

func (m *Metrics) FlushFailed(asset string) {
	if m == nil {
		return
	}
	m.FlushFailures.WithLabelValues(asset).Inc()
}

func (m *Metrics) Reconnected(asset string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(asset).Inc()
}

func (m *Metrics) DiscoveryFailed(asset string) {
	if m == nil {
		return
	}
	m.DiscoveryFailures.WithLabelValues(asset).Inc()
}

func (m *Metrics) WindowCompleted(asset string) {
	if m == nil {
		return
	}
	m.WindowsCompleted.WithLabelValues(asset).Inc()
}

func (m *Metrics) WindowSkipped(asset string) {
	if m == nil {
		return
	}
	m.WindowsSkipped.WithLabelValues(asset).Inc()
}
