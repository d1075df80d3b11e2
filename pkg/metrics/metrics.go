// Package metrics exposes per source sync metrics for prometheus.
package metrics

import (
	"net/http"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/result"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "odhsync"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	records       *prometheus.CounterVec
	passes        *prometheus.CounterVec
	passDuration  *prometheus.HistogramVec
	lastSuccessTS *prometheus.GaugeVec
	pushChannels  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.records = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "Records processed by outcome",
	}, []string{"source", "outcome"})
	m.passes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "passes_total",
		Help:      "Sync passes by status",
	}, []string{"source", "status"})
	m.passDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pass_duration_seconds",
		Help:      "Duration of sync passes",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"source"})
	m.lastSuccessTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last pass without errors",
	}, []string{"source"})
	m.pushChannels = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_channel_changes_total",
		Help:      "Changed objects per publication channel",
	}, []string{"source", "channel"})

	m.registry.MustRegister(
		m.records, m.passes, m.passDuration, m.lastSuccessTS, m.pushChannels,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePass records the outcome of one pass of source.
func (m *Metrics) ObservePass(source string, r result.SyncResult, duration time.Duration) {
	if m == nil {
		return
	}
	for outcome, n := range map[string]int{
		"created": r.Created,
		"updated": r.Updated,
		"deleted": r.Deleted,
		"error":   r.Error,
		"changed": r.ObjectChanged,
	} {
		if n > 0 {
			m.records.WithLabelValues(source, outcome).Add(float64(n))
		}
	}
	if r.ObjectChanged > 0 {
		for _, ch := range r.PushChannels {
			m.pushChannels.WithLabelValues(source, ch).Inc()
		}
	}

	m.passDuration.WithLabelValues(source).Observe(duration.Seconds())

	status := "success"
	if r.Error > 0 {
		status = "error"
	}
	m.passes.WithLabelValues(source, status).Inc()
	if r.Error == 0 {
		m.lastSuccessTS.WithLabelValues(source).SetToCurrentTime()
	}
}
