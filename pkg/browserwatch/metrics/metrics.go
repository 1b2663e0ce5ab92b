// Package metrics exposes Prometheus counters for the screenshot pipeline.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Screenshot sources.
const (
	SourceEmbedded = "embedded"
	SourceLive     = "live"
)

// Collector records pipeline metrics in its own registry.
type Collector struct {
	registry *prometheus.Registry

	scheduled       prometheus.Counter
	captured        *prometheus.CounterVec
	skipped         prometheus.Counter
	uploads         *prometheus.CounterVec
	captureDuration prometheus.Histogram
}

// NewCollector creates a collector whose metrics are prefixed with namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		scheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screenshots_scheduled_total",
			Help:      "Browser tool results that scheduled a screenshot",
		}),
		captured: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screenshots_captured_total",
			Help:      "Screenshots obtained, by source",
		}, []string{"source"}),
		skipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screenshots_skipped_total",
			Help:      "Scheduled screenshots that produced no image",
		}),
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screenshot_uploads_total",
			Help:      "Screenshot uploads, by result",
		}, []string{"result"}),
		captureDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "screenshot_capture_duration_seconds",
			Help:      "Time spent obtaining a screenshot, including the retry",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Scheduled counts one scheduled capture.
func (c *Collector) Scheduled() {
	if c == nil {
		return
	}
	c.scheduled.Inc()
}

// Captured counts one screenshot from source and how long it took.
func (c *Collector) Captured(source string, took time.Duration) {
	if c == nil {
		return
	}
	c.captured.WithLabelValues(source).Inc()
	c.captureDuration.Observe(took.Seconds())
}

// Skipped counts one capture that produced no image.
func (c *Collector) Skipped() {
	if c == nil {
		return
	}
	c.skipped.Inc()
}

// Uploaded counts one upload attempt.
func (c *Collector) Uploaded(ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.uploads.WithLabelValues(result).Inc()
}
