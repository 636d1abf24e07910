// Package metrics exposes Prometheus collectors for the captioning service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Uploads         *prometheus.CounterVec
	Captions        *prometheus.CounterVec
	CaptionDuration *prometheus.HistogramVec
	TagUpdates      *prometheus.CounterVec
	Archives        *prometheus.CounterVec
	ActiveJobs      prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captioner_uploads_total",
			Help: "Uploaded image files by upload mode.",
		}, []string{"mode"}),
		Captions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captioner_captions_total",
			Help: "Caption requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		CaptionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "captioner_caption_duration_seconds",
			Help:    "Latency of a single caption request.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}, []string{"provider"}),
		TagUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captioner_tag_updates_total",
			Help: "Caption files touched by global tag updates.",
		}, []string{"outcome"}),
		Archives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captioner_archives_total",
			Help: "Zip archives streamed by layout.",
		}, []string{"format"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "captioner_active_jobs",
			Help: "Caption jobs currently running.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.Uploads, m.Captions, m.CaptionDuration, m.TagUpdates, m.Archives, m.ActiveJobs)
	return m
}

// ObserveCaption records the outcome and latency of one provider call
func (m *Metrics) ObserveCaption(provider string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Captions.WithLabelValues(provider, outcome).Inc()
	m.CaptionDuration.WithLabelValues(provider).Observe(time.Since(started).Seconds())
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
