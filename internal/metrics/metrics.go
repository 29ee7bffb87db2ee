// Package metrics collects and exposes Prometheus metrics for the
// entitlement-service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and records the service's Prometheus metrics. All
// record methods are safe to call on a nil receiver so tests can run without
// a registry.
type Collector struct {
	webhookEvents    *prometheus.CounterVec
	duplicateEvents  prometheus.Counter
	downloadsCreated prometheus.Counter
	downloadsEvicted prometheus.Counter
	mediaBytesServed prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entitlement_webhook_events_total",
			Help: "Payment webhook events received, by event kind.",
		}, []string{"kind"}),
		duplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitlement_duplicate_events_total",
			Help: "Payment events collapsed as idempotent replays.",
		}),
		downloadsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitlement_downloads_created_total",
			Help: "Offline downloads admitted and materialized.",
		}),
		downloadsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitlement_downloads_evicted_total",
			Help: "Expired download artifacts evicted from storage.",
		}),
		mediaBytesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entitlement_media_bytes_served_total",
			Help: "Bytes streamed by the media range server.",
		}),
	}

	reg.MustRegister(
		c.webhookEvents,
		c.duplicateEvents,
		c.downloadsCreated,
		c.downloadsEvicted,
		c.mediaBytesServed,
	)
	return c
}

func (c *Collector) RecordWebhookEvent(kind string) {
	if c == nil {
		return
	}
	c.webhookEvents.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordDuplicateEvent() {
	if c == nil {
		return
	}
	c.duplicateEvents.Inc()
}

func (c *Collector) RecordDownloadCreated() {
	if c == nil {
		return
	}
	c.downloadsCreated.Inc()
}

func (c *Collector) RecordDownloadsEvicted(count int) {
	if c == nil {
		return
	}
	c.downloadsEvicted.Add(float64(count))
}

func (c *Collector) RecordMediaBytesServed(n int64) {
	if c == nil {
		return
	}
	c.mediaBytesServed.Add(float64(n))
}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
