package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"natprobe/internal/model"
)

// Collector exports session counters on its own Prometheus registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry     *prometheus.Registry
	attempts     *prometheus.CounterVec
	events       *prometheus.CounterVec
	discovery    *prometheus.CounterVec
	attemptsMade prometheus.Gauge
	pingRTT      prometheus.Histogram
}

// NewCollector creates and registers the session metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "natprobe",
			Name:      "connection_attempts_total",
			Help:      "Connection attempts recorded by outcome.",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "natprobe",
			Name:      "overlay_events_total",
			Help:      "Overlay events handled by kind.",
		}, []string{"kind"}),
		discovery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "natprobe",
			Name:      "discovery_requests_total",
			Help:      "STUN discovery requests by result.",
		}, []string{"result"}),
		attemptsMade: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "natprobe",
			Name:      "attempts_made",
			Help:      "Current attempt counter compared against max_attempts.",
		}),
		pingRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "natprobe",
			Name:      "ping_rtt_seconds",
			Help:      "Round-trip time of successful pings.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	c.registry.MustRegister(c.attempts, c.events, c.discovery, c.attemptsMade, c.pingRTT)
	return c
}

// Registry returns the registry holding the session metrics.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveAttempt counts one tracker record by outcome.
func (c *Collector) ObserveAttempt(outcome model.Outcome) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(string(outcome)).Inc()
}

// ObserveEvent counts one overlay event by kind.
func (c *Collector) ObserveEvent(kind string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(kind).Inc()
}

// ObserveDiscovery counts one address discovery query.
func (c *Collector) ObserveDiscovery(ok bool) {
	if c == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	c.discovery.WithLabelValues(result).Inc()
}

// SetAttemptsMade mirrors the session's attempt budget usage.
func (c *Collector) SetAttemptsMade(n int) {
	if c == nil {
		return
	}
	c.attemptsMade.Set(float64(n))
}

// ObservePing records a successful ping round trip.
func (c *Collector) ObservePing(rtt time.Duration) {
	if c == nil {
		return
	}
	c.pingRTT.Observe(rtt.Seconds())
}
