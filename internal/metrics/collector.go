// Package metrics exposes gittrack's Prometheus metrics on a private
// registry.
//
// Metrics:
//   - gittrack_commits_logged_total: commits appended to the remote log, by repository
//   - gittrack_commit_failures_total: failed mirror attempts, by repository and reason
//   - gittrack_append_duration_seconds: latency of successful remote appends
//   - gittrack_repositories_watched: repositories currently tracked
//   - gittrack_lifecycle_events_total: repository lifecycle events, by kind
//   - gittrack_resyncs_total: resync requests, by trigger
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gittrack"

// Collector records gittrack metrics. A nil or disabled Collector ignores
// every call.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	commitsLogged   *prometheus.CounterVec
	commitFailures  *prometheus.CounterVec
	appendDuration  prometheus.Histogram
	watched         prometheus.Gauge
	lifecycleEvents *prometheus.CounterVec
	resyncs         *prometheus.CounterVec
}

// NewCollector creates a collector. If registry is nil a new one is created.
func NewCollector(enabled bool, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		enabled:  enabled,
		registry: registry,

		commitsLogged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commits_logged_total",
				Help:      "Total number of commits appended to the remote log",
			},
			[]string{"repository"},
		),
		commitFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commit_failures_total",
				Help:      "Total number of failed commit mirror attempts by reason",
			},
			[]string{"repository", "reason"},
		),
		appendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "append_duration_seconds",
				Help:      "Latency of successful remote log appends in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		watched: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "repositories_watched",
				Help:      "Number of repositories currently tracked",
			},
		),
		lifecycleEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_events_total",
				Help:      "Total number of repository lifecycle events by kind",
			},
			[]string{"kind"},
		),
		resyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resyncs_total",
				Help:      "Total number of resync requests by trigger",
			},
			[]string{"trigger"},
		),
	}

	registry.MustRegister(
		c.commitsLogged,
		c.commitFailures,
		c.appendDuration,
		c.watched,
		c.lifecycleEvents,
		c.resyncs,
	)
	return c
}

func (c *Collector) active() bool {
	return c != nil && c.enabled
}

// CommitLogged records a successful append that took d.
func (c *Collector) CommitLogged(repo string, d time.Duration) {
	if !c.active() {
		return
	}
	c.commitsLogged.WithLabelValues(repo).Inc()
	c.appendDuration.Observe(d.Seconds())
}

// CommitFailed records a failed attempt. reason is a short lowercase class
// such as "network" or "not found".
func (c *Collector) CommitFailed(repo, reason string) {
	if !c.active() {
		return
	}
	c.commitFailures.WithLabelValues(repo, reason).Inc()
}

// SetWatched sets the number of tracked repositories.
func (c *Collector) SetWatched(n int) {
	if !c.active() {
		return
	}
	c.watched.Set(float64(n))
}

// LifecycleEvent counts an opened, closed or changed notification.
func (c *Collector) LifecycleEvent(kind string) {
	if !c.active() {
		return
	}
	c.lifecycleEvents.WithLabelValues(kind).Inc()
}

// Resync counts a resync request from trigger ("signal", "http", "schedule", "cli").
func (c *Collector) Resync(trigger string) {
	if !c.active() {
		return
	}
	c.resyncs.WithLabelValues(trigger).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
