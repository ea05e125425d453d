// Package metrics holds the prometheus collectors the sync pipeline
// updates. A private registry keeps tests isolated from the default
// global one.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sync run results recorded on the runs counter.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Sync modes recorded on the runs counter.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Metrics bundles every collector the daemon exposes at /metrics.
type Metrics struct {
	SyncRuns           *prometheus.CounterVec
	MessagesMerged     prometheus.Counter
	SyncDuration       prometheus.Histogram
	CacheMessages      prometheus.Gauge
	CacheConversations prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "miloview",
			Name:      "sync_runs_total",
			Help:      "Sync attempts by mode and result.",
		}, []string{"mode", "result"}),
		MessagesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "miloview",
			Name:      "messages_merged_total",
			Help:      "Messages added to the cache by syncs.",
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "miloview",
			Name:      "sync_duration_seconds",
			Help:      "Wall-clock duration of sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		CacheMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "miloview",
			Name:      "cache_messages",
			Help:      "Messages currently held in the cache.",
		}),
		CacheConversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "miloview",
			Name:      "cache_conversations",
			Help:      "Conversation aggregates currently held in the cache.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.SyncRuns,
		m.MessagesMerged,
		m.SyncDuration,
		m.CacheMessages,
		m.CacheConversations,
	)
	return m
}

// Registry returns the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
