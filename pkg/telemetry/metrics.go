package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the worker executor.
// A nil *Metrics or one built from a disabled config accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Storage metrics
	storageCalls    *prometheus.CounterVec
	storageDuration *prometheus.HistogramVec

	// Oplog metrics
	oplogEntries     *prometheus.CounterVec
	oplogCommits     prometheus.Counter
	oplogCommitSize  prometheus.Histogram
	oplogPayloads    *prometheus.CounterVec
	oplogPayloadSize *prometheus.HistogramVec
	openOplogs       prometheus.Gauge

	// Replay metrics
	replayedEntries prometheus.Counter
	replayJumps     prometheus.Counter
	liveTransitions prometheus.Counter
	suppressedLogs  prometheus.Counter

	// Component cache metrics
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions *prometheus.CounterVec
	cacheSize      prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		storageCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "calls_total",
				Help:      "Total number of storage calls",
			},
			[]string{"svc", "api", "op", "status"},
		),
		storageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "call_duration_seconds",
				Help:      "Duration of storage calls in seconds",
				Buckets:   buckets,
			},
			[]string{"svc", "api", "op"},
		),

		oplogEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oplog",
				Name:      "entries_appended_total",
				Help:      "Total number of oplog entries appended, by entry kind",
			},
			[]string{"kind"},
		),
		oplogCommits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oplog",
				Name:      "commits_total",
				Help:      "Total number of oplog buffer commits",
			},
		),
		oplogCommitSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "oplog",
				Name:      "commit_entries",
				Help:      "Number of entries written per commit",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		oplogPayloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oplog",
				Name:      "payloads_total",
				Help:      "Total number of payloads stored, by location",
			},
			[]string{"location"},
		),
		oplogPayloadSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "oplog",
				Name:      "payload_bytes",
				Help:      "Size of stored payloads in bytes",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
			},
			[]string{"location"},
		),
		openOplogs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oplog",
				Name:      "open",
				Help:      "Current number of open oplog handles",
			},
		),

		replayedEntries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replay",
				Name:      "entries_total",
				Help:      "Total number of oplog entries consumed during replay",
			},
		),
		replayJumps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replay",
				Name:      "deleted_region_skips_total",
				Help:      "Total number of deleted regions skipped during replay",
			},
		),
		liveTransitions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replay",
				Name:      "live_transitions_total",
				Help:      "Total number of replay to live transitions",
			},
		),
		suppressedLogs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replay",
				Name:      "suppressed_logs_total",
				Help:      "Total number of log emissions suppressed as already seen",
			},
		),

		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "component_cache",
				Name:      "hits_total",
				Help:      "Total number of compiled component cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "component_cache",
				Name:      "misses_total",
				Help:      "Total number of compiled component cache misses",
			},
		),
		cacheEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "component_cache",
				Name:      "evictions_total",
				Help:      "Total number of compiled component cache evictions",
			},
			[]string{"reason"},
		),
		cacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "component_cache",
				Name:      "entries",
				Help:      "Current number of cached compiled components",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.storageCalls,
		m.storageDuration,
		m.oplogEntries,
		m.oplogCommits,
		m.oplogCommitSize,
		m.oplogPayloads,
		m.oplogPayloadSize,
		m.openOplogs,
		m.replayedEntries,
		m.replayJumps,
		m.liveTransitions,
		m.suppressedLogs,
		m.cacheHits,
		m.cacheMisses,
		m.cacheEvictions,
		m.cacheSize,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

func (m *Metrics) disabled() bool {
	return m == nil || m.registry == nil
}

// Storage Metrics

// RecordStorageCall records one call against an indexed or blob storage backend.
func (m *Metrics) RecordStorageCall(svc, api, op string, duration time.Duration, err error) {
	if m.disabled() {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.storageCalls.WithLabelValues(svc, api, op, status).Inc()
	m.storageDuration.WithLabelValues(svc, api, op).Observe(duration.Seconds())
}

// Oplog Metrics

// RecordOplogAppend counts an appended entry of the given kind.
func (m *Metrics) RecordOplogAppend(kind string) {
	if m.disabled() {
		return
	}
	m.oplogEntries.WithLabelValues(kind).Inc()
}

// RecordOplogCommit records a commit that flushed the given number of entries.
func (m *Metrics) RecordOplogCommit(entries int) {
	if m.disabled() {
		return
	}
	m.oplogCommits.Inc()
	m.oplogCommitSize.Observe(float64(entries))
}

// RecordPayload records a stored payload.
func (m *Metrics) RecordPayload(external bool, size int) {
	if m.disabled() {
		return
	}
	location := "inline"
	if external {
		location = "external"
	}
	m.oplogPayloads.WithLabelValues(location).Inc()
	m.oplogPayloadSize.WithLabelValues(location).Observe(float64(size))
}

// OplogOpened increments the open oplog gauge.
func (m *Metrics) OplogOpened() {
	if m.disabled() {
		return
	}
	m.openOplogs.Inc()
}

// OplogClosed decrements the open oplog gauge.
func (m *Metrics) OplogClosed() {
	if m.disabled() {
		return
	}
	m.openOplogs.Dec()
}

// Replay Metrics

// RecordReplayedEntry counts an entry consumed in replay mode.
func (m *Metrics) RecordReplayedEntry() {
	if m.disabled() {
		return
	}
	m.replayedEntries.Inc()
}

// RecordReplayJump counts a deleted region skipped by the replay cursor.
func (m *Metrics) RecordReplayJump() {
	if m.disabled() {
		return
	}
	m.replayJumps.Inc()
}

// RecordSwitchToLive counts a replay to live transition.
func (m *Metrics) RecordSwitchToLive() {
	if m.disabled() {
		return
	}
	m.liveTransitions.Inc()
}

// RecordSuppressedLog counts a log emission that was dropped because replay already saw it.
func (m *Metrics) RecordSuppressedLog() {
	if m.disabled() {
		return
	}
	m.suppressedLogs.Inc()
}

// Component Cache Metrics

// RecordCacheHit counts a component cache hit.
func (m *Metrics) RecordCacheHit() {
	if m.disabled() {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss counts a component cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m.disabled() {
		return
	}
	m.cacheMisses.Inc()
}

// RecordCacheEviction counts an eviction. Reason is "capacity", "idle" or "invalidated".
func (m *Metrics) RecordCacheEviction(reason string) {
	if m.disabled() {
		return
	}
	m.cacheEvictions.WithLabelValues(reason).Inc()
}

// SetCacheSize sets the current number of cached components.
func (m *Metrics) SetCacheSize(n int) {
	if m.disabled() {
		return
	}
	m.cacheSize.Set(float64(n))
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.disabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.disabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
