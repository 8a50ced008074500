package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// outcomeApplied 与 types.ReloadAttempt.Outcome 的成功值一致
const outcomeApplied = "applied"

var (
	latencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
	sizeBuckets    = prometheus.ExponentialBuckets(128, 4, 8)
)

// Collector 实现 config.Metrics、cache.HitRecorder、audit.QueryRecorder、
// database.StatsRecorder 以及管理面的 HTTPMetrics。
type Collector struct {
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	httpReqSize  *prometheus.HistogramVec
	httpRespSize *prometheus.HistogramVec

	reloads       *prometheus.CounterVec
	reloadLatency *prometheus.HistogramVec
	queueWait     prometheus.Histogram
	generation    prometheus.Gauge
	lastApplied   prometheus.Gauge
	rejections    *prometheus.CounterVec
	listeners     prometheus.Gauge

	mirrorLookups *prometheus.CounterVec

	dbConnections *prometheus.GaugeVec
	dbQueries     *prometheus.HistogramVec
}

// NewCollector 注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith 注册到 reg；同一 reg 上重复调用会 panic
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	f := promauto.With(reg)
	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
	}
	histogram := func(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
	}

	c := &Collector{
		httpRequests: counter("http", "requests_total", "Admin HTTP requests by route and status class.", "method", "route", "status"),
		httpLatency:  histogram("http", "request_duration_seconds", "Admin HTTP request latency.", latencyBuckets, "method", "route"),
		httpReqSize:  histogram("http", "request_size_bytes", "Admin HTTP request body size.", sizeBuckets, "method", "route"),
		httpRespSize: histogram("http", "response_size_bytes", "Admin HTTP response body size.", sizeBuckets, "method", "route"),

		reloads:       counter("config", "reloads_total", "Reload attempts by trigger source and outcome.", "source", "outcome"),
		reloadLatency: histogram("config", "reload_duration_seconds", "Reload pipeline latency, lock wait excluded.", latencyBuckets, "source", "outcome"),
		queueWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "config", Name: "reload_queue_wait_seconds",
			Help:    "Time a reload waited for the reload lock.",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 5, 10, 30},
		}),
		generation:  gauge("config", "generation", "Generation of the active configuration snapshot."),
		lastApplied: gauge("config", "last_applied_timestamp_seconds", "Unix time of the last applied reload."),
		rejections:  counter("config", "admission_rejections_total", "Submissions rejected before parsing.", "reason"),
		listeners:   gauge("", "listeners_active", "Ports with an active data-plane listener."),

		mirrorLookups: counter("mirror", "lookups_total", "Redis mirror reads by result.", "cache_type", "result"),

		dbConnections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "db", Name: "connections",
			Help: "Audit database connections by state.",
		}, []string{"database", "state"}),
		dbQueries: histogram("db", "query_duration_seconds", "Audit journal query latency.", prometheus.DefBuckets, "database", "operation"),
	}

	if logger != nil {
		logger.Debug("metrics registered", zap.String("namespace", namespace))
	}
	return c
}

// =============================================================================
// 🌐 管理面 HTTP
// =============================================================================

func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
	c.httpReqSize.WithLabelValues(method, route).Observe(float64(requestSize))
	c.httpRespSize.WithLabelValues(method, route).Observe(float64(responseSize))
}

// statusClass 2xx/3xx/4xx/5xx，其他值原样输出
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}

// =============================================================================
// 🔄 重载
// =============================================================================

// RecordReload outcome 为 "applied" 或错误码
func (c *Collector) RecordReload(source, outcome string, duration time.Duration) {
	c.reloads.WithLabelValues(source, outcome).Inc()
	c.reloadLatency.WithLabelValues(source, outcome).Observe(duration.Seconds())
	if outcome == outcomeApplied {
		c.lastApplied.SetToCurrentTime()
	}
}

func (c *Collector) RecordQueueWait(wait time.Duration) {
	c.queueWait.Observe(wait.Seconds())
}

func (c *Collector) SetGeneration(generation uint64) {
	c.generation.Set(float64(generation))
}

func (c *Collector) RecordAdmissionRejection(reason string) {
	c.rejections.WithLabelValues(reason).Inc()
}

func (c *Collector) SetListeners(n int) {
	c.listeners.Set(float64(n))
}

// =============================================================================
// 💾 镜像与审计库
// =============================================================================

func (c *Collector) RecordCacheHit(cacheType string) {
	c.mirrorLookups.WithLabelValues(cacheType, "hit").Inc()
}

func (c *Collector) RecordCacheMiss(cacheType string) {
	c.mirrorLookups.WithLabelValues(cacheType, "miss").Inc()
}

func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnections.WithLabelValues(database, "open").Set(float64(open))
	c.dbConnections.WithLabelValues(database, "idle").Set(float64(idle))
}

func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueries.WithLabelValues(database, operation).Observe(duration.Seconds())
}
