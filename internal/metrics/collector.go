// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有 Record 方法对 nil 接收者安全，
// 组件可以在未配置指标时直接持有 nil。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 流水线指标
	envelopesSubmitted *prometheus.CounterVec
	envelopesFinished  *prometheus.CounterVec
	cartridgeOutcomes  *prometheus.CounterVec
	cartridgeDuration  *prometheus.HistogramVec

	// 智能 cartridge 指标
	trustOutcomes *prometheus.CounterVec
	dedupResults  *prometheus.CounterVec
	detections    *prometheus.CounterVec
	notifications *prometheus.CounterVec

	// 网格指标
	meshSends    *prometheus.CounterVec
	meshReceived *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到默认 registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 创建指标收集器并注册到指定 registry
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 流水线指标
	c.envelopesSubmitted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_submitted_total",
			Help:      "Total number of envelopes submitted to the pipeline",
		},
		[]string{"origin"}, // origin: local, remote
	)

	c.envelopesFinished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_finished_total",
			Help:      "Total number of pipeline runs by outcome",
		},
		[]string{"outcome"}, // outcome: completed, dropped
	)

	c.cartridgeOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cartridge_invocations_total",
			Help:      "Total number of cartridge invocations by result",
		},
		[]string{"cartridge", "result"},
	)

	c.cartridgeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cartridge_duration_seconds",
			Help:      "Cartridge invocation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"cartridge"},
	)

	c.trustOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_outcomes_total",
			Help:      "Trust evaluation outcomes",
		},
		[]string{"outcome"},
	)

	c.dedupResults = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_checks_total",
			Help:      "Deduplication index checks by result",
		},
		[]string{"result"}, // result: first, duplicate, error
	)

	c.detections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_detections_total",
			Help:      "Synthetic correlation events emitted by detector",
		},
		[]string{"kind"},
	)

	c.notifications = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_projected_total",
			Help:      "Notification projections by result",
		},
		[]string{"result"}, // result: created, updated, unchanged
	)

	// 网格指标
	c.meshSends = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mesh_sends_total",
			Help:      "Envelopes forwarded to peers by result",
		},
		[]string{"result"},
	)

	c.meshReceived = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mesh_received_total",
			Help:      "Envelopes received from peers by result",
		},
		[]string{"result"}, // result: accepted, rejected, invalid
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔁 流水线指标记录
// =============================================================================

// RecordSubmitted 记录进入流水线的信封
func (c *Collector) RecordSubmitted(remote bool) {
	if c == nil {
		return
	}
	origin := "local"
	if remote {
		origin = "remote"
	}
	c.envelopesSubmitted.WithLabelValues(origin).Inc()
}

// RecordRun 记录一次流水线运行的结果
func (c *Collector) RecordRun(dropped bool) {
	if c == nil {
		return
	}
	outcome := "completed"
	if dropped {
		outcome = "dropped"
	}
	c.envelopesFinished.WithLabelValues(outcome).Inc()
}

// RecordCartridge 记录单个 cartridge 的调用结果与耗时
func (c *Collector) RecordCartridge(cartridge, result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.cartridgeOutcomes.WithLabelValues(cartridge, result).Inc()
	c.cartridgeDuration.WithLabelValues(cartridge).Observe(duration.Seconds())
}

// RecordTrustOutcome 记录信任评估结果
func (c *Collector) RecordTrustOutcome(outcome string) {
	if c == nil {
		return
	}
	c.trustOutcomes.WithLabelValues(outcome).Inc()
}

// RecordDedup 记录去重检查结果
func (c *Collector) RecordDedup(result string) {
	if c == nil {
		return
	}
	c.dedupResults.WithLabelValues(result).Inc()
}

// RecordDetection 记录关联检测触发
func (c *Collector) RecordDetection(kind string) {
	if c == nil {
		return
	}
	c.detections.WithLabelValues(kind).Inc()
}

// RecordNotification 记录通知投影结果
func (c *Collector) RecordNotification(result string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(result).Inc()
}

// =============================================================================
// 🕸️ 网格指标记录
// =============================================================================

// RecordMeshSend 记录一次向对等节点的转发
func (c *Collector) RecordMeshSend(result string) {
	if c == nil {
		return
	}
	c.meshSends.WithLabelValues(result).Inc()
}

// RecordMeshReceived 记录一次来自对等节点的接收
func (c *Collector) RecordMeshReceived(result string) {
	if c == nil {
		return
	}
	c.meshReceived.WithLabelValues(result).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
