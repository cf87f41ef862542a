// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/rag"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

var _ rag.Observer = (*Collector)(nil)

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// 检索指标
	retrievalsTotal     *prometheus.CounterVec
	retrievalDuration   *prometheus.HistogramVec
	retrievalCandidates prometheus.Histogram
	embeddingFailures   *prometheus.CounterVec
	groundingWrites     *prometheus.CounterVec
	repairedChunks      *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器；reg 为 nil 时注册到默认 Registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// LLM 指标
	c.llmRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.llmTokensUsed = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	// 检索指标
	c.retrievalsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rag_retrievals_total",
			Help:      "Total number of retrievals by fallback reason",
		},
		[]string{"fallback", "reason"},
	)

	c.retrievalDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rag_retrieval_duration_seconds",
			Help:      "Retrieval duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"fallback"},
	)

	c.retrievalCandidates = f.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rag_retrieval_candidates",
			Help:      "Number of scored chunks per retrieval",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	c.embeddingFailures = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rag_embedding_failures_total",
			Help:      "Total number of embedding call failures",
		},
		[]string{"operation"},
	)

	c.groundingWrites = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rag_grounding_log_writes_total",
			Help:      "Total number of diagnostic log writes",
		},
		[]string{"kind", "status"},
	)

	c.repairedChunks = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rag_repaired_chunks_total",
			Help:      "Total number of chunks processed by embedding repair",
		},
		[]string{"outcome"},
	)

	// 缓存指标
	c.cacheHits = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = f.NewGaugeVec(
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
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 LLM 指标记录
// =============================================================================

// RecordLLMRequest 记录 LLM 请求
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// =============================================================================
// 🔍 检索指标记录（rag.Observer）
// =============================================================================

// ObserveRetrieval 记录一次检索
func (c *Collector) ObserveRetrieval(reason rag.FallbackReason, fallback bool, candidates int, duration time.Duration) {
	fb := boolLabel(fallback)
	r := string(reason)
	if r == "" {
		r = "none"
	}
	c.retrievalsTotal.WithLabelValues(fb, r).Inc()
	c.retrievalDuration.WithLabelValues(fb).Observe(duration.Seconds())
	c.retrievalCandidates.Observe(float64(candidates))
}

// ObserveEmbeddingFailure 记录 embedding 调用失败
func (c *Collector) ObserveEmbeddingFailure(operation string) {
	c.embeddingFailures.WithLabelValues(operation).Inc()
}

// ObserveGroundingWrite 记录诊断日志写入结果
func (c *Collector) ObserveGroundingWrite(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.groundingWrites.WithLabelValues(kind, status).Inc()
}

// RecordRepair 记录修复任务结果
func (c *Collector) RecordRepair(repaired, failed int) {
	c.repairedChunks.WithLabelValues("repaired").Add(float64(repaired))
	c.repairedChunks.WithLabelValues("failed").Add(float64(failed))
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// CacheObserver 返回适配 embedding.WithCacheObserver 的回调
func (c *Collector) CacheObserver(cacheType string) func(hit bool) {
	return func(hit bool) {
		if hit {
			c.RecordCacheHit(cacheType)
		} else {
			c.RecordCacheMiss(cacheType)
		}
	}
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
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

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
