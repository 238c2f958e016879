package monitoring

import (
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "issuetriage"

// DefaultLatencyBuckets 请求耗时直方图的默认分桶（秒）
var DefaultLatencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// MetricsCollector 持有独立的 Prometheus 注册表和进程启动时间
type MetricsCollector struct {
	registry  *prometheus.Registry
	startTime time.Time
}

// NewMetricsCollector 创建指标收集器，自带 Go 运行时、进程和运行时长指标
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}
	mc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the service started.",
		}, func() float64 { return mc.GetUptime().Seconds() }),
	)
	return mc
}

// Registry 返回注册表，业务指标注册到这里
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// Handler 以 Prometheus 文本格式导出全部指标
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

// GetSystemStats 获取系统统计
func (mc *MetricsCollector) GetSystemStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"uptime":     mc.GetUptime().Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"heap_alloc": m.HeapAlloc,
			"heap_sys":   m.HeapSys,
			"gc_count":   m.NumGC,
		},
		"num_cpu": runtime.NumCPU(),
	}
}

// ClassifierMetrics 分类服务的业务指标。
// Prometheus 指标供 /metrics 抓取，计数快照供 /stats 返回
type ClassifierMetrics struct {
	collector *MetricsCollector

	classifications *prometheus.CounterVec
	cacheHits       prometheus.Counter
	confidence      prometheus.Histogram
	duration        prometheus.Histogram
	httpErrors      *prometheus.CounterVec
	reloadAttempts  *prometheus.CounterVec
	modelLoaded     prometheus.Gauge

	mu             sync.RWMutex
	classified     int64
	hits           int64
	byCategory     map[string]int64
	errors         map[int]int64
	reloads        int64
	reloadFailures int64
	lastReload     time.Time
}

// ClassifierStats /stats 接口返回的计数
type ClassifierStats struct {
	Classified     int64            `json:"classified"`
	CacheHits      int64            `json:"cache_hits"`
	ByCategory     map[string]int64 `json:"by_category"`
	Errors         map[string]int64 `json:"errors"`
	Reloads        int64            `json:"reloads"`
	ReloadFailures int64            `json:"reload_failures"`
	LastReload     *time.Time       `json:"last_reload,omitempty"`
	Uptime         string           `json:"uptime"`
}

// NewClassifierMetrics 创建业务指标并注册到 collector；collector 为 nil 时新建一个。
// 同一个 collector 只能注册一组业务指标
func NewClassifierMetrics(collector *MetricsCollector) *ClassifierMetrics {
	if collector == nil {
		collector = NewMetricsCollector()
	}
	cm := &ClassifierMetrics{
		collector: collector,
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classifications served, by category.",
		}, []string{"category"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Classifications answered from the prediction cache.",
		}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence",
			Help:      "Confidence of served classifications.",
			Buckets:   []float64{0.25, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_duration_seconds",
			Help:      "Time spent classifying one text.",
			Buckets:   DefaultLatencyBuckets,
		}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Error responses, by endpoint and status.",
		}, []string{"endpoint", "status"}),
		reloadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_reloads_total",
			Help:      "Model reload attempts, by result.",
		}, []string{"result"}),
		modelLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded",
			Help:      "Whether a model is loaded.",
		}),
		byCategory: make(map[string]int64),
		errors:     make(map[int]int64),
	}
	collector.Registry().MustRegister(
		cm.classifications,
		cm.cacheHits,
		cm.confidence,
		cm.duration,
		cm.httpErrors,
		cm.reloadAttempts,
		cm.modelLoaded,
	)
	return cm
}

func (cm *ClassifierMetrics) Collector() *MetricsCollector {
	return cm.collector
}

// RecordClassification 记录一次成功分类
func (cm *ClassifierMetrics) RecordClassification(category string, confidence float64, cached bool, elapsed time.Duration) {
	cm.mu.Lock()
	cm.classified++
	cm.byCategory[category]++
	if cached {
		cm.hits++
	}
	cm.mu.Unlock()

	cm.classifications.WithLabelValues(category).Inc()
	if cached {
		cm.cacheHits.Inc()
	}
	cm.confidence.Observe(confidence)
	cm.duration.Observe(elapsed.Seconds())
}

// RecordError 记录接口错误
func (cm *ClassifierMetrics) RecordError(endpoint string, status int) {
	cm.mu.Lock()
	cm.errors[status]++
	cm.mu.Unlock()

	cm.httpErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// RecordReload 记录一次模型重载结果
func (cm *ClassifierMetrics) RecordReload(err error) {
	cm.mu.Lock()
	if err != nil {
		cm.reloadFailures++
	} else {
		cm.reloads++
		cm.lastReload = time.Now()
	}
	cm.mu.Unlock()

	result := "success"
	if err != nil {
		result = "failure"
	}
	cm.reloadAttempts.WithLabelValues(result).Inc()
}

// SetModelLoaded 更新模型加载状态仪表
func (cm *ClassifierMetrics) SetModelLoaded(loaded bool) {
	if loaded {
		cm.modelLoaded.Set(1)
		return
	}
	cm.modelLoaded.Set(0)
}

// Stats 获取业务统计
func (cm *ClassifierMetrics) Stats() ClassifierStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ClassifierStats{
		Classified:     cm.classified,
		CacheHits:      cm.hits,
		ByCategory:     make(map[string]int64, len(cm.byCategory)),
		Errors:         make(map[string]int64, len(cm.errors)),
		Reloads:        cm.reloads,
		ReloadFailures: cm.reloadFailures,
		Uptime:         cm.collector.GetUptime().Round(time.Second).String(),
	}
	for category, n := range cm.byCategory {
		stats.ByCategory[category] = n
	}
	for status, n := range cm.errors {
		stats.Errors[strconv.Itoa(status)] = n
	}
	if !cm.lastReload.IsZero() {
		last := cm.lastReload
		stats.LastReload = &last
	}
	return stats
}
