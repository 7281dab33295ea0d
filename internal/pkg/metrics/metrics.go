package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "viral"

// 搜索结局
const (
	OutcomeSuccess    = "success"
	OutcomeEmpty      = "empty"
	OutcomeValidation = "validation"
	OutcomeQuota      = "quota_exceeded"
	OutcomeExternal   = "external_error"
	OutcomePersist    = "persistence_error"
)

// Collector 服务的 Prometheus 指标，使用独立的 registry
type Collector struct {
	registry          *prometheus.Registry
	searchesTotal     *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	lockoutsTotal     *prometheus.CounterVec
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		searchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Search attempts by platform and outcome.",
		}, []string{"platform", "outcome"}),
		retrievalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Latency of calls to the external retrieval service.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}, []string{"platform"}),
		lockoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockouts_total",
			Help:      "Sensitive-action lockouts entered.",
		}, []string{"action"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	for _, col := range []prometheus.Collector{
		c.searchesTotal, c.retrievalDuration, c.lockoutsTotal, c.requestTotal, c.requestDuration,
	} {
		if err := registry.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// RegisterConnections 在线 WebSocket 连接数，抓取时回调 count
func (c *Collector) RegisterConnections(count func() int) error {
	if c == nil {
		return nil
	}
	return c.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "connections",
		Help:      "Open websocket connections on this instance.",
	}, func() float64 { return float64(count()) }))
}

// Handler 暴露 /metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware 记录 gin 请求，path 使用路由模板避免高基数
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(ctx.Writer.Status())

		c.requestTotal.WithLabelValues(ctx.Request.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(ctx.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// nil 接收者安全，未启用指标时直接调用不会出错

func (c *Collector) ObserveSearch(platform, outcome string) {
	if c == nil {
		return
	}
	c.searchesTotal.WithLabelValues(platform, outcome).Inc()
}

func (c *Collector) ObserveRetrieval(platform string, d time.Duration) {
	if c == nil {
		return
	}
	c.retrievalDuration.WithLabelValues(platform).Observe(d.Seconds())
}

func (c *Collector) ObserveLockout(action string) {
	if c == nil {
		return
	}
	c.lockoutsTotal.WithLabelValues(action).Inc()
}
