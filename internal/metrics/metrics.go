package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 缓存操作结果标签。
const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultOK       = "ok"
	ResultDegraded = "degraded"
)

// 指标定义：
// - datacore_migrations_applied_total / datacore_migration_failures_total：迁移执行结果
// - datacore_cache_operations_total：缓存操作（按操作与结果）
// - datacore_repository_errors_total：仓储层失败（按实体与类别）
// - http_requests_total / http_request_duration_seconds：运维 HTTP 接口
var (
	MigrationsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datacore_migrations_applied_total", Help: "已成功执行的迁移数",
	})
	MigrationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datacore_migration_failures_total", Help: "失败的迁移数",
	})
	CacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "datacore_cache_operations_total", Help: "缓存操作计数（按操作/结果）"},
		[]string{"op", "result"},
	)
	RepositoryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "datacore_repository_errors_total", Help: "仓储错误计数（按实体/类别）"},
		[]string{"entity", "kind"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP 请求计数（按路径/方法/状态）"},
		[]string{"path", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP 请求耗时（秒）", Buckets: prometheus.DefBuckets},
		[]string{"path", "method"},
	)
)

func init() {
	prometheus.MustRegister(MigrationsApplied, MigrationFailures, CacheOps, RepositoryErrors, HTTPRequests, HTTPLatency)
}

// CacheOp 记录一次缓存操作。
func CacheOp(op, result string) { CacheOps.WithLabelValues(op, result).Inc() }

// Handler 返回记录基础 HTTP 指标的中间件（QPS/耗时）。
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPLatency.WithLabelValues(path, c.Request.Method).Observe(time.Since(start).Seconds())
		HTTPRequests.WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Exposer 返回标准 Prometheus 暴露处理器。
func Exposer() gin.HandlerFunc { return gin.WrapH(promhttp.Handler()) }
