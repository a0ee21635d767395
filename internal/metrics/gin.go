package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 未匹配路由统一记为该值，避免扫描请求撑爆标签基数。
const unmatchedRoute = "unmatched"

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "按路由与状态码统计的请求数。",
		},
		[]string{"method", "route", "code"},
	)

	httpLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "请求耗时（秒）。",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "正在处理的请求数。",
		},
	)
)

var skipRoutes = map[string]struct{}{
	"/metrics": {},
	"/health":  {},
}

// GinMiddleware 记录请求数、耗时与并发量，/metrics 与 /health 不计入。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if _, skip := skipRoutes[route]; skip {
			c.Next()
			return
		}
		if route == "" {
			route = unmatchedRoute
		}

		httpInFlight.Inc()
		start := time.Now()
		c.Next()
		httpInFlight.Dec()

		method := c.Request.Method
		httpLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
