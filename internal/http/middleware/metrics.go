package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/questline-backend/internal/observability"
)

// Metrics instruments HTTP request counts, latency and inflight requests.
func Metrics(service string) gin.HandlerFunc {
	inflight := observability.HTTPInflight.WithLabelValues(service)
	return func(c *gin.Context) {
		start := time.Now()
		inflight.Inc()
		defer inflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		observability.RecordHTTP(service, route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
