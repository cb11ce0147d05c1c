package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/botforge-backend/internal/observability"
)

// Metrics records per-route API counts and latency. Unmatched paths share one
// label so scanners cannot blow up cardinality, and the scrape endpoint is not
// counted.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "/metrics" {
			c.Next()
			return
		}
		if route == "" {
			route = "unmatched"
		}
		start := time.Now()
		m.APIInflight(1)
		c.Next()
		m.APIInflight(-1)
		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
