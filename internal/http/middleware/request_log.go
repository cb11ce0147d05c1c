package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/botforge-backend/internal/platform/ctxutil"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

// quietRoutes are polled by probes and scrapers; successful hits log at debug.
var quietRoutes = map[string]bool{
	"/healthcheck":      true,
	"/metrics":          true,
	"/api/queue/health": true,
}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	log = log.With("component", "HTTP")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"bytes", c.Writer.Size(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		fields = append(fields, ctxutil.RequestMetaFrom(c.Request.Context()).LogFields()...)
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			fields = append(fields, "error", errs.String())
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		case quietRoutes[route]:
			log.Debug("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
