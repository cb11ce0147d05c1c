package middleware

import (
	"crypto/rand"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/botforge-backend/internal/platform/ctxutil"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
	maxRequestIDLen = 128
)

func newRequestID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// AttachRequestMeta stores a ctxutil.RequestMeta on the request: the caller's
// X-Request-Id (or a fresh ULID), the active trace id and the :agentId path param.
func AttachRequestMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if reqID == "" || len(reqID) > maxRequestIDLen {
			reqID = newRequestID()
		}
		meta := &ctxutil.RequestMeta{
			RequestID: reqID,
			AgentID:   c.Param("agentId"),
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			meta.TraceID = sc.TraceID().String()
		} else {
			meta.TraceID = strings.TrimSpace(c.GetHeader(headerTraceID))
		}

		c.Request = c.Request.WithContext(ctxutil.WithRequestMeta(c.Request.Context(), meta))
		c.Writer.Header().Set(headerRequestID, reqID)
		if meta.TraceID != "" {
			c.Writer.Header().Set(headerTraceID, meta.TraceID)
		}
		c.Next()
	}
}
