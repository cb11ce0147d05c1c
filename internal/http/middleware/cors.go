package middleware

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/botforge-backend/internal/platform/envutil"
)

var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// CORS allows the local dev origins plus any listed in CORS_ALLOWED_ORIGINS
// (comma separated).
func CORS() gin.HandlerFunc {
	origins := append([]string{}, defaultOrigins...)
	for _, o := range strings.Split(envutil.String("CORS_ALLOWED_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); strings.HasPrefix(o, "http://") || strings.HasPrefix(o, "https://") {
			origins = append(origins, o)
		}
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", headerRequestID},
		ExposeHeaders:    []string{headerRequestID, headerTraceID},
		AllowCredentials: true,
	})
}
