package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/botforge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/botforge-backend/internal/http/middleware"
	"github.com/yungbote/botforge-backend/internal/observability"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string

	SourceHandler   *httpH.SourceHandler
	JobHandler      *httpH.JobHandler
	FileHandler     *httpH.FileHandler
	VectorHandler   *httpH.VectorHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachRequestMeta())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	{
		if cfg.HealthHandler != nil {
			api.GET("/queue/health", cfg.HealthHandler.QueueHealth)
		}

		// Sources
		if cfg.SourceHandler != nil {
			agents := api.Group("/agents/:agentId")
			agents.POST("/sources/text", cfg.SourceHandler.CreateText)
			agents.POST("/sources/website", cfg.SourceHandler.CreateWebsite)
			agents.POST("/sources/file", cfg.SourceHandler.CreateFile)
			agents.GET("/sources", cfg.SourceHandler.List)
			agents.GET("/sources/:sourceId", cfg.SourceHandler.Get)
			agents.DELETE("/sources/:sourceId", cfg.SourceHandler.Delete)
			agents.POST("/sources/:sourceId/reprocess", cfg.SourceHandler.Reprocess)
			agents.GET("/sources/:sourceId/jobs", cfg.SourceHandler.ListJobs)
			if cfg.JobHandler != nil {
				agents.GET("/jobs", cfg.JobHandler.ListForAgent)
			}
		}

		// Vectors
		if cfg.VectorHandler != nil {
			api.POST("/agents/:agentId/vectors/query", cfg.VectorHandler.Query)
			api.GET("/agents/:agentId/vectors", cfg.VectorHandler.Fetch)
		}

		// Jobs
		if cfg.JobHandler != nil {
			api.GET("/jobs/:jobId", cfg.JobHandler.GetJob)
			api.POST("/jobs/:jobId/retry", cfg.JobHandler.RetryJob)
			api.DELETE("/jobs/:jobId", cfg.JobHandler.CancelJob)
		}

		// Files
		if cfg.FileHandler != nil {
			api.GET("/files/presigned-upload", cfg.FileHandler.PresignedUpload)
			api.GET("/files/presigned-download", cfg.FileHandler.PresignedDownload)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			api.GET("/realtime/stream", cfg.RealtimeHandler.SSEStream)
		}
	}

	return r
}
