package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/botforge-backend/internal/services"
)

type HealthHandler struct {
	ingestion services.IngestionService
}

func NewHealthHandler(ingestion services.IngestionService) *HealthHandler {
	return &HealthHandler{ingestion: ingestion}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// GET /api/queue/health
func (h *HealthHandler) QueueHealth(c *gin.Context) {
	stats := h.ingestion.QueueStats(c.Request.Context())
	status := http.StatusOK
	if !stats.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}
