package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/botforge-backend/internal/http/response"
	"github.com/yungbote/botforge-backend/internal/platform/dbctx"
	"github.com/yungbote/botforge-backend/internal/services"
)

type JobHandler struct {
	ingestion services.IngestionService
}

func NewJobHandler(ingestion services.IngestionService) *JobHandler {
	return &JobHandler{ingestion: ingestion}
}

// GET /api/jobs/:jobId
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuidParam(c, "jobId")
	if err != nil {
		response.RespondAPIError(c, "invalid_job_id", err)
		return
	}
	job, err := h.ingestion.GetJob(dbctx.With(c.Request.Context()), jobID)
	if err != nil {
		response.RespondAPIError(c, "job_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /api/jobs/:jobId/retry
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID, err := uuidParam(c, "jobId")
	if err != nil {
		response.RespondAPIError(c, "invalid_job_id", err)
		return
	}
	job, err := h.ingestion.RetryJob(dbctx.With(c.Request.Context()), jobID)
	if err != nil {
		response.RespondAPIError(c, "retry_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// DELETE /api/jobs/:jobId
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, err := uuidParam(c, "jobId")
	if err != nil {
		response.RespondAPIError(c, "invalid_job_id", err)
		return
	}
	job, err := h.ingestion.CancelJob(dbctx.With(c.Request.Context()), jobID)
	if err != nil {
		response.RespondAPIError(c, "cancel_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/agents/:agentId/jobs?status=
func (h *JobHandler) ListForAgent(c *gin.Context) {
	agentID, err := uuidParam(c, "agentId")
	if err != nil {
		response.RespondAPIError(c, "invalid_agent_id", err)
		return
	}
	jobs, err := h.ingestion.ListJobsForAgent(dbctx.With(c.Request.Context()), agentID, c.Query("status"), intQuery(c, "limit", 50, 200))
	if err != nil {
		response.RespondAPIError(c, "list_jobs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}
