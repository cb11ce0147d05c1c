package handlers

import (
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/botforge-backend/internal/http/response"
	"github.com/yungbote/botforge-backend/internal/platform/apierr"
	"github.com/yungbote/botforge-backend/internal/platform/dbctx"
	"github.com/yungbote/botforge-backend/internal/services"
)

type SourceHandler struct {
	ingestion services.IngestionService
}

func NewSourceHandler(ingestion services.IngestionService) *SourceHandler {
	return &SourceHandler{ingestion: ingestion}
}

type createTextRequest struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	Priority int    `json:"priority"`
}

type createWebsiteRequest struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	CrawlSubpages bool   `json:"crawlSubpages"`
	MaxPages      int    `json:"maxPages"`
	Priority      int    `json:"priority"`
}

// POST /api/agents/:agentId/sources/text
func (h *SourceHandler) CreateText(c *gin.Context) {
	agentID, err := uuidParam(c, "agentId")
	if err != nil {
		response.RespondAPIError(c, "invalid_agent_id", err)
		return
	}
	var req createTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	out, err := h.ingestion.CreateTextSource(dbctx.With(c.Request.Context()), agentID, services.CreateTextInput{
		Name:     req.Name,
		Content:  req.Content,
		Priority: req.Priority,
	})
	if err != nil {
		response.RespondAPIError(c, "create_source_failed", err)
		return
	}
	response.RespondCreated(c, out)
}

// POST /api/agents/:agentId/sources/website
func (h *SourceHandler) CreateWebsite(c *gin.Context) {
	agentID, err := uuidParam(c, "agentId")
	if err != nil {
		response.RespondAPIError(c, "invalid_agent_id", err)
		return
	}
	var req createWebsiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	out, err := h.ingestion.CreateWebsiteSource(dbctx.With(c.Request.Context()), agentID, services.CreateWebsiteInput{
		Name:          req.Name,
		URL:           req.URL,
		CrawlSubpages: req.CrawlSubpages,
		MaxPages:      req.MaxPages,
		Priority:      req.Priority,
	})
	if err != nil {
		response.RespondAPIError(c, "create_source_failed", err)
		return
	}
	response.RespondCreated(c, out)
}

// POST /api/agents/:agentId/sources/file (multipart field "file")
func (h *SourceHandler) CreateFile(c *gin.Context) {
	agentID, err := uuidParam(c, "agentId")
	if err != nil {
		response.RespondAPIError(c, "invalid_agent_id", err)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, services.MaxUploadBytes+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	if fh.Size > services.MaxUploadBytes {
		response.RespondAPIError(c, "file_too_large", apierr.Invalid("file_too_large", "file exceeds %d bytes", services.MaxUploadBytes))
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_file", err)
		return
	}
	defer f.Close()

	name := c.PostForm("name")
	if name == "" {
		name = fh.Filename
	}
	out, err := h.ingestion.CreateFileSource(dbctx.With(c.Request.Context()), agentID, services.CreateFileInput{
		Name:     name,
		MimeType: contentType(fh),
		Size:     fh.Size,
		Body:     f,
	})
	if err != nil {
		response.RespondAPIError(c, "create_source_failed", err)
		return
	}
	response.RespondCreated(c, out)
}

func contentType(fh *multipart.FileHeader) string {
	if fh == nil {
		return ""
	}
	return fh.Header.Get("Content-Type")
}

// GET /api/agents/:agentId/sources
func (h *SourceHandler) List(c *gin.Context) {
	agentID, err := uuidParam(c, "agentId")
	if err != nil {
		response.RespondAPIError(c, "invalid_agent_id", err)
		return
	}
	list, err := h.ingestion.ListSources(dbctx.With(c.Request.Context()), agentID, intQuery(c, "limit", 50, 200), intQuery(c, "offset", 0, 0))
	if err != nil {
		response.RespondAPIError(c, "list_sources_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"sources": list})
}

// GET /api/agents/:agentId/sources/:sourceId
func (h *SourceHandler) Get(c *gin.Context) {
	agentID, err := uuidParam(c, "agentId")
	if err != nil {
		response.RespondAPIError(c, "invalid_agent_id", err)
		return
	}
	sourceID, err := uuidParam(c, "sourceId")
	if err != nil {
		response.RespondAPIError(c, "invalid_source_id", err)
		return
	}
	ds, err := h.ingestion.GetSource(dbctx.With(c.Request.Context()), agentID, sourceID)
	if err != nil {
		response.RespondAPIError(c, "get_source_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"source": ds})
}

// DELETE /api/agents/:agentId/sources/:sourceId
func (h *SourceHandler) Delete(c *gin.Context) {
	agentID, err := uuidParam(c, "agentId")
	if err != nil {
		response.RespondAPIError(c, "invalid_agent_id", err)
		return
	}
	sourceID, err := uuidParam(c, "sourceId")
	if err != nil {
		response.RespondAPIError(c, "invalid_source_id", err)
		return
	}
	if err := h.ingestion.DeleteSource(dbctx.With(c.Request.Context()), agentID, sourceID); err != nil {
		response.RespondAPIError(c, "delete_source_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": true, "sourceId": sourceID})
}

// POST /api/agents/:agentId/sources/:sourceId/reprocess
func (h *SourceHandler) Reprocess(c *gin.Context) {
	agentID, err := uuidParam(c, "agentId")
	if err != nil {
		response.RespondAPIError(c, "invalid_agent_id", err)
		return
	}
	sourceID, err := uuidParam(c, "sourceId")
	if err != nil {
		response.RespondAPIError(c, "invalid_source_id", err)
		return
	}
	job, err := h.ingestion.ReprocessSource(dbctx.With(c.Request.Context()), agentID, sourceID)
	if err != nil {
		response.RespondAPIError(c, "reprocess_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

// GET /api/agents/:agentId/sources/:sourceId/jobs
func (h *SourceHandler) ListJobs(c *gin.Context) {
	agentID, err := uuidParam(c, "agentId")
	if err != nil {
		response.RespondAPIError(c, "invalid_agent_id", err)
		return
	}
	sourceID, err := uuidParam(c, "sourceId")
	if err != nil {
		response.RespondAPIError(c, "invalid_source_id", err)
		return
	}
	jobs, err := h.ingestion.ListJobsForSource(dbctx.With(c.Request.Context()), agentID, sourceID)
	if err != nil {
		response.RespondAPIError(c, "list_jobs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}
