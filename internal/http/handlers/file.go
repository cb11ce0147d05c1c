package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/botforge-backend/internal/http/response"
	"github.com/yungbote/botforge-backend/internal/services"
)

type FileHandler struct {
	ingestion services.IngestionService
}

func NewFileHandler(ingestion services.IngestionService) *FileHandler {
	return &FileHandler{ingestion: ingestion}
}

// GET /api/files/presigned-upload?agentId=&fileName=&contentType=
func (h *FileHandler) PresignedUpload(c *gin.Context) {
	agentID, err := uuidQuery(c, "agentId")
	if err != nil {
		response.RespondAPIError(c, "invalid_agent_id", err)
		return
	}
	out, err := h.ingestion.PresignUpload(c.Request.Context(), agentID, c.Query("fileName"), c.Query("contentType"))
	if err != nil {
		response.RespondAPIError(c, "presign_failed", err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/files/presigned-download?agentId=&key=
func (h *FileHandler) PresignedDownload(c *gin.Context) {
	agentID, err := uuidQuery(c, "agentId")
	if err != nil {
		response.RespondAPIError(c, "invalid_agent_id", err)
		return
	}
	u, err := h.ingestion.PresignDownload(c.Request.Context(), agentID, c.Query("key"))
	if err != nil {
		response.RespondAPIError(c, "presign_failed", err)
		return
	}
	if c.Query("redirect") == "true" {
		c.Redirect(http.StatusFound, u)
		return
	}
	response.RespondOK(c, gin.H{"url": u})
}
