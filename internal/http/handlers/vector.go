package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/botforge-backend/internal/http/response"
	"github.com/yungbote/botforge-backend/internal/platform/apierr"
	"github.com/yungbote/botforge-backend/internal/services"
)

type VectorHandler struct {
	search services.SearchService
}

func NewVectorHandler(search services.SearchService) *VectorHandler {
	return &VectorHandler{search: search}
}

type queryVectorsRequest struct {
	Text     string    `json:"text"`
	Vector   []float32 `json:"vector"`
	TopK     int       `json:"topK"`
	SourceID string    `json:"sourceId"`
}

// POST /api/agents/:agentId/vectors/query
func (h *VectorHandler) Query(c *gin.Context) {
	agentID, err := uuidParam(c, "agentId")
	if err != nil {
		response.RespondAPIError(c, "invalid_agent_id", err)
		return
	}
	var req queryVectorsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	var sourceID uuid.UUID
	if strings.TrimSpace(req.SourceID) != "" {
		sourceID, err = uuid.Parse(req.SourceID)
		if err != nil {
			response.RespondAPIError(c, "invalid_source_id", apierr.Invalid("invalid_source_id", "sourceId must be a UUID"))
			return
		}
	}
	out, err := h.search.QueryVectors(c.Request.Context(), agentID, services.VectorQueryInput{
		Text:     req.Text,
		Vector:   req.Vector,
		TopK:     req.TopK,
		SourceID: sourceID,
	})
	if err != nil {
		response.RespondAPIError(c, "vector_query_failed", err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/agents/:agentId/vectors?ids=a,b&includeValues=true
func (h *VectorHandler) Fetch(c *gin.Context) {
	agentID, err := uuidParam(c, "agentId")
	if err != nil {
		response.RespondAPIError(c, "invalid_agent_id", err)
		return
	}
	var ids []string
	for _, raw := range c.QueryArray("ids") {
		ids = append(ids, strings.Split(raw, ",")...)
	}
	out, err := h.search.FetchVectors(c.Request.Context(), agentID, ids, c.Query("includeValues") == "true")
	if err != nil {
		response.RespondAPIError(c, "vector_fetch_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"vectors": out})
}
