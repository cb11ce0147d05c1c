package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/botforge-backend/internal/http/response"
	"github.com/yungbote/botforge-backend/internal/platform/apierr"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
	"github.com/yungbote/botforge-backend/internal/realtime"
)

const maxStreamChannels = 20

type RealtimeHandler struct {
	Log *logger.Logger
	Hub *realtime.SSEHub
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{Log: log.With("handler", "RealtimeHandler"), Hub: hub}
}

// GET /api/realtime/stream?channel=job_{id}&channel=agent_{id}_sources
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	channels := c.QueryArray("channel")
	if len(channels) == 0 {
		response.RespondAPIError(c, "missing_channel", apierr.Invalid("missing_channel", "at least one channel is required"))
		return
	}
	if len(channels) > maxStreamChannels {
		response.RespondAPIError(c, "too_many_channels", apierr.Invalid("too_many_channels", "at most %d channels per stream", maxStreamChannels))
		return
	}
	for _, ch := range channels {
		if kind, _ := realtime.ParseChannel(ch); kind == realtime.ChannelUnknown {
			response.RespondAPIError(c, "invalid_channel", apierr.Invalid("invalid_channel", "unknown channel %q", ch))
			return
		}
	}

	client := h.Hub.NewSSEClient()
	for _, ch := range channels {
		h.Hub.AddChannel(client, ch)
	}
	h.Log.Debug("SSE stream open", "client_id", client.ID, "channels", channels)

	h.Hub.ServeHTTP(c.Writer, c.Request, client)

	h.Hub.CloseClient(client)
	h.Log.Debug("SSE stream closed", "client_id", client.ID, "connected_for", time.Since(client.ConnectedAt))
}
