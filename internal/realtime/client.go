package realtime

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

// SSEClient is one open event stream. Channels is guarded by the hub's lock.
type SSEClient struct {
	ID          uuid.UUID
	Channels    map[string]bool
	Outbound    chan SSEMessage
	ConnectedAt time.Time
	done        chan struct{}
	Logger      *logger.Logger
}

// ChannelKind classifies a channel name.
type ChannelKind int

const (
	ChannelUnknown ChannelKind = iota
	ChannelJob
	ChannelAgentSources
)

// ParseChannel splits job_{uuid} and agent_{uuid}_sources into their kind and id.
func ParseChannel(name string) (ChannelKind, uuid.UUID) {
	switch {
	case strings.HasPrefix(name, "job_"):
		if id, err := uuid.Parse(strings.TrimPrefix(name, "job_")); err == nil {
			return ChannelJob, id
		}
	case strings.HasPrefix(name, "agent_") && strings.HasSuffix(name, "_sources"):
		if id, err := uuid.Parse(strings.TrimSuffix(strings.TrimPrefix(name, "agent_"), "_sources")); err == nil {
			return ChannelAgentSources, id
		}
	}
	return ChannelUnknown, uuid.Nil
}
