package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/botforge-backend/internal/platform/apierr"
)

func uuidParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, apierr.Invalid("invalid_"+snake(name), "%s must be a UUID", name)
	}
	return id, nil
}

func uuidQuery(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Query(name))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, apierr.Invalid("invalid_"+snake(name), "%s must be a UUID", name)
	}
	return id, nil
}

func intQuery(c *gin.Context, name string, def, max int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

// snake turns "agentId" into "agent_id".
func snake(s string) string {
	out := make([]byte, 0, len(s)+2)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch >= 'A' && ch <= 'Z' {
			out = append(out, '_', ch+'a'-'A')
			continue
		}
		out = append(out, ch)
	}
	return string(out)
}
