// Package bus fans realtime messages out across API replicas over Redis pub/sub.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yungbote/botforge-backend/internal/realtime"
)

// Bus carries realtime messages between the worker and every API replica.
type Bus interface {
	realtime.Remote
	// StartForwarder subscribes and delivers every message to onMsg until ctx
	// ends. The first subscription is synchronous; later drops are retried.
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
}

// Envelope is the wire form of a bus message.
type Envelope struct {
	Origin  string              `json:"origin"`
	SentAt  time.Time           `json:"sentAt"`
	Message realtime.SSEMessage `json:"message"`
}

func Encode(origin string, sentAt time.Time, msg realtime.SSEMessage) ([]byte, error) {
	return json.Marshal(Envelope{Origin: origin, SentAt: sentAt, Message: msg})
}

func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, err
	}
	if env.Message.Channel == "" {
		return env, fmt.Errorf("message has no channel")
	}
	return env, nil
}
