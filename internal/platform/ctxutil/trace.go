package ctxutil

import "context"

type requestMetaKey struct{}

// RequestMeta identifies an API request across logs and traces.
type RequestMeta struct {
	RequestID string
	TraceID   string
	AgentID   string
}

func WithRequestMeta(ctx context.Context, m *RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, m)
}

// RequestMetaFrom returns nil when ctx carries no request metadata.
func RequestMetaFrom(ctx context.Context) *RequestMeta {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(requestMetaKey{}).(*RequestMeta)
	return m
}

// LogFields returns the set ids as logger key/value pairs.
func (m *RequestMeta) LogFields() []interface{} {
	if m == nil {
		return nil
	}
	var kv []interface{}
	if m.RequestID != "" {
		kv = append(kv, "request_id", m.RequestID)
	}
	if m.TraceID != "" {
		kv = append(kv, "trace_id", m.TraceID)
	}
	if m.AgentID != "" {
		kv = append(kv, "agent_id", m.AgentID)
	}
	return kv
}
