package ctxutil

import (
	"context"
	"testing"
)

func TestRequestMetaRoundTrip(t *testing.T) {
	if RequestMetaFrom(context.Background()) != nil {
		t.Fatalf("expected nil meta on bare context")
	}
	if got := (*RequestMeta)(nil).LogFields(); got != nil {
		t.Fatalf("nil meta: expected no fields got %v", got)
	}

	ctx := WithRequestMeta(context.Background(), &RequestMeta{RequestID: "r1", AgentID: "a1"})
	m := RequestMetaFrom(ctx)
	if m == nil || m.RequestID != "r1" {
		t.Fatalf("expected request id r1 got %+v", m)
	}
	fields := m.LogFields()
	if len(fields) != 4 || fields[0] != "request_id" || fields[2] != "agent_id" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
