package realtime

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func recvMessage(t *testing.T, ch <-chan SSEMessage, timeout time.Duration) SSEMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE message")
	}
	return SSEMessage{}
}

func TestSSEHubReconnectAndOrdering(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	channel := JobChannel(uuid.New())

	clientA := hub.NewSSEClient()
	hub.AddChannel(clientA, channel)

	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventJobStatusUpdate, Data: map[string]any{"seq": 1}})
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventJobStatusUpdate, Data: map[string]any{"seq": 2}})

	gotFirst := recvMessage(t, clientA.Outbound, time.Second)
	gotSecond := recvMessage(t, clientA.Outbound, time.Second)
	if gotFirst.Data.(map[string]any)["seq"] != 1 || gotSecond.Data.(map[string]any)["seq"] != 2 {
		t.Fatalf("messages out of order: %v then %v", gotFirst.Data, gotSecond.Data)
	}

	hub.CloseClient(clientA)
	if _, ok := <-clientA.Outbound; ok {
		t.Fatalf("clientA outbound should be closed after disconnect")
	}
	if n := hub.Subscribers(channel); n != 0 {
		t.Fatalf("expected no subscribers after close, got %d", n)
	}

	clientB := hub.NewSSEClient()
	hub.AddChannel(clientB, channel)
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventJobStatusUpdate, Data: map[string]any{"seq": 3}})
	if got := recvMessage(t, clientB.Outbound, time.Second); got.Event != SSEEventJobStatusUpdate {
		t.Fatalf("reconnect event: want=%s got=%s", SSEEventJobStatusUpdate, got.Event)
	}
}

func TestSSEHubBroadcastDoesNotBlockOnSlowClient(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	client := hub.NewSSEClient()
	hub.AddChannel(client, "c")

	done := make(chan struct{})
	go func() {
		for i := 0; i < outboundBuffer*3; i++ {
			hub.Broadcast(SSEMessage{Channel: "c", Event: SSEEventJobStatusUpdate})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcast blocked on a full client buffer")
	}
	if len(client.Outbound) != outboundBuffer {
		t.Fatalf("expected a full buffer of %d, got %d", outboundBuffer, len(client.Outbound))
	}
}

func TestSSEHubServeHTTPWritesEvents(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	client := hub.NewSSEClient()
	hub.AddChannel(client, "agent_x_sources")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeHTTP(w, r, client)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}

	hub.Broadcast(SSEMessage{Channel: "agent_x_sources", Event: SSEEventSourceStatusUpdate, Data: map[string]any{"status": "completed"}})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			lines = append(lines, line)
			break
		}
		if strings.HasPrefix(line, "event: ") {
			lines = append(lines, line)
		}
	}
	if len(lines) != 2 || lines[0] != "event: source_status_update" || !strings.Contains(lines[1], `"status":"completed"`) {
		t.Fatalf("unexpected stream lines: %v", lines)
	}
}

type fakeRemote struct {
	mu       sync.Mutex
	msgs     []SSEMessage
	err      error
	block    bool
	deadline bool
}

func (f *fakeRemote) Publish(ctx context.Context, msg SSEMessage) error {
	if f.block {
		<-ctx.Done()
		f.mu.Lock()
		_, f.deadline = ctx.Deadline()
		f.mu.Unlock()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return f.err
}

func TestPublisherLocalHub(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	jobID := uuid.New()
	client := hub.NewSSEClient()
	hub.AddChannel(client, "job_"+jobID.String())

	p := NewPublisher(mustTestLogger(t), hub, nil, 0)
	p.PublishJobUpdate(context.Background(), jobID, JobUpdate{Status: "processing", Progress: map[string]any{"step": "chunking_content", "percent": 60}})

	msg := recvMessage(t, client.Outbound, time.Second)
	if msg.Event != SSEEventJobStatusUpdate {
		t.Fatalf("event: %s", msg.Event)
	}
	u := msg.Data.(JobUpdate)
	if u.JobID != jobID.String() || u.Status != "processing" || u.Timestamp.IsZero() {
		t.Fatalf("unexpected update %+v", u)
	}
}

func TestPublisherRemoteIsBoundedAndSwallowsErrors(t *testing.T) {
	remote := &fakeRemote{block: true}
	p := NewPublisher(mustTestLogger(t), nil, remote, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	p.PublishSourceUpdate(ctx, uuid.New(), uuid.New(), SourceUpdate{Status: "failed", ErrorMessage: "job cancelled"})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish exceeded its bound: %v", elapsed)
	}
	if !remote.deadline {
		t.Fatalf("expected publish to run under a deadline")
	}

	failing := &fakeRemote{err: errors.New("redis down")}
	agentID := uuid.New()
	NewPublisher(mustTestLogger(t), nil, failing, 0).PublishSourceUpdate(context.Background(), agentID, uuid.New(), SourceUpdate{Status: "completed"})
	if len(failing.msgs) != 1 || failing.msgs[0].Channel != AgentSourcesChannel(agentID) {
		t.Fatalf("expected one message on the agent channel, got %+v", failing.msgs)
	}
}

func TestParseChannel(t *testing.T) {
	id := uuid.New()
	if kind, got := ParseChannel(JobChannel(id)); kind != ChannelJob || got != id {
		t.Fatalf("job channel: got %v %v", kind, got)
	}
	if kind, got := ParseChannel(AgentSourcesChannel(id)); kind != ChannelAgentSources || got != id {
		t.Fatalf("agent channel: got %v %v", kind, got)
	}
	for _, bad := range []string{"", "job_", "job_nope", "agent_" + id.String(), "everything", "agent__sources"} {
		if kind, _ := ParseChannel(bad); kind != ChannelUnknown {
			t.Fatalf("%q: expected unknown, got %v", bad, kind)
		}
	}
}
