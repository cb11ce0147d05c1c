package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveAPI("GET", "/api/jobs/:jobId", "200", 30*time.Millisecond)
	m.ObserveJob("process_text", "completed", 2*time.Second)
	m.ObserveJob("process_text", "completed", 3*time.Second)
	m.ObservePurge(4, 1)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE botforge_api_requests_total counter",
		`botforge_api_requests_total{method="GET",route="/api/jobs/:jobId",status="200"} 1`,
		`botforge_jobs_total{type="process_text",outcome="completed"} 2`,
		`botforge_job_duration_seconds_bucket{type="process_text",outcome="completed",le="2"} 1`,
		`botforge_job_duration_seconds_bucket{type="process_text",outcome="completed",le="+Inf"} 2`,
		`botforge_job_duration_seconds_sum{type="process_text",outcome="completed"} 5`,
		`botforge_queue_purged_total{action="deleted"} 4`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if got := m.JobCount("process_text", "completed"); got != 2 {
		t.Fatalf("JobCount: expected 2 got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/", "200", time.Millisecond)
	m.ObserveJob("x", "failed", time.Second)
	m.APIInflight(1)
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("nil WritePrometheus: %v", err)
	}
	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestLabelEscaping(t *testing.T) {
	got := labelString([]string{"route", "status"}, []string{`a"b\c`})
	if got != `{route="a\"b\\c",status="unknown"}` {
		t.Fatalf("unexpected labels %s", got)
	}
	if withLe("", "1") != `{le="1"}` {
		t.Fatalf("withLe empty")
	}
}

func TestOtelHeaders(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-api-key=abc, broken ,=nokey,x-team=ingest")
	h := OtelConfigFromEnv("", "", "").Headers
	if len(h) != 2 || h["x-api-key"] != "abc" || h["x-team"] != "ingest" {
		t.Fatalf("unexpected headers %v", h)
	}
	t.Setenv("OTEL_SAMPLER_RATIO", "7")
	if r := OtelConfigFromEnv("", "", "").SampleRatio; r != 1 {
		t.Fatalf("ratio clamp: got %v", r)
	}
}
