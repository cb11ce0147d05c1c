package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobrepo "github.com/yungbote/botforge-backend/internal/data/repos/jobs"
	sourcerepo "github.com/yungbote/botforge-backend/internal/data/repos/sources"
	"github.com/yungbote/botforge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/botforge-backend/internal/domain/jobs"
	"github.com/yungbote/botforge-backend/internal/domain/sources"
	httpH "github.com/yungbote/botforge-backend/internal/http/handlers"
	"github.com/yungbote/botforge-backend/internal/ingestion/embedding"
	"github.com/yungbote/botforge-backend/internal/ingestion/vectorstore"
	"github.com/yungbote/botforge-backend/internal/jobs/queue"
	"github.com/yungbote/botforge-backend/internal/observability"
	"github.com/yungbote/botforge-backend/internal/platform/objectstore"
	"github.com/yungbote/botforge-backend/internal/realtime"
	"github.com/yungbote/botforge-backend/internal/services"
)

type testAPI struct {
	engine   *gin.Engine
	hub      *realtime.SSEHub
	vectors  *vectorstore.Adapter
	embedder embedding.Embedder
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	jobs := jobrepo.NewJobRepo(db, log)
	srcs := sourcerepo.NewDataSourceRepo(db, log)
	q := queue.New(db, log, jobs, queue.Config{}, nil)
	hub := realtime.NewSSEHub(log)
	pub := realtime.NewPublisher(log, hub, nil, 0)
	vectors := vectorstore.NewAdapter(log, vectorstore.NewMemoryStore(), vectorstore.AdapterConfig{})
	svc := services.NewIngestionService(db, log, jobs, srcs, q, objectstore.NewMemoryStore(), vectors, pub)
	embedder := embedding.NewDeterministic(log, 8)

	engine := NewRouter(RouterConfig{
		Log:             log,
		Metrics:         observability.NewMetrics(),
		SourceHandler:   httpH.NewSourceHandler(svc),
		JobHandler:      httpH.NewJobHandler(svc),
		FileHandler:     httpH.NewFileHandler(svc),
		VectorHandler:   httpH.NewVectorHandler(services.NewSearchService(log, embedder, vectors)),
		RealtimeHandler: httpH.NewRealtimeHandler(log, hub),
		HealthHandler:   httpH.NewHealthHandler(svc),
	})
	return &testAPI{engine: engine, hub: hub, vectors: vectors, embedder: embedder}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

type createdSource struct {
	Source sources.DataSource `json:"source"`
	Job    types.Job          `json:"job"`
}

type errorBody struct {
	Error struct {
		Message   string `json:"message"`
		Code      string `json:"code"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/healthcheck", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = api.do(t, http.MethodGet, "/api/queue/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[services.QueueStats](t, rec)
	assert.True(t, stats.Healthy)

	rec = api.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/queue/health"`)
}

func TestTextSourceLifecycle(t *testing.T) {
	api := newTestAPI(t)
	agentID := uuid.New()

	rec := api.do(t, http.MethodPost, "/api/agents/"+agentID.String()+"/sources/text", map[string]any{
		"name":    "FAQ",
		"content": "Refunds take five business days.",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[createdSource](t, rec)
	assert.Equal(t, types.StatusPending, created.Job.Status)

	rec = api.do(t, http.MethodGet, "/api/jobs/"+created.Job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/agents/"+agentID.String()+"/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.Source.ID.String())

	rec = api.do(t, http.MethodGet, "/api/agents/"+agentID.String()+"/jobs?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.Job.ID.String())

	rec = api.do(t, http.MethodPost, "/api/agents/"+agentID.String()+"/sources/"+created.Source.ID.String()+"/reprocess", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/jobs/"+created.Job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)

	rec = api.do(t, http.MethodPost, "/api/jobs/"+created.Job.ID.String()+"/retry", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "job_not_failed", decode[errorBody](t, rec).Error.Code)

	rec = api.do(t, http.MethodDelete, "/api/agents/"+agentID.String()+"/sources/"+created.Source.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodGet, "/api/agents/"+agentID.String()+"/sources/"+created.Source.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidationErrors(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/agents/not-a-uuid/sources/text", map[string]any{"name": "x", "content": "y"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "invalid_agent_id", body.Error.Code)
	assert.Equal(t, rec.Header().Get("X-Request-Id"), body.Error.RequestID)

	rec = api.do(t, http.MethodPost, "/api/agents/"+uuid.NewString()+"/sources/website", map[string]any{"url": "javascript:alert(1)"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_url", decode[errorBody](t, rec).Error.Code)

	rec = api.do(t, http.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/realtime/stream?channel=everything", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFileUploadAndPresign(t *testing.T) {
	api := newTestAPI(t)
	agentID := uuid.New()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "manual.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("Press the red button to reset."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/agents/"+agentID.String()+"/sources/file", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	api.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[createdSource](t, rec)
	assert.Equal(t, types.TypeProcessFile, created.Job.Type)
	assert.NotEmpty(t, created.Source.StorageKey)

	rec = api.do(t, http.MethodGet, "/api/files/presigned-upload?agentId="+agentID.String()+"&fileName=guide.pdf&contentType=application/pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	up := decode[services.PresignedUpload](t, rec)
	assert.NotEmpty(t, up.UploadURL)

	rec = api.do(t, http.MethodGet, "/api/files/presigned-download?agentId="+agentID.String()+"&key="+created.Source.StorageKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"url"`)

	rec = api.do(t, http.MethodGet, "/api/files/presigned-download?agentId="+uuid.NewString()+"&key="+created.Source.StorageKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.do(t, http.MethodGet, "/api/files/presigned-download?key="+created.Source.StorageKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRealtimeStreamDeliversEvents(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.engine)
	defer srv.Close()

	jobID := uuid.New()
	channel := realtime.JobChannel(jobID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/realtime/stream?channel="+channel, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return api.hub.Subscribers(channel) == 1 }, 2*time.Second, 10*time.Millisecond)
	api.hub.Broadcast(realtime.SSEMessage{
		Channel: channel,
		Event:   realtime.SSEEventJobStatusUpdate,
		Data:    realtime.JobUpdate{JobID: jobID.String(), Status: types.StatusProcessing},
	})

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for eventLine == "" || dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: ") && eventLine != "":
			dataLine = strings.TrimPrefix(line, "data: ")
		}
	}
	assert.Equal(t, string(realtime.SSEEventJobStatusUpdate), eventLine)
	assert.Contains(t, dataLine, jobID.String())
	assert.Contains(t, dataLine, `"status":"processing"`)
}

func TestVectorQueryAndFetch(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	agentID, sourceID := uuid.New(), uuid.New()
	ns := vectorstore.Namespace(agentID.String())

	texts := []string{"Refunds are issued within 14 days.", "We ship worldwide from Lisbon."}
	embs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := api.embedder.Embed(ctx, text)
		require.NoError(t, err)
		embs[i] = vec
	}
	vecs, err := vectorstore.ChunkVectors(sourceID.String(), agentID.String(), ns, texts, embs, time.Now())
	require.NoError(t, err)
	_, err = api.vectors.BatchUpsert(ctx, ns, vecs)
	require.NoError(t, err)

	queryPath := "/api/agents/" + agentID.String() + "/vectors/query"
	rec := api.do(t, http.MethodPost, queryPath, map[string]any{"text": texts[1], "topK": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[services.VectorQueryResult](t, rec)
	assert.Equal(t, ns, res.Namespace)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, vectorstore.VectorID(sourceID.String(), 1), res.Matches[0].ID)
	assert.InDelta(t, 1.0, res.Matches[0].Score, 1e-5)
	assert.Equal(t, texts[1], res.Matches[0].Metadata["text"])

	rec = api.do(t, http.MethodPost, queryPath, map[string]any{"vector": embs[0], "sourceId": sourceID.String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decode[services.VectorQueryResult](t, rec)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, vectorstore.VectorID(sourceID.String(), 0), res.Matches[0].ID)

	rec = api.do(t, http.MethodPost, "/api/agents/"+uuid.NewString()+"/vectors/query", map[string]any{"text": texts[1]})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[services.VectorQueryResult](t, rec).Matches)

	rec = api.do(t, http.MethodPost, queryPath, map[string]any{"text": texts[0], "vector": embs[0]})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(t, http.MethodPost, queryPath, map[string]any{"vector": []float32{1, 2}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ids := vecs[0].ID + "," + vecs[1].ID + ",missing"
	rec = api.do(t, http.MethodGet, "/api/agents/"+agentID.String()+"/vectors?includeValues=true&ids="+ids, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fetched := decode[struct {
		Vectors []services.FetchedVector `json:"vectors"`
	}](t, rec)
	require.Len(t, fetched.Vectors, 2)
	assert.Equal(t, vecs[0].ID, fetched.Vectors[0].ID)
	assert.Len(t, fetched.Vectors[0].Values, 8)

	rec = api.do(t, http.MethodGet, "/api/agents/"+uuid.NewString()+"/vectors?ids="+ids, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"vectors":[]`)

	rec = api.do(t, http.MethodGet, "/api/agents/"+agentID.String()+"/vectors", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
