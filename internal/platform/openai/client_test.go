package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/botforge-backend/internal/platform/httpx"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(logger.Nop(), Config{APIKey: "sk-test", BaseURL: srv.URL, MaxRetries: 2})
	require.NoError(t, err)
	c.(*client).api.Retry.Backoff = time.Millisecond
	return c
}

func TestEmbedOrdersByIndex(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultEmbedModel, req.Model)
		assert.Equal(t, []string{"a", " "}, req.Input)
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0.5,0.5]},{"index":0,"embedding":[1,0]}]}`))
	})

	out, err := c.Embed(context.Background(), []string{"a", "  "})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0.5, 0.5}}, out)
}

func TestEmbedRetriesOn429(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	})
	out, err := c.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEmbedDoesNotRetry400(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	})
	_, err := c.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	var se *httpx.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEmbedMissingVector(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	})
	_, err := c.Embed(context.Background(), []string{"x", "y"})
	require.Error(t, err)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(logger.Nop(), Config{})
	require.Error(t, err)
}
