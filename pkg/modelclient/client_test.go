package modelclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sena-run/core/pkg/models"
)

func TestClient_Load_Succeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"llama3:8b"}]}`))
		case "/api/generate":
			_, _ = w.Write([]byte(`{"response":"ok","done":true}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3:8b", time.Second)
	assert.Equal(t, StateUnloaded, c.State())
	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, StateLoaded, c.State())
}

func TestClient_Load_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "missing-model", time.Second)
	err := c.Load(context.Background())
	require.ErrorIs(t, err, ErrModelNotFound)
	assert.Equal(t, StateUnloaded, c.State())
}

func TestClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		_, _ = w.Write([]byte(`{"message":{"content":"hi there"},"prompt_eval_count":5,"eval_count":3,"done_reason":"stop"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3:8b", time.Second)
	resp, err := c.Generate(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, 5, resp.PromptTokens)
	assert.Equal(t, 3, resp.CompletionTokens)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestClient_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte(`{"message":{"content":"hel"},"done":false}` + "\n"))
		flusher.Flush()
		_, _ = w.Write([]byte(`{"message":{"content":"lo"},"done":false}` + "\n"))
		flusher.Flush()
		_, _ = w.Write([]byte(`{"message":{"content":""},"done":true,"done_reason":"stop","eval_count":2}` + "\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3:8b", time.Second)
	chunks, errs := c.Stream(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, Overrides{})

	var got []Chunk
	for ch := range chunks {
		got = append(got, ch)
	}
	require.NoError(t, <-errs)

	require.Len(t, got, 3)
	assert.Equal(t, "hel", got[0].Content)
	assert.False(t, got[0].IsFinal)
	assert.True(t, got[2].IsFinal)
	require.NotNil(t, got[2].Usage)
	assert.Equal(t, "stop", got[2].Usage.FinishReason)
}

func TestClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "nomic-embed-text", time.Second)
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
}

func TestClient_Unload_Idempotent(t *testing.T) {
	c := New("http://localhost:11434", "llama3:8b", time.Second)
	require.NoError(t, c.Unload())
	require.NoError(t, c.Unload())
}
