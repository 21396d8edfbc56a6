package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sena-run/core/pkg/api"
	"github.com/sena-run/core/pkg/config"
	"github.com/sena-run/core/pkg/events"
	"github.com/sena-run/core/pkg/runtime"
)

func testRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	dir := t.TempDir()
	configYAML := `
llm:
  base_url: "http://127.0.0.1:1"
  models:
    fast:
      name: "llama3:8b"
  process:
    manage: false
storage:
  path: "` + dir + `/sena.db"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0o600))
	cfg, err := config.Initialize(dir)
	require.NoError(t, err)

	rt, err := runtime.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })
	return rt
}

func newServer(t *testing.T) *api.Server {
	rt := testRuntime(t)
	return api.New(rt.Orchestrator, rt.Fanout, rt.Store, rt.Registry, rt.Telemetry, rt.Personality, rt.LongTerm, rt.Classifier)
}

func TestHealth_ReportsStorageAndModelStatus(t *testing.T) {
	s := newServer(t)
	server := httptest.NewServer(s.Router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "storage")
	assert.Contains(t, body, "models")
}

func TestChat_MissingFieldsReturnsBadRequest(t *testing.T) {
	s := newServer(t)
	server := httptest.NewServer(s.Router())
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/chat", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChat_BackendUnreachableReturnsClassifiedError(t *testing.T) {
	s := newServer(t)
	server := httptest.NewServer(s.Router())
	defer server.Close()

	body := `{"session_id": "s1", "message": "hello"}`
	resp, err := http.Post(server.URL+"/api/chat", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.True(t, resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusInternalServerError)
}

func TestDebugEndpoints_ReturnData(t *testing.T) {
	s := newServer(t)
	server := httptest.NewServer(s.Router())
	defer server.Close()

	for _, path := range []string{"/api/debug/settings", "/api/debug/telemetry", "/api/debug/personality", "/api/debug/memory"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		resp.Body.Close()
	}
}

func TestWS_ConnectAndReceiveBroadcast(t *testing.T) {
	s := newServer(t)
	server := httptest.NewServer(s.Router())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	s.Fanout().Broadcast(events.KindLog, map[string]string{"line": "hello"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "hello")
}
