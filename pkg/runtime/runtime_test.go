package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sena-run/core/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
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
	return cfg
}

func TestNew_WiresEveryComponent(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, rt.Orchestrator)
	require.NotNil(t, rt.Store)
	require.NotNil(t, rt.Registry)
	require.NotNil(t, rt.Fanout)
	require.NotNil(t, rt.Personality)
	require.NotNil(t, rt.IntentRouter)
	require.NotNil(t, rt.Retrieval)

	require.NoError(t, rt.Shutdown(context.Background()))
}

func TestNew_DegradedBackendDoesNotAbortStartup(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, rt.Backend)
	require.NoError(t, rt.Shutdown(context.Background()))
}
