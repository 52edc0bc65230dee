package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/internal/adapter/tui/chat"
	"conclave/internal/domain"
	"conclave/internal/usecase/multiagent"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const testConfig = `
llm:
  default_provider: main
  providers:
    - name: main
      type: openai
      api_key: sk-test
      model: gpt-test
storage:
  backend: memory
logger:
  level: error
  output: stderr
`

func TestBuildRuntimeMemory(t *testing.T) {
	cli := &CLI{Config: writeConfig(t, testConfig)}

	rt, err := buildRuntime(context.Background(), cli)
	require.NoError(t, err)
	require.NotNil(t, rt.host)
	require.NotNil(t, rt.bus)

	entries, err := rt.host.Orchestrator("s1").ListSpecialists(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.NoError(t, rt.Close())
}

func TestBuildRuntimeSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "conclave.db")
	body := strings.Replace(testConfig, "backend: memory", "backend: sqlite\n  path: "+dbPath, 1)
	rt, err := buildRuntime(context.Background(), &CLI{Config: writeConfig(t, body)})
	require.NoError(t, err)
	defer rt.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestBuildRuntimeMissingProvider(t *testing.T) {
	body := strings.Replace(testConfig, "default_provider: main", "default_provider: other", 1)
	_, err := buildRuntime(context.Background(), &CLI{Config: writeConfig(t, body)})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigLoad)
}

func TestBuildRuntimeLogLevelOverride(t *testing.T) {
	cfg, err := loadConfig(&CLI{Config: writeConfig(t, testConfig), LogLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestRelayForwarder(t *testing.T) {
	var got []tea.Msg
	handler := relayForwarder("s1", func(msg tea.Msg) { got = append(got, msg) })

	payload, err := json.Marshal(multiagent.RelayMessage{AgentID: "alice", SessionID: "s1", Text: "Found three papers."})
	require.NoError(t, err)

	handler(context.Background(), domain.Event{Type: domain.EventAgentRelayed, SessionID: "s2", Payload: payload})
	handler(context.Background(), domain.Event{Type: domain.EventAgentRelayed, SessionID: "s1", Payload: []byte("{")})
	handler(context.Background(), domain.Event{Type: domain.EventAgentRelayed, SessionID: "s1", Payload: payload})

	require.Len(t, got, 1)
	assert.Equal(t, chat.RelayMsg{AgentID: "alice", Text: "Found three papers."}, got[0])
}
