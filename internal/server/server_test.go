package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Secrets.File = filepath.Join(dir, "secrets.json")
	cfg.Secrets.Watch = false
	cfg.Journal.SQLitePath = filepath.Join(dir, "journal.db")
	cfg.Agents = map[string]config.AgentConfig{
		"sh": {Command: "/bin/sh", Args: []string{"-c", "sleep 60"}},
	}
	return cfg
}

func TestServerEndToEnd(t *testing.T) {
	srv, err := New(testConfig(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, srv.Shutdown(ctx))
		require.NoError(t, <-done)
	})

	base := "http://" + srv.Addr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The full stack is wired: spawn through the HTTP surface and read the
	// session back.
	body, err := json.Marshal(types.SpawnRequest{WorkspaceID: "ws-1", Agent: "sh", WorkingDir: t.TempDir()})
	require.NoError(t, err)
	resp, err = http.Post(base+"/api/v1/sessions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var info types.SessionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(t, types.SessionStateAlive, info.State)
	require.Positive(t, info.PID)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sessions.MaxConcurrent = 0
	_, err := New(cfg)
	require.Error(t, err)

	_, err = New(nil)
	require.Error(t, err)
}

func TestNewFailsOnBusyAddr(t *testing.T) {
	first, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = first.Shutdown(ctx)
	})

	cfg := testConfig(t)
	cfg.Server.Addr = first.Addr()
	_, err = New(cfg)
	require.Error(t, err)
}
