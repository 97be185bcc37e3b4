package fuseai

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aircode610/fuseai/internal/agent"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	c, err := LoadConfig("")
	require.NoError(t, err)
	c.Root = t.TempDir()
	c.BasePort = 9600
	c.StopGraceSeconds = 1

	o, err := New(c, nil)
	require.NoError(t, err)
	t.Cleanup(func() { o.Shutdown(context.Background()) })
	return o
}

func TestFacadeAgentLifecycle(t *testing.T) {
	requireUnix(t)
	o := newOrchestrator(t)
	ctx := context.Background()

	rec := AgentRecord{
		ID:        "agent_facade",
		Name:      "facade",
		Status:    agent.StatusCreated,
		CreatedAt: agent.Timestamp(time.Now()),
	}
	require.NoError(t, o.Registry.Add(rec))

	dir := o.Manager.AgentDir("agent_facade")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	script := []byte("#!/bin/sh\nsleep 60\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, agent.EntrypointName), script, 0o755))

	require.NoError(t, o.Manager.Deploy(ctx, "agent_facade", 0))
	require.True(t, o.Manager.IsLive("agent_facade"))

	port, ok := o.Manager.LivePort("agent_facade")
	require.True(t, ok)
	require.GreaterOrEqual(t, port, 9600)

	require.NoError(t, o.Manager.Stop(ctx, "agent_facade"))
	require.False(t, o.Manager.IsLive("agent_facade"))

	got, ok := o.Registry.Get("agent_facade")
	require.True(t, ok)
	require.Equal(t, agent.StatusStopped, got.Status)
}

func TestFacadeBadHistoryDSNFailsConstruction(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	c.Root = t.TempDir()
	c.HistoryDSNs = []string{"redis://localhost:6379"}

	_, err = New(c, nil)
	require.Error(t, err)
}
