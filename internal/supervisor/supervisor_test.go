package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aircode610/fuseai/internal/agent"
	"github.com/aircode610/fuseai/internal/callstats"
	"github.com/aircode610/fuseai/internal/logstore"
	"github.com/aircode610/fuseai/internal/registry"
)

func newTestManager(t *testing.T) (*Manager, *registry.Store) {
	t.Helper()
	root := t.TempDir()
	reg := registry.New(root, 9100, nil)
	m := New(Config{
		Root:      root,
		Registry:  reg,
		Stats:     callstats.NewRecorder(root, nil),
		Logs:      logstore.New(root, nil),
		StopGrace: 500 * time.Millisecond,
	})
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, reg
}

func writeAgent(t *testing.T, m *Manager, id, script string) {
	t.Helper()
	dir := m.AgentDir(id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, agent.EntrypointName), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
}

func addRecord(t *testing.T, reg *registry.Store, id string, port int) {
	t.Helper()
	err := reg.Add(agent.Record{ID: id, Name: id, Status: agent.StatusCreated, Port: port})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDeployAndStop(t *testing.T) {
	m, reg := newTestManager(t)
	addRecord(t, reg, "a1", 0)
	writeAgent(t, m, "a1", "#!/bin/sh\nsleep 60\n")

	ctx := context.Background()
	if err := m.Deploy(ctx, "a1", 0); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	port, live := m.LivePort("a1")
	if !live || port <= 0 {
		t.Fatalf("agent not live after deploy: port=%d live=%v", port, live)
	}
	rec, _ := reg.Get("a1")
	if rec.Status != agent.StatusDeploying {
		t.Fatalf("status = %s, want deploying", rec.Status)
	}
	if rec.Port != port {
		t.Fatalf("record port %d, live port %d", rec.Port, port)
	}

	if err := m.Stop(ctx, "a1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if m.IsLive("a1") {
		t.Fatalf("agent still live after stop")
	}
	rec, _ = reg.Get("a1")
	if rec.Status != agent.StatusStopped {
		t.Fatalf("status = %s, want stopped", rec.Status)
	}

	// stop is idempotent
	if err := m.Stop(ctx, "a1"); err != nil {
		t.Fatalf("second stop errored: %v", err)
	}
	rec, _ = reg.Get("a1")
	if rec.Status != agent.StatusStopped {
		t.Fatalf("status after second stop = %s", rec.Status)
	}
}

func TestStopWithoutProcess(t *testing.T) {
	m, reg := newTestManager(t)
	addRecord(t, reg, "idle", 0)
	if err := m.Stop(context.Background(), "idle"); err != nil {
		t.Fatalf("stop of process-less agent errored: %v", err)
	}
	rec, _ := reg.Get("idle")
	if rec.Status != agent.StatusStopped {
		t.Fatalf("status = %s, want stopped", rec.Status)
	}
}

func TestDeployUnknownAgent(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Deploy(context.Background(), "ghost", 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeployMissingEntrypoint(t *testing.T) {
	m, reg := newTestManager(t)
	addRecord(t, reg, "bare", 0)
	err := m.Deploy(context.Background(), "bare", 0)
	if !errors.Is(err, ErrNoEntrypoint) {
		t.Fatalf("err = %v, want ErrNoEntrypoint", err)
	}
	rec, _ := reg.Get("bare")
	if rec.Status != agent.StatusStopped {
		t.Fatalf("status = %s, want stopped after failed deploy", rec.Status)
	}
}

func TestDeployReplacesLiveProcess(t *testing.T) {
	m, reg := newTestManager(t)
	addRecord(t, reg, "a1", 0)
	writeAgent(t, m, "a1", "#!/bin/sh\nsleep 60\n")

	ctx := context.Background()
	if err := m.Deploy(ctx, "a1", 0); err != nil {
		t.Fatal(err)
	}
	first := m.liveHandle("a1")
	if err := m.Deploy(ctx, "a1", 0); err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	second := m.liveHandle("a1")
	if second == nil || second == first {
		t.Fatalf("redeploy did not replace the process")
	}
	if !first.Exited() {
		t.Fatalf("previous process still alive after redeploy")
	}
}

func TestDeployExplicitPortWins(t *testing.T) {
	m, reg := newTestManager(t)
	addRecord(t, reg, "a1", 9555)
	writeAgent(t, m, "a1", "#!/bin/sh\nsleep 60\n")

	if err := m.Deploy(context.Background(), "a1", 9777); err != nil {
		t.Fatal(err)
	}
	port, _ := m.LivePort("a1")
	if port != 9777 {
		t.Fatalf("explicit port ignored: %d", port)
	}
}

func TestReconcileAfterExit(t *testing.T) {
	m, reg := newTestManager(t)
	addRecord(t, reg, "flaky", 0)
	writeAgent(t, m, "flaky", "#!/bin/sh\nexit 0\n")

	if err := m.Deploy(context.Background(), "flaky", 0); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h := m.liveHandle("flaky"); h != nil && h.Exited() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	m.Reconcile()
	if m.IsLive("flaky") {
		t.Fatalf("exited agent still reported live after reconcile")
	}
	if m.IsReady("flaky") {
		t.Fatalf("exited agent still in ready set")
	}
	rec, _ := reg.Get("flaky")
	if rec.Status != agent.StatusStopped {
		t.Fatalf("status = %s, want stopped after reconcile", rec.Status)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	m, reg := newTestManager(t)
	addRecord(t, reg, "gone", 0)
	writeAgent(t, m, "gone", "#!/bin/sh\nsleep 60\n")

	ctx := context.Background()
	if err := m.Deploy(ctx, "gone", 0); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := reg.Get("gone"); ok {
		t.Fatalf("registry record survived delete")
	}
	if _, err := os.Stat(m.AgentDir("gone")); !os.IsNotExist(err) {
		t.Fatalf("agent directory survived delete")
	}

	err := m.Delete(ctx, "gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}

func TestStartAll(t *testing.T) {
	m, reg := newTestManager(t)
	addRecord(t, reg, "a1", 0)
	writeAgent(t, m, "a1", "#!/bin/sh\nsleep 60\n")
	addRecord(t, reg, "no-code", 0)

	m.StartAll(context.Background())
	if !m.IsLive("a1") {
		t.Fatalf("agent with entrypoint not redeployed")
	}
	if m.IsLive("no-code") {
		t.Fatalf("agent without entrypoint should be skipped")
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	root := t.TempDir()
	reg := registry.New(root, 9100, nil)
	m := New(Config{
		Root:      root,
		Registry:  reg,
		Stats:     callstats.NewRecorder(root, nil),
		Logs:      logstore.New(root, nil),
		StopGrace: 500 * time.Millisecond,
	})
	addRecord(t, reg, "a1", 0)
	writeAgent(t, m, "a1", "#!/bin/sh\nsleep 60\n")
	ctx := context.Background()
	if err := m.Deploy(ctx, "a1", 0); err != nil {
		t.Fatal(err)
	}

	m.Shutdown(ctx)
	if m.IsLive("a1") {
		t.Fatalf("agent still live after shutdown")
	}
	if err := m.Deploy(ctx, "a1", 0); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("deploy after shutdown = %v, want ErrShuttingDown", err)
	}
}
