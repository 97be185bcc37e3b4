package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aircode610/fuseai/internal/history"
)

func TestSendAndQueryBack(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	events := []history.Event{
		{Type: history.EventDeployed, OccurredAt: time.Now().UTC(), AgentID: "agent_1", PID: 101, Port: 8001},
		{Type: history.EventStopped, OccurredAt: time.Now().UTC(), AgentID: "agent_1", PID: 101, Port: 8001},
		{Type: history.EventExited, OccurredAt: time.Now().UTC(), AgentID: "agent_2", PID: 202, Port: 8002, Detail: "exit status 1"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Type, err)
		}
	}

	var total int
	if err := sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_history`).Scan(&total); err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 3 {
		t.Fatalf("rows = %d, want 3", total)
	}

	var event string
	var detail *string
	err = sink.db.QueryRowContext(ctx,
		`SELECT event, detail FROM agent_history WHERE agent_id = ?`, "agent_2").Scan(&event, &detail)
	if err != nil {
		t.Fatalf("query agent_2: %v", err)
	}
	if event != string(history.EventExited) {
		t.Fatalf("event = %q", event)
	}
	if detail == nil || *detail != "exit status 1" {
		t.Fatalf("detail = %v", detail)
	}

	// Empty detail is stored as NULL.
	err = sink.db.QueryRowContext(ctx,
		`SELECT detail FROM agent_history WHERE agent_id = ? AND event = ?`,
		"agent_1", string(history.EventDeployed)).Scan(&detail)
	if err != nil {
		t.Fatalf("query agent_1: %v", err)
	}
	if detail != nil {
		t.Fatalf("expected NULL detail, got %q", *detail)
	}
}

func TestDSNPrefixAndFilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	sink, err := New("sqlite://" + path)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	ctx := context.Background()
	e := history.Event{Type: history.EventDeployed, OccurredAt: time.Now().UTC(), AgentID: "agent_p", PID: 7, Port: 8003}
	if err := sink.Send(ctx, e); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	var total int
	if err := reopened.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_history`).Scan(&total); err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 1 {
		t.Fatalf("rows after reopen = %d, want 1", total)
	}
}

func TestEmptyDSNRejected(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
