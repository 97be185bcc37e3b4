package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aircode610/fuseai/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	deployed := history.Event{
		Type:       history.EventDeployed,
		OccurredAt: time.Now().UTC(),
		AgentID:    "agent_pg",
		PID:        12345,
		Port:       8001,
	}
	if err := sink.Send(ctx, deployed); err != nil {
		t.Fatalf("Failed to send deployed event: %v", err)
	}

	exited := history.Event{
		Type:       history.EventExited,
		OccurredAt: time.Now().UTC(),
		AgentID:    "agent_pg",
		PID:        12345,
		Port:       8001,
		Detail:     "exit status 1",
	}
	if err := sink.Send(ctx, exited); err != nil {
		t.Fatalf("Failed to send exited event: %v", err)
	}

	var total int
	if err := sink.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_history WHERE agent_id = $1`, "agent_pg").Scan(&total); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if total != 2 {
		t.Fatalf("rows = %d, want 2", total)
	}

	var detail *string
	if err := sink.db.QueryRowContext(ctx,
		`SELECT detail FROM agent_history WHERE event = $1`, string(history.EventExited)).Scan(&detail); err != nil {
		t.Fatalf("Failed to query exited row: %v", err)
	}
	if detail == nil || *detail != "exit status 1" {
		t.Fatalf("detail = %v", detail)
	}
}

func TestEmptyDSNRejected(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
