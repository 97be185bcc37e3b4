package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aircode610/fuseai/internal/agent"
)

func TestReservePortStrictlyIncreasing(t *testing.T) {
	root := t.TempDir()
	s := New(root, 9000, nil)

	seen := map[int]bool{}
	prev := 0
	for i := 0; i < 5; i++ {
		p, err := s.ReservePort()
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if seen[p] {
			t.Fatalf("port %d repeated", p)
		}
		if prev != 0 && p <= prev {
			t.Fatalf("ports not increasing: %d after %d", p, prev)
		}
		seen[p] = true
		prev = p
	}

	// A fresh Store over the same file must continue the sequence.
	s2 := New(root, 9000, nil)
	p, err := s2.ReservePort()
	if err != nil {
		t.Fatalf("reserve after reload: %v", err)
	}
	if p <= prev {
		t.Fatalf("reload broke the sequence: got %d after %d", p, prev)
	}
}

func TestCorruptFileResetsEmpty(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	if err := os.WriteFile(path, []byte("{definitely not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := New(root, 8001, nil)
	if got := s.List(); len(got) != 0 {
		t.Fatalf("corrupt registry should list empty, got %d", len(got))
	}
	p, err := s.ReservePort()
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if p != 8001 {
		t.Fatalf("counter should reset to base port, got %d", p)
	}
}

func TestAddGetUpdateRemove(t *testing.T) {
	s := New(t.TempDir(), 8001, nil)

	rec := agent.Record{ID: "agent_a", Name: "A", Status: agent.StatusCreated}
	if err := s.Add(rec); err != nil {
		t.Fatalf("add: %v", err)
	}
	// duplicate id is a no-op
	if err := s.Add(agent.Record{ID: "agent_a", Name: "other"}); err != nil {
		t.Fatalf("dup add: %v", err)
	}
	got, ok := s.Get("agent_a")
	if !ok || got.Name != "A" {
		t.Fatalf("get after dup add: %+v ok=%v", got, ok)
	}

	st := agent.StatusRunning
	port := 8042
	if !s.Update("agent_a", Update{Status: &st, Port: &port}) {
		t.Fatalf("update returned false")
	}
	got, _ = s.Get("agent_a")
	if got.Status != agent.StatusRunning || got.Port != 8042 {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.Name != "A" {
		t.Fatalf("unset fields must be untouched: %+v", got)
	}

	if s.Update("missing", Update{Status: &st}) {
		t.Fatalf("update of unknown id should return false")
	}

	if !s.Remove("agent_a") {
		t.Fatalf("remove returned false")
	}
	if s.Remove("agent_a") {
		t.Fatalf("second remove should return false")
	}
	if _, ok := s.Get("agent_a"); ok {
		t.Fatalf("record survived removal")
	}
}

func TestPersistenceAcrossStores(t *testing.T) {
	root := t.TempDir()
	s := New(root, 8001, nil)
	if err := s.Add(agent.Record{ID: "agent_x", Name: "X", Status: agent.StatusStopped, Port: 8005}); err != nil {
		t.Fatal(err)
	}

	s2 := New(root, 8001, nil)
	got, ok := s2.Get("agent_x")
	if !ok || got.Port != 8005 || got.Status != agent.StatusStopped {
		t.Fatalf("record not persisted: %+v ok=%v", got, ok)
	}
}
