// Package logstore keeps per-agent operator-facing event logs: one JSON
// array per agent under <root>/logs, append-only with FIFO eviction.
package logstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxEntries is the retained window per agent.
const MaxEntries = 500

// DefaultLimit is the read page size when the caller does not ask for one.
const DefaultLimit = 100

// Levels used by the orchestrator. Read accepts any string; "all" or ""
// disables filtering.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Entry is one operator-facing log line for an agent.
type Entry struct {
	ID        int            `json:"id"`
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
}

// Store owns the per-agent log files.
type Store struct {
	mu     sync.Mutex
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Store writing under root/logs.
func New(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: filepath.Join(root, "logs"), now: time.Now, logger: logger}
}

func (s *Store) path(agentID string) string {
	return filepath.Join(s.dir, agentID+".json")
}

func (s *Store) load(agentID string) []Entry {
	b, err := os.ReadFile(s.path(agentID))
	if err != nil {
		return []Entry{}
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		s.logger.Warn("agent log corrupt, starting empty", "agent", agentID, "error", err)
		return []Entry{}
	}
	return entries
}

func (s *Store) save(agentID string, entries []Entry) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	if len(entries) > MaxEntries {
		entries = entries[len(entries)-MaxEntries:]
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode agent log: %w", err)
	}
	return os.WriteFile(s.path(agentID), b, 0o600)
}

// Append adds one entry with the next sequence id. details may be nil.
func (s *Store) Append(agentID, level, message string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.load(agentID)
	nextID := 1
	if n := len(entries); n > 0 {
		nextID = entries[n-1].ID + 1
	}
	entries = append(entries, Entry{
		ID:        nextID,
		Level:     level,
		Timestamp: s.now().Format("2006-01-02 15:04:05"),
		Message:   message,
		Details:   details,
	})
	return s.save(agentID, entries)
}

// Info appends an info-level entry.
func (s *Store) Info(agentID, message string, details map[string]any) {
	if err := s.Append(agentID, LevelInfo, message, details); err != nil {
		s.logger.Error("agent log append failed", "agent", agentID, "error", err)
	}
}

// Error appends an error-level entry.
func (s *Store) Error(agentID, message string, details map[string]any) {
	if err := s.Append(agentID, LevelError, message, details); err != nil {
		s.logger.Error("agent log append failed", "agent", agentID, "error", err)
	}
}

// Read returns up to limit entries, newest first, optionally filtered by
// level. limit <= 0 selects DefaultLimit.
func (s *Store) Read(agentID, level string, limit int) []Entry {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s.mu.Lock()
	entries := s.load(agentID)
	s.mu.Unlock()
	if level != "" && level != "all" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Level == level {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	return out
}

// Delete removes the agent's log file, reporting whether one existed.
func (s *Store) Delete(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(agentID)); err != nil {
		return false
	}
	return true
}
