package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aircode610/fuseai/internal/agent"
)

// DefaultPortStart is the first port handed out when no registry file exists.
const DefaultPortStart = 8001

// FileName is the registry file kept directly under the orchestrator root.
const FileName = "agents_registry.json"

// Store is the file-backed agent registry. Every read-modify-write cycle of
// the backing file, port reservation included, runs under one mutex so two
// racing deploys can never observe the same port counter.
type Store struct {
	mu       sync.Mutex
	path     string
	portBase int
	logger   *slog.Logger
}

type registryFile struct {
	Agents   []agent.Record `json:"agents"`
	NextPort int            `json:"next_port"`
}

func New(root string, portBase int, logger *slog.Logger) *Store {
	if portBase <= 0 {
		portBase = DefaultPortStart
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:     filepath.Join(root, FileName),
		portBase: portBase,
		logger:   logger,
	}
}

// load reads the backing file. A missing or corrupt file yields an empty
// registry with the counter reset to the base port; corruption is logged,
// never returned as an error.
func (s *Store) load() registryFile {
	empty := registryFile{NextPort: s.portBase}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read registry file, starting empty", "path", s.path, "err", err)
		}
		return empty
	}
	var f registryFile
	if err := json.Unmarshal(b, &f); err != nil {
		s.logger.Warn("corrupt registry file, starting empty", "path", s.path, "err", err)
		return empty
	}
	if f.NextPort < s.portBase {
		f.NextPort = s.portBase
	}
	if f.Agents == nil {
		f.Agents = []agent.Record{}
	}
	return f
}

func (s *Store) save(f registryFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}

// List returns all records in stored order.
func (s *Store) List() []agent.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load().Agents
}

// Get returns the record for id.
func (s *Store) Get(id string) (agent.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.load().Agents {
		if r.ID == id {
			return r, true
		}
	}
	return agent.Record{}, false
}

// Add appends a record. A duplicate id is a no-op.
func (s *Store) Add(rec agent.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.load()
	for _, r := range f.Agents {
		if r.ID == rec.ID {
			return nil
		}
	}
	f.Agents = append(f.Agents, rec)
	return s.save(f)
}

// Update applies the non-nil fields of u to the record with the given id.
// It reports false when the id is unknown.
type Update struct {
	Name        *string
	Description *string
	Status      *agent.Status
	Port        *int
}

func (s *Store) Update(id string, u Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.load()
	for i := range f.Agents {
		if f.Agents[i].ID != id {
			continue
		}
		if u.Name != nil {
			f.Agents[i].Name = *u.Name
		}
		if u.Description != nil {
			f.Agents[i].Description = *u.Description
		}
		if u.Status != nil {
			f.Agents[i].Status = *u.Status
		}
		if u.Port != nil {
			f.Agents[i].Port = *u.Port
		}
		if err := s.save(f); err != nil {
			s.logger.Warn("failed to persist registry update", "agent", id, "err", err)
		}
		return true
	}
	return false
}

// Remove deletes the record with the given id, reporting whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.load()
	for i := range f.Agents {
		if f.Agents[i].ID == id {
			f.Agents = append(f.Agents[:i], f.Agents[i+1:]...)
			if err := s.save(f); err != nil {
				s.logger.Warn("failed to persist registry removal", "agent", id, "err", err)
			}
			return true
		}
	}
	return false
}

// ReservePort returns the current counter value and persists the increment
// before releasing the lock, so successive reservations are strictly
// increasing even across registry reloads.
func (s *Store) ReservePort() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.load()
	port := f.NextPort
	f.NextPort = port + 1
	if err := s.save(f); err != nil {
		return 0, err
	}
	return port, nil
}
