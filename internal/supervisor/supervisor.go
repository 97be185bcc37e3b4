package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aircode610/fuseai/internal/agent"
	"github.com/aircode610/fuseai/internal/callstats"
	"github.com/aircode610/fuseai/internal/history"
	"github.com/aircode610/fuseai/internal/logger"
	"github.com/aircode610/fuseai/internal/logstore"
	"github.com/aircode610/fuseai/internal/metrics"
	"github.com/aircode610/fuseai/internal/registry"
)

// AgentsDirName is the directory under the root that holds one working
// directory per agent.
const AgentsDirName = "deployed_agents"

// DefaultStopGrace is how long a stop waits after SIGTERM before SIGKILL.
const DefaultStopGrace = 5 * time.Second

var (
	ErrNotFound     = errors.New("agent not found")
	ErrNoEntrypoint = errors.New("agent entrypoint missing")
	ErrShuttingDown = errors.New("supervisor shutting down")
)

type ctrlAction int

const (
	ctrlDeploy ctrlAction = iota
	ctrlStop
	ctrlShutdown
)

type ctrlMsg struct {
	action ctrlAction
	port   int // requested port for deploy, 0 means unset
	reply  chan error
}

// agentHandler serializes deploy/stop for one agent id. All mutations of its
// procHandle go through the handler goroutine, so a stop and a deploy for the
// same agent can never interleave while distinct agents proceed in parallel.
type agentHandler struct {
	id   string
	ctrl chan ctrlMsg
	done chan struct{}
}

// Manager owns the live process table and the ready set. It is the single
// owner of both; request handlers and the prober reach them only through its
// methods.
type Manager struct {
	root      string
	reg       *registry.Store
	stats     *callstats.Recorder
	logs      *logstore.Store
	logCfg    logger.Config
	stopGrace time.Duration
	sinks     []history.Sink
	logger    *slog.Logger

	mu       sync.RWMutex
	handlers map[string]*agentHandler
	procs    map[string]*procHandle
	ready    map[string]struct{}
	closed   bool
}

// Config carries the collaborators a Manager needs.
type Config struct {
	Root      string
	Registry  *registry.Store
	Stats     *callstats.Recorder
	Logs      *logstore.Store
	LogConfig logger.Config
	StopGrace time.Duration
	Sinks     []history.Sink
	Logger    *slog.Logger
}

func New(cfg Config) *Manager {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	lc := cfg.LogConfig
	if lc.Dir == "" {
		lc.Dir = filepath.Join(cfg.Root, "proc_logs")
	}
	return &Manager{
		root:      cfg.Root,
		reg:       cfg.Registry,
		stats:     cfg.Stats,
		logs:      cfg.Logs,
		logCfg:    lc,
		stopGrace: cfg.StopGrace,
		sinks:     cfg.Sinks,
		logger:    cfg.Logger,
		handlers:  make(map[string]*agentHandler),
		procs:     make(map[string]*procHandle),
		ready:     make(map[string]struct{}),
	}
}

// AgentDir returns the working directory for an agent id.
func (m *Manager) AgentDir(id string) string {
	return filepath.Join(m.root, AgentsDirName, id)
}

func (m *Manager) handler(id string) (*agentHandler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrShuttingDown
	}
	h, ok := m.handlers[id]
	if !ok {
		h = &agentHandler{
			id:   id,
			ctrl: make(chan ctrlMsg, 16),
			done: make(chan struct{}),
		}
		m.handlers[id] = h
		go m.handlerLoop(h)
	}
	return h, nil
}

func (m *Manager) handlerLoop(h *agentHandler) {
	for msg := range h.ctrl {
		var err error
		switch msg.action {
		case ctrlDeploy:
			err = m.doDeploy(h.id, msg.port)
		case ctrlStop:
			err = m.doStop(h.id)
		case ctrlShutdown:
			err = m.doStop(h.id)
			msg.reply <- err
			close(h.done)
			return
		}
		msg.reply <- err
	}
}

func (h *agentHandler) send(msg ctrlMsg) error {
	select {
	case h.ctrl <- msg:
	case <-h.done:
		return ErrShuttingDown
	}
	// A message can land in the buffer right as the loop exits; waiting on
	// done as well avoids blocking on a reply that will never come.
	select {
	case err := <-msg.reply:
		return err
	case <-h.done:
		return ErrShuttingDown
	}
}

// Deploy (re)launches the agent's entrypoint. A live process for the id is
// terminated first. The port is taken from the request, then the registry
// record, then a fresh reservation.
func (m *Manager) Deploy(ctx context.Context, id string, port int) error {
	h, err := m.handler(id)
	if err != nil {
		return err
	}
	return h.send(ctrlMsg{action: ctrlDeploy, port: port, reply: make(chan error, 1)})
}

// Stop terminates the agent's process if one is live and marks the registry
// record stopped. It is idempotent and never errors for an already-stopped or
// process-less agent.
func (m *Manager) Stop(ctx context.Context, id string) error {
	h, err := m.handler(id)
	if err != nil {
		return err
	}
	return h.send(ctrlMsg{action: ctrlStop, reply: make(chan error, 1)})
}

func (m *Manager) doDeploy(id string, reqPort int) error {
	rec, ok := m.reg.Get(id)
	if !ok {
		return ErrNotFound
	}

	// Terminate a previous incarnation before relaunching.
	if old := m.liveHandle(id); old != nil {
		old.terminate(m.stopGrace)
		m.dropProc(id, old)
	}

	dir := m.AgentDir(id)
	if !agent.HasEntrypoint(dir) {
		m.reg.Update(id, registry.Update{Status: ptr(agent.StatusStopped)})
		return fmt.Errorf("%w: %s", ErrNoEntrypoint, filepath.Join(dir, agent.EntrypointName))
	}

	port := reqPort
	if port <= 0 {
		port = rec.Port
	}
	if port <= 0 {
		p, err := m.reg.ReservePort()
		if err != nil {
			return fmt.Errorf("reserve port: %w", err)
		}
		port = p
	}

	m.reg.Update(id, registry.Update{Status: ptr(agent.StatusDeploying), Port: &port})

	h, err := m.spawn(id, dir, port)
	if err != nil {
		m.reg.Update(id, registry.Update{Status: ptr(agent.StatusStopped)})
		return fmt.Errorf("launch agent %s: %w", id, err)
	}

	m.mu.Lock()
	m.procs[id] = h
	delete(m.ready, id)
	running := len(m.procs)
	m.mu.Unlock()

	metrics.IncDeploy(id)
	metrics.SetRunningAgents(running)
	m.sendEvent(history.EventDeployed, id, h.PID(), port, "")
	m.logger.Info("agent deployed", "agent", id, "pid", h.PID(), "port", port)
	return nil
}

func (m *Manager) doStop(id string) error {
	h := m.liveHandle(id)
	if h == nil {
		// No live process; still mark the record stopped when it exists.
		m.dropProc(id, nil)
		m.reg.Update(id, registry.Update{Status: ptr(agent.StatusStopped)})
		return nil
	}

	pid := h.PID()
	port := h.Port()
	h.terminate(m.stopGrace)
	m.dropProc(id, h)
	m.reg.Update(id, registry.Update{Status: ptr(agent.StatusStopped)})

	metrics.IncStop(id)
	m.sendEvent(history.EventStopped, id, pid, port, "")
	m.logger.Info("agent stopped", "agent", id, "pid", pid)
	return nil
}

// liveHandle returns the tracked handle for id, or nil when there is none.
func (m *Manager) liveHandle(id string) *procHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.procs[id]
}

// dropProc removes the handle from the table and the ready set. When expect
// is non-nil the entry is only removed if it still points at that handle, so
// a stale prune cannot discard a newer deploy.
func (m *Manager) dropProc(id string, expect *procHandle) {
	m.mu.Lock()
	if cur, ok := m.procs[id]; ok && (expect == nil || cur == expect) {
		delete(m.procs, id)
	}
	delete(m.ready, id)
	running := len(m.procs)
	m.mu.Unlock()
	metrics.SetRunningAgents(running)
}

// Reconcile prunes process-table entries whose child has exited, clearing
// their readiness and marking them stopped. Callers list or report status
// only after reconciling so a dead process is never observed as alive.
func (m *Manager) Reconcile() {
	m.mu.RLock()
	exited := make(map[string]*procHandle)
	for id, h := range m.procs {
		if h.Exited() {
			exited[id] = h
		}
	}
	m.mu.RUnlock()

	for id, h := range exited {
		m.dropProc(id, h)
		m.reg.Update(id, registry.Update{Status: ptr(agent.StatusStopped)})
		detail := ""
		if err := h.ExitErr(); err != nil {
			detail = err.Error()
		}
		m.sendEvent(history.EventExited, id, h.PID(), h.Port(), detail)
		m.logger.Warn("agent process exited", "agent", id, "pid", h.PID(), "err", h.ExitErr())
	}
}

// Delete stops the agent, removes its registry record, metrics, logs and
// working directory. The second call for the same id reports ErrNotFound.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrShuttingDown) {
		return err
	}
	if !m.reg.Remove(id) {
		return ErrNotFound
	}
	m.stats.Delete(id)
	m.logs.Delete(id)
	if err := os.RemoveAll(m.AgentDir(id)); err != nil {
		// Registry removal is the source of truth; directory cleanup is
		// best-effort.
		m.logger.Warn("failed to remove agent directory", "agent", id, "err", err)
	}
	m.retireHandler(id)
	return nil
}

func (m *Manager) retireHandler(id string) {
	m.mu.Lock()
	h, ok := m.handlers[id]
	if ok {
		delete(m.handlers, id)
	}
	m.mu.Unlock()
	if ok {
		go func() {
			_ = h.send(ctrlMsg{action: ctrlShutdown, reply: make(chan error, 1)})
		}()
	}
}

// StartAll redeploys every registry record whose entrypoint still exists on
// disk. Failures are logged, not fatal.
func (m *Manager) StartAll(ctx context.Context) {
	for _, rec := range m.reg.List() {
		if !agent.HasEntrypoint(m.AgentDir(rec.ID)) {
			continue
		}
		if err := m.Deploy(ctx, rec.ID, rec.Port); err != nil {
			m.logger.Warn("startup deploy failed", "agent", rec.ID, "err", err)
		}
	}
}

// Shutdown stops every live agent and closes the history sinks. The manager
// accepts no new work afterwards.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	handlers := make([]*agentHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.handlers = make(map[string]*agentHandler)
	m.mu.Unlock()

	for _, h := range handlers {
		_ = h.send(ctrlMsg{action: ctrlShutdown, reply: make(chan error, 1)})
	}
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			m.logger.Warn("failed to close history sink", "err", err)
		}
	}
}

// LivePort reports the port of a tracked live agent. It returns false when
// the agent has no live process or no port, which makes the proxy refuse the
// call before any network I/O.
func (m *Manager) LivePort(id string) (int, bool) {
	m.mu.RLock()
	h, ok := m.procs[id]
	m.mu.RUnlock()
	if !ok || h.Exited() {
		return 0, false
	}
	port := h.Port()
	if port <= 0 {
		return 0, false
	}
	return port, true
}

// IsLive reports whether a live process is tracked for the id.
func (m *Manager) IsLive(id string) bool {
	_, ok := m.LivePort(id)
	return ok
}

// IsReady reports ReadySet membership.
func (m *Manager) IsReady(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ready[id]
	return ok
}

// pendingProbes lists live agents not yet in the ReadySet, skipping any whose
// process has already exited (reconcile handles those).
func (m *Manager) pendingProbes() []probeTarget {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []probeTarget
	for id, h := range m.procs {
		if _, ok := m.ready[id]; ok {
			continue
		}
		if h.Exited() {
			continue
		}
		out = append(out, probeTarget{id: id, port: h.Port()})
	}
	return out
}

// markReady promotes a probed agent into the ReadySet and the registry
// `running` status, unless it stopped in the meantime.
func (m *Manager) markReady(id string) {
	m.mu.Lock()
	h, ok := m.procs[id]
	if !ok || h.Exited() {
		m.mu.Unlock()
		return
	}
	m.ready[id] = struct{}{}
	m.mu.Unlock()
	m.reg.Update(id, registry.Update{Status: ptr(agent.StatusRunning)})
	m.logger.Info("agent ready", "agent", id, "port", h.Port())
}

func (m *Manager) sendEvent(t history.EventType, id string, pid, port int, detail string) {
	if len(m.sinks) == 0 {
		return
	}
	e := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		AgentID:    id,
		PID:        pid,
		Port:       port,
		Detail:     detail,
	}
	for _, s := range m.sinks {
		if err := s.Send(context.Background(), e); err != nil {
			m.logger.Warn("history sink send failed", "agent", id, "err", err)
		}
	}
}

func ptr[T any](v T) *T { return &v }
