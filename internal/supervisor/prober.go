package supervisor

import (
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultProbeInterval is how often the prober sweeps pending agents.
const DefaultProbeInterval = 2 * time.Second

// DefaultProbeTimeout bounds a single TCP connect attempt.
const DefaultProbeTimeout = 1 * time.Second

type probeTarget struct {
	id   string
	port int
}

// Prober is the single background loop that promotes launched agents to
// `running` once their port accepts TCP connections. Each pending agent is
// probed in its own goroutine so one slow agent cannot delay readiness
// detection for the others.
type Prober struct {
	mgr      *Manager
	interval time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
	stopCh   chan struct{}
	done     chan struct{}
	started  bool
}

func NewProber(mgr *Manager, interval, timeout time.Duration) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		mgr:      mgr,
		interval: interval,
		timeout:  timeout,
		inflight: make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the probe loop. It is a no-op when already started.
func (p *Prober) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()
	go p.loop()
}

// Stop terminates the loop and waits for it to exit. In-flight probes finish
// on their own; markReady ignores agents that stopped in the meantime.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.done
}

func (p *Prober) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep probes every pending agent concurrently, at most one probe per agent
// at a time.
func (p *Prober) sweep() {
	for _, t := range p.mgr.pendingProbes() {
		p.mu.Lock()
		if _, busy := p.inflight[t.id]; busy {
			p.mu.Unlock()
			continue
		}
		p.inflight[t.id] = struct{}{}
		p.mu.Unlock()

		go func(t probeTarget) {
			defer func() {
				p.mu.Lock()
				delete(p.inflight, t.id)
				p.mu.Unlock()
			}()
			if p.probe(t.port) {
				p.mgr.markReady(t.id)
			}
		}(t)
	}
}

func (p *Prober) probe(port int) bool {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, p.timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
