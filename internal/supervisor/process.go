package supervisor

import (
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/aircode610/fuseai/internal/agent"
)

// procHandle tracks one live agent child process. The monitor goroutine owns
// cmd.Wait; everyone else observes exit through waitDone.
type procHandle struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	port     int
	waitDone chan struct{}
	exitErr  error
	outW     io.WriteCloser
	errW     io.WriteCloser
}

func (p *procHandle) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

func (p *procHandle) Port() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port
}

// Exited reports whether the child has been reaped by the monitor.
func (p *procHandle) Exited() bool {
	select {
	case <-p.waitDone:
		return true
	default:
		return false
	}
}

func (p *procHandle) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *procHandle) markExited(err error) {
	p.mu.Lock()
	p.exitErr = err
	if p.outW != nil {
		_ = p.outW.Close()
		p.outW = nil
	}
	if p.errW != nil {
		_ = p.errW.Close()
		p.errW = nil
	}
	p.mu.Unlock()
	close(p.waitDone)
}

func (p *procHandle) signalGroup(sig syscall.Signal) {
	pid := p.PID()
	if pid > 0 {
		_ = syscall.Kill(-pid, sig)
	}
}

// terminate sends SIGTERM to the process group, waits up to grace for the
// monitor to reap the child, and escalates to SIGKILL if it is still alive.
func (p *procHandle) terminate(grace time.Duration) {
	if p.Exited() {
		return
	}
	p.signalGroup(syscall.SIGTERM)
	select {
	case <-p.waitDone:
		return
	case <-time.After(grace):
	}
	p.signalGroup(syscall.SIGKILL)
	select {
	case <-p.waitDone:
	case <-time.After(200 * time.Millisecond):
		// best-effort
	}
}

// spawn launches the agent entrypoint in its directory with the injected
// environment and starts the monitor goroutine that reaps the child.
func (m *Manager) spawn(id, dir string, port int) (*procHandle, error) {
	cmd := exec.Command("./" + agent.EntrypointName)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"FUSEAI_AGENT_ID="+id,
		"FUSEAI_PORT="+strconv.Itoa(port),
		"FUSEAI_ROOT="+m.root,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	outW, errW := m.logCfg.Writers(id)
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		_ = outW.Close()
		_ = errW.Close()
		return nil, err
	}

	h := &procHandle{
		cmd:      cmd,
		port:     port,
		waitDone: make(chan struct{}),
		outW:     outW,
		errW:     errW,
	}
	go func() {
		h.markExited(cmd.Wait())
	}()
	return h, nil
}
