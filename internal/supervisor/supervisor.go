// Package supervisor spawns a debug adapter subprocess, rendezvous with it
// over a well-known endpoint file, and manages its lifecycle: stderr
// draining, graceful-then-forceful termination, and rendezvous cleanup.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// fatalPatterns are case-insensitive substrings of a stderr line that make
// it worth surfacing as the process's one-line failure summary.
var fatalPatterns = []string{
	"permissionerror",
	"operation not permitted",
}

// Adapter is the interface both the subprocess-based supervisor and the
// embedded Go adapter (delve.go) satisfy, so the transport and orchestrator
// layers are oblivious to which one backs a session.
type Adapter interface {
	// Connect blocks until the adapter is reachable and returns a
	// connected, full-duplex stream to it.
	Connect(ctx context.Context) (io.ReadWriteCloser, error)
	// Wait blocks until the adapter process exits and returns its exit
	// error (nil on a clean exit(0)).
	Wait() error
	// Terminate asks the adapter to stop, escalating to a kill if it
	// doesn't exit before ctx is done.
	Terminate(ctx context.Context) error
	// StderrTail returns up to the last 20 captured stderr lines.
	StderrTail() []string
	// Summary returns the first stderr line matching a known fatal
	// pattern, or "" if none has been seen yet.
	Summary() string
	// ExitCode returns the process exit code, or -1 if it hasn't
	// exited yet.
	ExitCode() int
}

// Config controls how a subprocess adapter is spawned and rendezvoused
// with.
type Config struct {
	// Command and Args launch the adapter. The rendezvous file path is
	// appended to the environment under EndpointEnvVar; Args are used
	// verbatim otherwise (the caller is responsible for requesting
	// 127.0.0.1:0 in whatever form the concrete adapter expects).
	Command string
	Args    []string
	Dir     string
	Env     []string

	// EndpointEnvVar names the environment variable the adapter
	// consults to learn where to write its {client:{host,port}} JSON.
	// Defaults to DEBUGPY_ADAPTER_ENDPOINTS.
	EndpointEnvVar string

	// RendezvousTimeout bounds how long Connect polls the rendezvous
	// file for non-empty contents. Defaults to 5s.
	RendezvousTimeout time.Duration
	// PollInterval is the rendezvous poll period. Defaults to 50ms.
	PollInterval time.Duration
	// TerminateGrace bounds how long Terminate waits after an
	// interrupt/terminate signal before escalating to Kill. Defaults
	// to 2s.
	TerminateGrace time.Duration
}

func (c Config) endpointEnvVar() string {
	if c.EndpointEnvVar != "" {
		return c.EndpointEnvVar
	}
	return "DEBUGPY_ADAPTER_ENDPOINTS"
}

func (c Config) rendezvousTimeout() time.Duration {
	if c.RendezvousTimeout > 0 {
		return c.RendezvousTimeout
	}
	return 5 * time.Second
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 50 * time.Millisecond
}

func (c Config) terminateGrace() time.Duration {
	if c.TerminateGrace > 0 {
		return c.TerminateGrace
	}
	return 2 * time.Second
}

// endpointFile is the JSON shape a debug adapter writes to the rendezvous
// file once it is listening.
type endpointFile struct {
	Client struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"client"`
}

// Process is a subprocess-backed Adapter: it spawns Command/Args, waits for
// the adapter to publish its TCP endpoint via a rendezvous file, and
// supervises its stderr and lifecycle.
type Process struct {
	cfg Config
	cmd *exec.Cmd

	rendezvousPath string

	mu       sync.Mutex
	stderr   []string
	summary  string
	exitCode int
	waitErr  error
	waitOnce sync.Once
	waitDone chan struct{}
}

// NewProcess spawns the adapter subprocess immediately. A world-unique
// rendezvous path is reserved by creating and then removing the file, so it
// does not exist at spawn time, and the path is exported to the child under
// cfg.EndpointEnvVar.
func NewProcess(cfg Config) (*Process, error) {
	rendezvousPath := filepath.Join(os.TempDir(), "dapbroker-endpoint-"+uuid.New().String()+".json")
	if err := os.WriteFile(rendezvousPath, nil, 0o600); err != nil {
		return nil, fmt.Errorf("create rendezvous file: %w", err)
	}
	// Adapters refuse to write an endpoint into a file that already has
	// content, but they also expect the path to not exist yet in some
	// implementations; truncate-and-remove reconciles both expectations.
	if err := os.Remove(rendezvousPath); err != nil {
		return nil, fmt.Errorf("reset rendezvous file: %w", err)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	env := append(os.Environ(), cfg.Env...)
	env = append(env, cfg.endpointEnvVar()+"="+rendezvousPath)
	cmd.Env = env

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attach stderr pipe: %w", err)
	}
	cmd.Stdout = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start adapter %q: %w", cfg.Command, err)
	}

	p := &Process{
		cfg:            cfg,
		cmd:            cmd,
		rendezvousPath: rendezvousPath,
		exitCode:       -1,
		waitDone:       make(chan struct{}),
	}
	go p.drainStderr(stderrPipe)
	go p.waitProcess()
	return p, nil
}

// drainStderr is the background task that tails the adapter's stderr,
// keeping a bounded ring of the most recent 20 lines and latching the first
// line that matches a known fatal pattern.
func (p *Process) drainStderr(r io.Reader) {
	buf := make([]byte, 4096)
	var partial strings.Builder
	for {
		n, err := r.Read(buf)
		if n > 0 {
			partial.Write(buf[:n])
			for {
				s := partial.String()
				idx := strings.IndexByte(s, '\n')
				if idx < 0 {
					break
				}
				line := strings.TrimRight(s[:idx], "\r")
				p.recordStderrLine(line)
				partial.Reset()
				partial.WriteString(s[idx+1:])
			}
		}
		if err != nil {
			if rest := strings.TrimRight(partial.String(), "\r\n"); rest != "" {
				p.recordStderrLine(rest)
			}
			return
		}
	}
}

func (p *Process) recordStderrLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stderr = append(p.stderr, line)
	if len(p.stderr) > 20 {
		p.stderr = p.stderr[len(p.stderr)-20:]
	}
	if p.summary == "" {
		lower := strings.ToLower(line)
		for _, pat := range fatalPatterns {
			if strings.Contains(lower, pat) {
				p.summary = line
				break
			}
		}
	}
}

func (p *Process) waitProcess() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
		if ws, ok := p.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			// ExitCode reports -1 for a signaled process; use the shell
			// convention 128+signal (e.g. 137 for SIGKILL) instead.
			p.exitCode = 128 + int(ws.Signal())
		}
	}
	p.mu.Unlock()
	close(p.waitDone)
}

// Connect polls the rendezvous file, races it against process exit, and
// dials the published TCP endpoint once the file is non-empty.
func (p *Process) Connect(ctx context.Context) (io.ReadWriteCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.rendezvousTimeout())
	defer cancel()

	ticker := time.NewTicker(p.cfg.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-p.waitDone:
			p.mu.Lock()
			code := p.exitCode
			tail := append([]string(nil), p.stderr...)
			p.mu.Unlock()
			return nil, fmt.Errorf("adapter exited before publishing endpoint (exit code %d); stderr tail: %s",
				code, strings.Join(tail, " | "))
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for adapter rendezvous file %s: %w", p.rendezvousPath, ctx.Err())
		case <-ticker.C:
			data, err := os.ReadFile(p.rendezvousPath)
			if err != nil || len(data) == 0 {
				continue
			}
			var ep endpointFile
			if err := json.Unmarshal(data, &ep); err != nil {
				return nil, fmt.Errorf("malformed adapter endpoint file: %w", err)
			}
			if ep.Client.Host == "" || ep.Client.Port == 0 {
				return nil, fmt.Errorf("adapter endpoint file missing client.host/client.port")
			}
			conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", ep.Client.Host, ep.Client.Port))
			if err != nil {
				return nil, fmt.Errorf("dial adapter endpoint %s:%d: %w", ep.Client.Host, ep.Client.Port, err)
			}
			_ = os.Remove(p.rendezvousPath)
			return conn, nil
		}
	}
}

// Wait blocks until the adapter process exits.
func (p *Process) Wait() error {
	<-p.waitDone
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Terminate asks the adapter to exit, escalating to Kill after the
// configured grace period.
func (p *Process) Terminate(ctx context.Context) error {
	_ = p.cmd.Process.Signal(os.Interrupt)

	grace := p.cfg.terminateGrace()
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.waitDone:
	case <-timer.C:
		_ = p.cmd.Process.Kill()
		<-p.waitDone
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		<-p.waitDone
	}
	_ = os.Remove(p.rendezvousPath)
	return nil
}

// StderrTail returns up to the last 20 stderr lines captured so far.
func (p *Process) StderrTail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.stderr...)
}

// Summary returns the first stderr line matched against a known fatal
// pattern, or "" if none matched yet.
func (p *Process) Summary() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary
}

// ExitCode returns the process's exit code, or -1 if it hasn't exited.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}
