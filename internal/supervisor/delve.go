package supervisor

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/go-delve/delve/pkg/gobuild"
	"github.com/go-delve/delve/service"
	"github.com/go-delve/delve/service/debugger"
	"github.com/go-delve/delve/service/rpccommon"
)

// EmbeddedGoConfig configures the in-process delve DAP server used to debug
// a Go program without spawning a subprocess adapter.
type EmbeddedGoConfig struct {
	// Program is the Go package or main file path to build and debug.
	Program string
	// BuildFlags are passed through to `go build` (e.g. "-gcflags=all=-N -l").
	BuildFlags string
	// WorkingDir is the debuggee's working directory.
	WorkingDir string
}

// EmbeddedGoAdapter runs delve's DAP server in-process (via
// service/rpccommon.NewServer), adapted from the teacher's startDelve. It
// satisfies the same Adapter interface as the subprocess-based Process, so
// the transport/orchestrator layers don't need to know which backs a
// session; unlike Process it never writes a rendezvous file because the
// listener address is already known synchronously.
type EmbeddedGoAdapter struct {
	cfg    EmbeddedGoConfig
	server *rpccommon.ServerImpl
	ln     net.Listener
	binary string

	mu       sync.Mutex
	stderr   []string
	summary  string
	exitCode int

	serveErr  error
	serveDone chan struct{}
}

// NewEmbeddedGoAdapter builds cfg.Program with delve's gobuild helper (the
// same "-gcflags=all=-N -l" discipline debug builds require) and starts a
// headless delve DAP server listening on 127.0.0.1:0.
func NewEmbeddedGoAdapter(cfg EmbeddedGoConfig) (*EmbeddedGoAdapter, error) {
	tmpBinary, err := os.CreateTemp("", "dapbroker-debuggee-*")
	if err != nil {
		return nil, fmt.Errorf("allocate debuggee binary path: %w", err)
	}
	binaryPath := tmpBinary.Name()
	_ = tmpBinary.Close()
	_ = os.Remove(binaryPath)

	buildFlags := cfg.BuildFlags
	if buildFlags == "" {
		buildFlags = "-gcflags=all=-N -l"
	}
	if err := gobuild.GoBuild(binaryPath, []string{cfg.Program}, buildFlags); err != nil {
		return nil, fmt.Errorf("build debuggee %q: %w", cfg.Program, err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = os.Remove(binaryPath)
		return nil, fmt.Errorf("listen for embedded delve DAP server: %w", err)
	}

	debuggerCfg := debugger.Config{
		WorkingDir:  cfg.WorkingDir,
		Backend:     "default",
		ExecuteKind: debugger.ExecutingGeneratedFile,
		Foreground:  false,
	}

	server := rpccommon.NewServer(&service.Config{
		Listener:    ln,
		ProcessArgs: []string{binaryPath},
		Debugger:    debuggerCfg,
		AcceptMulti: false,
		APIVersion:  2,
		DisconnectChan: make(chan struct{}),
	})

	a := &EmbeddedGoAdapter{
		cfg:       cfg,
		server:    server,
		ln:        ln,
		binary:    binaryPath,
		exitCode:  -1,
		serveDone: make(chan struct{}),
	}

	go func() {
		err := server.Run()
		a.mu.Lock()
		a.serveErr = err
		if err != nil {
			a.stderr = append(a.stderr, err.Error())
		}
		a.mu.Unlock()
		close(a.serveDone)
	}()

	return a, nil
}

// Endpoint returns the synchronously-known listener address; callers may
// use this instead of polling, unlike the rendezvous-file path.
func (a *EmbeddedGoAdapter) Endpoint() net.Addr {
	return a.ln.Addr()
}

// Connect dials the in-process delve listener directly; there is no
// rendezvous file to poll since the address was already known at
// construction time.
func (a *EmbeddedGoAdapter) Connect(ctx context.Context) (io.ReadWriteCloser, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", a.ln.Addr().String())
	if err != nil {
		return nil, fmt.Errorf("dial embedded delve DAP server: %w", err)
	}
	return conn, nil
}

// Wait blocks until the embedded server's Run() returns.
func (a *EmbeddedGoAdapter) Wait() error {
	<-a.serveDone
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.serveErr
}

// Terminate stops the embedded delve server and removes the built debuggee
// binary.
func (a *EmbeddedGoAdapter) Terminate(ctx context.Context) error {
	if err := a.server.Stop(); err != nil {
		a.mu.Lock()
		a.stderr = append(a.stderr, err.Error())
		a.mu.Unlock()
	}
	select {
	case <-a.serveDone:
	case <-ctx.Done():
	}
	_ = os.Remove(a.binary)
	return nil
}

// StderrTail returns captured server-side error lines; the embedded
// adapter has no real subprocess stderr stream, so this only ever contains
// delve's own reported errors.
func (a *EmbeddedGoAdapter) StderrTail() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.stderr...)
}

// Summary is always empty for the embedded adapter: the fatal stderr
// patterns (permission errors from a spawned subprocess) don't apply when
// delve runs in-process.
func (a *EmbeddedGoAdapter) Summary() string {
	return a.summary
}

// ExitCode is always -1 for the embedded adapter: there is no child
// process to report an exit code for.
func (a *EmbeddedGoAdapter) ExitCode() int {
	return a.exitCode
}

var _ Adapter = (*EmbeddedGoAdapter)(nil)
