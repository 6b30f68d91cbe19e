// Package broker implements the SessionManager named in spec.md §9: the
// single value that owns the one active session and exposes the tool-layer
// operations from spec §6.3. It replaces the original system's
// module-level globals (active session, breakpoint registry, last stopped
// event, cached runtime path) with one value whose lifetime the embedding
// process controls.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dapbroker/internal/cache"
	"dapbroker/internal/orchestrator"
	"dapbroker/internal/resolver"
	"dapbroker/internal/supervisor"
	"dapbroker/internal/transport"
)

// Broker owns at most one active debugging session at a time, per spec
// §1's "the broker does not multiplex several concurrent sessions."
// Starting a new session first tears down any existing one.
type Broker struct {
	cfg Dependencies

	mu      sync.Mutex
	session *orchestrator.Session
	adapter supervisor.Adapter
}

// Dependencies carries the pieces a Broker needs to start a session, kept
// separate from per-launch parameters so the same Broker can be reused
// across many launch/shutdown cycles (e.g. from the `serve` CLI command).
type Dependencies struct {
	RepoRoot           string
	RendezvousTimeout  time.Duration
	TerminateGrace     time.Duration
	EndpointEnvVar     string
	EventQueueCapacity int
}

// New constructs a Broker with no active session.
func New(deps Dependencies) *Broker {
	return &Broker{cfg: deps}
}

// AdapterKindProcess spawns the adapter named by AdapterCommand as a
// subprocess and rendezvouses with it over the endpoint-file protocol
// (component B). AdapterKindEmbeddedGo instead runs go-delve/delve's DAP
// server in-process against a built Go binary (component B′) and ignores
// AdapterCommand/AdapterArgs entirely.
const (
	AdapterKindProcess    = "process"
	AdapterKindEmbeddedGo = "embedded-go"
)

// LaunchRequest is the CLI/RPC-facing input to Launch (spec §6.3).
type LaunchRequest struct {
	AdapterKind       string
	AdapterCommand    string
	AdapterArgs       []string
	AdapterBuildFlags string
	Program           string
	Cwd               string

	Breakpoints         []int
	BreakpointsBySource map[string][]int
	StopOnEntry         bool
	WaitForBreakpoint   bool
	BreakpointTimeout   time.Duration
}

// LaunchResponse wraps orchestrator.LaunchResult with the in-band error
// field spec §7 requires ("the broker never lets an exception escape a
// tool operation").
type LaunchResponse struct {
	*orchestrator.LaunchResult
	Error string `json:"error,omitempty"`
}

// Launch starts a new adapter (a subprocess reached through the rendezvous
// file, or the in-process embedded Go adapter), connects to it, and runs
// the full startup handshake. Any existing session is closed first (spec
// §3: "creating a new one first closes any existing one").
func (b *Broker) Launch(ctx context.Context, req LaunchRequest) *LaunchResponse {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		_, _ = b.session.Shutdown(ctx)
		b.session = nil
		b.adapter = nil
	}

	var adapter supervisor.Adapter
	switch req.AdapterKind {
	case AdapterKindEmbeddedGo:
		embedded, err := supervisor.NewEmbeddedGoAdapter(supervisor.EmbeddedGoConfig{
			Program:    req.Program,
			BuildFlags: req.AdapterBuildFlags,
			WorkingDir: req.Cwd,
		})
		if err != nil {
			return &LaunchResponse{Error: fmt.Sprintf("build embedded delve adapter: %v", err)}
		}
		adapter = embedded
	case "", AdapterKindProcess:
		proc, err := supervisor.NewProcess(supervisor.Config{
			Command:           req.AdapterCommand,
			Args:              req.AdapterArgs,
			Dir:               req.Cwd,
			EndpointEnvVar:    b.cfg.EndpointEnvVar,
			RendezvousTimeout: b.cfg.RendezvousTimeout,
			TerminateGrace:    b.cfg.TerminateGrace,
		})
		if err != nil {
			return &LaunchResponse{Error: fmt.Sprintf("spawn adapter: %v", err)}
		}
		adapter = proc
	default:
		return &LaunchResponse{Error: fmt.Sprintf("unknown adapter kind %q", req.AdapterKind)}
	}

	conn, err := adapter.Connect(ctx)
	if err != nil {
		return &LaunchResponse{Error: fmt.Sprintf("connect to adapter: %v", err)}
	}

	res, err := resolver.New(b.cfg.RepoRoot)
	if err != nil {
		return &LaunchResponse{Error: fmt.Sprintf("build resolver: %v", err)}
	}

	client := transport.NewClient(conn, adapter, transport.Config{EventQueueCapacity: b.cfg.EventQueueCapacity})
	sess := orchestrator.New(client, adapter, res, req.Cwd)

	result, err := sess.Launch(ctx, orchestrator.LaunchParams{
		Program:             req.Program,
		Cwd:                 req.Cwd,
		Breakpoints:         req.Breakpoints,
		BreakpointsBySource: req.BreakpointsBySource,
		StopOnEntry:         req.StopOnEntry,
		WaitForBreakpoint:   req.WaitForBreakpoint,
		BreakpointTimeout:   req.BreakpointTimeout,
	})
	if err != nil {
		return &LaunchResponse{Error: fmt.Sprintf("launch: %v", err)}
	}

	b.session = sess
	b.adapter = adapter
	return &LaunchResponse{LaunchResult: result}
}

// withSession runs fn against the active session, returning a structured
// "no active session" error instead of panicking when none exists.
func (b *Broker) withSession(fn func(*orchestrator.Session) (interface{}, error)) (interface{}, error) {
	b.mu.Lock()
	sess := b.session
	b.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("no active session")
	}
	return fn(sess)
}

// StepOver advances the selected thread one line, without awaiting a
// follow-up stopped event.
func (b *Broker) StepOver(ctx context.Context, threadID *int) error {
	_, err := b.withSession(func(s *orchestrator.Session) (interface{}, error) {
		return nil, s.StepOver(ctx, threadID)
	})
	return err
}

// StepIn steps into the next call on the selected thread.
func (b *Broker) StepIn(ctx context.Context, threadID *int) error {
	_, err := b.withSession(func(s *orchestrator.Session) (interface{}, error) {
		return nil, s.StepIn(ctx, threadID)
	})
	return err
}

// StepOut steps out of the current function on the selected thread.
func (b *Broker) StepOut(ctx context.Context, threadID *int) error {
	_, err := b.withSession(func(s *orchestrator.Session) (interface{}, error) {
		return nil, s.StepOut(ctx, threadID)
	})
	return err
}

// Continue resumes the selected thread.
func (b *Broker) Continue(ctx context.Context, threadID *int) error {
	_, err := b.withSession(func(s *orchestrator.Session) (interface{}, error) {
		return nil, s.Continue(ctx, threadID)
	})
	return err
}

// Locals returns the preferred frame's local variables.
func (b *Broker) Locals(ctx context.Context, threadID *int) (*orchestrator.LocalsResult, error) {
	out, err := b.withSession(func(s *orchestrator.Session) (interface{}, error) {
		return s.Locals(ctx, threadID)
	})
	if err != nil {
		return nil, err
	}
	return out.(*orchestrator.LocalsResult), nil
}

// WaitForEventResult is the structured result of waitForEvent (spec §6.3),
// caching the stopped event into the session cache when observed, the way
// the orchestrator itself does on the startup path.
type WaitForEventResult struct {
	Observed bool
	Body     []byte
}

// WaitForEvent awaits one adapter event by name and, if it is "stopped",
// caches it as the last-stopped event.
func (b *Broker) WaitForEvent(ctx context.Context, name string, timeout time.Duration) (*WaitForEventResult, error) {
	b.mu.Lock()
	sess := b.session
	b.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("no active session")
	}

	ev, err := sess.WaitForEventRaw(ctx, name, timeout)
	if err != nil {
		return nil, err
	}
	return &WaitForEventResult{Observed: true, Body: ev}, nil
}

// LastStoppedEvent returns the cached last-stopped event, or nil.
func (b *Broker) LastStoppedEvent() (*cache.StoppedEvent, error) {
	b.mu.Lock()
	sess := b.session
	b.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("no active session")
	}
	return sess.Cache().LastStopped(), nil
}

// ListBreakpoints returns a snapshot of the breakpoint registry.
func (b *Broker) ListBreakpoints() (map[string][]int, error) {
	b.mu.Lock()
	sess := b.session
	b.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("no active session")
	}
	return sess.Cache().Breakpoints(), nil
}

// SetBreakpoints registers (or, for an empty lines slice, removes) the
// breakpoints for one source on the active session, outside the startup
// handshake's phased retries (spec §6.3).
func (b *Broker) SetBreakpoints(ctx context.Context, sourcePath string, lines []int) (*orchestrator.BreakpointEntry, error) {
	out, err := b.withSession(func(s *orchestrator.Session) (interface{}, error) {
		return s.SetBreakpoints(ctx, sourcePath, lines)
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.(*orchestrator.BreakpointEntry), nil
}

// ValidateBreakpointLine is a pure advisory helper and does not require an
// active session.
func (b *Broker) ValidateBreakpointLine(path string, line int) (resolver.ValidationResult, error) {
	return resolver.ValidateBreakpointLine(path, line)
}

// ShutdownResponse matches spec §8's round-trip property:
// shutdown()=={status:"stopped"} the first time, {status:"no-session"}
// thereafter.
type ShutdownResponse struct {
	Status string `json:"status"`
}

// Shutdown tears down the active session, if any. Idempotent.
func (b *Broker) Shutdown(ctx context.Context) *ShutdownResponse {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return &ShutdownResponse{Status: "no-session"}
	}
	wasActive, err := b.session.Shutdown(ctx)
	b.session = nil
	b.adapter = nil
	if err != nil || !wasActive {
		return &ShutdownResponse{Status: "no-session"}
	}
	return &ShutdownResponse{Status: "stopped"}
}
