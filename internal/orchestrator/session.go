// Package orchestrator implements the session orchestrator (spec component
// D): the startup handshake state machine, the resilient breakpoint
// registration protocol, thread/frame selection, step/continue/locals
// orchestration, and shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-dap"

	"dapbroker/internal/cache"
	"dapbroker/internal/resolver"
	"dapbroker/internal/supervisor"
	"dapbroker/internal/transport"
)

// State is one of the 8 startup states from spec §4.D.1, plus Closed for an
// already-torn-down session.
type State string

const (
	StateNew                 State = "new"
	StateInitializing        State = "initializing"
	StateAwaitingInitialized State = "awaiting-initialized"
	StateConfiguring         State = "configuring"
	StateLaunching           State = "launching"
	StateRunning             State = "running"
	StateStopped             State = "stopped"
	StateTerminated          State = "terminated"
	StateClosed              State = "closed"
)

// Session drives one DAP session end to end. Only one Session is ever
// active in a Broker at a time (spec §3's "only one session exists at a
// time in the process").
type Session struct {
	client   *transport.Client
	adapter  supervisor.Adapter
	cache    *cache.Cache
	resolver *resolver.Resolver
	cwd      string

	mu    sync.Mutex
	state State

	breakpoints *breakpointTable
}

// New constructs a Session wrapping an already-connected transport client.
// The caller (internal/broker) is responsible for dialing the adapter via
// supervisor and constructing the transport.Client first.
func New(client *transport.Client, adapter supervisor.Adapter, res *resolver.Resolver, cwd string) *Session {
	return &Session{
		client:      client,
		adapter:     adapter,
		cache:       cache.New(),
		resolver:    res,
		cwd:         cwd,
		state:       StateNew,
		breakpoints: newBreakpointTable(),
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the session's current startup/lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cache exposes the read-only session cache for the broker/RPC layer.
func (s *Session) Cache() *cache.Cache { return s.cache }

// LaunchParams are the caller-supplied inputs to Launch (spec §6.3).
type LaunchParams struct {
	Program             string
	Cwd                 string
	Breakpoints         []int
	BreakpointsBySource map[string][]int
	StopOnEntry         bool
	WaitForBreakpoint   bool
	BreakpointTimeout   time.Duration
}

// LaunchResult reports the outcome of each phase of the startup handshake,
// per spec §4.D.1 and the seed-suite scenarios in §8.
type LaunchResult struct {
	InitializedEarly    bool
	InitializedLater    bool
	BreakpointResults   map[string]*BreakpointEntry
	ExceptionBreakpoints *BreakpointPhaseOutcome
	Stopped             *cache.StoppedEvent
	Error               string
}

// Launch runs the full startup handshake: initialize, best-effort wait for
// initialized, initial breakpoint attempt, launch+configurationDone in the
// mandated order, post-init retry, await launch response, and (if asked)
// await the first stop with a post-stop retry pass.
func (s *Session) Launch(ctx context.Context, params LaunchParams) (*LaunchResult, error) {
	result := &LaunchResult{BreakpointResults: map[string]*BreakpointEntry{}}

	s.setState(StateInitializing)
	if _, err := s.client.Request(ctx, "initialize", map[string]interface{}{
		"clientID":                     "dapbroker",
		"adapterID":                    "dapbroker",
		"supportsConfigurationDoneRequest": true,
		"linesStartAt1":                true,
		"columnsStartAt1":              true,
		"pathFormat":                   "path",
	}); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	s.setState(StateAwaitingInitialized)
	initWaitErr := s.client.WaitForInitialized(ctx, time.Second)
	result.InitializedEarly = initWaitErr == nil

	s.breakpoints.seed(params, s.programBreakpointSource(params))

	s.setState(StateConfiguring)
	excOutcome := s.registerExceptionBreakpoints(ctx, phaseInitial)
	result.ExceptionBreakpoints = excOutcome
	s.registerBreakpoints(ctx, phaseInitial)

	s.setState(StateLaunching)
	launchArgs := map[string]interface{}{
		"program":     params.Program,
		"stopOnEntry": params.StopOnEntry,
	}
	if params.Cwd != "" {
		launchArgs["cwd"] = params.Cwd
	}

	launchDone := make(chan struct {
		resp *transport.Response
		err  error
	}, 1)
	go func() {
		resp, err := s.client.Request(ctx, "launch", launchArgs)
		launchDone <- struct {
			resp *transport.Response
			err  error
		}{resp, err}
	}()

	if _, err := s.client.Request(ctx, "configurationDone", nil); err != nil {
		return nil, fmt.Errorf("configurationDone: %w", err)
	}

	if !result.InitializedEarly {
		if err := s.client.WaitForInitialized(ctx, 5*time.Second); err == nil {
			result.InitializedLater = true
			retryOutcome := s.registerExceptionBreakpoints(ctx, phasePostInit)
			result.ExceptionBreakpoints = retryOutcome
			s.registerBreakpoints(ctx, phasePostInit)
		}
	}

	launchOut := <-launchDone
	if launchOut.err != nil {
		return nil, fmt.Errorf("launch: %w", launchOut.err)
	}

	s.setState(StateRunning)

	if params.WaitForBreakpoint && s.breakpoints.anyRegistered() {
		timeout := params.BreakpointTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ev, err := s.client.WaitForEvent(ctx, "stopped", timeout)
		if err == nil {
			stopped := parseStoppedEvent(ev)
			s.cache.SetLastStopped(stopped)
			s.setState(StateStopped)
			s.registerBreakpoints(ctx, phasePostStop)
			snap := s.cache.LastStopped()
			result.Stopped = snap
		}
	}

	for k, v := range s.breakpoints.snapshot() {
		result.BreakpointResults[k] = v
	}
	return result, nil
}

// programBreakpointSource returns the breakpoint-table key used for
// params.Program's own breakpoints: the program path exactly as the caller
// supplied it, like BreakpointsBySource entries, which are keyed by their
// own source string.
func (s *Session) programBreakpointSource(params LaunchParams) string {
	return params.Program
}

// Attach parallels Launch for attaching to an already-running debuggee,
// skipping program-path resolution since attach arguments name a process,
// not a file (SPEC_FULL.md §4.D expansion).
func (s *Session) Attach(ctx context.Context, attachArgs map[string]interface{}) (*LaunchResult, error) {
	result := &LaunchResult{BreakpointResults: map[string]*BreakpointEntry{}}

	s.setState(StateInitializing)
	if _, err := s.client.Request(ctx, "initialize", map[string]interface{}{
		"clientID":                     "dapbroker",
		"adapterID":                    "dapbroker",
		"supportsConfigurationDoneRequest": true,
		"linesStartAt1":                true,
		"columnsStartAt1":              true,
		"pathFormat":                   "path",
	}); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	s.setState(StateAwaitingInitialized)
	initWaitErr := s.client.WaitForInitialized(ctx, time.Second)
	result.InitializedEarly = initWaitErr == nil

	s.setState(StateConfiguring)
	if _, err := s.client.Request(ctx, "setExceptionBreakpoints", map[string]interface{}{"filters": []string{}}); err != nil {
		return nil, fmt.Errorf("setExceptionBreakpoints: %w", err)
	}

	s.setState(StateLaunching)
	attachDone := make(chan struct {
		err error
	}, 1)
	go func() {
		_, err := s.client.Request(ctx, "attach", attachArgs)
		attachDone <- struct{ err error }{err}
	}()

	if _, err := s.client.Request(ctx, "configurationDone", nil); err != nil {
		return nil, fmt.Errorf("configurationDone: %w", err)
	}

	if !result.InitializedEarly {
		if err := s.client.WaitForInitialized(ctx, 5*time.Second); err == nil {
			result.InitializedLater = true
		}
	}

	out := <-attachDone
	if out.err != nil {
		return nil, fmt.Errorf("attach: %w", out.err)
	}
	s.setState(StateRunning)
	return result, nil
}

// Shutdown tears down the session. Idempotent: a second call on an already
// closed session is a no-op that reports "no-session" via its bool return.
func (s *Session) Shutdown(ctx context.Context) (wasActive bool, err error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false, nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	if err := s.client.Close(ctx); err != nil {
		return true, fmt.Errorf("close transport: %w", err)
	}
	return true, nil
}

// WaitForEventRaw awaits one named adapter event and returns its raw JSON
// body; a "stopped" event additionally updates the session cache, matching
// the caching waitForEvent performs on the startup path (spec §6.3:
// "caches stopped event when observed").
func (s *Session) WaitForEventRaw(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	ev, err := s.client.WaitForEvent(ctx, name, timeout)
	if err != nil {
		return nil, err
	}
	if name == "stopped" {
		s.cache.SetLastStopped(parseStoppedEvent(ev))
	}
	return ev.Body, nil
}

func parseStoppedEvent(ev *transport.Event) cache.StoppedEvent {
	var body dap.StoppedEventBody
	_ = jsonUnmarshalBestEffort(ev.Body, &body)
	var frame struct {
		FrameId int `json:"frameId"`
	}
	_ = jsonUnmarshalBestEffort(ev.Body, &frame)
	return cache.StoppedEvent{ThreadId: body.ThreadId, Reason: body.Reason, FrameId: frame.FrameId, Raw: ev.Body}
}
