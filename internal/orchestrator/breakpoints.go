package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// phase identifies which of the three breakpoint-registration attempts
// (spec §4.D.2) is running, or phaseUpdate for a SetBreakpoints call on an
// already-running session.
type phase int

const (
	phaseInitial phase = iota
	phasePostInit
	phasePostStop
	phaseUpdate
)

func (p phase) String() string {
	switch p {
	case phaseInitial:
		return "initial"
	case phasePostInit:
		return "post-init"
	case phasePostStop:
		return "post-stop"
	case phaseUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// breakpointState is one of the 4-state model from spec §9.
type breakpointState string

const (
	bpPending  breakpointState = "pending"
	bpSent     breakpointState = "sent"
	bpVerified breakpointState = "verified"
	bpFailed   breakpointState = "failed"
)

// BreakpointAttempt records one setBreakpoints round-trip for audit, per
// spec §4.D.2: "the orchestrator records both the first attempt and (if
// retried) the second, so callers can audit."
type BreakpointAttempt struct {
	Phase   string
	Success bool
	Message string
}

// BreakpointEntry is the per-source row of the registration table.
type BreakpointEntry struct {
	SourcePath     string
	RequestedLines []int
	ResolvedPath   string
	State          breakpointState
	Attempts       []BreakpointAttempt
}

// BreakpointPhaseOutcome is the result of one exception-breakpoint
// configuration attempt.
type BreakpointPhaseOutcome struct {
	Success      bool
	Message      string
	RetrySuccess *bool
}

// breakpointTable holds every (source, lines) pair the caller asked to
// register, across the lifetime of one Launch call.
type breakpointTable struct {
	mu          sync.Mutex
	entries     map[string]*BreakpointEntry
	excAttempts []BreakpointAttempt
}

func newBreakpointTable() *breakpointTable {
	return &breakpointTable{entries: map[string]*BreakpointEntry{}}
}

// seed populates the table from LaunchParams: the program's own
// breakpoints, every BreakpointsBySource entry, and — if stopOnEntry was
// requested — a synthetic line-1 breakpoint on the program file (spec
// §4.D.2; Open Question #1: this line-1 breakpoint is never restored after
// the first stop, preserved as specified).
func (t *breakpointTable) seed(params LaunchParams, programSource string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(params.Breakpoints) > 0 {
		lines := params.Breakpoints
		if params.StopOnEntry {
			lines = append(append([]int(nil), lines...), 1)
		}
		t.entries[programSource] = &BreakpointEntry{SourcePath: programSource, RequestedLines: lines, State: bpPending}
	} else if params.StopOnEntry {
		t.entries[programSource] = &BreakpointEntry{SourcePath: programSource, RequestedLines: []int{1}, State: bpPending}
	}

	for src, lines := range params.BreakpointsBySource {
		t.entries[src] = &BreakpointEntry{SourcePath: src, RequestedLines: lines, State: bpPending}
	}
}

func (t *breakpointTable) anyRegistered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.State == bpVerified {
			return true
		}
	}
	return false
}

func (t *breakpointTable) snapshot() map[string]*BreakpointEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*BreakpointEntry, len(t.entries))
	for k, v := range t.entries {
		cp := *v
		cp.Attempts = append([]BreakpointAttempt(nil), v.Attempts...)
		out[k] = &cp
	}
	return out
}

// pendingSources returns the not-yet-verified entries' source keys in
// deterministic order.
func (t *breakpointTable) pendingSources() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for k, v := range t.entries {
		if v.State != bpVerified {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// registerBreakpoints runs one phase of the resilient registration
// protocol: every not-yet-verified source gets a fresh setBreakpoints
// attempt, resolved via the session's path resolver. A successful reply
// updates the session cache and marks the entry verified, removing it from
// later phases; a failure is recorded for audit and retried in the next
// phase.
func (s *Session) registerBreakpoints(ctx context.Context, ph phase) {
	for _, src := range s.breakpoints.pendingSources() {
		s.breakpoints.mu.Lock()
		entry := s.breakpoints.entries[src]
		s.breakpoints.mu.Unlock()
		s.attemptBreakpointEntry(ctx, entry, ph)
	}
}

func (s *Session) attemptBreakpointEntry(ctx context.Context, entry *BreakpointEntry, ph phase) {
	resolved, err := s.resolver.Resolve(s.cwd, entry.SourcePath)
	if err != nil {
		s.recordBreakpointAttempt(entry, ph, false, err.Error())
		return
	}
	entry.ResolvedPath = resolved.Path

	resp, err := s.client.Request(ctx, "setBreakpoints", map[string]interface{}{
		"source":      map[string]interface{}{"path": resolved.Path},
		"breakpoints": linesToSourceBreakpoints(entry.RequestedLines),
	})
	if err != nil {
		s.recordBreakpointAttempt(entry, ph, false, err.Error())
		return
	}
	s.recordBreakpointAttempt(entry, ph, resp.Success, resp.Message)
	if resp.Success {
		s.cache.SetBreakpoints(resolved.Path, entry.RequestedLines)
	}
}

// SetBreakpoints implements spec §6.3's setBreakpoints(source_path, lines)
// tool operation: resilient registration of one source's breakpoints on an
// already-running session, outside the startup handshake's phased retries.
// An empty lines slice removes the source from the registry (spec §3:
// "a request for zero lines removes the entry").
func (s *Session) SetBreakpoints(ctx context.Context, sourcePath string, lines []int) (*BreakpointEntry, error) {
	if len(lines) == 0 {
		resolved, err := s.resolver.Resolve(s.cwd, sourcePath)
		if err == nil {
			s.cache.SetBreakpoints(resolved.Path, nil)
		}
		s.breakpoints.mu.Lock()
		delete(s.breakpoints.entries, sourcePath)
		s.breakpoints.mu.Unlock()
		return &BreakpointEntry{SourcePath: sourcePath, State: bpVerified}, nil
	}

	s.breakpoints.mu.Lock()
	entry := &BreakpointEntry{SourcePath: sourcePath, RequestedLines: lines, State: bpPending}
	s.breakpoints.entries[sourcePath] = entry
	s.breakpoints.mu.Unlock()

	s.attemptBreakpointEntry(ctx, entry, phaseUpdate)
	if entry.State != bpVerified {
		return entry, fmt.Errorf("setBreakpoints failed: %s", entry.Attempts[len(entry.Attempts)-1].Message)
	}
	return entry, nil
}

func (s *Session) recordBreakpointAttempt(entry *BreakpointEntry, ph phase, success bool, message string) {
	s.breakpoints.mu.Lock()
	defer s.breakpoints.mu.Unlock()
	entry.Attempts = append(entry.Attempts, BreakpointAttempt{Phase: ph.String(), Success: success, Message: message})
	if success {
		entry.State = bpVerified
	} else {
		entry.State = bpFailed
		log.Printf("orchestrator: setBreakpoints for %s failed in %s phase: %s", entry.SourcePath, ph, message)
	}
}

// registerExceptionBreakpoints configures exception breakpoints (always an
// empty filter set — this broker does not expose exception-breakpoint
// selection to callers) using the same two-phase retry as regular
// breakpoints, limited to initial and post-init per spec §4.D.2.
func (s *Session) registerExceptionBreakpoints(ctx context.Context, ph phase) *BreakpointPhaseOutcome {
	resp, err := s.client.Request(ctx, "setExceptionBreakpoints", map[string]interface{}{"filters": []string{}})
	outcome := &BreakpointPhaseOutcome{}
	if err != nil {
		outcome.Message = err.Error()
	} else {
		outcome.Success = resp.Success
		outcome.Message = resp.Message
	}

	s.breakpoints.mu.Lock()
	s.breakpoints.excAttempts = append(s.breakpoints.excAttempts, BreakpointAttempt{
		Phase: ph.String(), Success: outcome.Success, Message: outcome.Message,
	})
	s.breakpoints.mu.Unlock()

	if ph == phasePostInit {
		success := outcome.Success
		outcome.RetrySuccess = &success
	}
	return outcome
}

// linesToSourceBreakpoints converts a plain line list into the
// {line: N} source-breakpoint shape setBreakpoints expects.
func linesToSourceBreakpoints(lines []int) []map[string]int {
	out := make([]map[string]int, len(lines))
	for i, l := range lines {
		out[i] = map[string]int{"line": l}
	}
	return out
}

