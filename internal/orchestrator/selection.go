package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-dap"
)

// selectThread implements the thread-selection policy from spec §4.D.3:
// explicit id (if present in the adapter's thread list) wins; else the
// last-stopped thread; else the first thread in the list.
func (s *Session) selectThread(ctx context.Context, explicit *int) (int, error) {
	resp, err := s.client.Request(ctx, "threads", nil)
	if err != nil {
		return 0, fmt.Errorf("threads: %w", err)
	}
	var body dap.ThreadsResponseBody
	_ = jsonUnmarshalBestEffort(resp.Body, &body)
	if len(body.Threads) == 0 {
		return 0, fmt.Errorf("no threads reported by adapter")
	}

	if explicit != nil {
		for _, th := range body.Threads {
			if th.Id == *explicit {
				return th.Id, nil
			}
		}
		return 0, fmt.Errorf("selected thread not present")
	}

	if last := s.cache.LastStopped(); last != nil {
		for _, th := range body.Threads {
			if th.Id == last.ThreadId {
				return th.Id, nil
			}
		}
	}

	return body.Threads[0].Id, nil
}

// stepCommand issues next/stepIn/stepOut against the selected thread. None
// of these await a follow-up stopped event (spec §4.D.4); the caller uses
// WaitForEvent("stopped", ...) if it wants one.
func (s *Session) stepCommand(ctx context.Context, command string, explicitThread *int) error {
	threadID, err := s.selectThread(ctx, explicitThread)
	if err != nil {
		return err
	}
	_, err = s.client.Request(ctx, command, map[string]interface{}{"threadId": threadID})
	return err
}

// StepOver issues the DAP "next" command against the selected thread.
func (s *Session) StepOver(ctx context.Context, explicitThread *int) error {
	return s.stepCommand(ctx, "next", explicitThread)
}

// StepIn issues the DAP "stepIn" command against the selected thread.
func (s *Session) StepIn(ctx context.Context, explicitThread *int) error {
	return s.stepCommand(ctx, "stepIn", explicitThread)
}

// StepOut issues the DAP "stepOut" command against the selected thread.
func (s *Session) StepOut(ctx context.Context, explicitThread *int) error {
	return s.stepCommand(ctx, "stepOut", explicitThread)
}

// Continue resumes the selected thread.
func (s *Session) Continue(ctx context.Context, explicitThread *int) error {
	threadID, err := s.selectThread(ctx, explicitThread)
	if err != nil {
		return err
	}
	_, err = s.client.Request(ctx, "continue", map[string]interface{}{"threadId": threadID})
	return err
}

// LocalsResult is the output of Locals: the preferred frame's local
// variables plus the thread/frame/scope ids used to select them, so
// callers can audit the selection.
type LocalsResult struct {
	SelectedThreadId int
	SelectedFrameId  int
	SelectedScope    string
	Variables        []dap.Variable
}

// Locals implements spec §4.D.3's locals procedure: select the preferred
// thread, call stackTrace, prefer the frame matching the last-stopped
// event's frame id (else the top frame), call scopes, pick the first scope
// whose lower-cased name begins with "locals", then call variables.
func (s *Session) Locals(ctx context.Context, explicitThread *int) (*LocalsResult, error) {
	threadID, err := s.selectThread(ctx, explicitThread)
	if err != nil {
		return nil, err
	}

	stResp, err := s.client.Request(ctx, "stackTrace", map[string]interface{}{"threadId": threadID})
	if err != nil {
		return nil, fmt.Errorf("stackTrace: %w", err)
	}
	var stBody dap.StackTraceResponseBody
	_ = jsonUnmarshalBestEffort(stResp.Body, &stBody)
	if len(stBody.StackFrames) == 0 {
		return nil, fmt.Errorf("no stack frames reported by adapter")
	}

	frame := stBody.StackFrames[0]
	if last := s.cache.LastStopped(); last != nil && last.FrameId != 0 {
		for _, f := range stBody.StackFrames {
			if f.Id == last.FrameId {
				frame = f
				break
			}
		}
	}

	scResp, err := s.client.Request(ctx, "scopes", map[string]interface{}{"frameId": frame.Id})
	if err != nil {
		return nil, fmt.Errorf("scopes: %w", err)
	}
	var scBody dap.ScopesResponseBody
	_ = jsonUnmarshalBestEffort(scResp.Body, &scBody)

	var localsScope *dap.Scope
	for i := range scBody.Scopes {
		if hasLocalsPrefix(scBody.Scopes[i].Name) {
			localsScope = &scBody.Scopes[i]
			break
		}
	}
	if localsScope == nil {
		return nil, fmt.Errorf("no locals-like scope reported by adapter")
	}

	varResp, err := s.client.Request(ctx, "variables", map[string]interface{}{"variablesReference": localsScope.VariablesReference})
	if err != nil {
		return nil, fmt.Errorf("variables: %w", err)
	}
	var varBody dap.VariablesResponseBody
	_ = jsonUnmarshalBestEffort(varResp.Body, &varBody)

	return &LocalsResult{
		SelectedThreadId: threadID,
		SelectedFrameId:  frame.Id,
		SelectedScope:    localsScope.Name,
		Variables:        varBody.Variables,
	}, nil
}

func hasLocalsPrefix(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "locals")
}
