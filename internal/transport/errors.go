package transport

import (
	"fmt"
	"strings"
)

// adapterSnapshot is a defensive copy of everything the terminal-error
// formatter needs from the adapter process, taken once at failure time so
// formatting never races a still-running stderr drainer.
type adapterSnapshot struct {
	running    bool
	exitCode   int
	stderrTail []string
	summary    string
}

// TerminalError is returned to every pending and subsequent request once
// the transport's reader loop observes an unrecoverable failure (EOF, I/O
// error, framing error, JSON error). It carries enough context — per spec
// §4.C — for a caller to distinguish normal-exit, crash-exit, and
// connection-closed cases without re-querying the adapter.
type TerminalError struct {
	Cause      error
	snapshot   adapterSnapshot
	probableCause string
}

func (e *TerminalError) Error() string {
	var b strings.Builder
	b.WriteString("dap transport closed: ")
	if e.Cause != nil {
		b.WriteString(e.Cause.Error())
	} else {
		b.WriteString("connection closed")
	}
	b.WriteString("; probable cause: ")
	b.WriteString(e.probableCause)
	if e.snapshot.running {
		b.WriteString("; adapter process still running")
	} else {
		b.WriteString(fmt.Sprintf("; adapter exit code %d", e.snapshot.exitCode))
	}
	tail := e.snapshot.stderrTail
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	if len(tail) > 0 {
		b.WriteString("; stderr tail: ")
		b.WriteString(strings.Join(tail, " | "))
	}
	if e.snapshot.summary != "" {
		b.WriteString("; summary: ")
		b.WriteString(e.snapshot.summary)
	}
	return b.String()
}

func (e *TerminalError) Unwrap() error { return e.Cause }

// newTerminalError classifies cause against the adapter's observed state
// into one of three probable causes: normal exit before a breakpoint was
// hit, a crash, or a connection that closed for an unrelated reason (e.g.
// the broker itself called Close).
func newTerminalError(cause error, snap adapterSnapshot) *TerminalError {
	probable := "connection closed unexpectedly"
	switch {
	case !snap.running && snap.exitCode == 0:
		probable = "adapter/debuggee exited normally, likely before any breakpoint was hit"
	case !snap.running && snap.exitCode > 0:
		probable = fmt.Sprintf("adapter/debuggee crashed or was signaled (exit code %d)", snap.exitCode)
	case snap.running:
		probable = "adapter is still running; connection was closed independently (e.g. explicit shutdown)"
	}
	return &TerminalError{Cause: cause, snapshot: snap, probableCause: probable}
}
