// Package transport implements the DAP transport client: sequence numbers,
// request/response correlation, the event queue, reverse-request dispatch,
// and connection-closure propagation (spec component C).
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/go-dap"

	"dapbroker/internal/codec"
	"dapbroker/internal/supervisor"
)

// envelope is the minimal discriminator every inbound message is first
// decoded into, so the reader loop can route before fully unmarshalling
// into a concrete go-dap type.
type envelope struct {
	Seq        int    `json:"seq"`
	Type       string `json:"type"`
	Command    string `json:"command,omitempty"`
	Event      string `json:"event,omitempty"`
	RequestSeq int    `json:"request_seq,omitempty"`
	Success    bool   `json:"success,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Response is the result of a completed request, in discriminator form.
// Body is left as raw JSON so callers decode it into the specific go-dap
// *ResponseBody type the command expects (e.g. dap.ThreadsResponseBody).
type Response struct {
	Success bool
	Message string
	Body    json.RawMessage
}

type pendingResult struct {
	resp *Response
	err  error
}

// Config controls the event queue size (Open Question #2: capped,
// drop-oldest).
type Config struct {
	EventQueueCapacity int
}

// Client is the DAP transport client. One Client owns one adapter
// connection for the lifetime of a session; it is not reused across
// sessions.
type Client struct {
	conn    io.ReadWriteCloser
	writer  *codec.Writer
	adapter supervisor.Adapter

	seqMu sync.Mutex
	seq   int

	pendingMu sync.Mutex
	pending   map[int]chan pendingResult

	events *eventQueue

	initOnce sync.Once
	initCh   chan struct{}

	closeOnce sync.Once
	closedCh  chan struct{}

	termMu  sync.Mutex
	termErr *TerminalError

	readerDone chan struct{}
}

// NewClient wraps an already-connected stream (as returned by
// supervisor.Adapter.Connect) and starts the reader loop. adapter may be
// nil in tests that don't need terminal-error enrichment.
func NewClient(conn io.ReadWriteCloser, adapter supervisor.Adapter, cfg Config) *Client {
	c := &Client{
		conn:       conn,
		writer:     codec.NewWriter(conn),
		adapter:    adapter,
		pending:    make(map[int]chan pendingResult),
		events:     newEventQueue(cfg.EventQueueCapacity),
		initCh:     make(chan struct{}),
		closedCh:   make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) nextSeq() int {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seq++
	return c.seq
}

// Request allocates the next sequence number, registers a completion slot,
// writes the framed request, and awaits the reply. It fails fast if the
// transport has already closed.
func (c *Client) Request(ctx context.Context, command string, arguments interface{}) (*Response, error) {
	seq := c.nextSeq()

	ch := make(chan pendingResult, 1)
	c.pendingMu.Lock()
	if err := c.terminalErrorLocked(); err != nil {
		c.pendingMu.Unlock()
		return nil, err
	}
	c.pending[seq] = ch
	c.pendingMu.Unlock()

	out := struct {
		Seq       int         `json:"seq"`
		Type      string      `json:"type"`
		Command   string      `json:"command"`
		Arguments interface{} `json:"arguments,omitempty"`
	}{Seq: seq, Type: "request", Command: command, Arguments: arguments}

	body, err := json.Marshal(out)
	if err != nil {
		c.removePending(seq)
		return nil, fmt.Errorf("marshal %s request: %w", command, err)
	}
	if err := c.writer.WriteFrame(body); err != nil {
		c.removePending(seq)
		return nil, fmt.Errorf("write %s request: %w", command, err)
	}

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-ctx.Done():
		c.removePending(seq)
		return nil, ctx.Err()
	case <-c.closedCh:
		c.pendingMu.Lock()
		terr := c.termErr
		c.pendingMu.Unlock()
		if terr != nil {
			return nil, terr
		}
		return nil, fmt.Errorf("transport closed")
	}
}

func (c *Client) removePending(seq int) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

func (c *Client) terminalErrorLocked() error {
	c.termMu.Lock()
	defer c.termMu.Unlock()
	if c.termErr != nil {
		return c.termErr
	}
	select {
	case <-c.closedCh:
		return fmt.Errorf("transport closed")
	default:
		return nil
	}
}

// WaitForEvent consumes queued events in order until one matches name or
// timeout elapses.
func (c *Client) WaitForEvent(ctx context.Context, name string, timeout time.Duration) (*Event, error) {
	done := ctx.Done()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
		done = ctx.Done()
	}
	type result struct {
		ev Event
		ok bool
	}
	resCh := make(chan result, 1)
	go func() {
		ev, ok := c.events.popMatching(name, done)
		resCh <- result{ev, ok}
	}()

	select {
	case r := <-resCh:
		if !r.ok {
			return nil, fmt.Errorf("timed out waiting for event %q", name)
		}
		return &r.ev, nil
	case <-c.closedCh:
		return nil, fmt.Errorf("transport closed while waiting for event %q", name)
	}
}

// WaitForInitialized blocks until the initialized latch is set. It is
// idempotent: once set, every subsequent call returns immediately.
func (c *Client) WaitForInitialized(ctx context.Context, timeout time.Duration) error {
	ctxDone := ctx.Done()
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-c.initCh:
		return nil
	case <-ctxDone:
		return ctx.Err()
	case <-timer:
		return fmt.Errorf("timed out waiting for initialized event")
	case <-c.closedCh:
		return fmt.Errorf("transport closed before initialized event")
	}
}

// Close closes the writer side, waits for the reader loop to drain, and
// terminates the adapter process. Safe to call concurrently with in-flight
// requests and safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
	<-c.readerDone
	if c.adapter != nil {
		return c.adapter.Terminate(ctx)
	}
	return nil
}

// readLoop is the single task that owns the inbound byte stream: it reads
// one framed message at a time and dispatches by type.
func (c *Client) readLoop() {
	defer close(c.readerDone)
	br := bufio.NewReader(c.conn)
	for {
		raw, err := codec.ReadFrame(br)
		if err != nil {
			c.fail(err)
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("transport: discarding unparseable message: %v", err)
			continue
		}

		switch env.Type {
		case "response":
			c.handleResponse(env, raw)
		case "event":
			c.handleEvent(env, raw)
		case "request":
			c.handleReverseRequest(env, raw)
		default:
			log.Printf("transport: discarding message of unknown type %q", env.Type)
		}
	}
}

func (c *Client) handleResponse(env envelope, raw json.RawMessage) {
	var full struct {
		Body json.RawMessage `json:"body,omitempty"`
	}
	_ = json.Unmarshal(raw, &full)

	c.pendingMu.Lock()
	ch, ok := c.pending[env.RequestSeq]
	if ok {
		delete(c.pending, env.RequestSeq)
	}
	c.pendingMu.Unlock()

	if !ok {
		log.Printf("transport: response for unknown request_seq %d discarded", env.RequestSeq)
		return
	}
	ch <- pendingResult{resp: &Response{Success: env.Success, Message: env.Message, Body: full.Body}}
}

func (c *Client) handleEvent(env envelope, raw json.RawMessage) {
	var full struct {
		Body json.RawMessage `json:"body,omitempty"`
	}
	_ = json.Unmarshal(raw, &full)

	c.events.push(Event{Seq: env.Seq, Name: env.Event, Body: full.Body})
	if env.Event == "initialized" {
		c.initOnce.Do(func() { close(c.initCh) })
	}
}

// handleReverseRequest implements the adapter-initiated "request" message
// type. Only runInTerminal is supported; every other reverse command is
// refused with success:false so the adapter never blocks waiting on a
// reply it will never receive.
func (c *Client) handleReverseRequest(env envelope, raw json.RawMessage) {
	switch env.Command {
	case "runInTerminal":
		c.handleRunInTerminal(env, raw)
	default:
		c.replyReverse(env.Seq, env.Command, false,
			fmt.Sprintf("reverse request %q is not supported", env.Command), nil)
	}
}

func (c *Client) handleRunInTerminal(env envelope, raw json.RawMessage) {
	var full struct {
		Arguments dap.RunInTerminalRequestArguments `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &full); err != nil {
		c.replyReverse(env.Seq, env.Command, false, fmt.Sprintf("malformed runInTerminal arguments: %v", err), nil)
		return
	}
	args := full.Arguments
	if len(args.Args) == 0 {
		c.replyReverse(env.Seq, env.Command, false, "runInTerminal requires a non-empty args list", nil)
		return
	}

	cmd := exec.Command(args.Args[0], args.Args[1:]...)
	if args.Cwd != "" {
		cmd.Dir = args.Cwd
	}
	cmd.Env = buildEnvWithOverrides(args.Env)

	if err := cmd.Start(); err != nil {
		c.replyReverse(env.Seq, env.Command, false, fmt.Sprintf("failed to launch terminal command: %v", err), nil)
		return
	}
	// Detach: the broker does not wait on this process; the adapter owns
	// its lifecycle from here.
	go func() { _ = cmd.Wait() }()

	body := dap.RunInTerminalResponseBody{ProcessId: cmd.Process.Pid, ShellProcessId: 0}
	c.replyReverse(env.Seq, env.Command, true, "", body)
}

// buildEnvWithOverrides starts from the current process environment and
// applies overrides on top; a null-valued override removes that variable
// entirely rather than setting it to the empty string.
func buildEnvWithOverrides(overrides map[string]interface{}) []string {
	base := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				base[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range overrides {
		if v == nil {
			delete(base, k)
			continue
		}
		if s, ok := v.(string); ok {
			base[k] = s
		}
	}
	out := make([]string, 0, len(base))
	for k, v := range base {
		out = append(out, k+"="+v)
	}
	return out
}

func (c *Client) replyReverse(requestSeq int, command string, success bool, message string, body interface{}) {
	out := struct {
		Seq        int         `json:"seq"`
		Type       string      `json:"type"`
		RequestSeq int         `json:"request_seq"`
		Command    string      `json:"command"`
		Success    bool        `json:"success"`
		Message    string      `json:"message,omitempty"`
		Body       interface{} `json:"body,omitempty"`
	}{Seq: c.nextSeq(), Type: "response", RequestSeq: requestSeq, Command: command, Success: success, Message: message, Body: body}

	raw, err := json.Marshal(out)
	if err != nil {
		log.Printf("transport: failed to marshal reverse-request reply: %v", err)
		return
	}
	if err := c.writer.WriteFrame(raw); err != nil {
		log.Printf("transport: failed to send reverse-request reply: %v", err)
	}
}

// fail records the terminal error, closes the writer if still open, and
// fails every pending completion slot. Called exactly once per Client from
// the reader loop.
func (c *Client) fail(cause error) {
	snap := adapterSnapshot{running: true, exitCode: -1}
	if c.adapter != nil {
		snap.exitCode = c.adapter.ExitCode()
		snap.stderrTail = c.adapter.StderrTail()
		snap.summary = c.adapter.Summary()
		snap.running = snap.exitCode == -1
	}
	terr := newTerminalError(cause, snap)

	c.termMu.Lock()
	c.termErr = terr
	c.termMu.Unlock()

	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[int]chan pendingResult)
	c.pendingMu.Unlock()
	for _, ch := range pending {
		ch <- pendingResult{err: terr}
	}

	c.events.close()
	c.closeOnce.Do(func() { _ = c.conn.Close() })
	close(c.closedCh)
}
