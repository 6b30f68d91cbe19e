package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dapbroker/internal/broker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Read newline-delimited JSON commands from stdin against one long-lived broker",
	Long: "serve keeps a single Broker alive for the process lifetime, reading one\n" +
		"JSON command object per line from stdin and writing one JSON response\n" +
		"object per line to stdout. This is the mode a test suite or an\n" +
		"embedding process should use; the other subcommands each start a\n" +
		"fresh process and cannot share session state across invocations.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveLoop(cmd.Context(), os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serveCommand is the wire shape of one line of stdin input. args is
// re-decoded per op since each operation takes a different shape.
type serveCommand struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args"`
}

func serveLoop(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd serveCommand
		if err := json.Unmarshal(line, &cmd); err != nil {
			_ = enc.Encode(map[string]string{"error": fmt.Sprintf("malformed command: %v", err)})
			continue
		}
		resp := dispatchServeCommand(ctx, cmd)
		_ = enc.Encode(resp)
	}
	return scanner.Err()
}

func dispatchServeCommand(ctx context.Context, cmd serveCommand) interface{} {
	switch cmd.Op {
	case "launch":
		var req broker.LaunchRequest
		if err := json.Unmarshal(cmd.Args, &req); err != nil {
			return map[string]string{"error": err.Error()}
		}
		if req.BreakpointTimeout == 0 {
			req.BreakpointTimeout = cfg.BreakpointTimeout
		}
		return b.Launch(ctx, req)
	case "setBreakpoints":
		var args struct {
			Source string `json:"source"`
			Lines  []int  `json:"lines"`
		}
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return map[string]string{"error": err.Error()}
		}
		entry, err := b.SetBreakpoints(ctx, args.Source, args.Lines)
		if err != nil {
			return map[string]string{"error": err.Error()}
		}
		return entry
	case "listBreakpoints":
		bps, err := b.ListBreakpoints()
		if err != nil {
			return map[string]string{"error": err.Error()}
		}
		return bps
	case "validate":
		var args struct {
			Path string `json:"path"`
			Line int    `json:"line"`
		}
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return map[string]string{"error": err.Error()}
		}
		res, err := b.ValidateBreakpointLine(args.Path, args.Line)
		if err != nil {
			return map[string]string{"error": err.Error()}
		}
		return res
	case "stepOver", "stepIn", "stepOut", "continue":
		var args struct {
			Thread *int `json:"thread"`
		}
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return map[string]string{"error": err.Error()}
		}
		if err := dispatchThreadOp(ctx, cmd.Op, args.Thread); err != nil {
			return map[string]string{"error": err.Error()}
		}
		return map[string]string{"status": "ok"}
	case "locals":
		var args struct {
			Thread *int `json:"thread"`
		}
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return map[string]string{"error": err.Error()}
		}
		res, err := b.Locals(ctx, args.Thread)
		if err != nil {
			return map[string]string{"error": err.Error()}
		}
		return res
	case "wait":
		var args struct {
			Event   string        `json:"event"`
			Timeout time.Duration `json:"timeout"`
		}
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return map[string]string{"error": err.Error()}
		}
		if args.Timeout == 0 {
			args.Timeout = 30 * time.Second
		}
		res, err := b.WaitForEvent(ctx, args.Event, args.Timeout)
		if err != nil {
			return map[string]string{"error": err.Error()}
		}
		return res
	case "shutdown":
		return b.Shutdown(ctx)
	default:
		return map[string]string{"error": fmt.Sprintf("unknown op %q", cmd.Op)}
	}
}

func dispatchThreadOp(ctx context.Context, op string, threadID *int) error {
	switch op {
	case "stepOver":
		return b.StepOver(ctx, threadID)
	case "stepIn":
		return b.StepIn(ctx, threadID)
	case "stepOut":
		return b.StepOut(ctx, threadID)
	case "continue":
		return b.Continue(ctx, threadID)
	default:
		return fmt.Errorf("unknown thread op %q", op)
	}
}
