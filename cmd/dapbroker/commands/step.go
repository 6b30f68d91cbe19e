package commands

import (
	"context"

	"github.com/spf13/cobra"
)

var stepThread int

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Advance the selected thread",
}

func runStep(fn func(ctx context.Context, threadID *int) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var threadID *int
		if cmd.Flags().Changed("thread") {
			threadID = &stepThread
		}
		err := fn(context.Background(), threadID)
		if err != nil {
			return printJSON(map[string]string{"error": err.Error()})
		}
		return printJSON(map[string]string{"status": "ok"})
	}
}

var stepOverCmd = &cobra.Command{
	Use:   "over",
	Short: "Step over the current line",
	RunE:  runStep(func(ctx context.Context, threadID *int) error { return b.StepOver(ctx, threadID) }),
}

var stepInCmd = &cobra.Command{
	Use:   "in",
	Short: "Step into the next call",
	RunE:  runStep(func(ctx context.Context, threadID *int) error { return b.StepIn(ctx, threadID) }),
}

var stepOutCmd = &cobra.Command{
	Use:   "out",
	Short: "Step out of the current function",
	RunE:  runStep(func(ctx context.Context, threadID *int) error { return b.StepOut(ctx, threadID) }),
}

func init() {
	for _, c := range []*cobra.Command{stepOverCmd, stepInCmd, stepOutCmd} {
		c.Flags().IntVar(&stepThread, "thread", 0, "thread id to step (defaults to the selection policy)")
		stepCmd.AddCommand(c)
	}
	rootCmd.AddCommand(stepCmd)
}
