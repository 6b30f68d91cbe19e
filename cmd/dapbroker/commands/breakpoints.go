package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var breakpointsCmd = &cobra.Command{
	Use:   "breakpoints",
	Short: "Inspect and update the breakpoint registry",
}

var breakpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the current breakpoint registry snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		bps, err := b.ListBreakpoints()
		if err != nil {
			return printJSON(map[string]string{"error": err.Error()})
		}
		return printJSON(bps)
	},
}

var breakpointsSetCmd = &cobra.Command{
	Use:   "set <source> [line...]",
	Short: "Register breakpoints for one source on the active session",
	Long: "set replaces the breakpoint set for <source> with the given lines.\n" +
		"Calling it with no lines removes the source from the registry.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := args[0]
		lines := make([]int, 0, len(args)-1)
		for _, a := range args[1:] {
			var line int
			if _, err := fmt.Sscanf(a, "%d", &line); err != nil {
				return fmt.Errorf("invalid line number %q: %w", a, err)
			}
			lines = append(lines, line)
		}

		entry, err := b.SetBreakpoints(context.Background(), source, lines)
		if err != nil {
			return printJSON(map[string]string{"error": err.Error()})
		}
		return printJSON(entry)
	},
}

func init() {
	breakpointsCmd.AddCommand(breakpointsListCmd)
	breakpointsCmd.AddCommand(breakpointsSetCmd)
	rootCmd.AddCommand(breakpointsCmd)
}
