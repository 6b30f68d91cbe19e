package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file> <line>",
	Short: "Advisory validation of a proposed breakpoint line",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var line int
		if _, err := fmt.Sscanf(args[1], "%d", &line); err != nil {
			return fmt.Errorf("invalid line number %q: %w", args[1], err)
		}
		res, err := b.ValidateBreakpointLine(args[0], line)
		if err != nil {
			return printJSON(map[string]string{"error": err.Error()})
		}
		return printJSON(res)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
