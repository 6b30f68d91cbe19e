package commands

import (
	"context"

	"github.com/spf13/cobra"
)

var localsThread int

var localsCmd = &cobra.Command{
	Use:   "locals",
	Short: "Print the preferred frame's local variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		var threadID *int
		if cmd.Flags().Changed("thread") {
			threadID = &localsThread
		}
		res, err := b.Locals(context.Background(), threadID)
		if err != nil {
			return printJSON(map[string]string{"error": err.Error()})
		}
		return printJSON(res)
	},
}

func init() {
	localsCmd.Flags().IntVar(&localsThread, "thread", 0, "thread id to inspect (defaults to the selection policy)")
	rootCmd.AddCommand(localsCmd)
}
