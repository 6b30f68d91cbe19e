package commands

import (
	"context"

	"github.com/spf13/cobra"
)

var continueThread int

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Resume the selected thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		var threadID *int
		if cmd.Flags().Changed("thread") {
			threadID = &continueThread
		}
		if err := b.Continue(context.Background(), threadID); err != nil {
			return printJSON(map[string]string{"error": err.Error()})
		}
		return printJSON(map[string]string{"status": "ok"})
	},
}

func init() {
	continueCmd.Flags().IntVar(&continueThread, "thread", 0, "thread id to resume (defaults to the selection policy)")
	rootCmd.AddCommand(continueCmd)
}
