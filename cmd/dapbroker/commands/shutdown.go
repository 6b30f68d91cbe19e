package commands

import (
	"context"

	"github.com/spf13/cobra"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Tear down the active session, if any",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(b.Shutdown(context.Background()))
	},
}

func init() {
	rootCmd.AddCommand(shutdownCmd)
}
