package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var waitTimeout time.Duration

var waitCmd = &cobra.Command{
	Use:   "wait <event>",
	Short: "Block until the named adapter event is observed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := b.WaitForEvent(context.Background(), args[0], waitTimeout)
		if err != nil {
			return printJSON(map[string]string{"error": err.Error()})
		}
		return printJSON(res)
	},
}

func init() {
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Second, "maximum time to wait for the event")
	rootCmd.AddCommand(waitCmd)
}
