package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"dapbroker/internal/broker"
)

var (
	launchAdapterKind       string
	launchAdapterCommand    string
	launchAdapterArgs       []string
	launchAdapterBuildFlags string
	launchCwd               string
	launchBreakpoints       []int
	launchStopOnEntry       bool
	launchWaitForBp         bool
)

var launchCmd = &cobra.Command{
	Use:   "launch --program P",
	Short: "Launch a debuggee program and run the DAP startup handshake",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		program, err := cmd.Flags().GetString("program")
		if err != nil {
			return err
		}
		if program == "" {
			return fmt.Errorf("--program is required")
		}

		resp := b.Launch(context.Background(), broker.LaunchRequest{
			AdapterKind:       launchAdapterKind,
			AdapterCommand:    launchAdapterCommand,
			AdapterArgs:       launchAdapterArgs,
			AdapterBuildFlags: launchAdapterBuildFlags,
			Program:           program,
			Cwd:               launchCwd,
			Breakpoints:       launchBreakpoints,
			StopOnEntry:       launchStopOnEntry,
			WaitForBreakpoint: launchWaitForBp,
			BreakpointTimeout: cfg.BreakpointTimeout,
		})
		return printJSON(resp)
	},
}

func init() {
	launchCmd.Flags().String("program", "", "path to the debuggee program (repo-relative, cwd-relative, or absolute)")
	launchCmd.Flags().StringVar(&launchAdapterKind, "adapter-kind", broker.AdapterKindProcess, "adapter backend: \"process\" (spawn --adapter-command) or \"embedded-go\" (in-process delve)")
	launchCmd.Flags().StringVar(&launchAdapterCommand, "adapter-command", "", "command used to spawn the debug adapter subprocess")
	launchCmd.Flags().StringSliceVar(&launchAdapterArgs, "adapter-arg", nil, "argument to pass to the adapter command (repeatable)")
	launchCmd.Flags().StringVar(&launchAdapterBuildFlags, "adapter-build-flags", "", "go build flags for --adapter-kind=embedded-go (default \"-gcflags=all=-N -l\")")
	launchCmd.Flags().StringVar(&launchCwd, "cwd", "", "working directory for the debuggee")
	launchCmd.Flags().IntSliceVar(&launchBreakpoints, "bp", nil, "line number to break at in the program file (repeatable)")
	launchCmd.Flags().BoolVar(&launchStopOnEntry, "stop-on-entry", false, "install a synthetic line-1 breakpoint to obtain an immediate stop")
	launchCmd.Flags().BoolVar(&launchWaitForBp, "wait-for-breakpoint", false, "await the first stopped event before returning")
	rootCmd.AddCommand(launchCmd)
}
