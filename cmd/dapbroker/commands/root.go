// Package commands implements dapbroker's cobra command tree, grounded in
// marmos91/dittofs's cmd/dittofs/commands/root.go (persistent --config
// flag, Execute()/GetRootCmd() pattern) and qingjiuzys/shode's cobra usage.
package commands

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"dapbroker/internal/broker"
	"dapbroker/internal/config"
)

var (
	configPath string
	cfg        *config.Config
	b          *broker.Broker
)

var rootCmd = &cobra.Command{
	Use:   "dapbroker",
	Short: "Programmatic DAP debugging broker",
	Long: "dapbroker drives a debug adapter subprocess through the DAP\n" +
		"startup handshake and exposes launch/breakpoint/step/locals\n" +
		"operations as a small CLI, standing in for the RPC surface that\n" +
		"would otherwise expose them to an agent or editor.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		if err := setUpDebugLog(cfg); err != nil {
			return fmt.Errorf("set up debug log: %w", err)
		}
		b = broker.New(broker.Dependencies{
			RepoRoot:           cfg.RepoRoot,
			RendezvousTimeout:  cfg.RendezvousTimeout,
			TerminateGrace:     cfg.TerminateGrace,
			EndpointEnvVar:     cfg.EndpointEnvVar,
			EventQueueCapacity: cfg.EventQueueCapacity,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a dapbroker YAML config file")
}

// Execute runs the root command, printing any error to stderr and exiting
// non-zero, the way dittofs's Execute() does.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GetRootCmd exposes the root command for tests that want to invoke it
// directly rather than through Execute's os.Exit path.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// setUpDebugLog directs the standard logger per spec §6.4: "0" disables
// logging entirely, otherwise log output is appended to the configured
// path, creating its parent directory if needed.
func setUpDebugLog(cfg *config.Config) error {
	if cfg.DebugLoggingDisabled() {
		log.SetOutput(io.Discard)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DebugLogPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(cfg.DebugLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	log.SetOutput(f)
	return nil
}

func printJSON(v interface{}) error {
	enc := jsonEncoder(os.Stdout)
	return enc.Encode(v)
}
