// Package config loads dapbroker's layered configuration (defaults, an
// optional YAML file named by the --config flag, env) into a typed Config
// struct, the way
// marmos91/dittofs's pkg/config package is structured: spf13/viper with an
// env prefix and AutomaticEnv, struct defaults applied after unmarshal.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is dapbroker's runtime configuration, per SPEC_FULL.md §10.
type Config struct {
	RepoRoot           string        `mapstructure:"repo_root"`
	RuntimePath        string        `mapstructure:"runtime_path"`
	EndpointEnvVar     string        `mapstructure:"endpoint_env_var"`
	DebugLogPath       string        `mapstructure:"debug_log_path"` // "0" disables
	RendezvousTimeout  time.Duration `mapstructure:"rendezvous_timeout"`
	TerminateGrace     time.Duration `mapstructure:"terminate_grace"`
	BreakpointTimeout  time.Duration `mapstructure:"breakpoint_timeout"`
	EventQueueCapacity int           `mapstructure:"event_queue_capacity"`
}

// envPrefix mirrors dittofs's DITTOFS_ convention, adapted to this module.
const envPrefix = "DAPBROKER"

// Load builds a Config from (in increasing priority): built-in defaults, an
// optional YAML file at configPath (if non-empty), and environment
// variables prefixed DAPBROKER_ (e.g. DAPBROKER_REPO_ROOT).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("endpoint_env_var", "DEBUGPY_ADAPTER_ENDPOINTS")
	v.SetDefault("rendezvous_timeout", 5*time.Second)
	v.SetDefault("terminate_grace", 2*time.Second)
	v.SetDefault("breakpoint_timeout", 30*time.Second)
	v.SetDefault("event_queue_capacity", 1024)
}

// applyDefaults fills in fields viper's binding can't default cleanly
// (values that depend on runtime state, like the working directory).
func applyDefaults(cfg *Config) {
	if cfg.RepoRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.RepoRoot = wd
		}
	}
	if cfg.RuntimePath == "" {
		cfg.RuntimePath = resolveRuntimePath(cfg.RepoRoot)
	}
	if cfg.DebugLogPath == "" {
		cfg.DebugLogPath = filepath.Join(cfg.RepoRoot, ".dapbroker", "debug.log")
	}
}

// resolveRuntimePath implements spec §6.4's fallback chain: first existing
// of a venv-style runtime under the repo root, the runtime pointed to by
// the ambient virtual-env variable, the broker's own interpreter.
func resolveRuntimePath(repoRoot string) string {
	candidates := []string{
		filepath.Join(repoRoot, ".venv", "bin", "python3"),
		filepath.Join(repoRoot, "venv", "bin", "python3"),
	}
	if venv := os.Getenv("VIRTUAL_ENV"); venv != "" {
		candidates = append(candidates, filepath.Join(venv, "bin", "python3"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	if self, err := os.Executable(); err == nil {
		return self
	}
	return ""
}

func validate(cfg *Config) error {
	if cfg.RepoRoot == "" {
		return fmt.Errorf("repo_root must be set")
	}
	if cfg.EventQueueCapacity <= 0 {
		return fmt.Errorf("event_queue_capacity must be positive")
	}
	return nil
}

// DebugLoggingDisabled reports whether DebugLogPath's special value "0"
// (spec §6.4) disables debug logging.
func (c *Config) DebugLoggingDisabled() bool {
	return c.DebugLogPath == "0"
}
