package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "DEBUGPY_ADAPTER_ENDPOINTS", cfg.EndpointEnvVar)
	assert.NotEmpty(t, cfg.RepoRoot)
	assert.Equal(t, 1024, cfg.EventQueueCapacity)
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("DAPBROKER_ENDPOINT_ENV_VAR", "CUSTOM_ENDPOINT_VAR")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM_ENDPOINT_VAR", cfg.EndpointEnvVar)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dapbroker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("repo_root: "+dir+"\nevent_queue_capacity: 5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.RepoRoot)
	assert.Equal(t, 5, cfg.EventQueueCapacity)
}

func TestDebugLoggingDisabledSentinel(t *testing.T) {
	cfg := &Config{DebugLogPath: "0"}
	assert.True(t, cfg.DebugLoggingDisabled())
	cfg.DebugLogPath = "/tmp/x.log"
	assert.False(t, cfg.DebugLoggingDisabled())
}
