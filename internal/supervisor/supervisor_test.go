package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptThatWritesEndpoint returns a Config that runs a short-lived shell
// script writing a valid endpoint file once a real TCP listener is up,
// emulating a well-behaved adapter.
func scriptThatWritesEndpoint(t *testing.T, sleep string, fatalStderr string) Config {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	port := ln.Addr().(*net.TCPAddr).Port

	script := fmt.Sprintf(`
sleep %s
if [ -n "%s" ]; then echo "%s" 1>&2; fi
printf '{"client":{"host":"127.0.0.1","port":%d}}' > "$%s"
sleep 5
`, sleep, fatalStderr, fatalStderr, port, "DAPBROKER_TEST_ENV_VAR")

	return Config{
		Command:           "sh",
		Args:              []string{"-c", script},
		EndpointEnvVar:    "DAPBROKER_TEST_ENV_VAR",
		RendezvousTimeout: 2 * time.Second,
		PollInterval:      10 * time.Millisecond,
		TerminateGrace:    200 * time.Millisecond,
	}
}

func TestProcessConnectSucceeds(t *testing.T) {
	cfg := scriptThatWritesEndpoint(t, "0", "")
	p, err := NewProcess(cfg)
	require.NoError(t, err)
	defer func() { _ = p.Terminate(context.Background()) }()

	conn, err := p.Connect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)
	_ = conn.Close()
}

func TestProcessConnectTimesOutIfAdapterNeverListens(t *testing.T) {
	cfg := Config{
		Command:           "sh",
		Args:              []string{"-c", "sleep 5"},
		EndpointEnvVar:    "DAPBROKER_TEST_ENV_VAR",
		RendezvousTimeout: 150 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		TerminateGrace:    200 * time.Millisecond,
	}
	p, err := NewProcess(cfg)
	require.NoError(t, err)
	defer func() { _ = p.Terminate(context.Background()) }()

	_, err = p.Connect(context.Background())
	assert.Error(t, err)
}

func TestProcessConnectFailsFastOnEarlyExit(t *testing.T) {
	cfg := Config{
		Command:           "sh",
		Args:              []string{"-c", "echo boom 1>&2; exit 7"},
		EndpointEnvVar:    "DAPBROKER_TEST_ENV_VAR",
		RendezvousTimeout: 2 * time.Second,
		PollInterval:      10 * time.Millisecond,
	}
	p, err := NewProcess(cfg)
	require.NoError(t, err)

	_, err = p.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit code 7")
}

func TestProcessStderrSummaryCapturesFatalPattern(t *testing.T) {
	cfg := scriptThatWritesEndpoint(t, "0", "PermissionError: nope")
	p, err := NewProcess(cfg)
	require.NoError(t, err)
	defer func() { _ = p.Terminate(context.Background()) }()

	conn, err := p.Connect(context.Background())
	require.NoError(t, err)
	_ = conn.Close()

	require.Eventually(t, func() bool {
		return p.Summary() != ""
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, p.Summary(), "PermissionError")
}

func TestProcessTerminateIsIdempotentAndCleansUpRendezvous(t *testing.T) {
	cfg := scriptThatWritesEndpoint(t, "0", "")
	p, err := NewProcess(cfg)
	require.NoError(t, err)

	conn, err := p.Connect(context.Background())
	require.NoError(t, err)
	_ = conn.Close()

	require.NoError(t, p.Terminate(context.Background()))
	require.NoError(t, p.Terminate(context.Background()))

	_, statErr := os.Stat(p.rendezvousPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestEndpointFileUnmarshalsExpectedShape(t *testing.T) {
	var ep endpointFile
	require.NoError(t, json.Unmarshal([]byte(`{"client":{"host":"127.0.0.1","port":5678}}`), &ep))
	assert.Equal(t, "127.0.0.1", ep.Client.Host)
	assert.Equal(t, 5678, ep.Client.Port)
}
