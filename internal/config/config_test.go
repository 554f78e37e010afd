package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/nodestream-go/pkg/reconnect"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodestream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, "http://localhost:18101/events", cfg.Stream.URL)
	assert.Equal(t, reconnect.DefaultPolicy(), cfg.Reconnect.Policy())
	assert.Equal(t, "127.0.0.1:28104", cfg.BinaryPort.Address)
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
stream:
  url: http://node:18101/events
  handshake_timeout: 5s
  max_message_size: 65536
  strict_decoding: true
reconnect:
  initial_delay: 500ms
  max_attempts: 5
  reconnect_on_stream_error: false
binary_port:
  address: 10.0.0.1:28104
  exponential_backoff:
    coefficient: 3
    max_attempts: infinite
log:
  level: debug
server:
  http_addr: ":8080"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, "http://node:18101/events", cfg.Stream.URL)
	assert.Equal(t, 5*time.Second, cfg.Stream.HandshakeTimeout)
	assert.Equal(t, 65536, cfg.Stream.MaxMessageSize)
	assert.True(t, cfg.Stream.StrictDecoding)

	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.InitialDelay)
	assert.Equal(t, reconnect.Finite(5), cfg.Reconnect.MaxAttempts)
	assert.False(t, cfg.Reconnect.ReconnectOnStreamError)
	assert.True(t, cfg.Reconnect.RetryInitialConnect)
	assert.Equal(t, reconnect.DefaultMaxDelay, cfg.Reconnect.MaxDelay)

	assert.Equal(t, "10.0.0.1:28104", cfg.BinaryPort.Address)
	assert.Equal(t, uint64(3), cfg.BinaryPort.ExponentialBackoff.Coefficient)
	assert.False(t, cfg.BinaryPort.ExponentialBackoff.MaxAttempts.IsFinite())
	assert.Equal(t, uint16(3), cfg.BinaryPort.RequestLimit)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, DefaultGRPCAddr, cfg.Server.GRPCAddr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
stream:
  url: http://file:18101/events
`)
	t.Setenv("NODESTREAM_STREAM_URL", "http://env:18101/events")
	t.Setenv("NODESTREAM_RECONNECT_MAX_ATTEMPTS", "7")
	t.Setenv("NODESTREAM_RECONNECT_MAX_DELAY", "2m")
	t.Setenv("NODESTREAM_STREAM_TOKEN", "secret-token")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://env:18101/events", cfg.Stream.URL)
	assert.Equal(t, reconnect.Finite(7), cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Reconnect.MaxDelay)
	assert.Equal(t, "secret-token", cfg.Stream.Token)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("zero_max_attempts", func(t *testing.T) {
		_, err := Load(writeConfig(t, "reconnect:\n  max_attempts: 0\n"))
		assert.ErrorIs(t, err, reconnect.ErrInvalidMaxAttempts)
	})

	t.Run("bad_max_attempts", func(t *testing.T) {
		_, err := Load(writeConfig(t, "reconnect:\n  max_attempts: forever\n"))
		assert.Error(t, err)
	})

	t.Run("bad_duration", func(t *testing.T) {
		_, err := Load(writeConfig(t, "reconnect:\n  initial_delay: soon\n"))
		assert.Error(t, err)
	})

	t.Run("bad_binary_address", func(t *testing.T) {
		_, err := Load(writeConfig(t, "binary_port:\n  address: localhost\n"))
		assert.Error(t, err)
	})
}

func TestConfig_ClientConfig(t *testing.T) {
	cfg := Default()
	cfg.Stream.Token = "tok"
	cfg.Stream.HandshakeTimeout = time.Second
	cfg.Stream.MaxMessageSize = 4096
	cfg.Reconnect.MaxAttempts = reconnect.Finite(2)

	logger := zerolog.Nop()
	reg := prometheus.NewRegistry()
	cc := cfg.ClientConfig(&logger, reg)

	assert.Equal(t, cfg.Stream.URL, cc.URL)
	assert.Equal(t, "tok", cc.Token)
	assert.Equal(t, time.Second, cc.HandshakeTimeout)
	assert.Equal(t, 4096, cc.MaxMessageSize)
	assert.Equal(t, reconnect.Finite(2), cc.Reconnect.MaxAttempts)
	assert.Same(t, &logger, cc.Logger)
	assert.Equal(t, reg, cc.Registerer)
	assert.NoError(t, cc.Validate())
}
