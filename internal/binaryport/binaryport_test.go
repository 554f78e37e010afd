package binaryport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/nodestream-go/pkg/reconnect"
)

func closedAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func fastBackoff(attempts reconnect.MaxAttempts) ExponentialBackoff {
	return ExponentialBackoff{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Coefficient:  2,
		MaxAttempts:  attempts,
	}
}

func TestProxyConfig_Defaults(t *testing.T) {
	var cfg ProxyConfig
	cfg.SetDefaults()

	assert.Equal(t, DefaultProxyConfig(), cfg)
	assert.Equal(t, "127.0.0.1:28104", cfg.Address)
	assert.Equal(t, uint32(4*1024*1024), cfg.MaxMessageSize)
	assert.Equal(t, 30*time.Second, cfg.MessageTimeout)
	assert.Equal(t, 10*time.Second, cfg.ClientAccessTimeout)
	assert.Equal(t, uint16(3), cfg.RequestLimit)
	assert.Equal(t, 16, cfg.RequestBufferSize)
	assert.Equal(t, time.Second, cfg.ExponentialBackoff.InitialDelay)
	assert.Equal(t, 64*time.Second, cfg.ExponentialBackoff.MaxDelay)
	assert.Equal(t, uint64(2), cfg.ExponentialBackoff.Coefficient)
	assert.False(t, cfg.ExponentialBackoff.MaxAttempts.IsFinite())
	assert.NoError(t, cfg.Validate())
}

func TestProxyConfig_Validate(t *testing.T) {
	tests := map[string]func(*ProxyConfig){
		"missing_port":         func(c *ProxyConfig) { c.Address = "127.0.0.1" },
		"zero_message_timeout": func(c *ProxyConfig) { c.MessageTimeout = 0 },
		"zero_request_limit":   func(c *ProxyConfig) { c.RequestLimit = 0 },
		"negative_buffer":      func(c *ProxyConfig) { c.RequestBufferSize = -1 },
		"coefficient_zero":     func(c *ProxyConfig) { c.ExponentialBackoff.Coefficient = 0 },
		"max_below_initial":    func(c *ProxyConfig) { c.ExponentialBackoff.MaxDelay = time.Millisecond },
		"zero_finite_attempts": func(c *ProxyConfig) { c.ExponentialBackoff.MaxAttempts = reconnect.Finite(0) },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultProxyConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestProxyConfig_Policy(t *testing.T) {
	cfg := DefaultProxyConfig()
	cfg.ExponentialBackoff.MaxAttempts = reconnect.Finite(4)

	p := cfg.Policy()
	assert.Equal(t, 2.0, p.BackoffFactor)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 64*time.Second, p.MaxDelay)
	assert.Equal(t, reconnect.Finite(4), p.MaxAttempts)

	b := p.NewBackOff()
	got := []time.Duration{b.NextBackOff(), b.NextBackOff(), b.NextBackOff()}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, got)
	for range 10 {
		b.NextBackOff()
	}
	assert.Equal(t, 64*time.Second, b.NextBackOff())
}

func TestDial(t *testing.T) {
	t.Run("connects", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()
		go func() {
			if c, err := ln.Accept(); err == nil {
				c.Close()
			}
		}()

		conn, err := Dial(context.Background(), ProxyConfig{Address: ln.Addr().String()}, zerolog.Nop())
		require.NoError(t, err)
		conn.Close()
	})

	t.Run("gives_up_after_max_attempts", func(t *testing.T) {
		cfg := ProxyConfig{
			Address:            closedAddress(t),
			ExponentialBackoff: fastBackoff(reconnect.Finite(3)),
		}

		_, err := Dial(context.Background(), cfg, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 3 attempts")
	})

	t.Run("stops_on_context_cancel", func(t *testing.T) {
		cfg := ProxyConfig{
			Address:            closedAddress(t),
			ExponentialBackoff: fastBackoff(reconnect.Infinite()),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := Dial(ctx, cfg, zerolog.Nop())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("invalid_config", func(t *testing.T) {
		_, err := Dial(context.Background(), ProxyConfig{Address: "nope"}, zerolog.Nop())
		assert.Error(t, err)
	})
}
