package binaryport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Dial connects to the binary port, retrying with the configured exponential
// backoff until a connection is made, the attempts run out or ctx ends.
func Dial(ctx context.Context, cfg ProxyConfig, logger zerolog.Logger) (net.Conn, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: cfg.ClientAccessTimeout}
	var attempt uint64

	opts := []backoff.RetryOption{
		backoff.WithBackOff(cfg.Policy().NewBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn().Err(err).
				Str("address", cfg.Address).
				Uint64("attempt", attempt).
				Dur("delay", next).
				Msg("Binary port dial failed, retrying")
		}),
	}
	if limit := cfg.ExponentialBackoff.MaxAttempts; limit.IsFinite() {
		opts = append(opts, backoff.WithMaxTries(uint(limit.Limit())))
	}

	conn, err := backoff.Retry(ctx, func() (net.Conn, error) {
		attempt++
		return dialer.DialContext(ctx, "tcp", cfg.Address)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to binary port %s after %d attempts: %w", cfg.Address, attempt, err)
	}

	logger.Info().Str("address", cfg.Address).Uint64("attempt", attempt).Msg("Connected to binary port")
	return conn, nil
}
