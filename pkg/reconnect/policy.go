// Package reconnect holds the immutable policy that governs how a supervisor
// re-establishes a lost event stream.
package reconnect

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Default policy values.
const (
	DefaultBackoffFactor = 2.0
	DefaultInitialDelay  = 2 * time.Second
	DefaultMaxDelay      = 60 * time.Second
)

// Validation errors
var (
	ErrInvalidBackoffFactor = errors.New("backoff factor must be at least 1")
	ErrInvalidInitialDelay  = errors.New("initial delay must be positive")
	ErrInvalidMaxDelay      = errors.New("max delay must not be less than initial delay")
	ErrInvalidMaxAttempts   = errors.New("finite max attempts must be at least 1")
)

// MaxAttempts bounds the number of consecutive connection attempts. The zero
// value is Infinite.
type MaxAttempts struct {
	finite bool
	limit  uint64
}

// Infinite never stops retrying.
func Infinite() MaxAttempts { return MaxAttempts{} }

// Finite allows at most n consecutive attempts.
func Finite(n uint64) MaxAttempts { return MaxAttempts{finite: true, limit: n} }

func (m MaxAttempts) IsFinite() bool { return m.finite }

// Limit returns the attempt limit, or 0 for Infinite.
func (m MaxAttempts) Limit() uint64 { return m.limit }

// CanAttempt reports whether attempt number n (1-based) is permitted.
func (m MaxAttempts) CanAttempt(n uint64) bool {
	return !m.finite || m.limit >= n
}

func (m MaxAttempts) String() string {
	if !m.finite {
		return "infinite"
	}
	return strconv.FormatUint(m.limit, 10)
}

// ParseMaxAttempts accepts "infinite" (or an empty string) and decimal counts.
func ParseMaxAttempts(s string) (MaxAttempts, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "infinite") {
		return Infinite(), nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return MaxAttempts{}, fmt.Errorf("invalid max attempts %q: want \"infinite\" or a count", s)
	}
	return Finite(n), nil
}

func (m MaxAttempts) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MaxAttempts) UnmarshalText(text []byte) error {
	parsed, err := ParseMaxAttempts(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Policy decides whether and when a lost or failed connection is retried.
// A Policy is a plain value; build it once and pass it by value.
type Policy struct {
	// BackoffFactor scales the delay after each consecutive failure
	BackoffFactor float64
	InitialDelay  time.Duration
	MaxDelay      time.Duration

	// ReconnectOnStreamError retries after an established stream is lost
	ReconnectOnStreamError bool
	// RetryInitialConnect retries when the very first connect fails
	RetryInitialConnect bool

	MaxAttempts MaxAttempts
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		BackoffFactor:          DefaultBackoffFactor,
		InitialDelay:           DefaultInitialDelay,
		MaxDelay:               DefaultMaxDelay,
		ReconnectOnStreamError: true,
		RetryInitialConnect:    true,
		MaxAttempts:            Infinite(),
	}
}

// Validate checks the policy's ranges.
func (p Policy) Validate() error {
	if p.BackoffFactor < 1 || math.IsNaN(p.BackoffFactor) || math.IsInf(p.BackoffFactor, 0) {
		return ErrInvalidBackoffFactor
	}
	if p.InitialDelay <= 0 {
		return ErrInvalidInitialDelay
	}
	if p.MaxDelay < p.InitialDelay {
		return ErrInvalidMaxDelay
	}
	if p.MaxAttempts.IsFinite() && p.MaxAttempts.Limit() == 0 {
		return ErrInvalidMaxAttempts
	}
	return nil
}

// NewBackOff returns a jitter-free exponential backoff following the policy.
// The returned value is not safe for concurrent use.
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.BackoffFactor,
		MaxInterval:         p.MaxDelay,
	}
	b.Reset()
	return b
}
