package eventstream

import (
	"errors"
	"fmt"
)

// Connection errors
var (
	ErrNotConnected          = errors.New("not connected")
	ErrAlreadyConnected      = errors.New("already connected")
	ErrInvalidHandshake      = errors.New("invalid handshake")
	ErrUnexpectedEndOfStream = errors.New("unexpected end of stream during handshake")
	ErrStreamExhausted       = errors.New("event stream exhausted")
	ErrTimeout               = errors.New("timeout")
	ErrHandshakeTimeout      = fmt.Errorf("handshake %w", ErrTimeout)
)

// ConnectionError reports a transport failure while opening or reading the
// stream. StatusCode is set when the node answered with a non-200 status.
type ConnectionError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connection to %s failed with status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
