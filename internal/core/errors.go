package core

import (
	"errors"

	"github.com/rmacdonaldsmith/nodestream-go/internal/eventstream"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/events"
)

// Actor errors
var (
	ErrCommandChannelClosed = errors.New("command channel closed: client actor has stopped")
	ErrAckLost              = errors.New("client actor stopped before acknowledging the command")
	ErrUnexpectedHandshake  = errors.New("unexpected handshake mid-stream")
	ErrNodeShutdown         = errors.New("node shut down")
	ErrDisconnected         = errors.New("disconnected by client")
	ErrClientClosed         = errors.New("client closed")
	ErrAlreadyStarted       = errors.New("actor already started")
)

// Reason maps a connection-ending error to a short metric label.
func Reason(err error) string {
	var derr *events.DecodingError
	var cerr *eventstream.ConnectionError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNodeShutdown):
		return "node_shutdown"
	case errors.Is(err, ErrUnexpectedHandshake):
		return "unexpected_handshake"
	case errors.Is(err, eventstream.ErrStreamExhausted):
		return "stream_exhausted"
	case errors.As(err, &derr):
		return "decoding_error"
	case errors.As(err, &cerr):
		return "transport"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	case errors.Is(err, ErrClientClosed):
		return "client_closed"
	default:
		return "other"
	}
}
