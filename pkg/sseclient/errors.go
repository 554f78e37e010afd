package sseclient

import (
	"github.com/rmacdonaldsmith/nodestream-go/internal/core"
	"github.com/rmacdonaldsmith/nodestream-go/internal/eventstream"
	"github.com/rmacdonaldsmith/nodestream-go/internal/supervisor"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/events"
)

// Errors returned by Client operations. Compare with errors.Is.
var (
	// ErrNotConnected: the operation needs a live stream
	ErrNotConnected = eventstream.ErrNotConnected
	// ErrAlreadyConnected: Connect while a stream is live
	ErrAlreadyConnected = eventstream.ErrAlreadyConnected
	// ErrInvalidHandshake: the first event was not ApiVersion
	ErrInvalidHandshake = eventstream.ErrInvalidHandshake
	// ErrUnexpectedEndOfStream: the node ended the response before the handshake
	ErrUnexpectedEndOfStream = eventstream.ErrUnexpectedEndOfStream
	// ErrStreamExhausted: the node ended an established stream
	ErrStreamExhausted = eventstream.ErrStreamExhausted
	ErrTimeout         = eventstream.ErrTimeout
	// ErrHandshakeTimeout wraps ErrTimeout
	ErrHandshakeTimeout = eventstream.ErrHandshakeTimeout
	// ErrMessageTooLarge: a message exceeded Config.MaxMessageSize
	ErrMessageTooLarge = eventstream.ErrMessageTooLarge

	ErrUnexpectedHandshake  = core.ErrUnexpectedHandshake
	ErrNodeShutdown         = core.ErrNodeShutdown
	ErrCommandChannelClosed = core.ErrCommandChannelClosed
	ErrAckLost              = core.ErrAckLost
	// ErrDisconnected is delivered to waiters when Disconnect is called
	ErrDisconnected = core.ErrDisconnected
	// ErrClientClosed is delivered to waiters when the client is closed
	ErrClientClosed = core.ErrClientClosed
)

// Typed errors. Use errors.As.
type (
	ConnectionError       = eventstream.ConnectionError
	DecodingError         = events.DecodingError
	RetriesExhaustedError = supervisor.RetriesExhaustedError
)
