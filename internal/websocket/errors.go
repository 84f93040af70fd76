package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full, event dropped")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Handler-related errors
var (
	ErrHandshakeExpected = errors.New("first frame must be a handshake")
	ErrConnectionSetup   = errors.New("connection setup failed")
)
