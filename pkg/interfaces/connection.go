package interfaces

// Connection is the outbound half of a client connection as seen by the
// dispatcher. Implementations must be safe for concurrent use.
type Connection interface {
	// ID returns the server-assigned connection identifier.
	ID() string

	// Send queues an event for delivery without blocking. A full buffer or a
	// closed connection is reported as an error and the event is dropped.
	Send(event any) error

	// Close closes the connection and releases its writer.
	Close() error
}
