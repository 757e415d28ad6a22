package logstream

import "context"

// Event is one named message received on the stream
type Event struct {
	Name string
	Data []byte
}

// Transport opens the push connection for a correlation ID.
//
// Stream blocks until the connection ends. onOpen is called once the server
// has accepted the connection and onEvent for each event, in order. A nil
// return means the server closed the stream; cancellation of ctx closes it
// from the client side.
type Transport interface {
	Stream(ctx context.Context, correlationID string, onOpen func(), onEvent func(Event)) error
}
