package logstream

import (
	"errors"
	"fmt"
)

var (
	// ErrSetup marks a client-side failure that reconnecting cannot fix,
	// such as an unusable API base URL.
	ErrSetup = errors.New("logstream: setup failed")

	// ErrExhaustedRetries is reported once the reconnect budget is spent.
	ErrExhaustedRetries = errors.New("logstream: reconnect attempts exhausted")

	// ErrStreamClosed is returned when the server ends the stream before a
	// complete event.
	ErrStreamClosed = errors.New("logstream: stream closed by server")
)

// ParseError is a malformed event payload. It never leaves the client.
type ParseError struct {
	Event string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("logstream: malformed %q payload: %v", e.Event, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// TransportError is a dropped or refused connection.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("logstream: stream responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("logstream: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
