package wsserver

import (
	"errors"
	"fmt"
)

// ErrUnknownClient is returned by Send and Disconnect when the id is not in
// the registry (never connected, or already disconnected).
var ErrUnknownClient = errors.New("wsserver: unknown client id")

// ErrNotRunning is returned by operations that require a running server.
var ErrNotRunning = errors.New("wsserver: server not running")

// ErrAlreadyRunning is returned by Start when the server is not stopped.
var ErrAlreadyRunning = errors.New("wsserver: server already running")

// ClientStateError is returned when an operation needs the connection in a
// different lifecycle state (e.g. sending on a closing connection).
type ClientStateError struct {
	ID    uint32
	State State
}

// Error implements the error interface.
func (e *ClientStateError) Error() string {
	return fmt.Sprintf("wsserver: client %d is %s", e.ID, e.State)
}
