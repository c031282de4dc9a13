package frame

import (
	"errors"
	"fmt"
)

// ErrIncomplete is reported by Decode when the buffer does not yet hold a
// full frame. The caller buffers the bytes and retries after the next read.
var ErrIncomplete = errors.New("frame: incomplete frame")

// ProtocolError describes a frame that violates RFC 6455. Code is the close
// code the server should send before dropping the connection: 1002 for
// protocol violations, 1009 for oversized payloads.
type ProtocolError struct {
	Code   uint16
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("frame: protocol error %d: %s", e.Code, e.Reason)
}

func protocolErr(reason string) *ProtocolError {
	return &ProtocolError{Code: CloseProtocolError, Reason: reason}
}

func tooBigErr(reason string) *ProtocolError {
	return &ProtocolError{Code: CloseTooBig, Reason: reason}
}
