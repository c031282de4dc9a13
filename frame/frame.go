// Package frame implements the RFC 6455 binary frame format: header bit
// layout, the 7/16/64-bit payload length regimes, client-to-server masking,
// control frame rules, and reassembly of fragmented messages. The codec is
// incremental: Decode consumes from a byte buffer and reports when more bytes
// are needed, so it composes with any partial-read strategy.
package frame

// Frame opcodes. Any other 4-bit value is a protocol error; this
// implementation defines no extensions.
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

// Close codes used by the server. CloseAbnormal is never sent on the wire
// (RFC 6455 forbids it in a close frame); it only labels disconnect events
// caused by transport failure.
const (
	CloseNormal        uint16 = 1000
	CloseGoingAway     uint16 = 1001
	CloseProtocolError uint16 = 1002
	CloseAbnormal      uint16 = 1006
	CloseTooBig        uint16 = 1009
	CloseTryAgainLater uint16 = 1013
)

const (
	finBit  byte = 0x80
	rsvBits byte = 0x70
	maskBit byte = 0x80

	// maxControlPayload is the RFC 6455 ceiling for control frame payloads.
	maxControlPayload = 125
)

// Frame is one decoded WebSocket protocol unit. Payload is already unmasked.
type Frame struct {
	FIN     bool
	Opcode  byte
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// IsControl reports whether the frame is a control frame (close/ping/pong).
func (f *Frame) IsControl() bool {
	return f.Opcode >= OpClose
}

// validOpcode reports whether op is one of the six defined opcodes.
func validOpcode(op byte) bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

// MessageType classifies a reassembled message as text or binary.
type MessageType byte

const (
	TextMessage   MessageType = MessageType(OpText)
	BinaryMessage MessageType = MessageType(OpBinary)
)

// String returns "text" or "binary".
func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is the logical unit delivered to application handlers: a fully
// reassembled text or binary payload.
type Message struct {
	Type    MessageType
	Payload []byte
}
