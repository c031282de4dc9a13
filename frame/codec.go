package frame

import "encoding/binary"

// Decode parses one frame from the front of buf. It returns the frame and the
// number of bytes consumed, or ErrIncomplete when buf does not yet hold a
// complete frame (consumed is 0 in that case; keep the bytes and retry).
//
// Server-side rules are enforced here: RSV bits must be zero, the opcode must
// be one of the six defined values, every client frame must be masked,
// control frames must fit in 125 bytes and must not be fragmented, and the
// declared payload length must not exceed maxPayload.
//
// Parameters:
//   - buf: Raw bytes read from the peer, starting at a frame boundary
//   - maxPayload: Maximum accepted payload length for a single frame; <= 0
//     means no limit
//
// Returns:
//   - The decoded frame with its payload unmasked
//   - The number of bytes consumed from buf
//   - ErrIncomplete, a *ProtocolError, or nil
func Decode(buf []byte, maxPayload int64) (*Frame, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrIncomplete
	}

	b0, b1 := buf[0], buf[1]

	if b0&rsvBits != 0 {
		return nil, 0, protocolErr("nonzero RSV bits")
	}

	op := b0 & 0x0F
	if !validOpcode(op) {
		return nil, 0, protocolErr("reserved opcode")
	}

	fin := b0&finBit != 0
	masked := b1&maskBit != 0
	length := int64(b1 & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(buf) < offset+2 {
			return nil, 0, ErrIncomplete
		}
		length = int64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return nil, 0, ErrIncomplete
		}
		u := binary.BigEndian.Uint64(buf[offset:])
		if u>>63 != 0 {
			return nil, 0, protocolErr("negative 64-bit payload length")
		}
		length = int64(u)
		offset += 8
	}

	if op >= OpClose {
		if !fin {
			return nil, 0, protocolErr("fragmented control frame")
		}
		if length > maxControlPayload {
			return nil, 0, protocolErr("control frame payload over 125 bytes")
		}
	}

	if maxPayload > 0 && length > maxPayload {
		return nil, 0, tooBigErr("frame payload exceeds maximum")
	}

	// Masking is mandatory for client-to-server frames.
	if !masked {
		return nil, 0, protocolErr("unmasked client frame")
	}

	var key [4]byte
	if len(buf) < offset+4 {
		return nil, 0, ErrIncomplete
	}
	copy(key[:], buf[offset:offset+4])
	offset += 4

	if int64(len(buf)-offset) < length {
		return nil, 0, ErrIncomplete
	}

	payload := make([]byte, length)
	copy(payload, buf[offset:offset+int(length)])
	for i := range payload {
		payload[i] ^= key[i%4]
	}
	offset += int(length)

	return &Frame{
		FIN:     fin,
		Opcode:  op,
		Masked:  masked,
		MaskKey: key,
		Payload: payload,
	}, offset, nil
}

// Encode serializes a server-to-client frame. The MASK bit is always clear;
// servers must never mask outgoing frames.
//
// Parameters:
//   - op: Frame opcode
//   - fin: FIN flag
//   - payload: Frame payload; not modified
//
// Returns:
//   - The encoded frame bytes
func Encode(op byte, fin bool, payload []byte) []byte {
	return encode(op, fin, payload, nil)
}

// EncodeMasked serializes a client-to-server frame masked with key. The
// server core itself never sends masked frames; this exists for the client
// side of the transport and for wire-level tests.
//
// Parameters:
//   - op: Frame opcode
//   - fin: FIN flag
//   - key: 4-byte masking key XORed into the payload
//   - payload: Frame payload; not modified
//
// Returns:
//   - The encoded frame bytes
func EncodeMasked(op byte, fin bool, key [4]byte, payload []byte) []byte {
	return encode(op, fin, payload, key[:])
}

func encode(op byte, fin bool, payload []byte, key []byte) []byte {
	n := len(payload)

	headerLen := 2
	switch {
	case n > 0xFFFF:
		headerLen += 8
	case n > 125:
		headerLen += 2
	}
	if key != nil {
		headerLen += 4
	}

	out := make([]byte, headerLen+n)

	b0 := op & 0x0F
	if fin {
		b0 |= finBit
	}
	out[0] = b0

	switch {
	case n <= 125:
		out[1] = byte(n)
	case n <= 0xFFFF:
		out[1] = 126
		binary.BigEndian.PutUint16(out[2:], uint16(n))
	default:
		out[1] = 127
		binary.BigEndian.PutUint64(out[2:], uint64(n))
	}

	body := out[headerLen:]
	copy(body, payload)

	if key != nil {
		out[1] |= maskBit
		copy(out[headerLen-4:headerLen], key)
		for i := range body {
			body[i] ^= key[i%4]
		}
	}

	return out
}

// ClosePayload builds the payload of a close frame: a big-endian close code
// followed by an optional UTF-8 reason. The reason is truncated so the whole
// payload fits the 125-byte control limit.
//
// Parameters:
//   - code: Close code (e.g. 1000, 1002, 1009)
//   - reason: Optional human-readable reason
//
// Returns:
//   - The close frame payload
func ClosePayload(code uint16, reason string) []byte {
	if len(reason) > maxControlPayload-2 {
		reason = reason[:maxControlPayload-2]
	}

	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	copy(payload[2:], reason)
	return payload
}

// ParseClosePayload extracts the close code and reason from a close frame
// payload. An empty payload means no code was sent; 1000 (normal closure) is
// assumed per RFC 6455.
//
// Parameters:
//   - payload: The close frame payload
//
// Returns:
//   - The close code (1000 when absent)
//   - The reason string (may be empty)
func ParseClosePayload(payload []byte) (uint16, string) {
	if len(payload) < 2 {
		return CloseNormal, ""
	}

	return binary.BigEndian.Uint16(payload), string(payload[2:])
}
