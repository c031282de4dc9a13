package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMaskKey = [4]byte{0x12, 0x34, 0x56, 0x78}

func TestDecode_roundTripLengthBoundaries(t *testing.T) {
	// 0 and 125 use the 7-bit regime, 126 the 16-bit regime, 65536 the
	// 64-bit regime.
	for _, n := range []int{0, 125, 126, 65536} {
		payload := bytes.Repeat([]byte{0xAB}, n)

		encoded := EncodeMasked(OpBinary, true, testMaskKey, payload)
		fr, consumed, err := Decode(encoded, 0)

		require.NoError(t, err, "length %d", n)
		assert.Equal(t, len(encoded), consumed, "length %d", n)
		assert.True(t, fr.FIN)
		assert.Equal(t, OpBinary, fr.Opcode)
		assert.Equal(t, payload, fr.Payload, "length %d", n)
	}
}

func TestEncode_serverFramesNeverMasked(t *testing.T) {
	for _, n := range []int{0, 125, 126, 65536} {
		encoded := Encode(OpText, true, bytes.Repeat([]byte{'x'}, n))
		assert.Zero(t, encoded[1]&0x80, "MASK bit set on server frame of length %d", n)
	}
}

func TestEncode_headerLayout(t *testing.T) {
	t.Run("7-bit length", func(t *testing.T) {
		encoded := Encode(OpText, true, []byte("hi"))
		assert.Equal(t, byte(0x81), encoded[0])
		assert.Equal(t, byte(2), encoded[1])
		assert.Equal(t, []byte("hi"), encoded[2:])
	})

	t.Run("16-bit length", func(t *testing.T) {
		encoded := Encode(OpBinary, true, make([]byte, 126))
		assert.Equal(t, byte(126), encoded[1])
		assert.Equal(t, []byte{0x00, 0x7E}, encoded[2:4])
	})

	t.Run("64-bit length", func(t *testing.T) {
		encoded := Encode(OpBinary, true, make([]byte, 65536))
		assert.Equal(t, byte(127), encoded[1])
		assert.Equal(t, []byte{0, 0, 0, 0, 0, 1, 0, 0}, encoded[2:10])
	})

	t.Run("FIN clear on non-final frame", func(t *testing.T) {
		encoded := Encode(OpText, false, []byte("part"))
		assert.Zero(t, encoded[0]&0x80)
	})
}

func TestDecode_rejectsUnmaskedClientFrame(t *testing.T) {
	encoded := Encode(OpText, true, []byte("not masked"))

	_, _, err := Decode(encoded, 0)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CloseProtocolError, perr.Code)
}

func TestDecode_rejectsNonzeroRSV(t *testing.T) {
	encoded := EncodeMasked(OpText, true, testMaskKey, []byte("x"))
	encoded[0] |= 0x40 // RSV2

	_, _, err := Decode(encoded, 0)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CloseProtocolError, perr.Code)
}

func TestDecode_rejectsReservedOpcode(t *testing.T) {
	for _, op := range []byte{0x3, 0x7, 0xB, 0xF} {
		encoded := EncodeMasked(op, true, testMaskKey, nil)

		_, _, err := Decode(encoded, 0)

		var perr *ProtocolError
		require.ErrorAs(t, err, &perr, "opcode %#x", op)
		assert.Equal(t, CloseProtocolError, perr.Code)
	}
}

func TestDecode_controlFrameRules(t *testing.T) {
	t.Run("fragmented control frame rejected", func(t *testing.T) {
		encoded := EncodeMasked(OpPing, false, testMaskKey, []byte("x"))

		_, _, err := Decode(encoded, 0)

		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, CloseProtocolError, perr.Code)
	})

	t.Run("control payload over 125 bytes rejected", func(t *testing.T) {
		encoded := EncodeMasked(OpPing, true, testMaskKey, make([]byte, 126))

		_, _, err := Decode(encoded, 0)

		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, CloseProtocolError, perr.Code)
	})

	t.Run("125-byte control payload accepted", func(t *testing.T) {
		encoded := EncodeMasked(OpPong, true, testMaskKey, make([]byte, 125))

		fr, _, err := Decode(encoded, 0)
		require.NoError(t, err)
		assert.Equal(t, OpPong, fr.Opcode)
	})
}

func TestDecode_oversizePayload(t *testing.T) {
	encoded := EncodeMasked(OpBinary, true, testMaskKey, make([]byte, 64))

	_, _, err := Decode(encoded, 32)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CloseTooBig, perr.Code)
}

func TestDecode_incompleteFrames(t *testing.T) {
	full := EncodeMasked(OpBinary, true, testMaskKey, bytes.Repeat([]byte{1}, 300))

	t.Run("every prefix reports incomplete", func(t *testing.T) {
		for cut := 0; cut < len(full); cut++ {
			_, consumed, err := Decode(full[:cut], 0)
			require.ErrorIs(t, err, ErrIncomplete, "prefix length %d", cut)
			assert.Zero(t, consumed)
		}
	})

	t.Run("full buffer decodes", func(t *testing.T) {
		fr, consumed, err := Decode(full, 0)
		require.NoError(t, err)
		assert.Equal(t, len(full), consumed)
		assert.Len(t, fr.Payload, 300)
	})

	t.Run("trailing bytes left unconsumed", func(t *testing.T) {
		second := EncodeMasked(OpPing, true, testMaskKey, []byte("abc"))
		buf := append(append([]byte(nil), full...), second...)

		fr1, n1, err := Decode(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, OpBinary, fr1.Opcode)

		fr2, n2, err := Decode(buf[n1:], 0)
		require.NoError(t, err)
		assert.Equal(t, OpPing, fr2.Opcode)
		assert.Equal(t, []byte("abc"), fr2.Payload)
		assert.Equal(t, len(buf), n1+n2)
	})
}

func TestClosePayload(t *testing.T) {
	t.Run("code and reason round trip", func(t *testing.T) {
		payload := ClosePayload(CloseTooBig, "message too big")
		code, reason := ParseClosePayload(payload)
		assert.Equal(t, CloseTooBig, code)
		assert.Equal(t, "message too big", reason)
	})

	t.Run("absent code defaults to 1000", func(t *testing.T) {
		code, reason := ParseClosePayload(nil)
		assert.Equal(t, CloseNormal, code)
		assert.Empty(t, reason)
	})

	t.Run("long reason truncated to control limit", func(t *testing.T) {
		payload := ClosePayload(CloseNormal, string(bytes.Repeat([]byte{'r'}, 200)))
		assert.LessOrEqual(t, len(payload), 125)
	})
}
