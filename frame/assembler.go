package frame

// Assembler reassembles fragmented messages for one connection. Data frames
// are pushed in arrival order; when a FIN frame completes a message the
// assembled Message is returned and the accumulator resets. Control frames
// must not be pushed here; they are handled out of band and never
// participate in fragmentation.
//
// An Assembler is not safe for concurrent use; each connection owns one.
type Assembler struct {
	maxMessage int64

	opcode  byte
	buf     []byte
	started bool
}

// NewAssembler creates an Assembler enforcing maxMessage as the ceiling for
// the accumulated payload across all fragments. maxMessage <= 0 disables the
// limit.
//
// Parameters:
//   - maxMessage: Maximum accumulated message size in bytes
//
// Returns:
//   - A new Assembler
func NewAssembler(maxMessage int64) *Assembler {
	return &Assembler{maxMessage: maxMessage}
}

// Push feeds one data frame into the accumulator.
//
// Parameters:
//   - f: A text, binary, or continuation frame
//
// Returns:
//   - The completed Message when f carried FIN for the current message, nil otherwise
//   - A *ProtocolError on interleaving violations or when the accumulated
//     size exceeds the maximum (close code 1009)
func (a *Assembler) Push(f *Frame) (*Message, error) {
	switch f.Opcode {
	case OpText, OpBinary:
		if a.started {
			return nil, protocolErr("new data frame while message in progress")
		}

		if f.FIN {
			if a.overLimit(int64(len(f.Payload))) {
				return nil, tooBigErr("message exceeds maximum size")
			}

			return &Message{Type: MessageType(f.Opcode), Payload: f.Payload}, nil
		}

		a.started = true
		a.opcode = f.Opcode
		a.buf = append(a.buf[:0], f.Payload...)

		if a.overLimit(int64(len(a.buf))) {
			a.Reset()
			return nil, tooBigErr("message exceeds maximum size")
		}

		return nil, nil

	case OpContinuation:
		if !a.started {
			return nil, protocolErr("continuation frame without initial frame")
		}

		a.buf = append(a.buf, f.Payload...)
		if a.overLimit(int64(len(a.buf))) {
			a.Reset()
			return nil, tooBigErr("message exceeds maximum size")
		}

		if !f.FIN {
			return nil, nil
		}

		msg := &Message{Type: MessageType(a.opcode), Payload: append([]byte(nil), a.buf...)}
		a.Reset()
		return msg, nil

	default:
		return nil, protocolErr("control frame pushed into assembler")
	}
}

// InProgress reports whether a fragmented message is being accumulated.
func (a *Assembler) InProgress() bool {
	return a.started
}

// Reset discards any partially accumulated message.
func (a *Assembler) Reset() {
	a.started = false
	a.opcode = 0
	a.buf = a.buf[:0]
}

func (a *Assembler) overLimit(n int64) bool {
	return a.maxMessage > 0 && n > a.maxMessage
}
