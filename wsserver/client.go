package wsserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-websocket/frame"
	"github.com/cyberinferno/go-websocket/transport"
)

// State is a connection's lifecycle position. Transitions only move forward:
// Connecting, Handshaking, Open, Closing, Closed.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateOpen
	StateClosing
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// maxFragmentSize is the threshold above which outgoing messages are split
// into continuation frames.
const maxFragmentSize = 64 << 10

// writeTimeout bounds any single frame write so one stalled peer cannot hold
// a broadcast hostage.
const writeTimeout = 10 * time.Second

// Client is one server-side connection: the socket, its lifecycle state, the
// inbound spill buffer for frames spanning multiple reads, and the
// fragmented-message accumulator. A Client is in the server's registry if and
// only if its state is Open.
type Client struct {
	id         uint32
	sock       *transport.Socket
	remoteAddr string

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos of last inbound traffic
	pingSentAt   atomic.Int64 // unix nanos of the last unanswered ping, 0 when none

	// inbound holds bytes read but not yet decoded. Touched only by the
	// connection's read goroutine.
	inbound []byte
	asm     *frame.Assembler

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// newClient wraps a handshake-completed socket. State starts at Connecting;
// the server advances it as the handshake proceeds.
func newClient(id uint32, sock *transport.Socket, maxMessage int64) *Client {
	c := &Client{
		id:         id,
		sock:       sock,
		remoteAddr: sock.RemoteAddr(),
		asm:        frame.NewAssembler(maxMessage),
	}
	c.state.Store(int32(StateConnecting))
	c.touch()
	return c
}

// ID returns the connection's registry identifier.
func (c *Client) ID() uint32 {
	return c.id
}

// RemoteAddr returns the peer address captured at accept time.
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// State returns the connection's current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// LastActivity returns the time of the last inbound traffic on this
// connection.
func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// touch records inbound activity now.
func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// SendText writes payload as one text message, fragmenting above threshold.
//
// Parameters:
//   - payload: UTF-8 text bytes
//
// Returns:
//   - An error if the connection is not open or the write failed
func (c *Client) SendText(payload []byte) error {
	return c.sendMessage(frame.OpText, payload)
}

// SendBinary writes payload as one binary message, fragmenting above
// threshold.
//
// Parameters:
//   - payload: Binary payload bytes
//
// Returns:
//   - An error if the connection is not open or the write failed
func (c *Client) SendBinary(payload []byte) error {
	return c.sendMessage(frame.OpBinary, payload)
}

func (c *Client) sendMessage(op byte, payload []byte) error {
	if s := c.State(); s != StateOpen {
		return &ClientStateError{ID: c.id, State: s}
	}

	if len(payload) <= maxFragmentSize {
		return c.writeFrame(op, true, payload)
	}

	for offset := 0; offset < len(payload); offset += maxFragmentSize {
		end := offset + maxFragmentSize
		if end > len(payload) {
			end = len(payload)
		}

		frameOp := frame.OpContinuation
		if offset == 0 {
			frameOp = op
		}

		if err := c.writeFrame(frameOp, end == len(payload), payload[offset:end]); err != nil {
			return err
		}
	}

	return nil
}

// Ping sends a ping frame and records the send time so the keepalive sweep
// can detect a missing pong.
//
// Parameters:
//   - payload: Optional ping payload (<= 125 bytes)
//
// Returns:
//   - An error if the write failed
func (c *Client) Ping(payload []byte) error {
	if err := c.writeFrame(frame.OpPing, true, payload); err != nil {
		return err
	}

	c.pingSentAt.CompareAndSwap(0, time.Now().UnixNano())
	return nil
}

// pong answers a peer ping. It is written immediately under the write lock,
// so it goes out ahead of any message the application sends afterwards.
func (c *Client) pong(payload []byte) error {
	return c.writeFrame(frame.OpPong, true, payload)
}

// notePong clears the outstanding-ping marker and refreshes activity.
func (c *Client) notePong() {
	c.pingSentAt.Store(0)
	c.touch()
}

// pongOverdue reports whether a ping sent before now-grace is still
// unanswered.
func (c *Client) pongOverdue(grace time.Duration) bool {
	sent := c.pingSentAt.Load()
	return sent != 0 && time.Since(time.Unix(0, sent)) > grace
}

// writeClose sends a close frame with the given code and moves the state to
// Closing. Best effort; the caller force-closes the socket regardless.
func (c *Client) writeClose(code uint16, reason string) error {
	if s := c.State(); s == StateClosed {
		return &ClientStateError{ID: c.id, State: s}
	}

	c.setState(StateClosing)
	return c.writeFrame(frame.OpClose, true, frame.ClosePayload(code, reason))
}

// writeFrame serializes and writes one frame. Writes are serialized by the
// write mutex and bounded by the write timeout.
func (c *Client) writeFrame(op byte, fin bool, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.sock.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	_, err := c.sock.Send(frame.Encode(op, fin, payload))
	return err
}

// closeSocket closes the underlying socket exactly once and marks the client
// Closed.
func (c *Client) closeSocket() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		_ = c.sock.Close()
	})
}

// ClientInfo is the read-only connection view returned by Server.Clients.
type ClientInfo struct {
	ID           uint32
	RemoteAddr   string
	State        State
	LastActivity time.Time
}

// info snapshots the client for external callers.
func (c *Client) info() ClientInfo {
	return ClientInfo{
		ID:           c.id,
		RemoteAddr:   c.remoteAddr,
		State:        c.State(),
		LastActivity: c.LastActivity(),
	}
}
