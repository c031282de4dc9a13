// Package transport wraps TCP and TLS stream sockets behind a small Socket
// type with bounded, non-blocking-capable receive semantics. It is the lowest
// layer of the WebSocket server core; everything above it deals in Sockets,
// never in raw net.Conn handles.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// ErrWouldBlock is returned by Receive when no data arrived within the poll
// window. It signals "retry on next readiness" rather than a failure.
var ErrWouldBlock = errors.New("transport: operation would block")

// ErrClosed is returned by Send and Receive after the socket has been closed,
// either locally or by the peer.
var ErrClosed = errors.New("transport: socket closed")

// defaultPollWindow bounds how long Receive waits for data before reporting
// ErrWouldBlock when no explicit deadline is set.
const defaultPollWindow = 50 * time.Millisecond

// Socket is a thin wrapper over a stream connection (TCP or TLS). A Socket
// owns its net.Conn exclusively; concurrent Send calls must be serialized by
// the caller.
type Socket struct {
	conn       net.Conn
	pollWindow time.Duration
}

// NewSocket wraps an established connection. The poll window for Receive
// defaults to 50ms; adjust it with SetPollWindow.
//
// Parameters:
//   - conn: The established connection to wrap
//
// Returns:
//   - A Socket owning conn
func NewSocket(conn net.Conn) *Socket {
	return &Socket{
		conn:       conn,
		pollWindow: defaultPollWindow,
	}
}

// SetPollWindow sets how long Receive waits for data before returning
// ErrWouldBlock.
//
// Parameters:
//   - d: The new poll window; values <= 0 restore the default
func (s *Socket) SetPollWindow(d time.Duration) {
	if d <= 0 {
		d = defaultPollWindow
	}

	s.pollWindow = d
}

// Send writes data to the socket.
//
// Parameters:
//   - data: Bytes to write; not modified
//
// Returns:
//   - The number of bytes written
//   - An error if the write failed; ErrClosed if the socket is gone
func (s *Socket) Send(data []byte) (int, error) {
	n, err := s.conn.Write(data)
	if err != nil {
		return n, s.classify(err)
	}

	return n, nil
}

// Receive reads up to maxBytes from the socket, waiting at most the poll
// window for data to arrive. It returns ErrWouldBlock when nothing was ready,
// allowing the caller to multiplex without a dedicated blocked reader.
//
// Parameters:
//   - maxBytes: Upper bound on the number of bytes read
//
// Returns:
//   - The received bytes (nil with ErrWouldBlock when no data was ready)
//   - ErrWouldBlock, ErrClosed, a *TLSError, or another read error
func (s *Socket) Receive(maxBytes int) ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.pollWindow)); err != nil {
		return nil, s.classify(err)
	}

	buf := make([]byte, maxBytes)
	n, err := s.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}

	if err != nil {
		return nil, s.classify(err)
	}

	return nil, ErrWouldBlock
}

// SetReadDeadline sets the absolute deadline for future reads. A zero time
// clears the deadline.
func (s *Socket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the absolute deadline for future writes. A zero time
// clears the deadline.
func (s *Socket) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

// RemoteAddr returns the peer address as a string, or "" when unknown.
func (s *Socket) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}

	return ""
}

// Close closes the underlying connection. Safe to call multiple times; the
// second and later calls report ErrClosed from the runtime, which callers may
// ignore.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// classify maps low-level errors onto the transport taxonomy: timeouts become
// ErrWouldBlock, closed/reset connections become ErrClosed, TLS record or
// verification failures become *TLSError.
func (s *Socket) classify(err error) error {
	if err == nil {
		return nil
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrWouldBlock
	}

	if isTLSFailure(err) {
		return &TLSError{Op: "io", Err: err}
	}

	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return ErrClosed
	}

	return err
}

// Dial establishes a plain TCP connection to host:port within timeout.
//
// Parameters:
//   - host: Remote host name or address
//   - port: Remote TCP port
//   - timeout: Max duration for establishing the connection
//
// Returns:
//   - A connected Socket, or an error if the dial failed
func Dial(host string, port int, timeout time.Duration) (*Socket, error) {
	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.Dial("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s:%d: %w", host, port, err)
	}

	return NewSocket(conn), nil
}
