// Package handshake implements the RFC 6455 opening handshake on the server
// side: it reads the raw HTTP upgrade request from a freshly accepted socket,
// validates it, and writes the 101 Switching Protocols response. A failed
// handshake is invisible to application code; the caller just closes the
// socket.
package handshake

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cyberinferno/go-websocket/transport"
)

// guid is the fixed RFC 6455 key-derivation suffix.
const guid = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// supportedVersion is the only Sec-WebSocket-Version this server speaks.
const supportedVersion = "13"

// Limits bounds how much a peer may send before completing the handshake.
type Limits struct {
	// Timeout is the total budget for receiving the full request. It is an
	// absolute deadline from the first read, so a peer drip-feeding bytes
	// cannot keep the handshake alive indefinitely.
	Timeout time.Duration
	// MaxHeaderBytes caps the size of the request head (request line plus
	// headers plus terminator).
	MaxHeaderBytes int
}

// DefaultLimits returns the limits used when the caller passes zero values:
// 10s timeout, 8KiB header cap.
func DefaultLimits() Limits {
	return Limits{
		Timeout:        10 * time.Second,
		MaxHeaderBytes: 8 << 10,
	}
}

// Error describes a rejected handshake. Status carries the HTTP status code
// written back to the peer before closing (0 when nothing was written, e.g.
// on a read timeout).
type Error struct {
	Status int
	Reason string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("handshake: %s", e.Reason)
}

// Request is the parsed, validated upgrade request.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	// Key is the client's Sec-WebSocket-Key value.
	Key string
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key:
// base64(SHA1(key + guid)).
//
// Parameters:
//   - key: The Sec-WebSocket-Key header value
//
// Returns:
//   - The accept token to place in the Sec-WebSocket-Accept header
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + guid))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Negotiate performs the server side of the opening handshake on sock. On
// success the 101 response has been written and the connection is ready for
// frames. On failure an HTTP error response is written when possible and a
// *Error is returned; the caller closes the socket without firing any event.
//
// Parameters:
//   - sock: The freshly accepted socket
//   - limits: Read budget; zero values are replaced with DefaultLimits
//
// Returns:
//   - The parsed upgrade request on success
//   - A *Error describing the rejection otherwise
func Negotiate(sock *transport.Socket, limits Limits) (*Request, error) {
	if limits.Timeout <= 0 {
		limits.Timeout = DefaultLimits().Timeout
	}
	if limits.MaxHeaderBytes <= 0 {
		limits.MaxHeaderBytes = DefaultLimits().MaxHeaderBytes
	}

	raw, err := readRequestHead(sock, limits)
	if err != nil {
		var herr *Error
		if errors.As(err, &herr) {
			reject(sock, herr)
		}

		return nil, err
	}

	req, herr := parseRequest(raw)
	if herr != nil {
		reject(sock, herr)
		return nil, herr
	}

	if herr := validate(req); herr != nil {
		reject(sock, herr)
		return nil, herr
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(req.Key) + "\r\n" +
		"\r\n"
	if _, err := sock.Send([]byte(resp)); err != nil {
		return nil, &Error{Reason: fmt.Sprintf("write response: %v", err)}
	}

	return req, nil
}

// readRequestHead accumulates bytes until the \r\n\r\n terminator, the header
// cap, or the total timeout, whichever comes first. The timeout is absolute:
// a peer drip-feeding one byte per poll still runs out of budget.
func readRequestHead(sock *transport.Socket, limits Limits) ([]byte, error) {
	deadline := time.Now().Add(limits.Timeout)

	var buf []byte
	for {
		chunk, err := sock.Receive(limits.MaxHeaderBytes - len(buf))
		if err != nil && !errors.Is(err, transport.ErrWouldBlock) {
			return nil, &Error{Reason: fmt.Sprintf("read request: %v", err)}
		}

		buf = append(buf, chunk...)
		if idx := strings.Index(string(buf), "\r\n\r\n"); idx >= 0 {
			return buf[:idx], nil
		}

		if len(buf) >= limits.MaxHeaderBytes {
			return nil, &Error{Status: 431, Reason: "request head too large"}
		}

		if time.Now().After(deadline) {
			return nil, &Error{Reason: "handshake timeout"}
		}
	}
}

// parseRequest splits the request head into the request line and a
// case-insensitive header map. Header names are lowercased; duplicate headers
// are joined with ", " per RFC 7230.
func parseRequest(raw []byte) (*Request, *Error) {
	lines := strings.Split(string(raw), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, &Error{Status: 400, Reason: "empty request"}
	}

	parts := strings.Split(lines[0], " ")
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/1.") {
		return nil, &Error{Status: 400, Reason: "malformed request line"}
	}

	req := &Request{
		Method:  parts[0],
		Path:    parts[1],
		Headers: make(map[string]string, len(lines)-1),
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &Error{Status: 400, Reason: "malformed header line"}
		}

		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if prev, ok := req.Headers[name]; ok {
			value = prev + ", " + value
		}
		req.Headers[name] = value
	}

	req.Key = req.Headers["sec-websocket-key"]
	return req, nil
}

// validate enforces the upgrade requirements: GET method, Upgrade and
// Connection tokens, a well-formed Sec-WebSocket-Key, and protocol version 13.
func validate(req *Request) *Error {
	if req.Method != "GET" {
		return &Error{Status: 405, Reason: "method not allowed"}
	}

	if !headerContainsToken(req.Headers["upgrade"], "websocket") {
		return &Error{Status: 400, Reason: "missing Upgrade: websocket"}
	}

	if !headerContainsToken(req.Headers["connection"], "Upgrade") {
		return &Error{Status: 400, Reason: "Connection header lacks Upgrade token"}
	}

	if req.Key == "" {
		return &Error{Status: 400, Reason: "missing Sec-WebSocket-Key"}
	}

	// The key must be base64 for exactly 16 bytes of nonce.
	decoded, err := base64.StdEncoding.DecodeString(req.Key)
	if err != nil || len(decoded) != 16 {
		return &Error{Status: 400, Reason: "malformed Sec-WebSocket-Key"}
	}

	if v, ok := req.Headers["sec-websocket-version"]; ok && v != supportedVersion {
		return &Error{Status: 426, Reason: "unsupported websocket version"}
	}

	return nil
}

// headerContainsToken reports whether a comma-separated header value contains
// the token, compared case-insensitively.
func headerContainsToken(value, token string) bool {
	if value == "" {
		return false
	}

	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}

	return false
}

// reject writes a minimal HTTP error response before the caller closes the
// socket. Best effort; write errors are ignored.
func reject(sock *transport.Socket, herr *Error) {
	if herr.Status == 0 {
		return
	}

	statusText := map[int]string{
		400: "Bad Request",
		405: "Method Not Allowed",
		426: "Upgrade Required",
		431: "Request Header Fields Too Large",
	}[herr.Status]

	resp := fmt.Sprintf("HTTP/1.1 %d %s\r\n", herr.Status, statusText)
	if herr.Status == 426 {
		resp += "Sec-WebSocket-Version: " + supportedVersion + "\r\n"
	}
	resp += "Content-Length: 0\r\nConnection: close\r\n\r\n"

	_, _ = sock.Send([]byte(resp))
}
