// Package acceptor owns the listening socket of the WebSocket server. It
// binds once at startup and then performs bounded-timeout accept attempts so
// the server loop can interleave accepting with servicing existing
// connections. Bind failures are the only errors that propagate out of the
// server; everything after a successful Listen is absorbed internally.
package acceptor

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cyberinferno/go-websocket/transport"
)

// Acceptor wraps a net.Listener and hands accepted connections to the caller
// as transport Sockets. It is not safe for concurrent Accept calls.
type Acceptor struct {
	listener net.Listener
	// tcp is the inner TCP listener; tls.NewListener does not forward
	// SetDeadline, so the accept deadline is applied here directly.
	tcp *net.TCPListener
}

// Listen binds to host:port, optionally wrapping the listener with TLS when
// tlsOpts carries a certificate pair. A failed bind (port in use, permission
// denied) is returned to the caller and is fatal to server startup.
//
// Parameters:
//   - host: Interface address to bind ("" or "0.0.0.0" for all)
//   - port: TCP port to bind
//   - tlsOpts: TLS certificate options, or nil for plain TCP
//
// Returns:
//   - A bound Acceptor, or an error if binding or loading the TLS key pair failed
func Listen(host string, port int, tlsOpts *transport.TLSOptions) (*Acceptor, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("acceptor: bind %s: %w", addr, err)
	}

	tcp, _ := ln.(*net.TCPListener)

	if tlsOpts != nil && tlsOpts.CertFile != "" {
		cfg, err := tlsOpts.ServerConfig()
		if err != nil {
			_ = ln.Close()
			return nil, err
		}

		ln = tls.NewListener(ln, cfg)
	}

	return &Acceptor{listener: ln, tcp: tcp}, nil
}

// Accept performs one accept attempt bounded by timeout. When no connection
// arrived in time it returns (nil, nil) so the caller can run the rest of its
// loop iteration.
//
// Parameters:
//   - timeout: Max duration to wait for an incoming connection
//
// Returns:
//   - The accepted connection as a Socket, or nil when none arrived
//   - An error only when the listener itself failed (e.g. it was closed)
func (a *Acceptor) Accept(timeout time.Duration) (*transport.Socket, error) {
	if a.tcp != nil {
		if err := a.tcp.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}

	conn, err := a.listener.Accept()
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, nil
		}

		return nil, err
	}

	return transport.NewSocket(conn), nil
}

// Addr returns the bound address, useful when port 0 was requested.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Close closes the listening socket. Pending Accept calls return an error.
func (a *Acceptor) Close() error {
	return a.listener.Close()
}
