package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"
)

// TLSError indicates that establishing or using a TLS connection failed for a
// TLS-specific reason (certificate verification, record corruption). It is
// distinct from a plain connection error so callers can tell a refused port
// apart from an untrusted certificate.
type TLSError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TLSError) Error() string {
	return fmt.Sprintf("transport: tls %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TLSError) Unwrap() error {
	return e.Err
}

// isTLSFailure reports whether err stems from TLS verification or record
// processing rather than the transport underneath.
func isTLSFailure(err error) bool {
	var (
		certErr     *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		certInvalid x509.CertificateInvalidError
	)

	return errors.As(err, &certErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &certInvalid)
}

// TLSOptions controls both sides of a TLS socket. For the server side only
// CertFile/KeyFile are consulted; the verification toggles apply when dialing
// out as a client.
type TLSOptions struct {
	// CertFile is the path to a PEM certificate (server side).
	CertFile string
	// KeyFile is the path to the matching PEM private key (server side).
	KeyFile string
	// ServerName overrides the name verified against the peer certificate.
	// Empty means verify against the dialed host.
	ServerName string
	// VerifyPeer requires the peer certificate to chain to a trusted root.
	VerifyPeer bool
	// VerifyPeerName additionally requires the certificate to match
	// ServerName (or the dialed host). Ignored when VerifyPeer is false.
	VerifyPeerName bool
	// AllowSelfSigned accepts certificates that do not chain to a trusted
	// root. Implies no chain verification regardless of VerifyPeer.
	AllowSelfSigned bool
}

// ClientConfig builds the tls.Config used when dialing out.
//
// Parameters:
//   - host: The host being dialed, used for name verification when ServerName is empty
//
// Returns:
//   - A tls.Config reflecting the verification toggles
func (o *TLSOptions) ClientConfig(host string) *tls.Config {
	cfg := &tls.Config{
		ServerName: o.ServerName,
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}

	if o.AllowSelfSigned || !o.VerifyPeer {
		cfg.InsecureSkipVerify = true
		return cfg
	}

	if !o.VerifyPeerName {
		// Verify the chain manually but skip hostname matching.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("no peer certificate")
			}

			certs := make([]*x509.Certificate, 0, len(rawCerts))
			for _, raw := range rawCerts {
				cert, err := x509.ParseCertificate(raw)
				if err != nil {
					return err
				}
				certs = append(certs, cert)
			}

			opts := x509.VerifyOptions{Intermediates: x509.NewCertPool()}
			for _, cert := range certs[1:] {
				opts.Intermediates.AddCert(cert)
			}

			_, err := certs[0].Verify(opts)
			return err
		}
	}

	return cfg
}

// ServerConfig builds the tls.Config for the listening side from
// CertFile/KeyFile.
//
// Returns:
//   - The server tls.Config, or a *TLSError if the key pair could not be loaded
func (o *TLSOptions) ServerConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
	if err != nil {
		return nil, &TLSError{Op: "load keypair", Err: err}
	}

	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// DialTLS establishes a TLS connection to host:port within timeout, applying
// the given verification options. nil opts means full verification against
// the system roots.
//
// Parameters:
//   - host: Remote host name or address
//   - port: Remote TCP port
//   - timeout: Max duration for the TCP dial plus TLS handshake
//   - opts: Verification toggles; nil for strict defaults
//
// Returns:
//   - A connected Socket, a *TLSError on verification failure, or a plain
//     error when the TCP connection itself could not be established
func DialTLS(host string, port int, timeout time.Duration, opts *TLSOptions) (*Socket, error) {
	if opts == nil {
		opts = &TLSOptions{VerifyPeer: true, VerifyPeerName: true}
	}

	dialer := &net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	conn, err := tls.DialWithDialer(dialer, "tcp", addr, opts.ClientConfig(host))
	if err != nil {
		if isTLSFailure(err) {
			return nil, &TLSError{Op: "handshake", Err: err}
		}

		return nil, fmt.Errorf("transport: dial tls %s: %w", addr, err)
	}

	return NewSocket(conn), nil
}
