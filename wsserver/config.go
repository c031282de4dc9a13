package wsserver

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cyberinferno/go-websocket/transport"
)

// Config holds the server's immutable configuration. Build it once, pass it
// to New, and never mutate it afterwards; every component reads it but none
// writes it.
type Config struct {
	// Host is the interface address to bind ("" binds all interfaces).
	Host string
	// Port is the TCP port to bind.
	Port int
	// MaxClients caps concurrently open connections; 0 means unlimited.
	// Over-capacity upgrade attempts are refused with HTTP 503.
	MaxClients int
	// PingInterval is how often idle connections are pinged. 0 disables
	// the keepalive sweep.
	PingInterval time.Duration
	// PongGrace is how long after a ping a connection may stay silent
	// before it is dropped.
	PongGrace time.Duration
	// MaxMessageSize caps a single frame payload and the accumulated size
	// of a fragmented message. Violations close the connection with 1009.
	MaxMessageSize int64
	// HandshakeTimeout is the total budget for the opening handshake.
	HandshakeTimeout time.Duration
	// MaxHeaderBytes caps the upgrade request head.
	MaxHeaderBytes int
	// AcceptPoll bounds a single accept attempt in the accept loop.
	AcceptPoll time.Duration
	// StopGrace is how long Stop waits after sending close frames before
	// force-closing remaining sockets.
	StopGrace time.Duration
	// TLS enables a TLS listener when CertFile/KeyFile are set; nil means
	// plain TCP.
	TLS *transport.TLSOptions
}

// DefaultConfig returns the configuration used when nothing is specified:
// all interfaces on port 8080, unlimited clients, 30s pings with a 10s pong
// grace, 16MiB message cap, 10s handshake budget.
//
// Returns:
//   - A Config populated with defaults
func DefaultConfig() Config {
	return Config{
		Host:             "",
		Port:             8080,
		MaxClients:       0,
		PingInterval:     30 * time.Second,
		PongGrace:        10 * time.Second,
		MaxMessageSize:   16 << 20,
		HandshakeTimeout: 10 * time.Second,
		MaxHeaderBytes:   8 << 10,
		AcceptPoll:       250 * time.Millisecond,
		StopGrace:        3 * time.Second,
	}
}

// ConfigFromEnv builds a Config from WS_* environment variables, falling back
// to DefaultConfig for anything unset or unparsable. Recognized variables:
// WS_HOST, WS_PORT, WS_MAX_CLIENTS, WS_PING_INTERVAL, WS_PONG_GRACE,
// WS_MAX_MESSAGE_SIZE, WS_HANDSHAKE_TIMEOUT, WS_TLS_CERT_FILE,
// WS_TLS_KEY_FILE, WS_TLS_VERIFY_PEER, WS_TLS_VERIFY_PEER_NAME,
// WS_TLS_ALLOW_SELF_SIGNED. Durations use Go syntax ("30s", "1m").
//
// Returns:
//   - A Config assembled from the environment
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("WS_HOST"); v != "" {
		cfg.Host = v
	}
	if n, ok := envInt("WS_PORT"); ok {
		cfg.Port = n
	}
	if n, ok := envInt("WS_MAX_CLIENTS"); ok {
		cfg.MaxClients = n
	}
	if d, ok := envDuration("WS_PING_INTERVAL"); ok {
		cfg.PingInterval = d
	}
	if d, ok := envDuration("WS_PONG_GRACE"); ok {
		cfg.PongGrace = d
	}
	if n, ok := envInt("WS_MAX_MESSAGE_SIZE"); ok {
		cfg.MaxMessageSize = int64(n)
	}
	if d, ok := envDuration("WS_HANDSHAKE_TIMEOUT"); ok {
		cfg.HandshakeTimeout = d
	}

	certFile := os.Getenv("WS_TLS_CERT_FILE")
	keyFile := os.Getenv("WS_TLS_KEY_FILE")
	if certFile != "" && keyFile != "" {
		cfg.TLS = &transport.TLSOptions{
			CertFile:        certFile,
			KeyFile:         keyFile,
			VerifyPeer:      envBool("WS_TLS_VERIFY_PEER"),
			VerifyPeerName:  envBool("WS_TLS_VERIFY_PEER_NAME"),
			AllowSelfSigned: envBool("WS_TLS_ALLOW_SELF_SIGNED"),
		}
	}

	return cfg
}

// Validate checks the configuration for values the server cannot run with.
//
// Returns:
//   - An error describing the first invalid field, or nil
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("wsserver: invalid port %d", c.Port)
	}

	if c.MaxClients < 0 {
		return fmt.Errorf("wsserver: negative max clients %d", c.MaxClients)
	}

	if c.MaxMessageSize < 0 {
		return fmt.Errorf("wsserver: negative max message size %d", c.MaxMessageSize)
	}

	if c.TLS != nil && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("wsserver: TLS requires both cert and key files")
	}

	return nil
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}

	return n, true
}

func envDuration(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}

	return d, true
}

func envBool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}
