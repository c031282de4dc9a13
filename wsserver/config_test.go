package wsserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cyberinferno/go-websocket/transport"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Port)
	assert.Zero(t, cfg.MaxClients)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.PongGrace)
	assert.Equal(t, int64(16<<20), cfg.MaxMessageSize)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 8<<10, cfg.MaxHeaderBytes)
	assert.Nil(t, cfg.TLS)
	assert.NoError(t, cfg.Validate())
}

func TestConfigFromEnv(t *testing.T) {
	t.Run("reads overrides from the environment", func(t *testing.T) {
		t.Setenv("WS_HOST", "127.0.0.1")
		t.Setenv("WS_PORT", "9000")
		t.Setenv("WS_MAX_CLIENTS", "64")
		t.Setenv("WS_PING_INTERVAL", "5s")
		t.Setenv("WS_PONG_GRACE", "2s")
		t.Setenv("WS_MAX_MESSAGE_SIZE", "1048576")
		t.Setenv("WS_HANDSHAKE_TIMEOUT", "3s")

		cfg := ConfigFromEnv()

		assert.Equal(t, "127.0.0.1", cfg.Host)
		assert.Equal(t, 9000, cfg.Port)
		assert.Equal(t, 64, cfg.MaxClients)
		assert.Equal(t, 5*time.Second, cfg.PingInterval)
		assert.Equal(t, 2*time.Second, cfg.PongGrace)
		assert.Equal(t, int64(1<<20), cfg.MaxMessageSize)
		assert.Equal(t, 3*time.Second, cfg.HandshakeTimeout)
	})

	t.Run("unparsable values fall back to defaults", func(t *testing.T) {
		t.Setenv("WS_PORT", "not-a-number")
		t.Setenv("WS_PING_INTERVAL", "soon")

		cfg := ConfigFromEnv()

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, 30*time.Second, cfg.PingInterval)
	})

	t.Run("TLS options require both cert and key", func(t *testing.T) {
		t.Setenv("WS_TLS_CERT_FILE", "server.pem")

		cfg := ConfigFromEnv()
		assert.Nil(t, cfg.TLS)
	})

	t.Run("TLS options are assembled when both files are set", func(t *testing.T) {
		t.Setenv("WS_TLS_CERT_FILE", "server.pem")
		t.Setenv("WS_TLS_KEY_FILE", "server.key")
		t.Setenv("WS_TLS_VERIFY_PEER", "true")

		cfg := ConfigFromEnv()

		assert.NotNil(t, cfg.TLS)
		assert.Equal(t, "server.pem", cfg.TLS.CertFile)
		assert.Equal(t, "server.key", cfg.TLS.KeyFile)
		assert.True(t, cfg.TLS.VerifyPeer)
		assert.False(t, cfg.TLS.AllowSelfSigned)
	})
}

func TestConfig_validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"port zero picks an ephemeral port", func(c *Config) { c.Port = 0 }, false},
		{"negative port", func(c *Config) { c.Port = -1 }, true},
		{"port above range", func(c *Config) { c.Port = 70000 }, true},
		{"negative max clients", func(c *Config) { c.MaxClients = -5 }, true},
		{"negative max message size", func(c *Config) { c.MaxMessageSize = -1 }, true},
		{"TLS with cert but no key", func(c *Config) {
			c.TLS = &transport.TLSOptions{CertFile: "server.pem"}
		}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
