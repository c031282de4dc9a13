// Command wsserve runs the WebSocket server standalone. Configuration comes
// from the environment (optionally a .env file); --host and --port override
// it. The process exits 0 on a clean stop signal and non-zero when the
// listener cannot be bound.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/cyberinferno/go-websocket/dispatch"
	"github.com/cyberinferno/go-websocket/logger"
	"github.com/cyberinferno/go-websocket/wsserver"
)

func main() {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := wsserver.ConfigFromEnv()

	host := flag.String("host", cfg.Host, "interface address to bind")
	port := flag.Int("port", cfg.Port, "TCP port to bind")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	cfg.Host = *host
	cfg.Port = *port

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := logger.NewZerolog(os.Stderr, "wsserve", level)

	srv := wsserver.New(cfg,
		wsserver.WithLogger(log),
		wsserver.WithHandler(eventLogger{log: log}),
	)

	if err := srv.Start(); err != nil {
		log.Error("server failed to start", logger.Field{Key: "error", Value: err})
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	srv.Stop()
}

// eventLogger logs lifecycle events; this binary attaches no application
// semantics to messages.
type eventLogger struct {
	log logger.Logger
}

func (e eventLogger) OnConnect(ev dispatch.ConnectEvent) {
	e.log.Debug("connect",
		logger.Field{Key: "conn_id", Value: ev.ConnID},
		logger.Field{Key: "addr", Value: ev.RemoteAddr},
	)
}

func (e eventLogger) OnMessage(ev dispatch.MessageEvent) {
	e.log.Debug("message",
		logger.Field{Key: "conn_id", Value: ev.ConnID},
		logger.Field{Key: "type", Value: ev.Type.String()},
		logger.Field{Key: "bytes", Value: len(ev.Payload)},
	)
}

func (e eventLogger) OnDisconnect(ev dispatch.DisconnectEvent) {
	e.log.Debug("disconnect",
		logger.Field{Key: "conn_id", Value: ev.ConnID},
		logger.Field{Key: "code", Value: ev.Code},
	)
}
