// Package wsserver coordinates the WebSocket server core: it accepts
// connections, drives the opening handshake, decodes frames, dispatches
// events, and owns the connection registry. Failure isolation is the
// controlling invariant: everything after a successful bind is absorbed
// internally so that one bad peer can never take down service for the rest.
package wsserver

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-websocket/acceptor"
	"github.com/cyberinferno/go-websocket/dispatch"
	"github.com/cyberinferno/go-websocket/frame"
	"github.com/cyberinferno/go-websocket/handshake"
	"github.com/cyberinferno/go-websocket/logger"
	"github.com/cyberinferno/go-websocket/registry"
	"github.com/cyberinferno/go-websocket/transport"
)

// ServerState is the server's lifecycle position.
type ServerState int32

const (
	Stopped ServerState = iota
	Starting
	Running
	Stopping
)

// String returns a human-readable name for the server state.
func (s ServerState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// readChunk is how many bytes a single Receive pulls from a client socket.
const readChunk = 4096

// refuseResponse is written to peers accepted over the MaxClients cap before
// the socket is closed.
const refuseResponse = "HTTP/1.1 503 Service Unavailable\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"

// pendingUpgrade tracks a socket between accept and handshake completion.
// The TTL cache evicting it closes sockets whose peers never finish the
// upgrade, even ones drip-feeding bytes to dodge per-read deadlines.
type pendingUpgrade struct {
	sock *transport.Socket
	done atomic.Bool
}

// Option customizes a Server at construction.
type Option func(*Server)

// WithLogger injects a diagnostics logger. Without it the server is silent.
//
// Parameters:
//   - log: The logger to use
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithHandler registers an event handler at construction; equivalent to
// calling Register before Start.
//
// Parameters:
//   - h: The handler to register
func WithHandler(h dispatch.Handler) Option {
	return func(s *Server) {
		s.initHandlers = append(s.initHandlers, h)
	}
}

// Server is the WebSocket server core. Construct with New, register handlers,
// then Start. All methods are safe for concurrent use.
type Server struct {
	cfg  Config
	log  logger.Logger
	disp *dispatch.Dispatcher
	reg  *registry.Registry[*Client]

	acc     *acceptor.Acceptor
	pending *gocache.Cache

	stopC chan struct{}
	group *errgroup.Group
	conns sync.WaitGroup

	state atomic.Int32

	// initHandlers collects WithHandler registrations until the dispatcher
	// exists; consumed by New.
	initHandlers []dispatch.Handler
}

// New creates a Server with the given configuration. The configuration is
// copied and immutable from here on.
//
// Parameters:
//   - cfg: Server configuration (see DefaultConfig / ConfigFromEnv)
//   - opts: Optional logger and handler injection
//
// Returns:
//   - A Server in Stopped state, ready for Start
func New(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg: cfg,
		log: logger.Nop(),
		reg: registry.New[*Client](),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.disp = dispatch.New(s.log)
	for _, h := range s.initHandlers {
		s.disp.Register(h)
	}
	s.initHandlers = nil

	return s
}

// State returns the server's lifecycle state.
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// OnConnect registers a handler for connect events.
//
// Parameters:
//   - fn: Function called after each successful handshake
func (s *Server) OnConnect(fn dispatch.ConnectHandler) {
	s.disp.OnConnect(fn)
}

// OnMessage registers a handler for message events.
//
// Parameters:
//   - fn: Function called for each reassembled text or binary message
func (s *Server) OnMessage(fn dispatch.MessageHandler) {
	s.disp.OnMessage(fn)
}

// OnDisconnect registers a handler for disconnect events.
//
// Parameters:
//   - fn: Function called exactly once per open connection that closes
func (s *Server) OnDisconnect(fn dispatch.DisconnectHandler) {
	s.disp.OnDisconnect(fn)
}

// Register adds a full event handler.
//
// Parameters:
//   - h: Handler receiving connect, message, and disconnect events
func (s *Server) Register(h dispatch.Handler) {
	s.disp.Register(h)
}

// Start binds the listening socket and launches the server loops. It returns
// after the listener is up; serving happens in background goroutines. A bind
// failure is the only error class that escapes the server; everything after
// a successful Start is handled internally.
//
// Returns:
//   - nil on success, a config validation error, or the bind error
func (s *Server) Start() error {
	if !s.state.CompareAndSwap(int32(Stopped), int32(Starting)) {
		return ErrAlreadyRunning
	}

	if err := s.cfg.Validate(); err != nil {
		s.state.Store(int32(Stopped))
		return err
	}

	acc, err := acceptor.Listen(s.cfg.Host, s.cfg.Port, s.cfg.TLS)
	if err != nil {
		s.state.Store(int32(Stopped))
		return err
	}

	s.acc = acc
	s.stopC = make(chan struct{})
	s.group = &errgroup.Group{}

	hsTimeout := s.cfg.HandshakeTimeout
	if hsTimeout <= 0 {
		hsTimeout = handshake.DefaultLimits().Timeout
	}
	s.pending = gocache.New(hsTimeout, hsTimeout/2)
	s.pending.OnEvicted(func(key string, v any) {
		pu := v.(*pendingUpgrade)
		if !pu.done.Load() {
			_ = pu.sock.Close()
			s.log.Debug("handshake deadline expired", logger.Field{Key: "addr", Value: pu.sock.RemoteAddr()})
		}
	})

	s.state.Store(int32(Running))
	s.group.Go(s.acceptLoop)
	s.group.Go(s.keepaliveLoop)

	s.log.Info("websocket server started", logger.Field{Key: "addr", Value: s.acc.Addr().String()})
	return nil
}

// Stop shuts the server down: it stops accepting, sends a best-effort close
// frame to every open connection, waits out the grace window, force-closes
// what remains, and clears the registry. Safe to call when not running.
func (s *Server) Stop() {
	if !s.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return
	}

	s.log.Info("websocket server stopping")

	close(s.stopC)
	_ = s.acc.Close()
	_ = s.group.Wait()

	// Best-effort close handshake towards every open peer.
	for _, c := range s.reg.All() {
		_ = c.writeClose(frame.CloseGoingAway, "server shutting down")
	}

	// Give connection goroutines the grace window to wind down.
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.StopGrace):
	}

	for _, c := range s.reg.Clear() {
		c.closeSocket()
		s.disp.DispatchDisconnect(dispatch.DisconnectEvent{
			ConnID:    c.id,
			Code:      frame.CloseGoingAway,
			Reason:    "server stopped",
			Timestamp: time.Now(),
		})
	}

	// Flush does not run eviction callbacks, so close half-finished
	// handshakes explicitly.
	for _, item := range s.pending.Items() {
		pu := item.Object.(*pendingUpgrade)
		if !pu.done.Load() {
			_ = pu.sock.Close()
		}
	}
	s.pending.Flush()

	s.state.Store(int32(Stopped))
	s.log.Info("websocket server stopped")
}

// Addr returns the bound listener address, or nil before Start. Useful when
// port 0 was configured.
func (s *Server) Addr() net.Addr {
	if s.acc == nil {
		return nil
	}

	return s.acc.Addr()
}

// Clients returns a snapshot of every open connection.
//
// Returns:
//   - Connection infos in unspecified order; empty when none are open
func (s *Server) Clients() []ClientInfo {
	clients := s.reg.All()
	out := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.info())
	}

	return out
}

// Send writes payload as a text message to one connection.
//
// Parameters:
//   - id: Target connection id
//   - payload: Message payload
//
// Returns:
//   - ErrNotRunning when the server is stopped, ErrUnknownClient if the id is
//     not open, or the write error (the connection is dropped on write failure)
func (s *Server) Send(id uint32, payload []byte) error {
	return s.send(id, payload, false)
}

// SendBinary writes payload as a binary message to one connection.
//
// Parameters:
//   - id: Target connection id
//   - payload: Message payload
//
// Returns:
//   - ErrUnknownClient if the id is not open, or the write error
func (s *Server) SendBinary(id uint32, payload []byte) error {
	return s.send(id, payload, true)
}

func (s *Server) send(id uint32, payload []byte, binary bool) error {
	if s.State() != Running {
		return ErrNotRunning
	}

	c, ok := s.reg.Get(id)
	if !ok {
		return ErrUnknownClient
	}

	var err error
	if binary {
		err = c.SendBinary(payload)
	} else {
		err = c.SendText(payload)
	}

	if err != nil && !isStateError(err) {
		s.removeClient(c, frame.CloseAbnormal, "send failed", false)
	}

	return err
}

// Broadcast writes payload as a text message to every open connection except
// the excluded ids. A write failure on one connection drops that connection
// and moves on; broadcast never aborts partway because of one bad peer.
//
// Parameters:
//   - payload: Message payload
//   - exclude: Connection ids to skip (typically the sender)
func (s *Server) Broadcast(payload []byte, exclude ...uint32) {
	skip := make(map[uint32]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	for _, c := range s.reg.All() {
		if _, ok := skip[c.id]; ok {
			continue
		}

		if err := c.SendText(payload); err != nil {
			s.log.Warn("broadcast write failed",
				logger.Field{Key: "conn_id", Value: c.id},
				logger.Field{Key: "error", Value: err},
			)
			s.removeClient(c, frame.CloseAbnormal, "broadcast write failed", false)
		}
	}
}

// Disconnect closes one connection with a normal close handshake and fires
// its disconnect event.
//
// Parameters:
//   - id: The connection id to disconnect
//
// Returns:
//   - ErrNotRunning when the server is stopped, or ErrUnknownClient if the id
//     is not open
func (s *Server) Disconnect(id uint32) error {
	if s.State() != Running {
		return ErrNotRunning
	}

	c, ok := s.reg.Get(id)
	if !ok {
		return ErrUnknownClient
	}

	s.removeClient(c, frame.CloseNormal, "disconnected by server", true)
	return nil
}

// acceptLoop runs bounded accept attempts until stop. Each accepted socket
// gets its own goroutine for the handshake and read loop; the accept loop
// itself never blocks on a peer.
func (s *Server) acceptLoop() error {
	for {
		select {
		case <-s.stopC:
			return nil
		default:
		}

		sock, err := s.acc.Accept(s.cfg.AcceptPoll)
		if err != nil {
			select {
			case <-s.stopC:
				return nil
			default:
			}

			s.log.Error("accept failed", logger.Field{Key: "error", Value: err})
			return err
		}

		if sock == nil {
			continue
		}

		if s.cfg.MaxClients > 0 && s.reg.Len() >= s.cfg.MaxClients {
			_, _ = sock.Send([]byte(refuseResponse))
			// Drain the upgrade request so closing does not reset the
			// connection underneath the refusal.
			_, _ = sock.Receive(readChunk)
			_ = sock.Close()
			s.log.Warn("connection refused: at capacity",
				logger.Field{Key: "addr", Value: sock.RemoteAddr()},
				logger.Field{Key: "max_clients", Value: s.cfg.MaxClients},
			)
			continue
		}

		s.conns.Add(1)
		go s.serveConn(sock)
	}
}

// keepaliveLoop pings idle connections and drops the ones that stopped
// answering.
func (s *Server) keepaliveLoop() error {
	if s.cfg.PingInterval <= 0 {
		<-s.stopC
		return nil
	}

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopC:
			return nil
		case <-ticker.C:
			s.pingSweep()
		}
	}
}

func (s *Server) pingSweep() {
	now := time.Now()
	for _, c := range s.reg.All() {
		if c.pongOverdue(s.cfg.PongGrace) {
			s.removeClient(c, frame.CloseAbnormal, "pong timeout", false)
			continue
		}

		if now.Sub(c.LastActivity()) < s.cfg.PingInterval {
			continue
		}

		if err := c.Ping(nil); err != nil {
			s.removeClient(c, frame.CloseAbnormal, "ping write failed", false)
		}
	}
}

// serveConn drives one connection from accept to close: handshake,
// registration, then the frame read loop. A failed handshake closes the
// socket silently; application code never sees it.
func (s *Server) serveConn(sock *transport.Socket) {
	defer s.conns.Done()

	client := newClient(s.reg.NextID(), sock, s.cfg.MaxMessageSize)
	client.setState(StateHandshaking)

	key := strconv.FormatUint(uint64(client.id), 10)
	pu := &pendingUpgrade{sock: sock}
	s.pending.Set(key, pu, gocache.DefaultExpiration)

	req, err := handshake.Negotiate(sock, handshake.Limits{
		Timeout:        s.cfg.HandshakeTimeout,
		MaxHeaderBytes: s.cfg.MaxHeaderBytes,
	})

	pu.done.Store(true)
	s.pending.Delete(key)

	if err != nil {
		s.log.Debug("handshake rejected",
			logger.Field{Key: "addr", Value: client.remoteAddr},
			logger.Field{Key: "error", Value: err},
		)
		client.closeSocket()
		return
	}

	if !s.addClient(client) {
		client.closeSocket()
		return
	}

	s.log.Debug("client connected",
		logger.Field{Key: "conn_id", Value: client.id},
		logger.Field{Key: "addr", Value: client.remoteAddr},
		logger.Field{Key: "path", Value: req.Path},
	)

	s.readLoop(client)
}

// addClient promotes a handshake-completed connection to Open and registers
// it. Registration and the connect event happen before any frame is read, so
// per-connection event order is always connect, messages, disconnect.
func (s *Server) addClient(c *Client) bool {
	if s.State() != Running {
		return false
	}

	if s.cfg.MaxClients > 0 && s.reg.Len() >= s.cfg.MaxClients {
		_ = c.writeClose(frame.CloseTryAgainLater, "at capacity")
		return false
	}

	c.setState(StateOpen)
	s.reg.Add(c.id, c)
	s.disp.DispatchConnect(dispatch.ConnectEvent{
		ConnID:     c.id,
		RemoteAddr: c.remoteAddr,
		Timestamp:  time.Now(),
	})

	return true
}

// removeClient takes a connection out of the registry, closes it, and fires
// its disconnect event. The registry removal is the exactly-once gate:
// whichever caller wins the removal dispatches the event, every other caller
// is a no-op.
func (s *Server) removeClient(c *Client, code uint16, reason string, sendClose bool) {
	if !s.reg.Remove(c.id) {
		c.closeSocket()
		return
	}

	if sendClose {
		_ = c.writeClose(code, reason)
	}
	c.closeSocket()

	s.disp.DispatchDisconnect(dispatch.DisconnectEvent{
		ConnID:    c.id,
		Code:      code,
		Reason:    reason,
		Timestamp: time.Now(),
	})

	s.log.Debug("client disconnected",
		logger.Field{Key: "conn_id", Value: c.id},
		logger.Field{Key: "code", Value: code},
		logger.Field{Key: "reason", Value: reason},
	)
}

// readLoop pulls bytes off the socket, feeds the frame codec, and acts on
// each decoded frame until the connection ends or the server stops. Bytes
// that do not yet form a complete frame stay in the client's spill buffer for
// the next pass.
func (s *Server) readLoop(c *Client) {
	for {
		select {
		case <-s.stopC:
			return
		default:
		}

		data, err := c.sock.Receive(readChunk)
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				continue
			}

			s.removeClient(c, frame.CloseAbnormal, "transport failure", false)
			return
		}

		c.touch()
		c.inbound = append(c.inbound, data...)

		for len(c.inbound) > 0 {
			fr, n, derr := frame.Decode(c.inbound, s.cfg.MaxMessageSize)
			if derr != nil {
				if errors.Is(derr, frame.ErrIncomplete) {
					break
				}

				code, reason := closeCodeFor(derr)
				s.removeClient(c, code, reason, true)
				return
			}

			c.inbound = c.inbound[n:]
			if !s.handleFrame(c, fr) {
				return
			}
		}

		// Release the backing array once fully drained.
		if len(c.inbound) == 0 {
			c.inbound = nil
		}
	}
}

// handleFrame processes one decoded frame. It returns false when the
// connection is finished and the read loop should exit.
func (s *Server) handleFrame(c *Client, fr *frame.Frame) bool {
	switch fr.Opcode {
	case frame.OpPing:
		// Answer immediately so the pong precedes any queued data.
		if err := c.pong(fr.Payload); err != nil {
			s.removeClient(c, frame.CloseAbnormal, "pong write failed", false)
			return false
		}

		return true

	case frame.OpPong:
		c.notePong()
		return true

	case frame.OpClose:
		code, _ := frame.ParseClosePayload(fr.Payload)
		c.setState(StateClosing)
		s.removeClient(c, code, "closed by peer", true)
		return false

	default:
		msg, err := c.asm.Push(fr)
		if err != nil {
			code, reason := closeCodeFor(err)
			s.removeClient(c, code, reason, true)
			return false
		}

		if msg != nil {
			s.disp.DispatchMessage(dispatch.MessageEvent{
				ConnID:    c.id,
				Type:      msg.Type,
				Payload:   msg.Payload,
				Timestamp: time.Now(),
			})
		}

		return true
	}
}

// closeCodeFor maps a codec error onto the close code sent to the peer.
func closeCodeFor(err error) (uint16, string) {
	var perr *frame.ProtocolError
	if errors.As(err, &perr) {
		return perr.Code, perr.Reason
	}

	return frame.CloseProtocolError, "protocol error"
}

func isStateError(err error) bool {
	var serr *ClientStateError
	return errors.As(err, &serr)
}
