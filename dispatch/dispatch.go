// Package dispatch routes decoded messages and connection lifecycle
// transitions to registered application handlers. Handler panics are caught
// at the dispatch boundary and logged; a misbehaving handler can never take
// down the server loop or affect other connections.
package dispatch

import (
	"sync"
	"time"

	"github.com/cyberinferno/go-websocket/frame"
	"github.com/cyberinferno/go-websocket/logger"
)

// ConnectEvent is emitted when a connection completes the opening handshake.
type ConnectEvent struct {
	ConnID     uint32    // The connection's registry id
	RemoteAddr string    // Peer address (host:port)
	Timestamp  time.Time // When the handshake completed
}

// MessageEvent is emitted for each fully reassembled text or binary message.
type MessageEvent struct {
	ConnID    uint32            // Originating connection id
	Type      frame.MessageType // Text or binary
	Payload   []byte            // Reassembled payload (do not modify; copy if needed)
	Timestamp time.Time         // When reassembly completed
}

// DisconnectEvent is emitted exactly once when an open connection leaves the
// registry, whatever the cause.
type DisconnectEvent struct {
	ConnID    uint32    // The connection's registry id
	Code      uint16    // Close code (1000 for a clean close, 1006 for transport failure)
	Reason    string    // Optional reason text
	Timestamp time.Time // When the connection was removed
}

// ConnectHandler is called when a connection opens. Handlers run on the
// connection's service goroutine; keep them short or hand off heavy work.
type ConnectHandler func(event ConnectEvent)

// MessageHandler is called for each reassembled message.
type MessageHandler func(event MessageEvent)

// DisconnectHandler is called when a connection is removed from the registry.
type DisconnectHandler func(event DisconnectEvent)

// Handler bundles the three lifecycle callbacks as a typed interface, for
// callers that prefer implementing one type over registering three closures.
type Handler interface {
	// OnConnect is invoked after a successful handshake.
	OnConnect(event ConnectEvent)

	// OnMessage is invoked for each reassembled text or binary message.
	OnMessage(event MessageEvent)

	// OnDisconnect is invoked exactly once per open connection that closes.
	OnDisconnect(event DisconnectEvent)
}

// HandlerFuncs adapts plain functions to the Handler interface. Nil fields
// are skipped.
type HandlerFuncs struct {
	Connect    ConnectHandler
	Message    MessageHandler
	Disconnect DisconnectHandler
}

// OnConnect implements Handler.
func (h HandlerFuncs) OnConnect(event ConnectEvent) {
	if h.Connect != nil {
		h.Connect(event)
	}
}

// OnMessage implements Handler.
func (h HandlerFuncs) OnMessage(event MessageEvent) {
	if h.Message != nil {
		h.Message(event)
	}
}

// OnDisconnect implements Handler.
func (h HandlerFuncs) OnDisconnect(event DisconnectEvent) {
	if h.Disconnect != nil {
		h.Disconnect(event)
	}
}

// Dispatcher fans events out to every registered handler, in registration
// order. It is safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
	log      logger.Logger
}

// New creates a Dispatcher. Pass logger.Nop() to discard handler panic logs.
//
// Parameters:
//   - log: Logger for handler panics; must not be nil
//
// Returns:
//   - A new Dispatcher with no handlers registered
func New(log logger.Logger) *Dispatcher {
	return &Dispatcher{log: log}
}

// Register adds a handler. Handlers are invoked in registration order.
//
// Parameters:
//   - h: The handler to add
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// OnConnect registers a connect-only handler function.
//
// Parameters:
//   - fn: Function called after each successful handshake
func (d *Dispatcher) OnConnect(fn ConnectHandler) {
	d.Register(HandlerFuncs{Connect: fn})
}

// OnMessage registers a message-only handler function.
//
// Parameters:
//   - fn: Function called for each reassembled message
func (d *Dispatcher) OnMessage(fn MessageHandler) {
	d.Register(HandlerFuncs{Message: fn})
}

// OnDisconnect registers a disconnect-only handler function.
//
// Parameters:
//   - fn: Function called when a connection closes
func (d *Dispatcher) OnDisconnect(fn DisconnectHandler) {
	d.Register(HandlerFuncs{Disconnect: fn})
}

// DispatchConnect delivers a connect event to every handler.
func (d *Dispatcher) DispatchConnect(event ConnectEvent) {
	for _, h := range d.snapshot() {
		d.safely("connect", event.ConnID, func() { h.OnConnect(event) })
	}
}

// DispatchMessage delivers a message event to every handler.
func (d *Dispatcher) DispatchMessage(event MessageEvent) {
	for _, h := range d.snapshot() {
		d.safely("message", event.ConnID, func() { h.OnMessage(event) })
	}
}

// DispatchDisconnect delivers a disconnect event to every handler.
func (d *Dispatcher) DispatchDisconnect(event DisconnectEvent) {
	for _, h := range d.snapshot() {
		d.safely("disconnect", event.ConnID, func() { h.OnDisconnect(event) })
	}
}

func (d *Dispatcher) snapshot() []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers
}

// safely runs fn, converting a panic into a log entry. The panic stops with
// the offending handler; remaining handlers still run.
func (d *Dispatcher) safely(event string, connID uint32, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic recovered",
				logger.Field{Key: "event", Value: event},
				logger.Field{Key: "conn_id", Value: connID},
				logger.Field{Key: "panic", Value: r},
			)
		}
	}()

	fn()
}
