package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-websocket/frame"
	"github.com/cyberinferno/go-websocket/logger"
)

type recordingHandler struct {
	connects    []ConnectEvent
	messages    []MessageEvent
	disconnects []DisconnectEvent
}

func (h *recordingHandler) OnConnect(event ConnectEvent)       { h.connects = append(h.connects, event) }
func (h *recordingHandler) OnMessage(event MessageEvent)       { h.messages = append(h.messages, event) }
func (h *recordingHandler) OnDisconnect(event DisconnectEvent) { h.disconnects = append(h.disconnects, event) }

func TestDispatcher_deliversToRegisteredHandler(t *testing.T) {
	d := New(logger.Nop())
	h := &recordingHandler{}
	d.Register(h)

	now := time.Now()
	d.DispatchConnect(ConnectEvent{ConnID: 1, RemoteAddr: "10.0.0.1:5000", Timestamp: now})
	d.DispatchMessage(MessageEvent{ConnID: 1, Type: frame.TextMessage, Payload: []byte("hi"), Timestamp: now})
	d.DispatchDisconnect(DisconnectEvent{ConnID: 1, Code: frame.CloseNormal, Timestamp: now})

	require.Len(t, h.connects, 1)
	assert.Equal(t, "10.0.0.1:5000", h.connects[0].RemoteAddr)

	require.Len(t, h.messages, 1)
	assert.Equal(t, frame.TextMessage, h.messages[0].Type)
	assert.Equal(t, []byte("hi"), h.messages[0].Payload)

	require.Len(t, h.disconnects, 1)
	assert.Equal(t, uint16(frame.CloseNormal), h.disconnects[0].Code)
}

func TestDispatcher_multipleHandlersInRegistrationOrder(t *testing.T) {
	d := New(logger.Nop())

	var order []string
	d.OnMessage(func(MessageEvent) { order = append(order, "first") })
	d.OnMessage(func(MessageEvent) { order = append(order, "second") })
	d.OnMessage(func(MessageEvent) { order = append(order, "third") })

	d.DispatchMessage(MessageEvent{ConnID: 1})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestDispatcher_funcRegistrationsAreIndependent(t *testing.T) {
	d := New(logger.Nop())

	var connects, disconnects int
	d.OnConnect(func(ConnectEvent) { connects++ })
	d.OnDisconnect(func(DisconnectEvent) { disconnects++ })

	d.DispatchConnect(ConnectEvent{ConnID: 1})
	d.DispatchMessage(MessageEvent{ConnID: 1})
	d.DispatchDisconnect(DisconnectEvent{ConnID: 1})

	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, disconnects)
}

func TestDispatcher_panicDoesNotStopOtherHandlers(t *testing.T) {
	d := New(logger.Nop())

	var reached bool
	d.OnMessage(func(MessageEvent) { panic("handler bug") })
	d.OnMessage(func(MessageEvent) { reached = true })

	assert.NotPanics(t, func() {
		d.DispatchMessage(MessageEvent{ConnID: 7})
	})
	assert.True(t, reached, "handlers after the panicking one must still run")
}

func TestDispatcher_noHandlersIsANoop(t *testing.T) {
	d := New(logger.Nop())

	assert.NotPanics(t, func() {
		d.DispatchConnect(ConnectEvent{ConnID: 1})
		d.DispatchMessage(MessageEvent{ConnID: 1})
		d.DispatchDisconnect(DisconnectEvent{ConnID: 1})
	})
}

func TestHandlerFuncs_nilFieldsAreSkipped(t *testing.T) {
	var h HandlerFuncs

	assert.NotPanics(t, func() {
		h.OnConnect(ConnectEvent{})
		h.OnMessage(MessageEvent{})
		h.OnDisconnect(DisconnectEvent{})
	})
}
