package websocket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newConnectionPair wires a server-role and client-role Connection over an
// in-memory net.Pipe, mirroring the low-level tests' net.Pipe usage but
// driving the event-driven Connection instead of a bare Conn.
func newConnectionPair(t *testing.T, opts ConnectionOptions) (server *Connection, client *Connection) {
	t.Helper()
	serverNetConn, clientNetConn := net.Pipe()
	serverConn := newConn(serverNetConn, true, 0, 0)
	clientConn := newConn(clientNetConn, false, 0, 0)

	server = NewConnection(serverConn, opts)
	client = NewConnection(clientConn, opts)

	t.Cleanup(func() {
		_ = server.Close(CloseNormalClosure, "")
		_ = client.Close(CloseNormalClosure, "")
	})

	return server, client
}

// drain starts a goroutine that discards events for c until its channel is
// closed or the test ends, unblocking emit() for connections whose events
// the test doesn't care to inspect.
func drain(c *Connection) {
	go func() {
		for range c.Events() {
		}
	}()
}

func TestConnectionOpenEvent(t *testing.T) {
	server, client := newConnectionPair(t, ConnectionOptions{})
	defer drain(client)

	ev := <-server.Events()
	assert.Equal(t, EventOpen, ev.Type)
	assert.Equal(t, StateOpen, server.ReadyState())
}

func TestConnectionIDMatchesUnderlyingConn(t *testing.T) {
	server, client := newConnectionPair(t, ConnectionOptions{})
	defer drain(server)
	defer drain(client)
	require.Equal(t, EventOpen, (<-server.Events()).Type)

	assert.NotEmpty(t, server.ID())
	assert.Equal(t, server.conn.ID, server.ID())
}

func TestConnectionSendAndMessageEvent(t *testing.T) {
	server, client := newConnectionPair(t, ConnectionOptions{})
	require.Equal(t, EventOpen, (<-server.Events()).Type)
	require.Equal(t, EventOpen, (<-client.Events()).Type)

	go func() {
		_ = server.Send([]byte("hello"), false)
	}()

	ev := <-client.Events()
	require.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, "hello", string(ev.Data))
	assert.False(t, ev.IsBinary)
}

func TestConnectionSendBinary(t *testing.T) {
	server, client := newConnectionPair(t, ConnectionOptions{})
	require.Equal(t, EventOpen, (<-server.Events()).Type)
	require.Equal(t, EventOpen, (<-client.Events()).Type)

	payload := []byte{0x00, 0x01, 0xff, 0xfe}
	go func() {
		_ = server.Send(payload, true)
	}()

	ev := <-client.Events()
	require.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, payload, ev.Data)
	assert.True(t, ev.IsBinary)
}

func TestConnectionSendOnClosedReturnsError(t *testing.T) {
	server, client := newConnectionPair(t, ConnectionOptions{})
	defer drain(server)
	defer drain(client)
	require.Equal(t, EventOpen, (<-server.Events()).Type)

	server.state.Store(int32(StateClosed))
	err := server.Send([]byte("x"), false)
	assert.ErrorIs(t, err, ErrConnectionNotOpen)
}

func TestConnectionPingPong(t *testing.T) {
	server, client := newConnectionPair(t, ConnectionOptions{})
	require.Equal(t, EventOpen, (<-server.Events()).Type)
	require.Equal(t, EventOpen, (<-client.Events()).Type)

	go func() {
		_ = client.SendPing([]byte("ping-data"))
	}()

	pingEv := <-server.Events()
	require.Equal(t, EventPing, pingEv.Type)
	assert.Equal(t, "ping-data", string(pingEv.Data))

	pongEv := <-client.Events()
	require.Equal(t, EventPong, pongEv.Type)
	assert.Equal(t, "ping-data", string(pongEv.Data))
	assert.GreaterOrEqual(t, pongEv.Latency, time.Duration(0))
}

func TestConnectionCloseHandshake(t *testing.T) {
	server, client := newConnectionPair(t, ConnectionOptions{})
	require.Equal(t, EventOpen, (<-server.Events()).Type)
	require.Equal(t, EventOpen, (<-client.Events()).Type)

	go func() {
		_ = client.Close(CloseNormalClosure, "bye")
	}()

	var serverClose, clientClose Event
	for serverClose.Type != EventClose {
		serverClose = <-server.Events()
	}
	for clientClose.Type != EventClose {
		clientClose = <-client.Events()
	}

	assert.Equal(t, CloseNormalClosure, serverClose.Code)
	assert.True(t, serverClose.WasClean)
	assert.Equal(t, StateClosed, server.ReadyState())
	assert.True(t, clientClose.WasClean)
	assert.Equal(t, StateClosed, client.ReadyState())
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	server, client := newConnectionPair(t, ConnectionOptions{})
	defer drain(server)
	defer drain(client)
	require.Equal(t, EventOpen, (<-server.Events()).Type)

	err1 := server.Close(CloseNormalClosure, "first")
	err2 := server.Close(CloseGoingAway, "second")
	assert.NoError(t, err1)
	assert.NoError(t, err2)
}

func TestConnectionInvalidUTF8TextFailsProtocol(t *testing.T) {
	server, client := newConnectionPair(t, ConnectionOptions{})
	defer drain(server)
	require.Equal(t, EventOpen, (<-server.Events()).Type)
	require.Equal(t, EventOpen, (<-client.Events()).Type)

	invalid := []byte{0xff, 0xfe, 0xfd}
	go func() {
		_, _ = client.conn.rwc.Write(SerializeFrame(Frame{
			Fin:     true,
			Opcode:  TextMessage,
			Masked:  true,
			Payload: invalid,
		}))
	}()

	errEv := <-server.Events()
	require.Equal(t, EventError, errEv.Type)
	assert.Equal(t, ErrKindProtocol, errEv.Kind)

	closeEv := <-server.Events()
	require.Equal(t, EventClose, closeEv.Type)
	assert.False(t, closeEv.WasClean)
}

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		in   EventType
		want string
	}{
		{EventOpen, "open"},
		{EventMessage, "message"},
		{EventPing, "ping"},
		{EventPong, "pong"},
		{EventClose, "close"},
		{EventError, "error"},
		{EventType(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.String())
	}
}

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		in   ErrorKind
		want string
	}{
		{ErrKindProtocol, "protocol"},
		{ErrKindMessageTooLarge, "message_too_large"},
		{ErrKindExtension, "extension"},
		{ErrKindHandshake, "handshake"},
		{ErrKindTransport, "transport"},
		{ErrKindInternal, "internal"},
		{ErrorKind(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.String())
	}
}

func TestReadyStateString(t *testing.T) {
	tests := []struct {
		in   ReadyState
		want string
	}{
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosing, "closing"},
		{StateClosed, "closed"},
		{ReadyState(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.String())
	}
}

func TestCloseCodeForKind(t *testing.T) {
	assert.Equal(t, CloseMessageTooBig, closeCodeForKind(ErrKindMessageTooLarge))
	assert.Equal(t, CloseProtocolError, closeCodeForKind(ErrKindProtocol))
	assert.Equal(t, CloseInternalServerErr, closeCodeForKind(ErrKindExtension))
	assert.Equal(t, CloseInternalServerErr, closeCodeForKind(ErrKindInternal))
	assert.Equal(t, CloseAbnormalClosure, closeCodeForKind(ErrKindTransport))
	assert.Equal(t, CloseAbnormalClosure, closeCodeForKind(ErrKindHandshake))
}
