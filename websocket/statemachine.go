package websocket

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// ReadyState is the Connection's position in the open/close lifecycle
// (spec §4.5). Initial state is StateConnecting, terminal state StateClosed.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// BinaryType selects how binary messages are surfaced to the application,
// the Go realization of the source's dynamic Buffer/ArrayBuffer/Blob switch
// (spec §9 Design Notes). Go has no Blob analogue, so BinaryTypeBlob falls
// back to the same raw byte slice as BinaryTypeBuffer.
type BinaryType int

const (
	BinaryTypeBuffer BinaryType = iota
	BinaryTypeArrayBuffer
	BinaryTypeBlob
)

// ConnectionOptions configures NewConnection: heartbeat, binary-type
// reporting and client auto-reconnect. Role, subprotocol, origin and
// extension settings are not options here; they come from the Upgrader or
// Dialer handshake that produced the *Conn.
type ConnectionOptions struct {
	// HeartbeatInterval arms the ping/pong liveness engine (heartbeat.go)
	// when > 0. Zero disables heartbeating.
	HeartbeatInterval time.Duration

	// BinaryType controls how binary messages are reported on Event.Data;
	// Go has no separate surface types, so this is informational only.
	BinaryType BinaryType

	// AutoReconnect enables client-side reconnection (reconnect.go) after
	// any close that ShouldReconnect accepts, clean or not. Requires Redial.
	AutoReconnect      bool
	ReconnectAttempts  int           // 0 means unlimited
	ReconnectBaseDelay time.Duration // default 1s
	ReconnectBackoff   float64       // default 2
	ReconnectMaxDelay  time.Duration // default 30s

	// Redial re-runs the client handshake to obtain a fresh *Conn, the Go
	// realization of spec's request_factory. Required for AutoReconnect.
	Redial func(ctx context.Context) (*Conn, error)

	// ShouldReconnect inspects the close Event and decides whether to
	// schedule a reconnect attempt. Nil means always reconnect.
	ShouldReconnect func(ev Event) bool
}

// sendRequest is one queued outbound message, backpressured through the
// writer goroutine exactly as spec §4.5's outbound data flow describes.
type sendRequest struct {
	messageType int
	data        []byte
	result      chan error
}

// Connection is the event-driven, high-level WebSocket endpoint spec §4.5
// describes: one reader goroutine and one writer goroutine per underlying
// *Conn, coordinated so the frame parser, extension pipeline, and writer
// never run concurrently on the same Conn (the Go realization of the
// "connection's task" single-threaded cooperative model, spec §5).
type Connection struct {
	mu   sync.Mutex
	conn *Conn
	opts ConnectionOptions

	state atomic.Int32

	events chan Event
	sendCh chan sendRequest
	done   chan struct{}

	closeOnce     sync.Once
	closeWatchdog *time.Timer

	hb          *heartbeatEngine
	reconnector *reconnector

	terminateHooks []func(code int, reason string, wasClean bool)
}

// NewConnection wraps an already-upgraded *Conn (from Upgrader.Upgrade or
// Dialer.Dial) with the event-driven state machine, realizing
// create_connection(options). The Connection takes ownership of conn: no
// other goroutine may call conn's read methods once this returns.
func NewConnection(conn *Conn, opts ConnectionOptions) *Connection {
	if opts.ReconnectBackoff == 0 {
		opts.ReconnectBackoff = 2
	}
	if opts.ReconnectBaseDelay == 0 {
		opts.ReconnectBaseDelay = time.Second
	}
	if opts.ReconnectMaxDelay == 0 {
		opts.ReconnectMaxDelay = 30 * time.Second
	}

	c := &Connection{
		conn:   conn,
		opts:   opts,
		events: make(chan Event, 16),
		sendCh: make(chan sendRequest),
		done:   make(chan struct{}),
	}
	if opts.AutoReconnect {
		c.reconnector = newReconnector(opts)
	}
	c.start()
	return c
}

// start wires the handlers onto c.conn, transitions Connecting -> Open,
// emits EventOpen, and launches the reader/writer goroutines. Also used by
// rebind to resume the state machine against a freshly reconnected *Conn.
func (c *Connection) start() {
	c.conn.SetPingHandler(func(appData string) error {
		c.emit(Event{Type: EventPing, Data: []byte(appData)})
		return c.conn.WriteControl(PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	c.conn.SetPongHandler(func(appData string) error {
		var latency time.Duration
		if c.hb != nil {
			latency = c.hb.notePong()
			c.hb.rearm()
		}
		c.emit(Event{Type: EventPong, Data: []byte(appData), Latency: latency})
		return nil
	})
	c.conn.SetCloseHandler(func(code int, text string) error {
		if ReadyState(c.state.Load()) == StateOpen {
			c.state.Store(int32(StateClosing))
			_ = c.conn.WriteControl(CloseMessage, FormatCloseMessage(code, text), time.Now().Add(5*time.Second))
		}
		return nil
	})

	c.state.Store(int32(StateOpen))
	if c.opts.HeartbeatInterval > 0 {
		c.hb = newHeartbeatEngine(c, c.opts.HeartbeatInterval)
		c.hb.start()
	}
	c.emit(Event{Type: EventOpen})

	go c.readLoop()
	go c.writeLoop()
}

// ReadyState reports the Connection's current lifecycle position.
func (c *Connection) ReadyState() ReadyState {
	return ReadyState(c.state.Load())
}

// ID returns the identifier of the underlying Conn, stable across
// reconnects only if the caller's Redial happens to preserve it (it won't,
// since each dial produces a fresh Conn.ID).
func (c *Connection) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.ID
}

// Events returns the channel of lifecycle and message events. Callers are
// expected to drain it; Connection methods that emit (Close, heartbeat
// timeout, read errors) block on a full, undrained channel.
func (c *Connection) Events() <-chan Event {
	return c.events
}

func (c *Connection) emit(ev Event) {
	c.events <- ev
}

// Send enqueues payload for delivery, the Go realization of send(payload).
// It returns once the message has been fully written to the socket, mirroring
// spec's backpressure contract ("send returns successfully once the entire
// message has been queued through the socket").
func (c *Connection) Send(payload []byte, binary bool) error {
	messageType := TextMessage
	if binary {
		messageType = BinaryMessage
	}
	return c.enqueueSend(messageType, payload)
}

// SendPing sends a Ping frame with the given payload, arming heartbeat
// latency measurement if a heartbeat is active.
func (c *Connection) SendPing(payload []byte) error {
	if c.ReadyState() != StateOpen {
		return ErrConnectionNotOpen
	}
	if c.hb != nil {
		c.hb.noteManualPing()
	}
	return c.conn.WriteControl(PingMessage, payload, time.Now().Add(5*time.Second))
}

// SendPong sends an unsolicited Pong frame with the given payload.
func (c *Connection) SendPong(payload []byte) error {
	if c.ReadyState() != StateOpen {
		return ErrConnectionNotOpen
	}
	return c.conn.WriteControl(PongMessage, payload, time.Now().Add(5*time.Second))
}

// Heartbeat installs fn as the callback invoked with the measured round-trip
// latency on every Pong, the realization of heartbeat(callback?). Returns
// ErrHeartbeatDisabled if HeartbeatInterval was not configured.
func (c *Connection) Heartbeat(fn func(latency time.Duration)) error {
	if c.hb == nil {
		return ErrHeartbeatDisabled
	}
	c.hb.setCallback(fn)
	return nil
}

// Close drives the local side of the close handshake (spec §4.5's
// Open -> Closing transition): it sends a Close frame and arms a 10-second
// watchdog. Closed is reached when the peer's Close is observed by readLoop
// or the watchdog fires, whichever comes first. Idempotent.
func (c *Connection) Close(code int, reason string) error {
	prev := ReadyState(c.state.Swap(int32(StateClosing)))
	if prev == StateClosing || prev == StateClosed {
		return nil
	}

	err := c.conn.WriteControl(CloseMessage, FormatCloseMessage(code, reason), time.Now().Add(5*time.Second))

	c.mu.Lock()
	c.closeWatchdog = time.AfterFunc(10*time.Second, func() {
		c.finishClose(CloseAbnormalClosure, "close handshake timeout", false)
	})
	c.mu.Unlock()

	return err
}

func (c *Connection) enqueueSend(messageType int, data []byte) error {
	if c.ReadyState() != StateOpen {
		return ErrConnectionNotOpen
	}
	req := sendRequest{messageType: messageType, data: data, result: make(chan error, 1)}
	select {
	case c.sendCh <- req:
	case <-c.done:
		return ErrConnectionNotOpen
	}
	select {
	case err := <-req.result:
		return err
	case <-c.done:
		return ErrConnectionNotOpen
	}
}

func (c *Connection) writeLoop() {
	done := c.done
	for {
		select {
		case req := <-c.sendCh:
			err := c.conn.WriteMessage(req.messageType, req.data)
			req.result <- err
			if err != nil {
				c.fail(ErrKindTransport, err)
				return
			}
		case <-done:
			return
		}
	}
}

// errInvalidUTF8Text flags a Text message whose payload is not valid UTF-8,
// a protocol error per RFC 6455 section 5.6.
var errInvalidUTF8Text = errors.New("websocket: text message payload is not valid utf-8")

func (c *Connection) readLoop() {
	for {
		messageType, r, err := c.conn.NextReader()
		if err != nil {
			c.handleReadError(err)
			return
		}

		data, err := io.ReadAll(r)
		if err != nil {
			c.handleReadError(err)
			return
		}

		switch messageType {
		case TextMessage:
			if !utf8.Valid(data) {
				c.fail(ErrKindProtocol, errInvalidUTF8Text)
				return
			}
			c.emit(Event{Type: EventMessage, Data: data, IsBinary: false})
		case BinaryMessage:
			c.emit(Event{Type: EventMessage, Data: data, IsBinary: true})
		}
	}
}

func (c *Connection) handleReadError(err error) {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		c.finishClose(closeErr.Code, closeErr.Text, true)
		return
	}

	kind := ErrKindTransport
	switch {
	case errors.Is(err, ErrReadLimit), errors.Is(err, ErrMessageTooLarge):
		kind = ErrKindMessageTooLarge
	case errors.Is(err, ErrProtocolError), errors.Is(err, ErrReservedBits), errors.Is(err, ErrInvalidOpcode),
		errors.Is(err, ErrUnexpectedContinuation), errors.Is(err, ErrExpectedContinuation),
		errors.Is(err, ErrFragmentedControlFrame), errors.Is(err, ErrControlFramePayloadTooBig),
		errors.Is(err, ErrInvalidControlFrame), errors.Is(err, ErrInvalidMessageType),
		errors.Is(err, ErrMaskMismatch):
		kind = ErrKindProtocol
	case errors.Is(err, ErrInvalidExtensionResponse):
		kind = ErrKindExtension
	}
	c.fail(kind, err)
}

// fail emits an error event then drives the Connection to Closed with the
// close code spec §7's Error Handling Design table maps from kind. Per the
// open question in spec §9, err is stringified into the Close frame reason
// here rather than carried as a structured value.
func (c *Connection) fail(kind ErrorKind, err error) {
	c.emit(Event{Type: EventError, Err: err, Kind: kind})
	c.finishClose(closeCodeForKind(kind), err.Error(), false)
}

func closeCodeForKind(kind ErrorKind) int {
	switch kind {
	case ErrKindMessageTooLarge:
		return CloseMessageTooBig
	case ErrKindProtocol:
		return CloseProtocolError
	case ErrKindExtension, ErrKindInternal:
		return CloseInternalServerErr
	default:
		return CloseAbnormalClosure
	}
}

// finishClose is the sole path to StateClosed (spec §4.5's Closing -> Closed
// transition and the "any state -> Closed on error" transition), run exactly
// once per Connection. Per the open question in spec §9, ready_state is set
// to Closed here before the underlying socket is closed and the event is
// emitted, which can elide an observable Closing state on very fast closes
// — preserved verbatim rather than "corrected", as the source does this too.
func (c *Connection) finishClose(code int, reason string, wasClean bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.closeWatchdog != nil {
			c.closeWatchdog.Stop()
		}
		hooks := c.terminateHooks
		c.mu.Unlock()

		c.state.Store(int32(StateClosed))
		if c.hb != nil {
			c.hb.stop()
		}
		close(c.done)
		_ = c.conn.Close()

		for _, hook := range hooks {
			hook(code, reason, wasClean)
		}

		c.emit(Event{Type: EventClose, Code: code, Reason: reason, WasClean: wasClean})

		if c.reconnector != nil {
			should := true
			if c.opts.ShouldReconnect != nil {
				should = c.opts.ShouldReconnect(Event{Type: EventClose, Code: code, Reason: reason, WasClean: wasClean})
			}
			if should {
				c.reconnector.schedule(c)
			}
		}
	})
}

// rebind resumes the state machine against a freshly reconnected *Conn,
// called by reconnector after a successful redial (spec §4.5's auto-reconnect
// "on successful Open, reset attempts to 0").
func (c *Connection) rebind(conn *Conn) {
	c.mu.Lock()
	c.conn = conn
	c.done = make(chan struct{})
	c.closeWatchdog = nil
	c.mu.Unlock()
	c.closeOnce = sync.Once{}
	c.state.Store(int32(StateConnecting))
	c.start()
}

// onTerminate registers fn to run once, synchronously, when the Connection
// reaches Closed — the Go realization of the Registry's "subscribe to conn's
// close and error observers" without forcing Registry to compete with the
// caller for reads off Events().
func (c *Connection) onTerminate(fn func(code int, reason string, wasClean bool)) {
	c.mu.Lock()
	c.terminateHooks = append(c.terminateHooks, fn)
	c.mu.Unlock()
}
