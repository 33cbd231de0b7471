package websocket

import (
	"sync"
	"time"
)

// heartbeatEngine implements spec §4.5's heartbeat: a recurring Ping timer
// plus a watchdog that, if no matching Pong arrives within
// max(2*interval, 30s), fails the Connection with ErrHeartbeatTimeout (an
// EventError, then close code 1006).
type heartbeatEngine struct {
	mu       sync.Mutex
	conn     *Connection
	interval time.Duration
	timeout  time.Duration

	pingTimer *time.Timer
	watchdog  *time.Timer
	pingStart time.Time
	stopped   bool

	onPong func(latency time.Duration)
}

func newHeartbeatEngine(c *Connection, interval time.Duration) *heartbeatEngine {
	timeout := 2 * interval
	if timeout < 30*time.Second {
		timeout = 30 * time.Second
	}
	return &heartbeatEngine{conn: c, interval: interval, timeout: timeout}
}

func (h *heartbeatEngine) start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.armLocked()
}

func (h *heartbeatEngine) armLocked() {
	if h.stopped {
		return
	}
	h.pingTimer = time.AfterFunc(h.interval, h.firePing)
}

func (h *heartbeatEngine) firePing() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.pingStart = time.Now()
	h.watchdog = time.AfterFunc(h.timeout, h.fireTimeout)
	h.mu.Unlock()

	_ = h.conn.conn.WriteControl(PingMessage, nil, time.Now().Add(5*time.Second))
}

func (h *heartbeatEngine) fireTimeout() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	h.conn.fail(ErrKindTransport, ErrHeartbeatTimeout)
}

// notePong cancels the timeout watchdog and returns the round-trip latency
// since the last Ping this engine sent, invoking any registered callback.
func (h *heartbeatEngine) notePong() time.Duration {
	h.mu.Lock()
	if h.watchdog != nil {
		h.watchdog.Stop()
		h.watchdog = nil
	}
	var latency time.Duration
	if !h.pingStart.IsZero() {
		latency = time.Since(h.pingStart)
		h.pingStart = time.Time{}
	}
	cb := h.onPong
	h.mu.Unlock()

	if cb != nil {
		cb(latency)
	}
	return latency
}

// rearm schedules the next Ping after a Pong has been observed, per spec
// §4.5's "Pong -> ... re-arm heartbeat".
func (h *heartbeatEngine) rearm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pingTimer != nil {
		h.pingTimer.Stop()
	}
	h.armLocked()
}

// noteManualPing marks a caller-initiated SendPing as the one the next Pong
// is measured against, same as an automatic heartbeat Ping.
func (h *heartbeatEngine) noteManualPing() {
	h.mu.Lock()
	h.pingStart = time.Now()
	h.mu.Unlock()
}

func (h *heartbeatEngine) setCallback(fn func(latency time.Duration)) {
	h.mu.Lock()
	h.onPong = fn
	h.mu.Unlock()
}

func (h *heartbeatEngine) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	if h.pingTimer != nil {
		h.pingTimer.Stop()
	}
	if h.watchdog != nil {
		h.watchdog.Stop()
	}
}
