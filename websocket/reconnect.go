package websocket

import (
	"context"
	"math"
	"sync"
	"time"
)

// reconnector implements spec §4.5's client-only auto-reconnect: after a
// close, schedule a fresh attempt after min(base_delay * backoff^attempts,
// max_delay), resetting attempts to 0 on a successful Open.
type reconnector struct {
	mu sync.Mutex

	attempts    int
	maxAttempts int // 0 means unlimited

	baseDelay time.Duration
	backoff   float64
	maxDelay  time.Duration

	redial func(ctx context.Context) (*Conn, error)
	timer  *time.Timer
}

func newReconnector(opts ConnectionOptions) *reconnector {
	return &reconnector{
		maxAttempts: opts.ReconnectAttempts,
		baseDelay:   opts.ReconnectBaseDelay,
		backoff:     opts.ReconnectBackoff,
		maxDelay:    opts.ReconnectMaxDelay,
		redial:      opts.Redial,
	}
}

// schedule arms a timer for the next reconnect attempt against parent,
// unless Redial is unset or the attempt budget is exhausted.
func (rc *reconnector) schedule(parent *Connection) {
	if rc.redial == nil {
		return
	}

	rc.mu.Lock()
	if rc.maxAttempts > 0 && rc.attempts >= rc.maxAttempts {
		rc.mu.Unlock()
		return
	}
	delay := rc.nextDelayLocked()
	rc.attempts++
	rc.mu.Unlock()

	rc.timer = time.AfterFunc(delay, func() {
		rc.attempt(parent)
	})
}

func (rc *reconnector) nextDelayLocked() time.Duration {
	d := float64(rc.baseDelay) * math.Pow(rc.backoff, float64(rc.attempts))
	if d > float64(rc.maxDelay) {
		d = float64(rc.maxDelay)
	}
	return time.Duration(d)
}

func (rc *reconnector) attempt(parent *Connection) {
	conn, err := rc.redial(context.Background())
	if err != nil {
		rc.schedule(parent)
		return
	}

	rc.mu.Lock()
	rc.attempts = 0
	rc.mu.Unlock()

	parent.rebind(conn)
}

// stop cancels any pending reconnect attempt. Connection never calls it, so
// a reconnect that finishClose has scheduled stays armed, including after a
// local Close.
func (rc *reconnector) stop() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.timer != nil {
		rc.timer.Stop()
	}
}
