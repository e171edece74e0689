package fleet

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// connParams bundles the timing knobs for a device connection.
type connParams struct {
	// requestTimeout is the default per-command deadline.
	requestTimeout time.Duration

	// initialDelay and maxDelay bound the reconnect backoff.
	initialDelay time.Duration
	maxDelay     time.Duration
}

// Conn is the per-device connectivity façade.
//
// It owns the device's lifecycle state and its transport channels, in
// preference order: a LAN channel first when the descriptor carries a
// local address, the shared cloud channel as fallback. Connectivity
// attempts run in a background goroutine with capped exponential
// backoff and never block callers.
//
// State transitions are reported exactly once per actual change
// through the notify callback; repeated failed attempts while already
// Disconnected emit nothing. The callback is the connection's only
// link to its owner — Conn holds no reference back into the manager.
type Conn struct {
	duid     string
	channels []Channel
	notify   func(Event)
	params   connParams

	mu         sync.Mutex
	state      State
	active     Channel
	connecting bool
	closed     bool

	// emitMu serializes notifications so a device's transitions are
	// observed in the order they occurred.
	emitMu sync.Mutex

	stop chan struct{}
}

// newConn creates a connection in the Discovered state. Channels are
// tried in slice order.
func newConn(duid string, channels []Channel, notify func(Event), params connParams) *Conn {
	return &Conn{
		duid:     duid,
		channels: channels,
		notify:   notify,
		params:   params,
		state:    StateDiscovered,
		stop:     make(chan struct{}),
	}
}

// DUID returns the device's unique identifier.
func (c *Conn) DUID() string {
	return c.duid
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transport returns the kind of the live channel, or "" when not
// connected.
func (c *Conn) Transport() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.Kind()
}

// StartConnect begins (or resumes) connectivity attempts in the
// background. Idempotent: calling it while already connected, already
// retrying, or closed is a no-op. Never blocks.
func (c *Conn) StartConnect() {
	if len(c.channels) == 0 {
		// Mapped but transportless (descriptor with no topics and no
		// local address): capability queries work, connecting cannot.
		return
	}

	c.mu.Lock()
	if c.closed || c.connecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.mu.Unlock()

	go c.connectLoop()
}

// connectLoop tries each channel in preference order until one opens,
// backing off exponentially with jitter between rounds. Attempts are
// unbounded while the connection is not closed.
func (c *Conn) connectLoop() {
	delay := c.params.initialDelay

	for {
		select {
		case <-c.stop:
			c.clearConnecting()
			return
		default:
		}

		ch, err := c.tryOpen()
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				_ = ch.Close()
				return
			}
			c.active = ch
			c.connecting = false
			c.mu.Unlock()

			c.transition(StateConnected, nil)
			return
		}

		// First failure flips Mapped/Connected to Disconnected; later
		// failures in the same outage change nothing and emit nothing.
		c.transition(StateDisconnected, err)

		select {
		case <-c.stop:
			c.clearConnecting()
			return
		case <-time.After(jitter(delay)):
		}

		delay *= 2
		if delay > c.params.maxDelay {
			delay = c.params.maxDelay
		}
	}
}

// tryOpen attempts each channel in order, returning the first that
// opens. The local channel comes first when present, so LAN transport
// is preferred and the cloud session is the fallback.
func (c *Conn) tryOpen() (Channel, error) {
	var lastErr error
	for _, ch := range c.channels {
		ctx, cancel := context.WithTimeout(context.Background(), c.params.requestTimeout)
		err := ch.Open(ctx)
		cancel()
		if err == nil {
			return ch, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Conn) clearConnecting() {
	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()
}

// Send transmits a command over the live channel and blocks until the
// correlated response, the timeout, or ctx cancellation. A timeout of
// zero uses the configured default. Sends on different devices are
// fully independent; a slow device never delays another.
//
// Parameters:
//   - ctx: Context for cancellation
//   - command: Opaque command body; framing is the codec's job
//   - timeout: Per-call deadline, or 0 for the configured default
//
// Returns:
//   - []byte: The decoded response body
//   - error: ErrConnClosed, ErrNotConnected, ErrRequestTimeout,
//     ErrConnectivity, ErrProtocolViolation, or ctx.Err()
func (c *Conn) Send(ctx context.Context, command []byte, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	if c.state != StateConnected || c.active == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	ch := c.active
	c.mu.Unlock()

	if timeout <= 0 {
		timeout = c.params.requestTimeout
	}

	// Tie the request to the connection's lifetime: Close must unblock
	// a waiting Send immediately, not leave it to ride out the timeout
	// against a shared transport that outlives this device.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	resp, err := ch.Send(ctx, command, timeout)
	if err != nil && errors.Is(err, context.Canceled) && c.isClosed() {
		return nil, ErrConnClosed
	}
	return resp, err
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// handleTransportDown is invoked when a transport reports loss: the
// local channel's read loop dying, or the shared broker session
// dropping (routed here by the manager for cloud-connected devices).
// The kind guards against a stale report for a transport this device
// is not currently using.
func (c *Conn) handleTransportDown(kind string, err error) {
	c.mu.Lock()
	if c.closed || c.active == nil || c.active.Kind() != kind {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.mu.Unlock()

	c.transition(StateDisconnected, err)
	c.StartConnect()
}

// markMapped transitions the device from Discovered to Mapped.
func (c *Conn) markMapped() {
	c.transition(StateMapped, nil)
}

// markRemoved transitions the device to its terminal state.
func (c *Conn) markRemoved() {
	c.transition(StateRemoved, nil)
}

// transition moves to next if that is an actual, valid state change,
// and reports it exactly once. Invalid transitions are ignored; they
// occur only in benign races (e.g. a transport-down report arriving
// after removal).
func (c *Conn) transition(next State, cause error) {
	c.mu.Lock()
	prev := c.state
	if prev == next || !prev.CanTransition(next) {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()

	if c.notify == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.notify(Event{
		DUID:     c.duid,
		Previous: prev,
		State:    next,
		Err:      cause,
	})
}

// Close tears down the retry loop and every channel. Safe to call
// multiple times. Close does not emit a transition; removal events are
// the manager's decision, and shutdown is not a lifecycle change.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.active = nil
	close(c.stop)
	c.mu.Unlock()

	for _, ch := range c.channels {
		_ = ch.Close()
	}
	return nil
}

// jitter spreads a backoff delay across 50–150% of its nominal value
// so a fleet of reconnecting devices does not thunder in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int64N(int64(d)))
}
