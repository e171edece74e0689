package fleet

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/vacmesh/vacmesh-core/internal/rpc"
)

// maxLocalFrame caps inbound local frames. Vacuum protocol frames are
// a few KB; anything larger means a corrupt length prefix.
const maxLocalFrame = 1 << 20

// localChannel is a dedicated TCP transport to a device on the LAN.
//
// Frames are length-prefixed: a 4-byte big-endian payload length
// followed by the payload. The channel owns its connection and its own
// pending-request table; it is never shared between devices.
type localChannel struct {
	addr           string
	codec          Codec
	connectTimeout time.Duration
	readTimeout    time.Duration

	pending *rpc.Tracker[uint32, []byte]
	onDown  func(error)

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// newLocalChannel creates a LAN channel for one device. onDown is
// invoked once when a live connection drops; it must not block.
func newLocalChannel(addr string, codec Codec, connectTimeout, readTimeout time.Duration, onDown func(error)) *localChannel {
	return &localChannel{
		addr:           addr,
		codec:          codec,
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
		pending:        rpc.NewTracker[uint32, []byte](),
		onDown:         onDown,
	}
}

func (c *localChannel) Kind() string { return kindLocal }

// Open dials the device and starts the read loop. Idempotent while the
// connection is live.
func (c *localChannel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	if c.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %w", ErrConnectivity, c.addr, err)
	}
	c.conn = conn

	go c.readLoop(conn)
	return nil
}

// readLoop reads length-prefixed frames until the connection dies,
// resolving responses by request id. On exit every pending request
// fails and the owner is notified exactly once.
func (c *localChannel) readLoop(conn net.Conn) {
	var header [4]byte
	for {
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			c.handleReadFailure(conn, err)
			return
		}

		size := binary.BigEndian.Uint32(header[:])
		if size == 0 || size > maxLocalFrame {
			c.handleReadFailure(conn, fmt.Errorf("%w: frame length %d", ErrProtocolViolation, size))
			return
		}

		// A started frame must finish promptly; a stalled device
		// mid-frame would otherwise wedge the loop forever.
		if c.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(conn, frame); err != nil {
			c.handleReadFailure(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Time{})

		id, body, err := c.codec.DecodeResponse(frame)
		if err != nil {
			// Drop the frame, keep the connection. One garbled frame
			// is not worth a reconnect cycle.
			continue
		}
		c.pending.Resolve(id, body)
	}
}

// handleReadFailure tears down after a dead read, unless the failure
// is our own Close.
func (c *localChannel) handleReadFailure(conn net.Conn, err error) {
	c.mu.Lock()
	stale := c.conn != conn
	wasClosed := c.closed
	if !stale {
		c.conn = nil
	}
	c.mu.Unlock()

	if stale {
		return
	}
	_ = conn.Close()

	cause := fmt.Errorf("%w: %w", ErrConnectivity, err)
	c.pending.FailAll(cause)

	if !wasClosed && c.onDown != nil {
		c.onDown(cause)
	}
}

func (c *localChannel) Send(ctx context.Context, command []byte, timeout time.Duration) ([]byte, error) {
	id, frame, err := c.codec.EncodeRequest(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrConnClosed
	}
	if conn == nil {
		return nil, ErrNotConnected
	}

	ch, err := c.pending.Start(id)
	if err != nil {
		return nil, fmt.Errorf("%w: request id %d already in flight", ErrProtocolViolation, id)
	}

	var header [4]byte
	// #nosec G115 -- frame length bounded by maxLocalFrame on the read
	// side and well under 4GB on the write side
	binary.BigEndian.PutUint32(header[:], uint32(len(frame)))
	if _, err := conn.Write(append(header[:], frame...)); err != nil {
		c.pending.Pop(id)
		return nil, fmt.Errorf("%w: writing frame: %w", ErrConnectivity, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Value, nil
	case <-timer.C:
		c.pending.Pop(id)
		return nil, fmt.Errorf("%w: no response within %v for id %d", ErrRequestTimeout, timeout, id)
	case <-ctx.Done():
		c.pending.Pop(id)
		return nil, ctx.Err()
	}
}

// Close tears the channel down. Pending requests fail with
// ErrConnClosed. Safe to call multiple times.
func (c *localChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.pending.FailAll(ErrConnClosed)
	c.pending.Close()
	return nil
}
