package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vacmesh/vacmesh-core/internal/infrastructure/mqtt"
)

// Channel is one transport path to a device. A device connection holds
// its channels in preference order (local first when the descriptor
// carries a local address) and uses whichever opened successfully.
type Channel interface {
	// Kind identifies the transport ("mqtt" or "local") for telemetry
	// and session-loss routing.
	Kind() string

	// Open establishes the channel. Open is idempotent; reopening a
	// live channel is a no-op.
	Open(ctx context.Context) error

	// Send transmits a command and blocks until the correlated
	// response, the timeout, or cancellation.
	Send(ctx context.Context, command []byte, timeout time.Duration) ([]byte, error)

	// Close tears the channel down. Safe to call multiple times.
	Close() error
}

// Channel kind names.
const (
	kindMQTT  = "mqtt"
	kindLocal = "local"
)

// mqttChannel routes one device's traffic over the shared cloud
// session. Commands publish to the device's inbound topic; responses
// arrive on its outbound topic and resolve through the session's
// pending-request table.
type mqttChannel struct {
	session  *mqtt.Session
	codec    Codec
	pubTopic string
	subTopic string

	mu  sync.Mutex
	sub *mqtt.Subscription
}

// newMQTTChannel creates a cloud channel for one device.
func newMQTTChannel(session *mqtt.Session, codec Codec, pubTopic, subTopic string) *mqttChannel {
	return &mqttChannel{
		session:  session,
		codec:    codec,
		pubTopic: pubTopic,
		subTopic: subTopic,
	}
}

func (c *mqttChannel) Kind() string { return kindMQTT }

// Open registers the response-topic handler on the shared session.
// The registration survives broker reconnects (the session restores
// it), so after a session loss Open only has to confirm the session
// is live again.
func (c *mqttChannel) Open(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.session.IsConnected() {
		return fmt.Errorf("%w: broker session down", ErrConnectivity)
	}
	if c.sub != nil {
		return nil
	}

	sub, err := c.session.Subscribe(c.subTopic, c.handleInbound)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	c.sub = sub
	return nil
}

// handleInbound decodes a response frame and resolves the request
// waiting on its id. Resolution is scoped to this channel's response
// topic, so an id collision with another device's in-flight request
// cannot deliver this device's payload to the wrong waiter.
// Undecodable frames are dropped; unsolicited ids are normal device
// pushes and ignored.
func (c *mqttChannel) handleInbound(_ string, payload []byte) error {
	id, body, err := c.codec.DecodeResponse(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	c.session.Resolve(c.subTopic, id, body)
	return nil
}

func (c *mqttChannel) Send(ctx context.Context, command []byte, timeout time.Duration) ([]byte, error) {
	id, frame, err := c.codec.EncodeRequest(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	resp, err := c.session.Request(ctx, c.pubTopic, c.subTopic, id, frame, timeout)
	if err != nil {
		return nil, mapSessionError(err)
	}
	return resp, nil
}

func (c *mqttChannel) Close() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

// mapSessionError translates session errors into the fleet taxonomy.
func mapSessionError(err error) error {
	switch {
	case errors.Is(err, mqtt.ErrRequestTimeout):
		return fmt.Errorf("%w: %w", ErrRequestTimeout, err)
	case errors.Is(err, mqtt.ErrConnectionLost),
		errors.Is(err, mqtt.ErrSessionClosed),
		errors.Is(err, mqtt.ErrNotConnected):
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	case errors.Is(err, mqtt.ErrDuplicateRequest):
		// The codec reissued an id still in flight for this device.
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	default:
		return err
	}
}
