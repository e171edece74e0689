package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vacmesh/vacmesh-core/internal/infrastructure/config"
	"github.com/vacmesh/vacmesh-core/internal/rpc"
)

// Session wraps paho.mqtt.golang as the shared cloud transport for all
// device connections.
//
// One Session serves the whole fleet: each device connection registers
// handlers on its own response topic and publishes commands through the
// session. The session correlates request ids with waiting callers and
// fails everything outstanding when the connection drops or the session
// is closed.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Session struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// subs maps topic filters to their registered handlers, in
	// registration order. One broker subscription backs each key.
	subs  map[string][]handlerEntry
	subMu sync.RWMutex

	// pending correlates outbound requests with waiting callers. Keys
	// carry the response topic because each device runs its own id
	// sequence: ids are unique per device, not across the session.
	pending *rpc.Tracker[requestKey, []byte]

	connected bool
	closed    bool
	connMu    sync.RWMutex

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnConnectionLost).
	onConnect        func()
	onConnectionLost func(err error)
	callbackMu       sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// requestKey identifies one outstanding request. The id alone is not
// enough: two devices with overlapping id windows must never resolve
// each other's requests, so the key is scoped to the response topic.
type requestKey struct {
	topic string
	id    uint32
}

// MessageHandler is the callback signature for received messages.
//
// Handlers for the same topic run sequentially in registration order.
// They should not block for extended periods.
//
// Parameters:
//   - topic: The topic filter the handler was registered under
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// newSession creates an unconnected session with an empty registry.
func newSession(cfg config.MQTTConfig) *Session {
	return &Session{
		cfg:     cfg,
		subs:    make(map[string][]handlerEntry),
		pending: rpc.NewTracker[requestKey, []byte](),
	}
}

// Connect establishes a session with the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Sets up auto-reconnect with exponential backoff
//  3. Attempts initial connection with timeout
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - *Session: Connected session ready for use
//   - error: If initial connection fails within timeout
func Connect(cfg config.MQTTConfig) (*Session, error) {
	s := newSession(cfg)
	opts := buildClientOptions(cfg)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		s.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.handleConnectionLost(err)
	})

	s.client = pahomqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Set connected state immediately after successful connection.
	// The OnConnectHandler callback runs asynchronously and may not have
	// executed yet, so we set it here to ensure IsConnected() returns true.
	s.connMu.Lock()
	s.connected = true
	s.connMu.Unlock()

	return s, nil
}

// handleConnect is called when the connection is established, including
// every reconnect.
func (s *Session) handleConnect() {
	s.connMu.Lock()
	s.connected = true
	s.connMu.Unlock()

	s.restoreSubscriptions()

	s.callbackMu.RLock()
	callback := s.onConnect
	s.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleConnectionLost is called when the connection drops. Every
// outstanding request fails immediately: a response may have been lost
// in transit and the caller must decide whether to retry.
func (s *Session) handleConnectionLost(err error) {
	s.connMu.Lock()
	s.connected = false
	s.connMu.Unlock()

	s.pending.FailAll(fmt.Errorf("%w: %w", ErrConnectionLost, err))

	s.callbackMu.RLock()
	callback := s.onConnectionLost
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes every registered topic after reconnect.
func (s *Session) restoreSubscriptions() {
	s.subMu.RLock()
	topics := make([]string, 0, len(s.subs))
	for topic := range s.subs {
		topics = append(topics, topic)
	}
	s.subMu.RUnlock()

	for _, topic := range topics {
		// Re-subscribe (errors surface via the next request's timeout)
		s.client.Subscribe(topic, byte(s.cfg.QoS), s.routerFor(topic))
	}
}

// Close shuts the session down.
//
// Outstanding requests fail with ErrSessionClosed, the subscription
// registry is cleared, and the broker connection is released with a
// quiesce period for in-flight acknowledgments. Safe to call multiple
// times.
//
// Returns:
//   - error: Always nil; closing an already-closed session is not an error
func (s *Session) Close() error {
	s.connMu.Lock()
	if s.closed {
		s.connMu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	s.connMu.Unlock()

	s.pending.FailAll(ErrSessionClosed)
	s.pending.Close()

	s.subMu.Lock()
	s.subs = make(map[string][]handlerEntry)
	s.subMu.Unlock()

	if s.client != nil {
		s.client.Disconnect(defaultDisconnectQuiesce)
	}

	return nil
}

// HealthCheck verifies the broker connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if s.isClosed() {
		return ErrSessionClosed
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (s *Session) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.connected && !s.closed && s.client != nil && s.client.IsConnected()
}

func (s *Session) isClosed() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.closed
}

// SetOnConnect sets a callback invoked when the connection is
// established, on initial connect and on every reconnect.
func (s *Session) SetOnConnect(callback func()) {
	s.callbackMu.Lock()
	s.onConnect = callback
	s.callbackMu.Unlock()
}

// SetOnConnectionLost sets a callback invoked when the connection is
// lost. The error parameter describes why. Outstanding requests have
// already been failed by the time the callback runs.
func (s *Session) SetOnConnectionLost(callback func(err error)) {
	s.callbackMu.Lock()
	s.onConnectionLost = callback
	s.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Publish sends a message to the specified topic at the configured QoS.
//
// Parameters:
//   - topic: The topic to publish to
//   - payload: The raw message payload (max 1MB)
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (s *Session) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if s.isClosed() {
		return ErrSessionClosed
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Publish(topic, byte(s.cfg.QoS), false, payload)
	if !token.WaitTimeout(defaultOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
