package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// handlerEntry is one registered handler on a topic.
type handlerEntry struct {
	id      uuid.UUID
	handler MessageHandler
}

// Subscription is the handle returned by Subscribe. Unsubscribing
// through the handle removes exactly the handler that created it;
// other handlers on the same topic are unaffected.
type Subscription struct {
	id      uuid.UUID
	topic   string
	session *Session
}

// Topic returns the topic filter this subscription was registered under.
func (sub *Subscription) Topic() string {
	return sub.topic
}

// Unsubscribe removes this handler from the topic. When the last
// handler for a topic is removed, the broker subscription is dropped
// too. Calling Unsubscribe more than once is a no-op.
//
// Returns:
//   - error: nil on success, or wrapped error if the broker unsubscribe fails
func (sub *Subscription) Unsubscribe() error {
	removed, empty := sub.session.removeHandler(sub.topic, sub.id)
	if !removed {
		return nil
	}
	if !empty {
		return nil
	}

	// Last handler gone: release the broker subscription. Skip when the
	// session is already down; the registry entry is gone either way.
	if !sub.session.IsConnected() {
		return nil
	}

	token := sub.session.client.Unsubscribe(sub.topic)
	if !token.WaitTimeout(defaultOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// Subscribe registers a handler for messages on the specified topic.
//
// Multiple handlers may be registered on the same topic; each message
// is delivered to all of them in registration order. The first handler
// on a topic establishes the broker subscription, later ones share it.
//
// Subscriptions are automatically restored if the connection is lost
// and reconnected.
//
// Parameters:
//   - topic: The topic filter to subscribe to
//   - handler: Callback function invoked for each message
//
// Returns:
//   - *Subscription: Handle for removing this handler
//   - error: nil on success, or wrapped error describing the failure
func (s *Session) Subscribe(topic string, handler MessageHandler) (*Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}

	entry := handlerEntry{id: uuid.New(), handler: handler}
	first := s.addHandler(topic, entry)

	if first {
		token := s.client.Subscribe(topic, byte(s.cfg.QoS), s.routerFor(topic))
		if !token.WaitTimeout(defaultOpTimeout) {
			s.removeHandler(topic, entry.id)
			return nil, fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultOpTimeout)
		}
		if err := token.Error(); err != nil {
			s.removeHandler(topic, entry.id)
			return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
	}

	return &Subscription{id: entry.id, topic: topic, session: s}, nil
}

// SubscriptionCount returns the number of registered handlers across
// all topics.
func (s *Session) SubscriptionCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	n := 0
	for _, entries := range s.subs {
		n += len(entries)
	}
	return n
}

// HasSubscription checks whether any handler is registered for the
// exact topic filter.
func (s *Session) HasSubscription(topic string) bool {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subs[topic]) > 0
}

// addHandler appends an entry to a topic's handler list and reports
// whether it is the first handler on that topic.
func (s *Session) addHandler(topic string, entry handlerEntry) bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	first := len(s.subs[topic]) == 0
	s.subs[topic] = append(s.subs[topic], entry)
	return first
}

// removeHandler removes the entry with the given id from a topic's
// handler list. It reports whether the entry was present, and whether
// the topic has no handlers left.
func (s *Session) removeHandler(topic string, id uuid.UUID) (removed, empty bool) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	entries := s.subs[topic]
	for i, e := range entries {
		if e.id == id {
			s.subs[topic] = append(entries[:i], entries[i+1:]...)
			removed = true
			break
		}
	}
	if len(s.subs[topic]) == 0 {
		delete(s.subs, topic)
		empty = true
	}
	return removed, empty
}

// routerFor builds the paho handler that fans a topic's messages out
// to its registered handlers. Routing is keyed on the registered
// filter, not the concrete message topic, so wildcard filters work.
func (s *Session) routerFor(topic string) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		s.dispatch(topic, msg.Payload())
	}
}

// dispatch delivers a payload to every handler registered on topic, in
// registration order, with per-handler panic recovery.
func (s *Session) dispatch(topic string, payload []byte) {
	s.subMu.RLock()
	entries := make([]handlerEntry, len(s.subs[topic]))
	copy(entries, s.subs[topic])
	s.subMu.RUnlock()

	for _, e := range entries {
		s.invokeHandler(topic, payload, e.handler)
	}
}

// invokeHandler runs a single handler with panic recovery and optional logging.
func (s *Session) invokeHandler(topic string, payload []byte, handler MessageHandler) {
	defer func() {
		if r := recover(); r != nil {
			if logger := s.getLogger(); logger != nil {
				logger.Error("MQTT handler panic recovered",
					"topic", topic,
					"panic", r,
				)
			}
		}
	}()

	if err := handler(topic, payload); err != nil {
		if logger := s.getLogger(); logger != nil {
			logger.Warn("MQTT handler returned error",
				"topic", topic,
				"error", err,
			)
		}
	}
}
