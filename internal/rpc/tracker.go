package rpc

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors for request tracking.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDuplicateRequest is returned when a request id is already in flight.
	ErrDuplicateRequest = errors.New("rpc: request id already pending")

	// ErrClosed is returned to waiters when the tracker is shut down.
	ErrClosed = errors.New("rpc: tracker closed")
)

// Result carries the outcome of a tracked request to its waiter.
// Exactly one of Value or Err is meaningful.
type Result[V any] struct {
	Value V
	Err   error
}

// Tracker correlates outbound request ids with waiting callers.
//
// A Tracker entry exists only between Start and one of Resolve, Fail, or
// Pop. Waiters receive exactly one Result on the returned channel; entries
// removed via Pop (timeout cleanup) deliver nothing, so a later response
// reusing the same id cannot resolve a stale waiter.
//
// All methods are safe for concurrent use from multiple goroutines.
type Tracker[K comparable, V any] struct {
	mu      sync.Mutex
	pending map[K]chan Result[V]
	closed  bool
}

// NewTracker creates an empty request tracker.
func NewTracker[K comparable, V any]() *Tracker[K, V] {
	return &Tracker[K, V]{
		pending: make(map[K]chan Result[V]),
	}
}

// Start registers a pending request and returns the channel its result
// will be delivered on. The channel is buffered; delivery never blocks
// the resolver.
//
// Returns ErrDuplicateRequest if the id is already in flight, and
// ErrClosed if the tracker has been shut down.
func (t *Tracker[K, V]) Start(key K) (<-chan Result[V], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if _, exists := t.pending[key]; exists {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateRequest, key)
	}

	ch := make(chan Result[V], 1)
	t.pending[key] = ch
	return ch, nil
}

// Resolve delivers a successful response to the waiter for key and
// removes the entry.
//
// Returns false if no request is pending for key. An unsolicited
// response is not an error; devices occasionally push messages that
// reuse the response path.
func (t *Tracker[K, V]) Resolve(key K, value V) bool {
	t.mu.Lock()
	ch, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	ch <- Result[V]{Value: value}
	return true
}

// Fail delivers an error to the waiter for key and removes the entry.
// Returns false if no request is pending for key.
func (t *Tracker[K, V]) Fail(key K, err error) bool {
	t.mu.Lock()
	ch, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	ch <- Result[V]{Err: err}
	return true
}

// FailAll delivers err to every waiter and clears the table.
// Used when the underlying connection is lost: outstanding requests must
// fail immediately rather than silently retry, since delivery across a
// reconnect cannot be guaranteed.
func (t *Tracker[K, V]) FailAll(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[K]chan Result[V])
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- Result[V]{Err: err}
	}
}

// Pop removes a pending entry without delivering a result. Safe to call
// for unknown keys. Callers use this to clean up after a timeout so the
// id becomes reusable.
func (t *Tracker[K, V]) Pop(key K) {
	t.mu.Lock()
	delete(t.pending, key)
	t.mu.Unlock()
}

// Close fails all outstanding requests with ErrClosed and rejects any
// further Start calls. Safe to call multiple times.
func (t *Tracker[K, V]) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pending := t.pending
	t.pending = make(map[K]chan Result[V])
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- Result[V]{Err: ErrClosed}
	}
}

// Len returns the number of outstanding requests.
func (t *Tracker[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
