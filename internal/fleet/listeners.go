package fleet

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vacmesh/vacmesh-core/internal/capability"
)

// Event is one lifecycle notification.
//
// Features is set on device_ready events: when a device reaches
// Mapped, and again if reconciliation recomputes a different
// capability set. On plain connectivity transitions it is nil.
type Event struct {
	DUID     string
	Previous State
	State    State

	// Features carries the computed capability set on device_ready
	// notifications.
	Features capability.FeatureSet

	// Err is the failure behind a Disconnected transition, nil otherwise.
	Err error
}

// Listener receives lifecycle events. Events for one device arrive in
// the order the transitions occurred; events across devices may
// interleave. Listeners run on the manager's dispatch path and must
// not block.
type Listener func(Event)

// ListenerHandle identifies one registered listener.
type ListenerHandle struct {
	id       uuid.UUID
	registry *listenerRegistry
}

// Remove deregisters the listener. Calling Remove more than once is a
// no-op.
func (h *ListenerHandle) Remove() {
	h.registry.remove(h.id)
}

// listenerEntry pairs a listener with its handle id.
type listenerEntry struct {
	id uuid.UUID
	fn Listener
}

// listenerRegistry owns listener lifetimes. The registry, not caller
// closures, decides who is registered; handles make removal explicit
// and idempotent.
type listenerRegistry struct {
	mu      sync.RWMutex
	entries []listenerEntry

	// dispatchMu serializes delivery so every listener observes a
	// device's events in transition order.
	dispatchMu sync.Mutex
}

func (r *listenerRegistry) add(fn Listener) *ListenerHandle {
	entry := listenerEntry{id: uuid.New(), fn: fn}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	return &ListenerHandle{id: entry.id, registry: r}
}

func (r *listenerRegistry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *listenerRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// dispatch delivers an event to every listener in registration order.
func (r *listenerRegistry) dispatch(ev Event) {
	r.mu.RLock()
	entries := make([]listenerEntry, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	for _, e := range entries {
		e.fn(ev)
	}
}
