package ingest

import (
	"sync"

	"main/internal/schema"
)

// Registry maps session-scoped request ids to the instruments they were
// issued for, so inbound events keyed only by request id can be resolved
// back to a symbol. Ids come from a monotonically increasing counter,
// never from the wall clock, so two subscriptions inside the same clock
// tick cannot collide. Ids are unique for the lifetime of the issuing
// session and may be reused after a reconnect.
type Registry struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]schema.Instrument
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[int64]schema.Instrument)}
}

// Subscribe allocates a fresh request id bound to the instrument.
func (r *Registry) Subscribe(ins schema.Instrument) int64 {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.byID[id] = ins
	r.mu.Unlock()
	return id
}

// Resolve returns the instrument bound to the request id.
func (r *Registry) Resolve(id int64) (schema.Instrument, bool) {
	r.mu.Lock()
	ins, ok := r.byID[id]
	r.mu.Unlock()
	return ins, ok
}

// Unsubscribe removes the binding and returns the instrument it held.
func (r *Registry) Unsubscribe(id int64) (schema.Instrument, bool) {
	r.mu.Lock()
	ins, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
	}
	r.mu.Unlock()
	return ins, ok
}

// UnsubscribeAll clears every binding and returns the instruments that
// were bound. Called on session teardown.
func (r *Registry) UnsubscribeAll() []schema.Instrument {
	r.mu.Lock()
	out := make([]schema.Instrument, 0, len(r.byID))
	for id, ins := range r.byID {
		out = append(out, ins)
		delete(r.byID, id)
	}
	r.mu.Unlock()
	return out
}

// Count returns the number of live bindings.
func (r *Registry) Count() int {
	r.mu.Lock()
	n := len(r.byID)
	r.mu.Unlock()
	return n
}
