package state

import (
	"sync"
	"time"

	"main/internal/obs"
	"main/internal/schema"
)

type quoteEntry struct {
	mu         sync.Mutex
	state      schema.QuoteState
	owner      uint64
	lastSeq    [schema.FieldAskSize + 1]uint64
	lastSource [schema.FieldAskSize + 1]uint64
}

// QuoteBook holds the canonical per-instrument quote state. Updates from
// distinct connections apply concurrently; entries are guarded per
// instrument so one slow instrument cannot delay another.
type QuoteBook struct {
	mu      sync.RWMutex
	entries map[string]*quoteEntry
	metrics *obs.Metrics
}

// NewQuoteBook creates an empty quote book.
func NewQuoteBook(metrics *obs.Metrics) *QuoteBook {
	return &QuoteBook{
		entries: make(map[string]*quoteEntry),
		metrics: metrics,
	}
}

// Apply overwrites the update's field unless the update replays a
// sequence already applied for that field from the same connection.
// Replays and out-of-order duplicates are discarded by sequence
// comparison, never by timestamp. Returns true when the field changed.
func (b *QuoteBook) Apply(u schema.QuoteUpdate) bool {
	if b == nil || u.Instrument.IsZero() {
		return false
	}
	f := u.Field
	if f <= schema.FieldUnknown || f > schema.FieldAskSize {
		return false
	}

	e := b.entry(u.Instrument)

	e.mu.Lock()
	defer e.mu.Unlock()

	if u.Source == e.lastSource[f] && u.Seq <= e.lastSeq[f] {
		b.metrics.IncReplay()
		return false
	}

	e.lastSource[f] = u.Source
	e.lastSeq[f] = u.Seq
	e.owner = u.Source
	e.state.SetField(f, u.Value)
	e.state.LastUpdated = time.Now()
	return true
}

// Read returns a copy of the instrument's quote state.
func (b *QuoteBook) Read(ins schema.Instrument) (schema.QuoteState, bool) {
	if b == nil {
		return schema.QuoteState{}, false
	}
	b.mu.RLock()
	e, ok := b.entries[ins.Pair()]
	b.mu.RUnlock()
	if !ok {
		return schema.QuoteState{}, false
	}

	e.mu.Lock()
	snapshot := e.state
	e.mu.Unlock()
	return snapshot, true
}

// Remove deletes the instrument's quote state.
func (b *QuoteBook) Remove(ins schema.Instrument) {
	if b == nil {
		return
	}
	b.mu.Lock()
	delete(b.entries, ins.Pair())
	b.mu.Unlock()
}

// RemoveAll deletes every quote state owned by the given connection.
// Called on explicit session teardown; a dead connection's entries stay
// visible (stale) until then or until a new connection supersedes them.
func (b *QuoteBook) RemoveAll(source uint64) {
	if b == nil {
		return
	}
	b.mu.Lock()
	for key, e := range b.entries {
		e.mu.Lock()
		owned := e.owner == source
		e.mu.Unlock()
		if owned {
			delete(b.entries, key)
		}
	}
	b.mu.Unlock()
}

// Len returns the number of tracked instruments.
func (b *QuoteBook) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	n := len(b.entries)
	b.mu.RUnlock()
	return n
}

func (b *QuoteBook) entry(ins schema.Instrument) *quoteEntry {
	key := ins.Pair()

	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if ok {
		return e
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok {
		return e
	}
	e = &quoteEntry{state: schema.QuoteState{Instrument: ins}}
	b.entries[key] = e
	return e
}
