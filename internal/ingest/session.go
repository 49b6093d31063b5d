package ingest

import (
	"context"
	"sync"

	"main/internal/schema"
)

// SessionState tracks one broker connection lifecycle.
type SessionState uint16

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	// StateFailed marks a connect attempt that died before the transport
	// became ready. It feeds back into StateConnecting when the caller
	// decides to retry; nothing retries automatically.
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is the lifecycle surface shared by both broker transports.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect() error
	State() SessionState
	Source() uint64
}

// StateTracker is a small guarded state holder for session machines.
type StateTracker struct {
	mu    sync.Mutex
	state SessionState
}

// State returns the current state.
func (t *StateTracker) State() SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Move transitions from one of the given states to the target and
// reports whether the transition applied.
func (t *StateTracker) Move(to SessionState, from ...SessionState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range from {
		if t.state == s {
			t.state = to
			return true
		}
	}
	return false
}

// Set forces the state unconditionally.
func (t *StateTracker) Set(to SessionState) {
	t.mu.Lock()
	t.state = to
	t.mu.Unlock()
}

// UpdateHandler receives normalized quote updates from a session's read
// loop. It must not block; downstream fan-out is queue-decoupled.
type UpdateHandler func(schema.QuoteUpdate)

// ClosedHandler runs after an explicit disconnect has released the
// transport and cleared the session's bindings.
type ClosedHandler func(source uint64)

// DisconnectHandler surfaces a fatal mid-session transport failure.
// Quote state for the session stays visible (stale) until an explicit
// disconnect or a superseding subscription.
type DisconnectHandler func(source uint64, err error)
