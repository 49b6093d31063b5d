package state

import (
	"sync"

	"main/internal/schema"
)

// PositionBook accumulates broker-reported positions per account and
// symbol. The desktop gateway streams one position event per holding
// after a position request, terminated by a position-end event.
type PositionBook struct {
	mu        sync.Mutex
	positions map[positionKey]schema.Position
	complete  bool
}

type positionKey struct {
	account string
	symbol  string
}

// NewPositionBook creates an empty position book.
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[positionKey]schema.Position)}
}

// Apply records or replaces the holding for the position's account and
// symbol.
func (p *PositionBook) Apply(pos schema.Position) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.positions[positionKey{account: pos.Account, symbol: pos.Symbol}] = pos
	p.mu.Unlock()
}

// MarkComplete flags that the initial position stream has ended.
func (p *PositionBook) MarkComplete() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.complete = true
	p.mu.Unlock()
}

// Complete reports whether a position-end event has been seen.
func (p *PositionBook) Complete() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.complete
}

// Position returns the holding for an account and symbol.
func (p *PositionBook) Position(account, symbol string) (schema.Position, bool) {
	if p == nil {
		return schema.Position{}, false
	}
	p.mu.Lock()
	pos, ok := p.positions[positionKey{account: account, symbol: symbol}]
	p.mu.Unlock()
	return pos, ok
}

// All returns a copy of every tracked position.
func (p *PositionBook) All() []schema.Position {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	out := make([]schema.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	p.mu.Unlock()
	return out
}

// Count returns the number of tracked positions.
func (p *PositionBook) Count() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	n := len(p.positions)
	p.mu.Unlock()
	return n
}
