package obs

import (
	"sync/atomic"
	"time"
)

// SourceGenerator creates monotonically increasing source ids. Each
// broker connection takes one id for the lifetime of that connection, so
// a reconnect is distinguishable from the session it replaced.
type SourceGenerator struct {
	next uint64
}

// NewSourceGenerator returns a generator seeded with the given value.
func NewSourceGenerator(seed uint64) *SourceGenerator {
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	return &SourceGenerator{next: seed}
}

// Next returns the next source id.
func (g *SourceGenerator) Next() uint64 {
	if g == nil {
		return 0
	}
	return atomic.AddUint64(&g.next, 1)
}
