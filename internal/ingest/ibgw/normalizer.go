package ibgw

import (
	"sync/atomic"

	"main/internal/ingest"
	"main/internal/obs"
	"main/internal/schema"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

// Normalizer maps raw tick events onto canonical quote updates. Events
// referencing a request id with no live binding are dropped; that is the
// expected race during subscription setup, not an error.
type Normalizer struct {
	registry *ingest.Registry
	metrics  *obs.Metrics
	source   uint64
	seq      atomic.Uint64
}

// NewNormalizer creates a normalizer bound to one connection's registry
// and source id.
func NewNormalizer(registry *ingest.Registry, metrics *obs.Metrics, source uint64) *Normalizer {
	return &Normalizer{
		registry: registry,
		metrics:  metrics,
		source:   source,
	}
}

// Normalize converts a tick event into a quote update. The second
// return is false when the event is not a tick, carries an unknown tick
// type, or cannot be resolved to an instrument.
func (n *Normalizer) Normalize(ev Event) (schema.QuoteUpdate, bool) {
	field := tickField(ev)
	if field == schema.FieldUnknown {
		return schema.QuoteUpdate{}, false
	}

	ins, ok := n.registry.Resolve(ev.RequestID)
	if !ok {
		n.metrics.IncUnresolved()
		logs.Debugf("drop %s for unknown request id %d", ev.Type, ev.RequestID)
		return schema.QuoteUpdate{}, false
	}

	return schema.QuoteUpdate{
		Instrument: ins,
		Field:      field,
		Value:      decimal.NewFromFloat(ev.Value),
		Seq:        n.seq.Add(1),
		Source:     n.source,
	}, true
}

func tickField(ev Event) schema.QuoteField {
	switch ev.Type {
	case eventTickPrice:
		switch ev.TickType {
		case TickBid:
			return schema.FieldBidPrice
		case TickAsk:
			return schema.FieldAskPrice
		}
	case eventTickSize:
		switch ev.TickType {
		case TickBidSize:
			return schema.FieldBidSize
		case TickAskSize:
			return schema.FieldAskSize
		}
	}
	return schema.FieldUnknown
}
