package oanda

import (
	"sync/atomic"

	"main/internal/obs"
	"main/internal/schema"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

// Normalizer decomposes snapshot price records into per-field quote
// updates. One record yields up to four updates (bid price, bid
// liquidity, ask price, ask liquidity) sharing one sequence number.
type Normalizer struct {
	subscribed map[string]schema.Instrument
	metrics    *obs.Metrics
	source     uint64
	seq        atomic.Uint64
}

// NewNormalizer creates a normalizer for one connection covering the
// given instruments. Records for anything else are dropped as
// unresolved.
func NewNormalizer(instruments []schema.Instrument, metrics *obs.Metrics, source uint64) *Normalizer {
	subscribed := make(map[string]schema.Instrument, len(instruments))
	for _, ins := range instruments {
		subscribed[ins.Underscored()] = ins
	}
	return &Normalizer{
		subscribed: subscribed,
		metrics:    metrics,
		source:     source,
	}
}

// Normalize converts a stream record into quote updates. Housekeeping
// records return nil and are counted, never surfaced as errors.
func (n *Normalizer) Normalize(rec PriceRecord) []schema.QuoteUpdate {
	if !rec.IsPrice() {
		n.metrics.IncHeartbeat()
		return nil
	}

	ins, ok := n.subscribed[rec.Instrument]
	if !ok {
		n.metrics.IncUnresolved()
		logs.Debugf("drop price record for unsubscribed instrument %q", rec.Instrument)
		return nil
	}

	seq := n.seq.Add(1)
	updates := make([]schema.QuoteUpdate, 0, 4)
	appendUpdate := func(field schema.QuoteField, value decimal.Decimal) {
		updates = append(updates, schema.QuoteUpdate{
			Instrument: ins,
			Field:      field,
			Value:      value,
			Seq:        seq,
			Source:     n.source,
		})
	}

	if len(rec.Bids) > 0 {
		appendUpdate(schema.FieldBidPrice, rec.Bids[0].Price)
		appendUpdate(schema.FieldBidSize, decimal.NewFromInt(rec.Bids[0].Liquidity))
	}
	if len(rec.Asks) > 0 {
		appendUpdate(schema.FieldAskPrice, rec.Asks[0].Price)
		appendUpdate(schema.FieldAskSize, decimal.NewFromInt(rec.Asks[0].Liquidity))
	}
	return updates
}
