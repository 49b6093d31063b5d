package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteField names one of the four top-of-book fields.
type QuoteField uint16

const (
	FieldUnknown QuoteField = iota
	FieldBidPrice
	FieldBidSize
	FieldAskPrice
	FieldAskSize
)

// IsPrice reports whether the field carries a price value.
func (f QuoteField) IsPrice() bool {
	return f == FieldBidPrice || f == FieldAskPrice
}

// IsSize reports whether the field carries a size value.
func (f QuoteField) IsSize() bool {
	return f == FieldBidSize || f == FieldAskSize
}

func (f QuoteField) String() string {
	switch f {
	case FieldBidPrice:
		return "bidPrice"
	case FieldBidSize:
		return "bidSize"
	case FieldAskPrice:
		return "askPrice"
	case FieldAskSize:
		return "askSize"
	default:
		return "unknown"
	}
}

// QuoteUpdate is a single normalized field update. Seq increases
// monotonically per source connection; updates decomposed from one
// snapshot record share a Seq.
type QuoteUpdate struct {
	Instrument Instrument
	Field      QuoteField
	Value      decimal.Decimal
	Seq        uint64
	Source     uint64
}

// QuoteState is the canonical per-instrument top-of-book view. A field
// stays unset until the first update for it arrives, and is only ever
// overwritten by a newer update for the same field.
type QuoteState struct {
	Instrument  Instrument
	BidPrice    decimal.NullDecimal
	BidSize     decimal.NullDecimal
	AskPrice    decimal.NullDecimal
	AskSize     decimal.NullDecimal
	LastUpdated time.Time
}

// Field returns the named field value.
func (q QuoteState) Field(f QuoteField) decimal.NullDecimal {
	switch f {
	case FieldBidPrice:
		return q.BidPrice
	case FieldBidSize:
		return q.BidSize
	case FieldAskPrice:
		return q.AskPrice
	case FieldAskSize:
		return q.AskSize
	default:
		return decimal.NullDecimal{}
	}
}

// SetField overwrites the named field value.
func (q *QuoteState) SetField(f QuoteField, value decimal.Decimal) {
	set := decimal.NewNullDecimal(value)
	switch f {
	case FieldBidPrice:
		q.BidPrice = set
	case FieldBidSize:
		q.BidSize = set
	case FieldAskPrice:
		q.AskPrice = set
	case FieldAskSize:
		q.AskSize = set
	}
}
