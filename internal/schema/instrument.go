package schema

import (
	"fmt"
	"strings"
)

// Instrument identifies a tradable currency pair by base and quote codes.
// Immutable once constructed.
type Instrument struct {
	Base  string
	Quote string
}

// NewInstrument builds an instrument with upper-cased currency codes.
func NewInstrument(base, quote string) Instrument {
	return Instrument{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// ParsePair splits a compact pair such as "EURUSD" into an instrument.
func ParsePair(pair string) (Instrument, error) {
	trimmed := strings.TrimSpace(pair)
	if len(trimmed) != 6 {
		return Instrument{}, fmt.Errorf("invalid currency pair: %q", pair)
	}
	return NewInstrument(trimmed[:3], trimmed[3:]), nil
}

// ParseUnderscored splits a pair such as "EUR_USD" into an instrument.
func ParseUnderscored(pair string) (Instrument, error) {
	base, quote, ok := strings.Cut(strings.TrimSpace(pair), "_")
	if !ok || base == "" || quote == "" {
		return Instrument{}, fmt.Errorf("invalid underscored pair: %q", pair)
	}
	return NewInstrument(base, quote), nil
}

// Pair returns the compact form, e.g. "EURUSD".
func (ins Instrument) Pair() string {
	return ins.Base + ins.Quote
}

// Underscored returns the streaming-broker wire form, e.g. "EUR_USD".
func (ins Instrument) Underscored() string {
	return ins.Base + "_" + ins.Quote
}

// IsZero reports whether the instrument is unset.
func (ins Instrument) IsZero() bool {
	return ins.Base == "" && ins.Quote == ""
}

func (ins Instrument) String() string {
	return ins.Pair()
}
