package schema

import "github.com/shopspring/decimal"

// OrderKind describes the order intent kind.
type OrderKind uint16

const (
	OrderKindUnknown OrderKind = iota
	OrderKindMarket
	OrderKindLimit
)

func (k OrderKind) String() string {
	switch k {
	case OrderKindMarket:
		return "market"
	case OrderKindLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// OrderIntent is the broker-neutral order description. Limit intents
// require a positive LimitPrice; market intents must leave it unset.
type OrderIntent struct {
	From       string
	To         string
	Amount     decimal.Decimal
	Kind       OrderKind
	LimitPrice decimal.NullDecimal
}

// Instrument returns the intent's currency pair.
func (o OrderIntent) Instrument() Instrument {
	return NewInstrument(o.From, o.To)
}
