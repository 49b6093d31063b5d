package schema

import "github.com/shopspring/decimal"

// Position is a broker-reported holding for one account and symbol.
type Position struct {
	Account  string
	Symbol   string
	Quantity decimal.Decimal
	AvgCost  decimal.NullDecimal
}
