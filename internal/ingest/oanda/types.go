// Package oanda implements the streaming-HTTP broker session: one
// chunked GET whose body is a sequence of newline-delimited JSON
// records, plus the broker's transactional order endpoint.
package oanda

import (
	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

const (
	recordTypePrice     = "PRICE"
	recordTypeHeartbeat = "HEARTBEAT"
)

// PriceBucket is one side level of a streamed price record.
type PriceBucket struct {
	Price     decimal.Decimal `json:"price"`
	Liquidity int64           `json:"liquidity"`
}

// PriceRecord is a single streamed record. Type "PRICE" carries a full
// top-of-book snapshot; any other type is housekeeping (heartbeats,
// status notices) and must be discarded, not treated as malformed.
type PriceRecord struct {
	Type        string          `json:"type"`
	Instrument  string          `json:"instrument"`
	Time        string          `json:"time"`
	Bids        []PriceBucket   `json:"bids"`
	Asks        []PriceBucket   `json:"asks"`
	CloseoutBid decimal.Decimal `json:"closeoutBid"`
	CloseoutAsk decimal.Decimal `json:"closeoutAsk"`
	Status      string          `json:"status"`
	Tradeable   bool            `json:"tradeable"`
}

// IsPrice reports whether the record carries a price snapshot.
func (r PriceRecord) IsPrice() bool {
	return r.Type == recordTypePrice
}

// DecodeRecord parses one stream line.
func DecodeRecord(line []byte) (PriceRecord, error) {
	var rec PriceRecord
	if err := sonic.ConfigFastest.Unmarshal(line, &rec); err != nil {
		return PriceRecord{}, err
	}
	return rec, nil
}
