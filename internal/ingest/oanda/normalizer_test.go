package oanda

import (
	"testing"

	"main/internal/obs"
	"main/internal/schema"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDecomposesPriceRecord(t *testing.T) {
	eurusd := schema.NewInstrument("EUR", "USD")
	n := NewNormalizer([]schema.Instrument{eurusd}, nil, 5)

	updates := n.Normalize(PriceRecord{
		Type:       "PRICE",
		Instrument: "EUR_USD",
		Bids:       []PriceBucket{{Price: decimal.RequireFromString("1.08513"), Liquidity: 1000000}},
		Asks:       []PriceBucket{{Price: decimal.RequireFromString("1.08531"), Liquidity: 500000}},
	})
	require.Len(t, updates, 4)

	byField := make(map[schema.QuoteField]schema.QuoteUpdate, 4)
	for _, u := range updates {
		assert.Equal(t, eurusd, u.Instrument)
		assert.Equal(t, uint64(5), u.Source)
		assert.Equal(t, updates[0].Seq, u.Seq, "snapshot fields share one sequence")
		byField[u.Field] = u
	}
	assert.Equal(t, "1.08513", byField[schema.FieldBidPrice].Value.String())
	assert.Equal(t, "1000000", byField[schema.FieldBidSize].Value.String())
	assert.Equal(t, "1.08531", byField[schema.FieldAskPrice].Value.String())
	assert.Equal(t, "500000", byField[schema.FieldAskSize].Value.String())

	next := n.Normalize(PriceRecord{
		Type:       "PRICE",
		Instrument: "EUR_USD",
		Bids:       []PriceBucket{{Price: decimal.RequireFromString("1.08520"), Liquidity: 750000}},
	})
	require.Len(t, next, 2)
	assert.Greater(t, next[0].Seq, updates[0].Seq)
}

func TestNormalizeOneSidedRecord(t *testing.T) {
	eurusd := schema.NewInstrument("EUR", "USD")
	n := NewNormalizer([]schema.Instrument{eurusd}, nil, 1)

	updates := n.Normalize(PriceRecord{
		Type:       "PRICE",
		Instrument: "EUR_USD",
		Asks:       []PriceBucket{{Price: decimal.RequireFromString("1.08531"), Liquidity: 250000}},
	})
	require.Len(t, updates, 2)
	assert.Equal(t, schema.FieldAskPrice, updates[0].Field)
	assert.Equal(t, schema.FieldAskSize, updates[1].Field)
}

func TestNormalizeDiscardsHousekeeping(t *testing.T) {
	metrics := obs.NewMetrics()
	n := NewNormalizer([]schema.Instrument{schema.NewInstrument("EUR", "USD")}, metrics, 1)

	assert.Nil(t, n.Normalize(PriceRecord{Type: "HEARTBEAT", Time: "2024-01-02T03:04:05Z"}))
	assert.Equal(t, uint64(1), metrics.Snapshot().HeartbeatsDropped)
}

func TestNormalizeDropsUnsubscribedInstrument(t *testing.T) {
	metrics := obs.NewMetrics()
	n := NewNormalizer([]schema.Instrument{schema.NewInstrument("EUR", "USD")}, metrics, 1)

	updates := n.Normalize(PriceRecord{
		Type:       "PRICE",
		Instrument: "GBP_JPY",
		Bids:       []PriceBucket{{Price: decimal.RequireFromString("190.11"), Liquidity: 100000}},
	})
	assert.Nil(t, updates)
	assert.Equal(t, uint64(1), metrics.Snapshot().UnresolvedDropped)
}

func TestDecodeRecord(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"type":"PRICE","instrument":"EUR_USD","time":"2024-01-02T03:04:05.123456789Z","bids":[{"price":"1.08513","liquidity":1000000}],"asks":[{"price":"1.08531","liquidity":500000}],"closeoutBid":"1.08498","closeoutAsk":"1.08546","status":"tradeable","tradeable":true}`))
	require.NoError(t, err)
	assert.True(t, rec.IsPrice())
	assert.True(t, rec.Tradeable)
	require.Len(t, rec.Bids, 1)
	assert.Equal(t, "1.08513", rec.Bids[0].Price.String())
	assert.Equal(t, int64(1000000), rec.Bids[0].Liquidity)

	_, err = DecodeRecord([]byte(`{"type":`))
	assert.Error(t, err)
}
