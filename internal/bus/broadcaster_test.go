package bus

import (
	"sync/atomic"
	"testing"
	"time"

	"main/internal/obs"
	"main/internal/schema"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldUpdate(field schema.QuoteField, seq uint64) schema.QuoteUpdate {
	return schema.QuoteUpdate{
		Instrument: schema.NewInstrument("EUR", "USD"),
		Field:      field,
		Value:      decimal.NewFromFloat(1.0851),
		Seq:        seq,
		Source:     1,
	}
}

func TestBroadcasterDeliversByKind(t *testing.T) {
	b := NewBroadcaster(nil, 16)
	defer b.Close()

	prices := make(chan schema.QuoteUpdate, 16)
	sizes := make(chan schema.QuoteUpdate, 16)
	all := make(chan schema.QuoteUpdate, 16)

	cancelPrice := b.Subscribe(KindPrice, func(u schema.QuoteUpdate) { prices <- u })
	defer cancelPrice()
	cancelSize := b.Subscribe(KindSize, func(u schema.QuoteUpdate) { sizes <- u })
	defer cancelSize()
	cancelAll := b.Subscribe(KindAll, func(u schema.QuoteUpdate) { all <- u })
	defer cancelAll()

	b.Publish(fieldUpdate(schema.FieldBidPrice, 1))
	b.Publish(fieldUpdate(schema.FieldAskSize, 2))

	u := waitUpdate(t, prices)
	assert.Equal(t, schema.FieldBidPrice, u.Field)
	u = waitUpdate(t, sizes)
	assert.Equal(t, schema.FieldAskSize, u.Field)
	assert.Equal(t, uint64(1), waitUpdate(t, all).Seq)
	assert.Equal(t, uint64(2), waitUpdate(t, all).Seq)

	select {
	case u := <-prices:
		t.Fatalf("price subscriber got size update: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterSlowSubscriberDropsOwnUpdates(t *testing.T) {
	metrics := obs.NewMetrics()
	b := NewBroadcaster(metrics, 8)
	defer b.Close()

	block := make(chan struct{})
	var fastCount atomic.Uint64

	cancelSlow := b.Subscribe(KindAll, func(schema.QuoteUpdate) { <-block })
	defer cancelSlow()
	cancelFast := b.Subscribe(KindAll, func(schema.QuoteUpdate) { fastCount.Add(1) })
	defer cancelFast()

	for seq := uint64(1); seq <= 40; seq++ {
		b.Publish(fieldUpdate(schema.FieldBidPrice, seq))
		time.Sleep(time.Millisecond)
	}
	close(block)

	require.Eventually(t, func() bool {
		return fastCount.Load() == 40
	}, time.Second, 5*time.Millisecond, "fast subscriber should see every update")

	assert.Greater(t, metrics.Snapshot().BroadcastDropped, uint64(0))
}

func TestBroadcasterCancelDetaches(t *testing.T) {
	b := NewBroadcaster(nil, 16)
	defer b.Close()

	var count atomic.Uint64
	cancel := b.Subscribe(KindAll, func(schema.QuoteUpdate) { count.Add(1) })

	b.Publish(fieldUpdate(schema.FieldBidPrice, 1))
	require.Eventually(t, func() bool {
		return count.Load() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	cancel()
	b.Publish(fieldUpdate(schema.FieldBidPrice, 2))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(1), count.Load())
}

func TestBroadcasterCancelDuringPublish(t *testing.T) {
	b := NewBroadcaster(nil, 1)
	defer b.Close()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for seq := uint64(1); ; seq++ {
			select {
			case <-stop:
				return
			default:
				b.Publish(fieldUpdate(schema.FieldBidPrice, seq))
			}
		}
	}()

	for i := 0; i < 200; i++ {
		cancel := b.Subscribe(KindAll, func(schema.QuoteUpdate) {})
		cancel()
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not finish")
	}
}

func TestBroadcasterSubscribeAfterClose(t *testing.T) {
	b := NewBroadcaster(nil, 16)
	b.Close()
	b.Close()

	cancel := b.Subscribe(KindAll, func(schema.QuoteUpdate) {
		t.Error("subscriber attached after close should never run")
	})
	b.Publish(fieldUpdate(schema.FieldBidPrice, 1))
	cancel()
}

func waitUpdate(t *testing.T, ch <-chan schema.QuoteUpdate) schema.QuoteUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
		return schema.QuoteUpdate{}
	}
}
