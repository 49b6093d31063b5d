package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"main/internal/schema"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUpdate(seq uint64) schema.QuoteUpdate {
	return schema.QuoteUpdate{
		Instrument: schema.NewInstrument("EUR", "USD"),
		Field:      schema.FieldBidPrice,
		Value:      decimal.NewFromFloat(1.0851),
		Seq:        seq,
		Source:     1,
	}
}

func TestQueueTryPublishFull(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.TryPublish(testUpdate(1)))
	require.NoError(t, q.TryPublish(testUpdate(2)))
	assert.ErrorIs(t, q.TryPublish(testUpdate(3)), ErrQueueFull)
}

func TestQueueClosedRejectsPublish(t *testing.T) {
	q := NewQueue(2)
	q.Close()
	q.Close()
	assert.ErrorIs(t, q.TryPublish(testUpdate(1)), ErrQueueClosed)
}

func TestQueueCloseRacesPublish(t *testing.T) {
	for round := 0; round < 50; round++ {
		q := NewQueue(1)

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := uint64(0); ; i++ {
					if err := q.TryPublish(testUpdate(i)); errors.Is(err, ErrQueueClosed) {
						return
					}
				}
			}()
		}

		q.Close()
		wg.Wait()
	}
}

func TestQueueRunDrainsUntilClose(t *testing.T) {
	q := NewQueue(8)
	require.NoError(t, q.TryPublish(testUpdate(1)))
	require.NoError(t, q.TryPublish(testUpdate(2)))
	q.Close()

	var seen []uint64
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(context.Background(), func(u schema.QuoteUpdate) {
			seen = append(seen, u.Seq)
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after close")
	}
	assert.Equal(t, []uint64{1, 2}, seen)
}

func TestQueueRunStopsOnContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, func(schema.QuoteUpdate) {})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after context cancel")
	}
}
