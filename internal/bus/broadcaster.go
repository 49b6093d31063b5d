package bus

import (
	"context"
	"sync"

	"main/internal/obs"
	"main/internal/schema"

	"github.com/yanun0323/logs"
)

// UpdateKind selects which quote updates a subscriber receives. Price
// and size updates were historically separate streams; consumers may
// want either independently or combined.
type UpdateKind uint8

const (
	KindPrice UpdateKind = iota
	KindSize
	KindAll
)

func (k UpdateKind) matches(field schema.QuoteField) bool {
	switch k {
	case KindPrice:
		return field.IsPrice()
	case KindSize:
		return field.IsSize()
	case KindAll:
		return field.IsPrice() || field.IsSize()
	default:
		return false
	}
}

// Subscriber receives quote updates on its own dispatch goroutine.
type Subscriber func(schema.QuoteUpdate)

type subscription struct {
	kind  UpdateKind
	queue *Queue
	stop  context.CancelFunc
}

// Broadcaster fans quote updates out to subscribers. Each subscriber
// owns a bounded queue and a dispatch goroutine, so a slow or blocking
// subscriber drops its own updates instead of stalling the publisher or
// its peers.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextID  uint64
	metrics *obs.Metrics
	depth   int
	wg      sync.WaitGroup
	closed  bool
}

const defaultSubscriberDepth = 256

// NewBroadcaster creates a broadcaster with the given per-subscriber
// queue depth. Depth <= 0 uses the default.
func NewBroadcaster(metrics *obs.Metrics, depth int) *Broadcaster {
	if depth <= 0 {
		depth = defaultSubscriberDepth
	}
	return &Broadcaster{
		subs:    make(map[uint64]*subscription),
		metrics: metrics,
		depth:   depth,
	}
}

// Subscribe attaches fn for updates matching kind and returns a cancel
// function. Subscribing during active publication is safe; fn sees every
// update published after Subscribe returns, until cancel.
func (b *Broadcaster) Subscribe(kind UpdateKind, fn Subscriber) (cancel func()) {
	if b == nil || fn == nil {
		return func() {}
	}

	ctx, stop := context.WithCancel(context.Background())
	sub := &subscription{kind: kind, queue: NewQueue(b.depth), stop: stop}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		stop()
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.queue.Run(ctx, fn)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			sub.queue.Close()
			stop()
		})
	}
}

// Publish delivers the update to every matching subscriber without
// blocking. Overflowing a subscriber queue drops the update for that
// subscriber only.
func (b *Broadcaster) Publish(u schema.QuoteUpdate) {
	if b == nil {
		return
	}

	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.kind.matches(u.Field) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if err := sub.queue.TryPublish(u); err != nil {
			b.metrics.IncBroadcastDrop()
			logs.Debugf("drop %s update for %s: %v", u.Field, u.Instrument, err)
		}
	}
}

// Close detaches all subscribers and waits for dispatch goroutines to
// drain.
func (b *Broadcaster) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for id, sub := range b.subs {
		subs = append(subs, sub)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.queue.Close()
		sub.stop()
	}
	b.wg.Wait()
}
