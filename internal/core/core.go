/*
Core wires the broker sessions into one market-data gateway.

# Module
  - desktop gateway session: duplex TCP transport with typed events
  - streaming session: chunked HTTPS transport with line-delimited records
  - quote book: last-value cache keyed by instrument and field
  - broadcaster: non-blocking fan-out of applied updates
  - order gateway: REST submission with per-broker payload factories

# Source
 1. normalized quote updates from both broker sessions
 2. position events from the desktop gateway

# Produce
  - quote updates to subscribers
  - order submissions to the order endpoint
*/
package core

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"main/internal/bus"
	"main/internal/ingest/ibgw"
	"main/internal/ingest/oanda"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/og"
	"main/internal/schema"
	"main/internal/state"
	"main/pkg/exception"

	"github.com/yanun0323/logs"
)

// GatewayEndpoint configures the desktop gateway connection.
type GatewayEndpoint struct {
	Host        string
	Port        int
	ClientID    int64
	DialTimeout time.Duration
}

// StreamEndpoint configures the streaming broker connection.
type StreamEndpoint struct {
	BaseURL   string
	AccountID string
	APIKey    string
	Client    *http.Client
}

// Options configures the gateway core.
type Options struct {
	Gateway GatewayEndpoint
	Stream  StreamEndpoint
	Orders  og.Config

	// Instruments are streamed from the streaming broker for the whole
	// session. The desktop gateway side subscribes per instrument after
	// connect.
	Instruments []schema.Instrument

	// Factory builds order payloads; StreamBrokerFactory when nil.
	Factory og.OrderFactory

	// Journal is optional; a nil journal skips persistence.
	Journal *journal.Journal

	// BroadcastDepth is the per-subscriber queue depth, 256 when zero.
	BroadcastDepth int
}

// Core owns both broker sessions and the shared books. All exported
// methods are safe for concurrent use.
type Core struct {
	metrics     *obs.Metrics
	sources     *obs.SourceGenerator
	book        *state.QuoteBook
	positions   *state.PositionBook
	broadcaster *bus.Broadcaster
	orders      *og.Gateway
	journal     *journal.Journal

	gateway *ibgw.Session
	stream  *oanda.Session

	mu   sync.Mutex
	subs map[string]int64
}

// New builds a disconnected core from the given options.
func New(opt Options) *Core {
	metrics := obs.NewMetrics()
	sources := obs.NewSourceGenerator(0)

	factory := opt.Factory
	if factory == nil {
		factory = og.StreamBrokerFactory{}
	}

	c := &Core{
		metrics:     metrics,
		sources:     sources,
		book:        state.NewQuoteBook(metrics),
		positions:   state.NewPositionBook(),
		broadcaster: bus.NewBroadcaster(metrics, opt.BroadcastDepth),
		orders:      og.NewGateway(opt.Orders, factory, opt.Stream.Client, metrics),
		journal:     opt.Journal,
		subs:        make(map[string]int64),
	}

	c.gateway = ibgw.NewSession(ibgw.Options{
		Host:          opt.Gateway.Host,
		Port:          opt.Gateway.Port,
		ClientID:      opt.Gateway.ClientID,
		DialTimeout:   opt.Gateway.DialTimeout,
		Metrics:       metrics,
		Sources:       sources,
		OnUpdate:      c.onUpdate,
		OnPosition:    c.positions.Apply,
		OnPositionEnd: c.onPositionEnd,
		OnDisconnect:  c.onDisconnect,
		OnClosed:      c.book.RemoveAll,
	})

	c.stream = oanda.NewSession(oanda.Options{
		BaseURL:      opt.Stream.BaseURL,
		AccountID:    opt.Stream.AccountID,
		APIKey:       opt.Stream.APIKey,
		Instruments:  opt.Instruments,
		Client:       opt.Stream.Client,
		Metrics:      metrics,
		Sources:      sources,
		OnUpdate:     c.onUpdate,
		OnDisconnect: c.onDisconnect,
		OnClosed:     c.book.RemoveAll,
	})

	return c
}

// Gateway exposes the desktop gateway session.
func (c *Core) Gateway() *ibgw.Session {
	return c.gateway
}

// Stream exposes the streaming session.
func (c *Core) Stream() *oanda.Session {
	return c.stream
}

// Connect brings up both broker sessions. The desktop gateway connects
// first; if the stream then fails, the gateway is torn down again so
// Connect leaves no half-open state behind.
func (c *Core) Connect(ctx context.Context) error {
	if err := c.gateway.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Connect(ctx); err != nil {
		if derr := c.gateway.Disconnect(); derr != nil {
			logs.Warnf("tear down gateway after stream connect failure: %v", derr)
		}
		return err
	}
	return nil
}

// Disconnect tears down both sessions. Each session's quote state is
// removed from the book through its closed hook.
func (c *Core) Disconnect() error {
	var first error
	if err := c.stream.Disconnect(); err != nil && !errors.Is(err, exception.ErrSessionNotConnected) {
		first = err
	}
	if err := c.gateway.Disconnect(); err != nil && !errors.Is(err, exception.ErrSessionNotConnected) {
		if first == nil {
			first = err
		}
	}
	c.mu.Lock()
	c.subs = make(map[string]int64)
	c.mu.Unlock()
	return first
}

// Subscribe requests market data for the instrument from the desktop
// gateway. Subscribing the same instrument twice is a no-op.
func (c *Core) Subscribe(ins schema.Instrument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[ins.Pair()]; ok {
		return nil
	}
	reqID, err := c.gateway.SubscribeMarketData(ins)
	if err != nil {
		return err
	}
	c.subs[ins.Pair()] = reqID
	return nil
}

// Unsubscribe cancels the desktop gateway subscription and drops the
// instrument's cached quote.
func (c *Core) Unsubscribe(ins schema.Instrument) error {
	c.mu.Lock()
	reqID, ok := c.subs[ins.Pair()]
	if ok {
		delete(c.subs, ins.Pair())
	}
	c.mu.Unlock()
	if !ok {
		return exception.ErrUnresolvedSubscription
	}
	if _, err := c.gateway.Unsubscribe(reqID); err != nil {
		return err
	}
	c.book.Remove(ins)
	return nil
}

// ReadQuote returns the current cached quote for the instrument.
func (c *Core) ReadQuote(ins schema.Instrument) (schema.QuoteState, error) {
	quote, ok := c.book.Read(ins)
	if !ok {
		return schema.QuoteState{}, exception.ErrQuoteNotFound
	}
	return quote, nil
}

// OnUpdate registers a subscriber for every applied quote update. The
// returned cancel detaches it.
func (c *Core) OnUpdate(fn bus.Subscriber) (cancel func()) {
	return c.broadcaster.Subscribe(bus.KindAll, fn)
}

// OnPriceUpdate registers a subscriber for price fields only.
func (c *Core) OnPriceUpdate(fn bus.Subscriber) (cancel func()) {
	return c.broadcaster.Subscribe(bus.KindPrice, fn)
}

// OnSizeUpdate registers a subscriber for size fields only.
func (c *Core) OnSizeUpdate(fn bus.Subscriber) (cancel func()) {
	return c.broadcaster.Subscribe(bus.KindSize, fn)
}

// SubmitOrder validates and submits the intent, then journals the
// outcome. Intents that fail validation never reach the journal.
func (c *Core) SubmitOrder(ctx context.Context, intent schema.OrderIntent) error {
	err := c.orders.Submit(ctx, intent)
	if err != nil && errors.Is(err, exception.ErrInvalidIntent) {
		return err
	}
	c.journal.Record(ctx, intent, err)
	return err
}

// Positions returns the account positions reported by the desktop
// gateway, valid once PositionsComplete reports true.
func (c *Core) Positions() []schema.Position {
	return c.positions.All()
}

// PositionsComplete reports whether the initial position snapshot has
// fully arrived.
func (c *Core) PositionsComplete() bool {
	return c.positions.Complete()
}

// Metrics returns a point-in-time counter snapshot.
func (c *Core) Metrics() obs.Snapshot {
	return c.metrics.Snapshot()
}

// Close disconnects both sessions and releases the fan-out workers and
// the journal.
func (c *Core) Close() error {
	err := c.Disconnect()
	c.broadcaster.Close()
	if jerr := c.journal.Close(); jerr != nil && err == nil {
		err = jerr
	}
	return err
}

func (c *Core) onUpdate(u schema.QuoteUpdate) {
	start := time.Now()
	if !c.book.Apply(u) {
		return
	}
	c.broadcaster.Publish(u)
	c.metrics.ObserveUpdate(u.Field, start)
}

func (c *Core) onPositionEnd(count int) {
	c.positions.MarkComplete()
	logs.Infof("position snapshot complete, %d positions", count)
}

func (c *Core) onDisconnect(source uint64, err error) {
	logs.Warnf("session %d lost: %v", source, err)
}
