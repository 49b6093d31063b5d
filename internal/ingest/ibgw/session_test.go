package ibgw

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"main/internal/ingest"
	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is a scripted desktop-gateway endpoint for one connection.
type fakeGateway struct {
	ln       net.Listener
	requests chan Request

	mu   sync.Mutex
	conn net.Conn
}

func newFakeGateway(t *testing.T, ackConnect bool) *fakeGateway {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	g := &fakeGateway{ln: ln, requests: make(chan Request, 16)}
	t.Cleanup(func() {
		_ = ln.Close()
		g.closeConn()
	})

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conn = conn
		g.mu.Unlock()

		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			var req Request
			if err := sonic.ConfigFastest.Unmarshal(sc.Bytes(), &req); err != nil {
				continue
			}
			if req.Type == requestConnect {
				if ackConnect {
					g.send(Event{Type: eventConnected})
				} else {
					g.send(Event{Type: eventError, Code: codeNotConnected, Message: "handshake incomplete"})
				}
			}
			g.requests <- req
		}
	}()
	return g
}

// newGatedGateway accepts the connection but holds the connect ack
// until gate is closed.
func newGatedGateway(t *testing.T) (*fakeGateway, chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gate := make(chan struct{})
	g := &fakeGateway{ln: ln, requests: make(chan Request, 16)}
	t.Cleanup(func() {
		_ = ln.Close()
		g.closeConn()
	})

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conn = conn
		g.mu.Unlock()

		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			var req Request
			if err := sonic.ConfigFastest.Unmarshal(sc.Bytes(), &req); err != nil {
				continue
			}
			g.requests <- req
			if req.Type == requestConnect {
				<-gate
				g.send(Event{Type: eventConnected})
			}
		}
	}()
	return g, gate
}

// newSilentGateway accepts the connection but never answers.
func newSilentGateway(t *testing.T) *fakeGateway {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	g := &fakeGateway{ln: ln, requests: make(chan Request, 16)}
	t.Cleanup(func() {
		_ = ln.Close()
		g.closeConn()
	})

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conn = conn
		g.mu.Unlock()
	}()
	return g
}

func (g *fakeGateway) port() int {
	return g.ln.Addr().(*net.TCPAddr).Port
}

func (g *fakeGateway) send(ev Event) {
	payload, err := sonic.ConfigFastest.Marshal(ev)
	if err != nil {
		return
	}
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn != nil {
		_, _ = conn.Write(append(payload, '\n'))
	}
}

func (g *fakeGateway) closeConn() {
	g.mu.Lock()
	conn := g.conn
	g.conn = nil
	g.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (g *fakeGateway) nextRequest(t *testing.T) Request {
	t.Helper()
	select {
	case req := <-g.requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for gateway request")
		return Request{}
	}
}

func TestSessionConnectSubscribeAndStream(t *testing.T) {
	gw := newFakeGateway(t, true)

	updates := make(chan schema.QuoteUpdate, 16)
	positions := make(chan schema.Position, 4)
	positionEnd := make(chan int, 1)

	s := NewSession(Options{
		Host:          "127.0.0.1",
		Port:          gw.port(),
		ClientID:      7,
		Metrics:       obs.NewMetrics(),
		OnUpdate:      func(u schema.QuoteUpdate) { updates <- u },
		OnPosition:    func(p schema.Position) { positions <- p },
		OnPositionEnd: func(count int) { positionEnd <- count },
	})

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, ingest.StateConnected, s.State())
	assert.NotZero(t, s.Source())

	req := gw.nextRequest(t)
	assert.Equal(t, requestConnect, req.Type)
	assert.Equal(t, int64(7), req.ClientID)
	assert.Equal(t, requestPositions, gw.nextRequest(t).Type)

	eurusd := schema.NewInstrument("EUR", "USD")
	reqID, err := s.SubscribeMarketData(eurusd)
	require.NoError(t, err)

	req = gw.nextRequest(t)
	assert.Equal(t, requestMarketData, req.Type)
	assert.Equal(t, reqID, req.RequestID)
	require.NotNil(t, req.Contract)
	assert.Equal(t, "EUR", req.Contract.Symbol)
	assert.Equal(t, "CASH", req.Contract.SecType)
	assert.Equal(t, "USD", req.Contract.Currency)
	assert.Equal(t, "IDEALPRO", req.Contract.Exchange)
	assert.Equal(t, "1,2,3,4", req.GenericTickList)
	assert.False(t, req.Snapshot)

	gw.send(Event{Type: eventTickPrice, RequestID: reqID, TickType: TickBid, Value: 1.0851})
	gw.send(Event{Type: eventTickSize, RequestID: reqID, TickType: TickAskSize, Value: 500000})

	u := waitQuote(t, updates)
	assert.Equal(t, eurusd, u.Instrument)
	assert.Equal(t, schema.FieldBidPrice, u.Field)
	assert.Equal(t, s.Source(), u.Source)
	u = waitQuote(t, updates)
	assert.Equal(t, schema.FieldAskSize, u.Field)

	gw.send(Event{Type: eventPosition, Account: "DU123", Symbol: "EUR", Quantity: decimal.NewFromInt(20000)})
	gw.send(Event{Type: eventPositionEnd})

	select {
	case p := <-positions:
		assert.Equal(t, "DU123", p.Account)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for position")
	}
	select {
	case count := <-positionEnd:
		assert.Equal(t, 1, count)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for position end")
	}

	ins, err := s.Unsubscribe(reqID)
	require.NoError(t, err)
	assert.Equal(t, eurusd, ins)
	assert.Equal(t, requestCancelMktData, gw.nextRequest(t).Type)
	assert.Equal(t, 0, s.Registry().Count())

	require.NoError(t, s.Disconnect())
	assert.Equal(t, ingest.StateDisconnected, s.State())
	assert.Zero(t, s.Source())
}

func TestSessionConnectRejectedBeforeReady(t *testing.T) {
	gw := newFakeGateway(t, false)

	s := NewSession(Options{Host: "127.0.0.1", Port: gw.port()})
	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrConnection)
	assert.Equal(t, ingest.StateFailed, s.State())
}

func TestSessionConnectFailsWhenNoListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s := NewSession(Options{Host: "127.0.0.1", Port: port})
	err = s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrConnection)
	assert.Equal(t, ingest.StateFailed, s.State())
}

func TestSessionConnectNotIdle(t *testing.T) {
	gw := newFakeGateway(t, true)

	s := NewSession(Options{Host: "127.0.0.1", Port: gw.port()})
	require.NoError(t, s.Connect(context.Background()))
	defer func() { _ = s.Disconnect() }()

	assert.ErrorIs(t, s.Connect(context.Background()), exception.ErrSessionNotIdle)
}

func TestSessionDisconnectUnblocksConnect(t *testing.T) {
	gw := newSilentGateway(t)

	s := NewSession(Options{Host: "127.0.0.1", Port: gw.port()})
	result := make(chan error, 1)
	go func() { result <- s.Connect(context.Background()) }()

	require.Eventually(t, func() bool {
		return s.State() == ingest.StateConnecting
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.Disconnect())

	select {
	case err := <-result:
		require.Error(t, err)
		assert.ErrorIs(t, err, exception.ErrConnection)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not unblock")
	}
	assert.Equal(t, ingest.StateDisconnected, s.State())
}

func TestSessionReleasedWhileConnecting(t *testing.T) {
	gw, gate := newGatedGateway(t)

	s := NewSession(Options{Host: "127.0.0.1", Port: gw.port()})
	result := make(chan error, 1)
	go func() { result <- s.Connect(context.Background()) }()

	// Hold the ack and release the session the way a Disconnect that
	// won the race before the transport was stored would.
	require.Equal(t, requestConnect, gw.nextRequest(t).Type)
	s.tracker.Set(ingest.StateDisconnected)
	close(gate)

	select {
	case err := <-result:
		require.Error(t, err)
		assert.ErrorIs(t, err, exception.ErrConnection)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return")
	}
	assert.Equal(t, ingest.StateDisconnected, s.State())
	assert.Zero(t, s.Source())
}

func TestSessionCriticalErrorTearsDown(t *testing.T) {
	gw := newFakeGateway(t, true)

	disconnects := make(chan error, 1)
	closed := make(chan uint64, 1)
	s := NewSession(Options{
		Host:         "127.0.0.1",
		Port:         gw.port(),
		OnDisconnect: func(_ uint64, err error) { disconnects <- err },
		OnClosed:     func(source uint64) { closed <- source },
	})

	require.NoError(t, s.Connect(context.Background()))
	source := s.Source()
	_, err := s.SubscribeMarketData(schema.NewInstrument("EUR", "USD"))
	require.NoError(t, err)

	// Per-request notices are logged and ignored.
	gw.send(Event{Type: eventError, Code: 354, Message: "not subscribed"})
	// Fault-level codes end the session.
	gw.send(Event{Type: eventError, Code: 2110, Message: "connectivity lost"})

	select {
	case err := <-disconnects:
		assert.ErrorIs(t, err, exception.ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect callback")
	}
	assert.Equal(t, ingest.StateDisconnected, s.State())
	assert.Equal(t, 0, s.Registry().Count())

	_, err = s.SubscribeMarketData(schema.NewInstrument("GBP", "JPY"))
	assert.ErrorIs(t, err, exception.ErrSessionNotConnected)

	// Quote ownership is only released by the explicit disconnect.
	require.NoError(t, s.Disconnect())
	select {
	case got := <-closed:
		assert.Equal(t, source, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for closed callback")
	}
}

func waitQuote(t *testing.T, ch <-chan schema.QuoteUpdate) schema.QuoteUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for quote update")
		return schema.QuoteUpdate{}
	}
}
