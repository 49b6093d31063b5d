package ibgw

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"main/internal/ingest"
	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultTickList    = "1,2,3,4"
	maxLineBytes       = 1 << 20

	secTypeCash     = "CASH"
	exchangeForexFX = "IDEALPRO"
)

// Options configures a desktop-gateway session.
type Options struct {
	Host     string
	Port     int
	ClientID int64

	DialTimeout time.Duration

	Metrics *obs.Metrics
	Sources *obs.SourceGenerator

	OnUpdate      ingest.UpdateHandler
	OnPosition    func(schema.Position)
	OnPositionEnd func(count int)
	OnDisconnect  ingest.DisconnectHandler
	OnClosed      ingest.ClosedHandler
}

// Session owns one duplex connection to the desktop gateway. The read
// loop demultiplexes typed events; everything per-event that fails is
// dropped and logged, only transport loss ends the session.
type Session struct {
	opt      Options
	tracker  ingest.StateTracker
	registry *ingest.Registry

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    net.Conn
	done    chan struct{}
	source  uint64
}

// NewSession creates a disconnected session.
func NewSession(opt Options) *Session {
	if opt.DialTimeout <= 0 {
		opt.DialTimeout = defaultDialTimeout
	}
	if opt.Sources == nil {
		opt.Sources = obs.NewSourceGenerator(0)
	}
	return &Session{
		opt:      opt,
		registry: ingest.NewRegistry(),
	}
}

// Registry exposes the session-scoped subscription registry.
func (s *Session) Registry() *ingest.Registry {
	return s.registry
}

// State returns the session lifecycle state.
func (s *Session) State() ingest.SessionState {
	return s.tracker.State()
}

// Source returns the current connection's source id, zero when the
// session never connected or was explicitly closed.
func (s *Session) Source() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Connect dials the gateway and waits for its connection ack. A
// transport failure before the ack fails with the connection error; a
// concurrent Disconnect unblocks the wait the same way. No timeout is
// imposed here; wrap ctx with a deadline if one is needed.
func (s *Session) Connect(ctx context.Context) error {
	if !s.tracker.Move(ingest.StateConnecting, ingest.StateDisconnected, ingest.StateFailed) {
		return exception.ErrSessionNotIdle
	}

	addr := fmt.Sprintf("%s:%d", s.opt.Host, s.opt.Port)
	logs.Infof("connecting to gateway at %s with client id %d", addr, s.opt.ClientID)

	dialer := net.Dialer{Timeout: s.opt.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.tracker.Move(ingest.StateFailed, ingest.StateConnecting)
		return errors.Wrap(exception.ErrConnection, fmt.Sprintf("dial gateway %s: %v", addr, err))
	}

	source := s.opt.Sources.Next()
	pending := make(chan error, 1)
	done := make(chan struct{})
	normalizer := NewNormalizer(s.registry, s.opt.Metrics, source)

	s.mu.Lock()
	s.conn = conn
	s.done = done
	s.source = source
	s.mu.Unlock()

	if err := s.send(Request{Type: requestConnect, ClientID: s.opt.ClientID}); err != nil {
		_ = conn.Close()
		s.tracker.Move(ingest.StateFailed, ingest.StateConnecting)
		return errors.Wrap(exception.ErrConnection, fmt.Sprintf("send connect request: %v", err))
	}

	go s.readLoop(conn, pending, done, source, normalizer)

	select {
	case <-ctx.Done():
		_ = conn.Close()
		<-done
		s.tracker.Move(ingest.StateFailed, ingest.StateConnecting)
		return errors.Wrap(exception.ErrConnection, fmt.Sprintf("connect canceled: %v", ctx.Err()))
	case err := <-pending:
		if err != nil {
			_ = conn.Close()
			<-done
			s.tracker.Move(ingest.StateFailed, ingest.StateConnecting)
			return err
		}
	}

	// A Disconnect that raced this Connect may have already moved the
	// session out of Connecting; the ack then belongs to a released
	// session and the transport must not survive.
	if !s.tracker.Move(ingest.StateConnected, ingest.StateConnecting) {
		_ = conn.Close()
		<-done
		s.mu.Lock()
		if s.conn == conn {
			s.conn, s.done, s.source = nil, nil, 0
		}
		s.mu.Unlock()
		return errors.Wrap(exception.ErrConnection, "session released while connecting")
	}
	s.opt.Metrics.IncConnect()
	logs.Infof("connected to gateway at %s", addr)

	if err := s.send(Request{Type: requestPositions}); err != nil {
		logs.Warnf("request positions: %+v", err)
	}
	return nil
}

// Disconnect releases the transport, clears the subscription bindings
// and removes ownership of the connection's quote state. It unblocks an
// in-flight Connect and is safe to call from any goroutine, repeatedly.
func (s *Session) Disconnect() error {
	moved := s.tracker.Move(ingest.StateDisconnecting, ingest.StateConnecting, ingest.StateConnected)

	s.mu.Lock()
	conn, done := s.conn, s.done
	source := s.source
	s.conn, s.done, s.source = nil, nil, 0
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}

	s.registry.UnsubscribeAll()
	if moved {
		s.tracker.Set(ingest.StateDisconnected)
		s.opt.Metrics.IncDisconnect()
		logs.Info("disconnected from gateway")
	} else {
		s.tracker.Move(ingest.StateDisconnected, ingest.StateFailed)
	}

	if source != 0 && s.opt.OnClosed != nil {
		s.opt.OnClosed(source)
	}
	return nil
}

// SubscribeMarketData binds a fresh request id to the instrument and
// asks the gateway for its tick stream.
func (s *Session) SubscribeMarketData(ins schema.Instrument) (int64, error) {
	if s.tracker.State() != ingest.StateConnected {
		return 0, exception.ErrSessionNotConnected
	}

	reqID := s.registry.Subscribe(ins)
	req := Request{
		Type:      requestMarketData,
		RequestID: reqID,
		Contract: &Contract{
			Symbol:   ins.Base,
			SecType:  secTypeCash,
			Currency: ins.Quote,
			Exchange: exchangeForexFX,
		},
		GenericTickList: defaultTickList,
	}
	if err := s.send(req); err != nil {
		s.registry.Unsubscribe(reqID)
		return 0, errors.Wrap(err, "request market data").With("instrument", ins.Pair())
	}

	logs.Infof("market data subscription requested for %s with request id %d", ins, reqID)
	return reqID, nil
}

// Unsubscribe drops the request id binding and cancels the gateway
// stream. Returns the instrument the id was bound to.
func (s *Session) Unsubscribe(reqID int64) (schema.Instrument, error) {
	ins, ok := s.registry.Unsubscribe(reqID)
	if !ok {
		return schema.Instrument{}, exception.ErrUnresolvedSubscription
	}
	if s.tracker.State() == ingest.StateConnected {
		if err := s.send(Request{Type: requestCancelMktData, RequestID: reqID}); err != nil {
			logs.Warnf("cancel market data for request id %d: %+v", reqID, err)
		}
	}
	return ins, nil
}

func (s *Session) send(req Request) error {
	payload, err := EncodeRequest(req)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return exception.ErrSessionNotConnected
	}

	s.writeMu.Lock()
	_, err = conn.Write(payload)
	s.writeMu.Unlock()
	if err != nil {
		return errors.Wrap(err, "write request")
	}
	return nil
}

func (s *Session) readLoop(conn net.Conn, pending chan error, done chan struct{}, source uint64, normalizer *Normalizer) {
	defer close(done)

	deliver := func(err error) {
		select {
		case pending <- err:
		default:
		}
	}

	positionCount := 0
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		ev, err := DecodeEvent(line)
		if err != nil {
			s.opt.Metrics.IncMalformed()
			logs.Warnf("drop malformed gateway event: %+v", err)
			continue
		}

		switch ev.Type {
		case eventConnected:
			deliver(nil)

		case eventTickPrice, eventTickSize:
			update, ok := normalizer.Normalize(ev)
			if !ok {
				continue
			}
			if s.opt.OnUpdate != nil {
				s.opt.OnUpdate(update)
			}

		case eventPosition:
			positionCount++
			if s.opt.OnPosition != nil {
				s.opt.OnPosition(schema.Position{
					Account:  ev.Account,
					Symbol:   ev.Symbol,
					Quantity: ev.Quantity,
					AvgCost:  ev.AvgCost,
				})
			}

		case eventPositionEnd:
			logs.Infof("total: %d positions", positionCount)
			if s.opt.OnPositionEnd != nil {
				s.opt.OnPositionEnd(positionCount)
			}

		case eventError:
			if ev.Code == codeNotConnected {
				deliver(errors.Wrap(exception.ErrConnection, ev.Message).With("code", ev.Code))
				continue
			}
			logs.Errorf("gateway error: %s, code: %d, reqId: %d", ev.Message, ev.Code, ev.RequestID)
			if ev.IsCritical() {
				logs.Error("critical gateway error, closing session")
				_ = conn.Close()
			}

		case eventDisconnected:
			logs.Warn("gateway announced disconnect")
			_ = conn.Close()

		default:
			s.opt.Metrics.IncMalformed()
			logs.Warnf("drop gateway event with unknown type %q", ev.Type)
		}
	}

	deliver(errors.Wrap(exception.ErrConnection, "transport closed before ready"))
	s.onTransportDown(source)
}

// onTransportDown handles the read loop ending. A deliberate disconnect
// is cleaned up by Disconnect itself; a fatal mid-session loss
// invalidates subscriptions but leaves the last-known quotes visible,
// stale, until an explicit Disconnect.
func (s *Session) onTransportDown(source uint64) {
	if !s.tracker.Move(ingest.StateDisconnected, ingest.StateConnected) {
		return
	}
	s.opt.Metrics.IncDisconnect()
	s.registry.UnsubscribeAll()
	logs.Errorf("gateway transport lost, source %d", source)
	if s.opt.OnDisconnect != nil {
		s.opt.OnDisconnect(source, exception.ErrTransportClosed)
	}
}
