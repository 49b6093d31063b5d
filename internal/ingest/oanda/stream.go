package oanda

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"main/internal/ingest"
	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
	"main/pkg/scanner"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	defaultBaseURL = "https://stream-fxpractice.oanda.com"
	maxLineBytes   = 1 << 20
)

// Options configures a streaming session.
type Options struct {
	BaseURL     string
	AccountID   string
	APIKey      string
	Instruments []schema.Instrument

	// Client defaults to http.DefaultClient. The streaming GET needs no
	// per-request timeout; the body is read until the broker closes it.
	Client *http.Client

	Metrics *obs.Metrics
	Sources *obs.SourceGenerator

	OnUpdate     ingest.UpdateHandler
	OnDisconnect ingest.DisconnectHandler
	OnClosed     ingest.ClosedHandler
}

// Session owns one chunked streaming response from the broker. There is
// no protocol handshake: receiving HTTP 200 with headers IS the ready
// signal, and every body line after that is an independent record.
type Session struct {
	opt     Options
	tracker ingest.StateTracker

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	source uint64
}

// NewSession creates a disconnected streaming session.
func NewSession(opt Options) *Session {
	if opt.BaseURL == "" {
		opt.BaseURL = defaultBaseURL
	}
	if opt.Client == nil {
		opt.Client = http.DefaultClient
	}
	if opt.Sources == nil {
		opt.Sources = obs.NewSourceGenerator(0)
	}
	return &Session{opt: opt}
}

// State returns the session lifecycle state.
func (s *Session) State() ingest.SessionState {
	return s.tracker.State()
}

// Source returns the current connection's source id.
func (s *Session) Source() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Instruments returns the pairs this session streams.
func (s *Session) Instruments() []schema.Instrument {
	return s.opt.Instruments
}

// Connect issues the streaming GET and waits for the response headers.
// Any status other than 200 fails with the connection error, as does a
// concurrent Disconnect. The stream itself outlives ctx; ctx only
// bounds the connect wait.
func (s *Session) Connect(ctx context.Context) error {
	if !s.tracker.Move(ingest.StateConnecting, ingest.StateDisconnected, ingest.StateFailed) {
		return exception.ErrSessionNotIdle
	}
	if len(s.opt.Instruments) == 0 {
		s.tracker.Move(ingest.StateFailed, ingest.StateConnecting)
		return errors.Wrap(exception.ErrConnection, "no instruments to stream")
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	req, err := s.buildStreamRequest(streamCtx)
	if err != nil {
		cancel()
		s.tracker.Move(ingest.StateFailed, ingest.StateConnecting)
		return errors.Wrap(exception.ErrConnection, fmt.Sprintf("build stream request: %v", err))
	}

	logs.Infof("connecting to price stream for %d instruments", len(s.opt.Instruments))

	type result struct {
		resp *http.Response
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		resp, err := s.opt.Client.Do(req)
		resCh <- result{resp: resp, err: err}
	}()

	var resp *http.Response
	select {
	case <-ctx.Done():
		cancel()
		res := <-resCh
		if res.resp != nil {
			_ = res.resp.Body.Close()
		}
		s.tracker.Move(ingest.StateFailed, ingest.StateConnecting)
		return errors.Wrap(exception.ErrConnection, fmt.Sprintf("connect canceled: %v", ctx.Err()))
	case res := <-resCh:
		if res.err != nil {
			cancel()
			s.tracker.Move(ingest.StateFailed, ingest.StateConnecting)
			return errors.Wrap(exception.ErrConnection, fmt.Sprintf("stream request: %v", res.err))
		}
		resp = res.resp
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		s.tracker.Move(ingest.StateFailed, ingest.StateConnecting)
		return errors.Wrap(exception.ErrConnection,
			fmt.Sprintf("failed to connect to stream, status code: %d", resp.StatusCode))
	}

	source := s.opt.Sources.Next()
	done := make(chan struct{})
	normalizer := NewNormalizer(s.opt.Instruments, s.opt.Metrics, source)

	s.mu.Lock()
	s.done = done
	s.source = source
	s.mu.Unlock()

	// A Disconnect that raced this Connect may have already moved the
	// session out of Connecting; the stream then belongs to a released
	// session and must not start.
	if !s.tracker.Move(ingest.StateConnected, ingest.StateConnecting) {
		_ = resp.Body.Close()
		cancel()
		close(done)
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done, s.source = nil, nil, 0
		}
		s.mu.Unlock()
		return errors.Wrap(exception.ErrConnection, "session released while connecting")
	}
	s.opt.Metrics.IncConnect()
	logs.Info("connected to price stream")

	go s.readLoop(resp.Body, done, source, normalizer)
	return nil
}

// Disconnect aborts the stream, releases the response body and removes
// ownership of the connection's quote state. It unblocks an in-flight
// Connect and is safe from any goroutine, repeatedly.
func (s *Session) Disconnect() error {
	moved := s.tracker.Move(ingest.StateDisconnecting, ingest.StateConnecting, ingest.StateConnected)

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	source := s.source
	s.cancel, s.done, s.source = nil, nil, 0
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if moved {
		s.tracker.Set(ingest.StateDisconnected)
		s.opt.Metrics.IncDisconnect()
		logs.Info("disconnected from price stream")
	} else {
		s.tracker.Move(ingest.StateDisconnected, ingest.StateFailed)
	}

	if source != 0 && s.opt.OnClosed != nil {
		s.opt.OnClosed(source)
	}
	return nil
}

func (s *Session) buildStreamRequest(ctx context.Context) (*http.Request, error) {
	codes := make([]string, 0, len(s.opt.Instruments))
	for _, ins := range s.opt.Instruments {
		codes = append(codes, ins.Underscored())
	}
	query := url.Values{}
	query.Set("instruments", strings.Join(codes, ","))
	query.Set("snapshot", "False")

	endpoint := fmt.Sprintf("%s/v3/accounts/%s/pricing/stream?%s",
		strings.TrimRight(s.opt.BaseURL, "/"), s.opt.AccountID, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.opt.APIKey)
	req.Header.Set("Accept", "application/octet-stream")
	return req, nil
}

func (s *Session) readLoop(body io.ReadCloser, done chan struct{}, source uint64, normalizer *Normalizer) {
	defer close(done)
	defer body.Close()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)

	typeKey := []byte(`"type"`)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			s.opt.Metrics.IncHeartbeat()
			continue
		}

		// Heartbeats dominate quiet streams; classify them without a
		// full decode.
		if kind, ok := scanner.ScanStringField(line, typeKey); ok && string(kind) == recordTypeHeartbeat {
			s.opt.Metrics.IncHeartbeat()
			continue
		}

		rec, err := DecodeRecord(line)
		if err != nil {
			s.opt.Metrics.IncMalformed()
			logs.Warnf("drop malformed stream record: %+v", err)
			continue
		}

		if s.opt.OnUpdate == nil {
			continue
		}
		for _, update := range normalizer.Normalize(rec) {
			s.opt.OnUpdate(update)
		}
	}

	if !s.tracker.Move(ingest.StateDisconnected, ingest.StateConnected) {
		return
	}
	s.opt.Metrics.IncDisconnect()
	logs.Errorf("price stream ended, source %d", source)
	if s.opt.OnDisconnect != nil {
		s.opt.OnDisconnect(source, exception.ErrTransportClosed)
	}
}
