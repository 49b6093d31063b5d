package og

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Config describes the transactional order endpoint.
type Config struct {
	BaseURL   string
	AccountID string
	APIKey    string

	// SuccessStatus is the broker's accepted status code, 201 when zero.
	SuccessStatus int
}

// Gateway validates order intents, builds the broker payload through
// the active factory and performs a single request-response exchange.
// It never retries; retry policy belongs to the caller.
type Gateway struct {
	cfg     Config
	factory OrderFactory
	client  *http.Client
	metrics *obs.Metrics
}

// NewGateway creates an order gateway for one broker.
func NewGateway(cfg Config, factory OrderFactory, client *http.Client, metrics *obs.Metrics) *Gateway {
	if cfg.SuccessStatus == 0 {
		cfg.SuccessStatus = http.StatusCreated
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Gateway{
		cfg:     cfg,
		factory: factory,
		client:  client,
		metrics: metrics,
	}
}

// Submit validates and sends one order intent. Invalid intents fail
// before any network call; broker refusals fail with the rejected error
// carrying the status code.
func (g *Gateway) Submit(ctx context.Context, intent schema.OrderIntent) error {
	if g == nil || g.factory == nil {
		return exception.ErrOrderNilFactory
	}
	if err := ValidateIntent(intent); err != nil {
		return err
	}

	payload, err := g.buildPayload(intent)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/v3/accounts/%s/orders",
		strings.TrimRight(g.cfg.BaseURL, "/"), g.cfg.AccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build order request")
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send order request")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != g.cfg.SuccessStatus {
		g.metrics.IncOrderRejected()
		logs.Warnf("order rejected for %s, status code: %d", intent.Instrument(), resp.StatusCode)
		return &exception.OrderRejectedError{StatusCode: resp.StatusCode}
	}

	g.metrics.IncOrderSubmitted()
	logs.Infof("order accepted for %s, %s %s", intent.Instrument(), intent.Kind, intent.Amount)
	return nil
}

// ValidateIntent enforces the intent contract: positive amount, limit
// intents carry a positive limit price, market intents carry none.
func ValidateIntent(intent schema.OrderIntent) error {
	if intent.From == "" || intent.To == "" {
		return errors.Wrap(exception.ErrInvalidIntent, "missing currency code")
	}
	if !intent.Amount.IsPositive() {
		return errors.Wrap(exception.ErrInvalidIntent, "amount must be positive")
	}
	switch intent.Kind {
	case schema.OrderKindMarket:
		if intent.LimitPrice.Valid {
			return errors.Wrap(exception.ErrInvalidIntent, "market order must not carry a limit price")
		}
	case schema.OrderKindLimit:
		if !intent.LimitPrice.Valid || !intent.LimitPrice.Decimal.IsPositive() {
			return errors.Wrap(exception.ErrInvalidIntent, "limit order requires a positive limit price")
		}
	default:
		return errors.Wrap(exception.ErrInvalidIntent, "unknown order kind")
	}
	return nil
}

func (g *Gateway) buildPayload(intent schema.OrderIntent) ([]byte, error) {
	switch intent.Kind {
	case schema.OrderKindMarket:
		return g.factory.MarketOrder(intent.From, intent.To, intent.Amount)
	case schema.OrderKindLimit:
		return g.factory.LimitOrder(intent.From, intent.To, intent.Amount, intent.LimitPrice.Decimal)
	default:
		return nil, errors.Wrap(exception.ErrInvalidIntent, "unknown order kind")
	}
}
