// Package og translates broker-neutral order intents into
// broker-specific payloads and submits them over the broker's
// transactional channel.
package og

import (
	"main/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// OrderFactory builds a broker's wire payload from a neutral order
// description. One variant exists per broker.
type OrderFactory interface {
	MarketOrder(from, to string, amount decimal.Decimal) ([]byte, error)
	LimitOrder(from, to string, amount decimal.Decimal, limitPrice decimal.Decimal) ([]byte, error)
}

// StreamBrokerFactory builds payloads for the streaming broker's order
// endpoint.
type StreamBrokerFactory struct{}

type streamOrderBody struct {
	Order streamOrder `json:"order"`
}

type streamOrder struct {
	Units        string `json:"units"`
	Instrument   string `json:"instrument"`
	TimeInForce  string `json:"timeInForce"`
	Type         string `json:"type"`
	PositionFill string `json:"positionFill"`
	Price        string `json:"price,omitempty"`
}

// MarketOrder builds an immediate-fill order payload.
func (StreamBrokerFactory) MarketOrder(from, to string, amount decimal.Decimal) ([]byte, error) {
	body := streamOrderBody{Order: streamOrder{
		Units:        amount.String(),
		Instrument:   buildInstrument(from, to),
		TimeInForce:  "FOK",
		Type:         "MARKET",
		PositionFill: "DEFAULT",
	}}
	payload, err := sonic.ConfigFastest.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(exception.ErrOrderEncodePayload, err.Error())
	}
	return payload, nil
}

// LimitOrder builds a resting order payload at the given price.
func (StreamBrokerFactory) LimitOrder(from, to string, amount decimal.Decimal, limitPrice decimal.Decimal) ([]byte, error) {
	body := streamOrderBody{Order: streamOrder{
		Units:        amount.String(),
		Instrument:   buildInstrument(from, to),
		TimeInForce:  "GTC",
		Type:         "LIMIT",
		PositionFill: "DEFAULT",
		Price:        limitPrice.String(),
	}}
	payload, err := sonic.ConfigFastest.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(exception.ErrOrderEncodePayload, err.Error())
	}
	return payload, nil
}

// GatewayBrokerFactory builds payloads for the desktop gateway's order
// channel.
type GatewayBrokerFactory struct{}

type gatewayOrderBody struct {
	Action        string          `json:"action"`
	OrderType     string          `json:"orderType"`
	TotalQuantity string          `json:"totalQuantity"`
	LmtPrice      string          `json:"lmtPrice,omitempty"`
	Contract      gatewayContract `json:"contract"`
}

type gatewayContract struct {
	Symbol   string `json:"symbol"`
	SecType  string `json:"secType"`
	Currency string `json:"currency"`
	Exchange string `json:"exchange"`
}

// MarketOrder builds an immediate-fill order payload.
func (GatewayBrokerFactory) MarketOrder(from, to string, amount decimal.Decimal) ([]byte, error) {
	body := gatewayOrderBody{
		Action:        "BUY",
		OrderType:     "MKT",
		TotalQuantity: amount.String(),
		Contract:      gatewayContractFor(from, to),
	}
	payload, err := sonic.ConfigFastest.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(exception.ErrOrderEncodePayload, err.Error())
	}
	return payload, nil
}

// LimitOrder builds a resting order payload at the given price.
func (GatewayBrokerFactory) LimitOrder(from, to string, amount decimal.Decimal, limitPrice decimal.Decimal) ([]byte, error) {
	body := gatewayOrderBody{
		Action:        "BUY",
		OrderType:     "LMT",
		TotalQuantity: amount.String(),
		LmtPrice:      limitPrice.String(),
		Contract:      gatewayContractFor(from, to),
	}
	payload, err := sonic.ConfigFastest.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(exception.ErrOrderEncodePayload, err.Error())
	}
	return payload, nil
}

func buildInstrument(from, to string) string {
	return from + "_" + to
}

func gatewayContractFor(from, to string) gatewayContract {
	return gatewayContract{
		Symbol:   from,
		SecType:  "CASH",
		Currency: to,
		Exchange: "IDEALPRO",
	}
}
