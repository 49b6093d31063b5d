// Package ibgw implements the duplex desktop-gateway broker session:
// one TCP connection multiplexing typed events (connection ack, ticks,
// positions, errors) as newline-delimited JSON messages.
package ibgw

import (
	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

// Desktop-gateway tick type codes, matching the gateway's enumeration.
const (
	TickBidSize = 0
	TickBid     = 1
	TickAsk     = 2
	TickAskSize = 3
	TickLast    = 4
)

// Error codes below this value are per-request notices; codes at or
// above it indicate a fault that warrants tearing the session down.
const criticalErrorCode = 2000

// codeNotConnected is sent by the gateway when a request arrives before
// the handshake completed.
const codeNotConnected = 504

const (
	eventConnected    = "connected"
	eventDisconnected = "disconnected"
	eventError        = "error"
	eventTickPrice    = "tickPrice"
	eventTickSize     = "tickSize"
	eventPosition     = "position"
	eventPositionEnd  = "positionEnd"
)

const (
	requestConnect       = "connect"
	requestMarketData    = "reqMktData"
	requestCancelMktData = "cancelMktData"
	requestPositions     = "reqPositions"
)

// Contract describes the instrument in the gateway's own terms.
type Contract struct {
	Symbol   string `json:"symbol"`
	SecType  string `json:"secType"`
	Currency string `json:"currency"`
	Exchange string `json:"exchange"`
}

// Request is a client-to-gateway message.
type Request struct {
	Type               string    `json:"type"`
	ClientID           int64     `json:"clientId,omitempty"`
	RequestID          int64     `json:"reqId,omitempty"`
	Contract           *Contract `json:"contract,omitempty"`
	GenericTickList    string    `json:"genericTickList,omitempty"`
	Snapshot           bool      `json:"snapshot"`
	RegulatorySnapshot bool      `json:"regulatorySnapshot"`
}

// Event is a gateway-to-client message. Fields beyond Type are populated
// per event kind.
type Event struct {
	Type      string  `json:"type"`
	RequestID int64   `json:"reqId,omitempty"`
	TickType  int     `json:"tickType,omitempty"`
	Value     float64 `json:"value,omitempty"`

	// error events
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`

	// position events
	Account  string              `json:"account,omitempty"`
	Symbol   string              `json:"symbol,omitempty"`
	Quantity decimal.Decimal     `json:"quantity,omitempty"`
	AvgCost  decimal.NullDecimal `json:"avgCost,omitempty"`
}

// EncodeRequest serializes a request as one wire line, newline included.
func EncodeRequest(req Request) ([]byte, error) {
	payload, err := sonic.ConfigFastest.Marshal(req)
	if err != nil {
		return nil, err
	}
	return append(payload, '\n'), nil
}

// DecodeEvent parses one wire line into an event.
func DecodeEvent(line []byte) (Event, error) {
	var ev Event
	if err := sonic.ConfigFastest.Unmarshal(line, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// IsCritical reports whether an error event should tear the session
// down rather than be logged and ignored.
func (ev Event) IsCritical() bool {
	return ev.Type == eventError && ev.Code >= criticalErrorCode
}
