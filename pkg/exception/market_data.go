package exception

import "errors"

var (
	ErrMalformedEvent         = errors.New("market data: malformed event")
	ErrUnresolvedSubscription = errors.New("market data: unknown request id")
	ErrUnknownTickType        = errors.New("market data: unknown tick type")
	ErrQuoteNotFound          = errors.New("market data: quote not found")
	ErrNilSubscriber          = errors.New("market data: nil subscriber")
)
