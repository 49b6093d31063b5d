package exception

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidIntent      = errors.New("order: invalid intent")
	ErrOrderNilFactory    = errors.New("order: nil factory")
	ErrOrderEncodePayload = errors.New("order: encode payload")
	ErrOrderRejected      = errors.New("order: rejected")
)

// OrderRejectedError reports a broker refusal with the transactional
// channel's status code. It matches ErrOrderRejected under errors.Is.
type OrderRejectedError struct {
	StatusCode int
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order: rejected, status code: %d", e.StatusCode)
}

func (e *OrderRejectedError) Is(target error) bool {
	return target == ErrOrderRejected
}
