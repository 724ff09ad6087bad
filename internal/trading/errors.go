package trading

import (
	"errors"
	"fmt"
)

// ErrExchangeUnavailable is returned when the market is closed.
var ErrExchangeUnavailable = errors.New("exchange is not available")

// RejectedOrderError is a business rule rejection of a single order, for
// example insufficient balance or an invalid size.
type RejectedOrderError struct {
	Symbol  string
	Source  string // "exchange" or "risk"
	Message string
}

func (e *RejectedOrderError) Error() string {
	src := e.Source
	if src == "" {
		src = "exchange"
	}
	return fmt.Sprintf("order for %s rejected by %s: %s", e.Symbol, src, e.Message)
}

// ProtocolError is returned when an exchange reports a value outside the
// canonical vocabulary.
type ProtocolError struct {
	Field string
	Value string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unrecognised %s %q", e.Field, e.Value)
}

// IsRejected reports whether err is a per-order rejection.
func IsRejected(err error) bool {
	var rej *RejectedOrderError
	return errors.As(err, &rej)
}
