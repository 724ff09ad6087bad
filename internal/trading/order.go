package trading

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/shannon/internal/quantize"
)

// Side 买卖方向, the sign is applied to sizes when projecting holdings
type Side int

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() float64 { return float64(s) }

// ExecutionType 订单类型
type ExecutionType string

const (
	Market ExecutionType = "MARKET"
	Limit  ExecutionType = "LIMIT"
	Stop   ExecutionType = "STOP"
)

// TimeInForce 有效期策略
type TimeInForce string

const (
	FAK TimeInForce = "FAK" // fill and kill
	FAS TimeInForce = "FAS" // fill and store
	FOK TimeInForce = "FOK" // fill or kill
	SOK TimeInForce = "SOK"
)

var (
	ErrSideInvalid      = errors.New("order side is invalid")
	ErrTypeInvalid      = errors.New("order execution type is invalid")
	ErrSizeInvalid      = errors.New("order size must be positive")
	ErrPriceRequired    = errors.New("price must be set for non market orders")
	ErrSymbolMismatch   = errors.New("order size or price symbol does not match order symbol")
	ErrAlreadySubmitted = errors.New("order has already been submitted")
)

// Order 订单结构
type Order struct {
	Symbol        string
	Side          Side
	Size          quantize.Size
	ExecutionType ExecutionType
	Price         *quantize.Price // nil for market orders
	TimeInForce   TimeInForce
	LosscutPrice  *quantize.Price
	CancelBefore  bool
	Status        OrderStatus
	ID            string    // set after submission
	Timestamp     time.Time // set after submission
}

// Validate checks the order before submission
func (o *Order) Validate() error {
	if o.Side != Buy && o.Side != Sell {
		return ErrSideInvalid
	}

	switch o.ExecutionType {
	case Market:
	case Limit, Stop:
		if o.Price == nil || o.Price.IsZero() {
			return ErrPriceRequired
		}
		if o.Price.Symbol() != o.Symbol {
			return ErrSymbolMismatch
		}
	default:
		return ErrTypeInvalid
	}

	if o.Size.IsZero() || o.Size.Lot() <= 0 {
		return ErrSizeInvalid
	}
	if o.Size.Symbol() != o.Symbol {
		return ErrSymbolMismatch
	}

	if o.Status != Unordered || o.ID != "" {
		return ErrAlreadySubmitted
	}

	return nil
}

// EstimatedValue returns the quantized size times the quantized price, in
// settlement currency. Market orders have no price and estimate to zero.
func (o *Order) EstimatedValue() decimal.Decimal {
	if o.Price == nil {
		return decimal.Zero
	}
	return o.Size.Decimal().Mul(o.Price.Decimal())
}

func (o *Order) String() string {
	price := "MARKET"
	if o.Price != nil {
		price = o.Price.String()
	}
	return fmt.Sprintf("%s %s %s @ %s [%s]", o.Side, o.Size, o.Symbol, price, o.Status)
}

// OrderReport is an exchange's view of a submitted order, with the status
// already mapped to the canonical vocabulary.
type OrderReport struct {
	ID           string
	Symbol       string
	Status       OrderStatus
	ExecutedSize float64
	Timestamp    time.Time
}
