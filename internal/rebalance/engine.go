// Package rebalance computes the orders that move a portfolio toward an
// equal-value allocation.
package rebalance

import (
	"fmt"
	"math"

	"github.com/songzhibin97/shannon/internal/models"
	"github.com/songzhibin97/shannon/internal/quantize"
	"github.com/songzhibin97/shannon/internal/trading"
)

// DomainError reports inputs the rebalancing math cannot work with.
type DomainError struct {
	Symbol string
	Reason string
}

func (e *DomainError) Error() string {
	if e.Symbol == "" {
		return "rebalance: " + e.Reason
	}
	return fmt.Sprintf("rebalance %s: %s", e.Symbol, e.Reason)
}

// Engine is a pure function of (assets, ticker) over a fixed configuration.
type Engine struct {
	symbols     []string
	settlement  string
	quant       *quantize.Config
	timeInForce trading.TimeInForce
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeInForce overrides the time in force of generated orders.
func WithTimeInForce(tif trading.TimeInForce) Option {
	return func(e *Engine) { e.timeInForce = tif }
}

// NewEngine creates an engine over symbols. The settlement symbol is added to
// the universe when missing. Every other symbol must have a lot range and a
// price step in quant.
func NewEngine(symbols []string, settlement string, quant *quantize.Config, opts ...Option) (*Engine, error) {
	if settlement == "" {
		return nil, fmt.Errorf("settlement symbol is required")
	}
	if quant == nil {
		return nil, fmt.Errorf("quantization config is required")
	}

	universe := make([]string, 0, len(symbols)+1)
	seen := make(map[string]bool, len(symbols)+1)
	for _, s := range symbols {
		if seen[s] {
			continue
		}
		seen[s] = true
		universe = append(universe, s)
	}
	if !seen[settlement] {
		universe = append(universe, settlement)
	}

	e := &Engine{
		symbols:     universe,
		settlement:  settlement,
		quant:       quant,
		timeInForce: trading.SOK,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := quant.Check(e.Tradable()...); err != nil {
		return nil, err
	}
	return e, nil
}

// Symbols returns the universe including the settlement symbol.
func (e *Engine) Symbols() []string {
	return append([]string(nil), e.symbols...)
}

// Settlement returns the settlement symbol.
func (e *Engine) Settlement() string { return e.settlement }

// Tradable returns the universe without the settlement symbol, in
// configuration order.
func (e *Engine) Tradable() []string {
	out := make([]string, 0, len(e.symbols))
	for _, s := range e.symbols {
		if s != e.settlement {
			out = append(out, s)
		}
	}
	return out
}

// Valuation is the market value of each holding at last price.
type Valuation struct {
	Amounts map[string]float64
	Prices  map[string]float64
	Values  map[string]float64
	Total   float64
}

// Balanced returns the equal-weight target value per symbol.
func (v *Valuation) Balanced() float64 {
	if len(v.Values) == 0 {
		return 0
	}
	return v.Total / float64(len(v.Values))
}

// Valuate prices every symbol of the universe at its last trade price; the
// settlement symbol is priced at 1. A missing asset counts as zero holding.
func (e *Engine) Valuate(assets map[string]models.Asset, ticker map[string]models.Ticker) (*Valuation, error) {
	v := &Valuation{
		Amounts: make(map[string]float64, len(e.symbols)),
		Prices:  make(map[string]float64, len(e.symbols)),
		Values:  make(map[string]float64, len(e.symbols)),
	}

	for _, s := range e.symbols {
		price := 1.0
		if s != e.settlement {
			t, ok := ticker[s]
			if !ok {
				return nil, &DomainError{Symbol: s, Reason: "no ticker"}
			}
			if t.Last <= 0 || math.IsNaN(t.Last) || math.IsInf(t.Last, 0) {
				return nil, &DomainError{Symbol: s, Reason: fmt.Sprintf("invalid last price %v", t.Last)}
			}
			price = t.Last
		}

		amount := assets[s].Amount
		v.Amounts[s] = amount
		v.Prices[s] = price
		v.Values[s] = amount * price
		v.Total += amount * price
	}

	return v, nil
}

// Entropy returns the allocation entropy of the valuation.
func (v *Valuation) Entropy(order []string) float64 {
	values := make([]float64, 0, len(order))
	for _, s := range order {
		values = append(values, v.Values[s])
	}
	return Entropy(values)
}

// Rebalance proposes one order per tradable symbol that is off target, in
// configuration order. A universe holding only the settlement symbol never
// proposes anything.
func (e *Engine) Rebalance(assets map[string]models.Asset, ticker map[string]models.Ticker) ([]*trading.Order, error) {
	if len(e.symbols) < 2 {
		return nil, nil
	}

	v, err := e.Valuate(assets, ticker)
	if err != nil {
		return nil, err
	}
	return e.rebalance(v, ticker)
}

func (e *Engine) rebalance(v *Valuation, ticker map[string]models.Ticker) ([]*trading.Order, error) {
	balanced := v.Balanced()
	if balanced <= 0 {
		return nil, &DomainError{Reason: fmt.Sprintf("balanced value is %v", balanced)}
	}

	var orders []*trading.Order
	for _, s := range e.Tradable() {
		order, err := e.propose(s, v, balanced, ticker[s])
		if err != nil {
			return nil, err
		}
		if order != nil {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (e *Engine) propose(symbol string, v *Valuation, balanced float64, t models.Ticker) (*trading.Order, error) {
	lots, err := e.quant.Lot(symbol)
	if err != nil {
		return nil, err
	}
	minLot, _ := lots.Min.Float64()

	amount := v.Amounts[symbol]
	last := v.Prices[symbol]

	side := trading.Sell
	if v.Values[symbol] < balanced {
		side = trading.Buy
	}

	nlot := int64(math.Ceil(math.Abs(amount-balanced/last) / minLot))
	if side == trading.Sell {
		// never sell more than is held
		if held := int64(math.Floor(amount / minLot)); nlot > held {
			nlot = held
		}
	}

	// post-trade holding over the balanced value
	ratio := func(n int64) (float64, error) {
		size, err := e.quant.SizeFromLot(symbol, n)
		if err != nil {
			return 0, err
		}
		return (amount + side.Sign()*size.Float()) / balanced, nil
	}

	full, err := ratio(nlot)
	if err != nil {
		return nil, err
	}
	less, err := ratio(nlot - 1)
	if err != nil {
		return nil, err
	}
	if contribution(full) < contribution(less) {
		nlot--
	}

	if nlot <= 0 {
		return nil, nil
	}

	size, err := e.quant.SizeFromLot(symbol, nlot)
	if err != nil {
		return nil, err
	}
	if size.IsZero() {
		return nil, nil
	}

	quote := t.Ask
	if side == trading.Buy {
		quote = t.Bid
	}
	if quote <= 0 {
		return nil, &DomainError{Symbol: symbol, Reason: fmt.Sprintf("no %s quote", side)}
	}
	price, err := e.quant.PriceFromValue(symbol, quote)
	if err != nil {
		return nil, err
	}

	return &trading.Order{
		Symbol:        symbol,
		Side:          side,
		Size:          size,
		ExecutionType: trading.Limit,
		Price:         &price,
		TimeInForce:   e.timeInForce,
		Status:        trading.Unordered,
	}, nil
}
