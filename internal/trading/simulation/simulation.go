// Package simulation provides an exchange that fills every order locally.
// It is used for dry runs and paper trading.
package simulation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/songzhibin97/shannon/internal/models"
	"github.com/songzhibin97/shannon/internal/trading"
)

var _ trading.Exchange = (*Exchange)(nil)

// Exchange fills orders immediately at their limit price. Market data comes
// from an optional live reader, otherwise from the state set on it. Balances
// are kept locally once initial assets are given; without them they are read
// from the live reader and never change.
type Exchange struct {
	settlement string
	source     trading.MarketReader
	now        func() time.Time

	mu        sync.Mutex
	available bool
	assets    map[string]models.Asset
	ticker    map[string]models.Ticker
	books     map[string]*models.Orderbook
	orders    map[string]trading.OrderReport
}

type Option func(*Exchange)

// WithMarket reads availability, tickers, orderbooks and, unless
// WithAssets is given, balances from source.
func WithMarket(source trading.MarketReader) Option {
	return func(e *Exchange) { e.source = source }
}

// WithAssets sets the initial balances and makes them local.
func WithAssets(assets map[string]models.Asset) Option {
	return func(e *Exchange) {
		e.assets = make(map[string]models.Asset, len(assets))
		for s, a := range assets {
			a.Symbol = s
			e.assets[s] = a
		}
	}
}

// WithTicker sets the tickers served when there is no live reader.
func WithTicker(ticker map[string]models.Ticker) Option {
	return func(e *Exchange) {
		for s, t := range ticker {
			e.ticker[s] = t
		}
	}
}

func New(settlement string, opts ...Option) *Exchange {
	e := &Exchange{
		settlement: settlement,
		now:        time.Now,
		available:  true,
		ticker:     make(map[string]models.Ticker),
		books:      make(map[string]*models.Orderbook),
		orders:     make(map[string]trading.OrderReport),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exchange) Name() string {
	return "simulation"
}

// SetAvailable opens or closes the simulated market.
func (e *Exchange) SetAvailable(available bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = available
}

// SetTicker replaces the ticker of one symbol.
func (e *Exchange) SetTicker(t models.Ticker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticker[t.Symbol] = t
}

// SetOrderbook replaces the orderbook of one symbol.
func (e *Exchange) SetOrderbook(book *models.Orderbook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	book.Sort()
	e.books[book.Symbol] = book
}

func (e *Exchange) IsAvailable(ctx context.Context) (bool, error) {
	e.mu.Lock()
	available := e.available
	e.mu.Unlock()
	if !available || e.source == nil {
		return available, nil
	}
	return e.source.IsAvailable(ctx)
}

func (e *Exchange) GetTicker(ctx context.Context, symbols []string) (map[string]models.Ticker, error) {
	if e.source != nil {
		ticker, err := e.source.GetTicker(ctx, symbols)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		for s, t := range ticker {
			e.ticker[s] = t
		}
		e.mu.Unlock()
		return ticker, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]models.Ticker, len(symbols))
	for _, s := range symbols {
		if t, ok := e.ticker[s]; ok {
			out[s] = t
		}
	}
	return out, nil
}

func (e *Exchange) GetAssets(ctx context.Context, symbols []string) (map[string]models.Asset, error) {
	e.mu.Lock()
	local := e.assets != nil
	e.mu.Unlock()
	if !local && e.source != nil {
		return e.source.GetAssets(ctx, symbols)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]models.Asset, len(symbols))
	for _, s := range symbols {
		if a, ok := e.assets[s]; ok {
			out[s] = a
		}
	}
	return out, nil
}

func (e *Exchange) GetOrderbook(ctx context.Context, symbol string) (*models.Orderbook, error) {
	if e.source != nil {
		return e.source.GetOrderbook(ctx, symbol)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	book, ok := e.books[symbol]
	if !ok {
		return &models.Orderbook{Symbol: symbol}, nil
	}
	cp := *book
	cp.Asks = append([]models.Level(nil), book.Asks...)
	cp.Bids = append([]models.Level(nil), book.Bids...)
	return &cp, nil
}

// PostOrder fills the order in full. With local balances an order the
// account cannot cover is rejected.
func (e *Exchange) PostOrder(ctx context.Context, o *trading.Order) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, err := e.fillPrice(o)
	if err != nil {
		return "", err
	}
	size := o.Size.Float()

	if e.assets != nil {
		if err := e.settle(o.Symbol, o.Side, size, price); err != nil {
			return "", err
		}
	}

	id := uuid.New().String()
	e.orders[id] = trading.OrderReport{
		ID:           id,
		Symbol:       o.Symbol,
		Status:       trading.Completed,
		ExecutedSize: size,
		Timestamp:    e.now(),
	}
	return id, nil
}

func (e *Exchange) fillPrice(o *trading.Order) (float64, error) {
	if o.Price != nil {
		return o.Price.Float(), nil
	}

	t, ok := e.ticker[o.Symbol]
	if !ok {
		return 0, &trading.RejectedOrderError{Symbol: o.Symbol, Source: "exchange", Message: "no market price"}
	}
	if o.Side == trading.Buy {
		return t.Ask, nil
	}
	return t.Bid, nil
}

// settle moves balances for a fill. Callers hold mu.
func (e *Exchange) settle(symbol string, side trading.Side, size, price float64) error {
	base := e.assets[symbol]
	quote := e.assets[e.settlement]
	cost := size * price

	switch side {
	case trading.Buy:
		if quote.Available < cost {
			return &trading.RejectedOrderError{Symbol: symbol, Source: "exchange",
				Message: fmt.Sprintf("insufficient %s balance: %v < %v", e.settlement, quote.Available, cost)}
		}
	case trading.Sell:
		if base.Available < size {
			return &trading.RejectedOrderError{Symbol: symbol, Source: "exchange",
				Message: fmt.Sprintf("insufficient %s balance: %v < %v", symbol, base.Available, size)}
		}
	}

	sign := side.Sign()
	base.Symbol = symbol
	base.Amount += sign * size
	base.Available += sign * size
	quote.Symbol = e.settlement
	quote.Amount -= sign * cost
	quote.Available -= sign * cost
	e.assets[symbol] = base
	e.assets[e.settlement] = quote
	return nil
}

func (e *Exchange) GetOrders(ctx context.Context, orderIDs []string) ([]trading.OrderReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reports := make([]trading.OrderReport, 0, len(orderIDs))
	for _, id := range orderIDs {
		r, ok := e.orders[id]
		if !ok {
			return nil, fmt.Errorf("unknown order id %s", id)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// CancelOrders cancels orders that are not finished. Filled orders are left
// as they are.
func (e *Exchange) CancelOrders(ctx context.Context, orderIDs []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range orderIDs {
		r, ok := e.orders[id]
		if !ok {
			return fmt.Errorf("unknown order id %s", id)
		}
		if !r.Status.IsTerminal() {
			r.Status = trading.Canceled
			e.orders[id] = r
		}
	}
	return nil
}
