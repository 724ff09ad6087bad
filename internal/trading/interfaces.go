package trading

import (
	"context"

	"github.com/songzhibin97/shannon/internal/models"
)

// MarketReader defines the read-only half of an exchange
type MarketReader interface {
	// IsAvailable reports whether the market is open for trading
	IsAvailable(ctx context.Context) (bool, error)

	// GetTicker returns tickers for the requested symbols
	GetTicker(ctx context.Context, symbols []string) (map[string]models.Ticker, error)

	// GetAssets returns account holdings for the requested symbols
	GetAssets(ctx context.Context, symbols []string) (map[string]models.Asset, error)

	// GetOrderbook returns the orderbook of a symbol, asks ascending and bids descending
	GetOrderbook(ctx context.Context, symbol string) (*models.Orderbook, error)
}

// OrderPlacer defines order management methods
type OrderPlacer interface {
	// PostOrder places an order and returns the exchange order id.
	// Business rule rejections are returned as *RejectedOrderError.
	PostOrder(ctx context.Context, order *Order) (string, error)

	// GetOrders returns status reports for the given order ids
	GetOrders(ctx context.Context, orderIDs []string) ([]OrderReport, error)

	// CancelOrders requests cancellation of the given order ids
	CancelOrders(ctx context.Context, orderIDs []string) error
}

// Exchange is the capability set the rebalancing daemon consumes
type Exchange interface {
	Name() string
	MarketReader
	OrderPlacer
}
