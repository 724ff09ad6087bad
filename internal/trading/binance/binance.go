package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"github.com/songzhibin97/shannon/internal/models"
	"github.com/songzhibin97/shannon/internal/trading"
)

var _ trading.Exchange = (*BinanceExecutor)(nil)

// statusMapping translates Binance order statuses to the canonical vocabulary.
var statusMapping = map[binance.OrderStatusType]trading.OrderStatus{
	binance.OrderStatusTypeNew:             trading.Active,
	binance.OrderStatusTypePartiallyFilled: trading.Active,
	binance.OrderStatusTypePendingCancel:   trading.Modifying,
	binance.OrderStatusTypeFilled:          trading.Completed,
	binance.OrderStatusTypeCanceled:        trading.Canceled,
	binance.OrderStatusTypeRejected:        trading.Canceled,
	binance.OrderStatusTypeExpired:         trading.Expired,
	"EXPIRED_IN_MATCH":                     trading.Expired,
}

// MapStatus returns the canonical status of a Binance order status.
func MapStatus(status binance.OrderStatusType) (trading.OrderStatus, error) {
	s, ok := statusMapping[status]
	if !ok {
		return "", &trading.ProtocolError{Field: "order status", Value: string(status)}
	}
	return s, nil
}

// BinanceExecutor implements trading.Exchange for Binance spot. Symbols are
// base assets; the traded pair is the symbol followed by the quote asset.
type BinanceExecutor struct {
	client *binance.Client
	quote  string

	mu     sync.RWMutex
	orders map[string]string // order id -> pair
}

// NewBinanceExecutor creates a new BinanceExecutor instance
func NewBinanceExecutor(apiKey, secretKey, quote string, debug ...bool) *BinanceExecutor {
	debug = append(debug, false)
	if debug[0] {
		binance.UseTestnet = true
	}

	return &BinanceExecutor{
		client: binance.NewClient(apiKey, secretKey),
		quote:  quote,
		orders: make(map[string]string),
	}
}

func (b *BinanceExecutor) Name() string {
	return "binance"
}

func (b *BinanceExecutor) pair(symbol string) string {
	return symbol + b.quote
}

func (b *BinanceExecutor) IsAvailable(ctx context.Context) (bool, error) {
	if err := b.client.NewPingService().Do(ctx); err != nil {
		if common.IsAPIError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to ping: %w", err)
	}
	return true, nil
}

func (b *BinanceExecutor) GetTicker(ctx context.Context, symbols []string) (map[string]models.Ticker, error) {
	ticker := make(map[string]models.Ticker, len(symbols))
	for _, s := range symbols {
		if s == b.quote {
			continue
		}

		stats, err := b.client.NewListPriceChangeStatsService().Symbol(b.pair(s)).Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get ticker for %s: %w", s, err)
		}
		if len(stats) == 0 {
			continue
		}

		st := stats[0]
		t := models.Ticker{Symbol: s, Timestamp: time.UnixMilli(st.CloseTime)}
		if t.Last, err = parseFloat("last price", st.LastPrice); err != nil {
			return nil, err
		}
		if t.Bid, err = parseFloat("bid price", st.BidPrice); err != nil {
			return nil, err
		}
		if t.Ask, err = parseFloat("ask price", st.AskPrice); err != nil {
			return nil, err
		}
		if t.Volume, err = parseFloat("volume", st.Volume); err != nil {
			return nil, err
		}
		ticker[s] = t
	}
	return ticker, nil
}

func (b *BinanceExecutor) GetAssets(ctx context.Context, symbols []string) (map[string]models.Asset, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account info: %w", err)
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	assets := make(map[string]models.Asset, len(symbols))
	for _, balance := range account.Balances {
		if !wanted[balance.Asset] {
			continue
		}

		free, err := parseFloat("free balance", balance.Free)
		if err != nil {
			return nil, err
		}
		locked, err := parseFloat("locked balance", balance.Locked)
		if err != nil {
			return nil, err
		}
		assets[balance.Asset] = models.Asset{
			Symbol:    balance.Asset,
			Amount:    free + locked,
			Available: free,
		}
	}
	return assets, nil
}

func (b *BinanceExecutor) GetOrderbook(ctx context.Context, symbol string) (*models.Orderbook, error) {
	depth, err := b.client.NewDepthService().Symbol(b.pair(symbol)).Limit(20).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get orderbook for %s: %w", symbol, err)
	}

	book := &models.Orderbook{Symbol: symbol}
	for _, a := range depth.Asks {
		l, err := level(a.Price, a.Quantity)
		if err != nil {
			return nil, err
		}
		book.Asks = append(book.Asks, l)
	}
	for _, bid := range depth.Bids {
		l, err := level(bid.Price, bid.Quantity)
		if err != nil {
			return nil, err
		}
		book.Bids = append(book.Bids, l)
	}
	book.Sort()
	return book, nil
}

// PostOrder implements order placement for Binance
func (b *BinanceExecutor) PostOrder(ctx context.Context, order *trading.Order) (string, error) {
	var side binance.SideType
	switch order.Side {
	case trading.Buy:
		side = binance.SideTypeBuy
	case trading.Sell:
		side = binance.SideTypeSell
	default:
		return "", fmt.Errorf("invalid side: %s", order.Side)
	}

	pair := b.pair(order.Symbol)
	orderService := b.client.NewCreateOrderService().
		Symbol(pair).
		Side(side).
		Quantity(order.Size.String())

	switch order.ExecutionType {
	case trading.Market:
		orderService.Type(binance.OrderTypeMarket)
	case trading.Limit:
		if order.Price == nil {
			return "", trading.ErrPriceRequired
		}
		orderService.Price(order.Price.String()).
			Type(binance.OrderTypeLimit).
			TimeInForce(timeInForce(order.TimeInForce))
	default:
		return "", fmt.Errorf("unsupported order type: %s", order.ExecutionType)
	}

	result, err := orderService.Do(ctx)
	if err != nil {
		if rej := rejection(order.Symbol, err); rej != nil {
			return "", rej
		}
		return "", fmt.Errorf("failed to place order: %w", err)
	}

	id := strconv.FormatInt(result.OrderID, 10)
	b.mu.Lock()
	b.orders[id] = pair
	b.mu.Unlock()
	return id, nil
}

// GetOrders implements order status retrieval for Binance. Only orders
// posted through this executor can be looked up.
func (b *BinanceExecutor) GetOrders(ctx context.Context, orderIDs []string) ([]trading.OrderReport, error) {
	reports := make([]trading.OrderReport, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		pair, id, err := b.lookup(orderID)
		if err != nil {
			return nil, err
		}

		result, err := b.client.NewGetOrderService().
			Symbol(pair).
			OrderID(id).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get order status: %w", err)
		}

		status, err := MapStatus(result.Status)
		if err != nil {
			return nil, err
		}
		executed, err := parseFloat("executed quantity", result.ExecutedQuantity)
		if err != nil {
			return nil, err
		}

		reports = append(reports, trading.OrderReport{
			ID:           orderID,
			Symbol:       result.Symbol,
			Status:       status,
			ExecutedSize: executed,
			Timestamp:    time.UnixMilli(result.UpdateTime),
		})
	}
	return reports, nil
}

// CancelOrders implements order cancellation for Binance
func (b *BinanceExecutor) CancelOrders(ctx context.Context, orderIDs []string) error {
	for _, orderID := range orderIDs {
		pair, id, err := b.lookup(orderID)
		if err != nil {
			return err
		}

		_, err = b.client.NewCancelOrderService().
			Symbol(pair).
			OrderID(id).
			Do(ctx)
		if err != nil && !common.IsAPIError(err) {
			return fmt.Errorf("failed to cancel order: %w", err)
		}
	}
	return nil
}

func (b *BinanceExecutor) lookup(orderID string) (string, int64, error) {
	b.mu.RLock()
	pair, ok := b.orders[orderID]
	b.mu.RUnlock()
	if !ok {
		return "", 0, fmt.Errorf("unknown order id %s", orderID)
	}

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid order ID: %w", err)
	}
	return pair, id, nil
}

// timeInForce maps the order policy onto Binance. SOK and FAK both cancel
// whatever does not fill at once.
func timeInForce(tif trading.TimeInForce) binance.TimeInForceType {
	switch tif {
	case trading.SOK, trading.FAK:
		return binance.TimeInForceTypeIOC
	case trading.FOK:
		return binance.TimeInForceTypeFOK
	default:
		return binance.TimeInForceTypeGTC
	}
}

// rejection returns a RejectedOrderError for API errors carrying a Binance
// error code. Errors without a code are server side failures.
func rejection(symbol string, err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) || apiErr.Code == 0 {
		return nil
	}
	return &trading.RejectedOrderError{
		Symbol:  symbol,
		Source:  "exchange",
		Message: fmt.Sprintf("%d %s", apiErr.Code, apiErr.Message),
	}
}

func level(price, quantity string) (models.Level, error) {
	p, err := parseFloat("price", price)
	if err != nil {
		return models.Level{}, err
	}
	q, err := parseFloat("quantity", quantity)
	if err != nil {
		return models.Level{}, err
	}
	return models.Level{Price: p, Size: q}, nil
}

func parseFloat(field, v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %q: %w", field, v, err)
	}
	return f, nil
}
