package simulation

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/shannon/internal/models"
	"github.com/songzhibin97/shannon/internal/quantize"
	"github.com/songzhibin97/shannon/internal/trading"
)

func newOrder(t *testing.T, side trading.Side, lots int64, price float64) *trading.Order {
	t.Helper()
	q, err := quantize.NewConfig(
		map[string]decimal.Decimal{"BTC": decimal.RequireFromString("0.0001")},
		map[string]decimal.Decimal{"BTC": decimal.NewFromInt(5)},
		map[string]decimal.Decimal{"BTC": decimal.NewFromInt(1)},
	)
	require.NoError(t, err)

	size, err := q.SizeFromLot("BTC", lots)
	require.NoError(t, err)
	o := &trading.Order{
		Symbol:        "BTC",
		Side:          side,
		Size:          size,
		ExecutionType: trading.Market,
		TimeInForce:   trading.SOK,
		Status:        trading.Unordered,
	}
	if price > 0 {
		p, err := q.PriceFromValue("BTC", price)
		require.NoError(t, err)
		o.ExecutionType = trading.Limit
		o.Price = &p
	}
	return o
}

func TestExchange_PaperTrading(t *testing.T) {
	ctx := context.Background()
	ex := New("JPY", WithAssets(map[string]models.Asset{
		"BTC": {Amount: 0.01, Available: 0.01},
		"JPY": {Amount: 100000, Available: 100000},
	}))

	id, err := ex.PostOrder(ctx, newOrder(t, trading.Buy, 116, 3000000))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assets, err := ex.GetAssets(ctx, []string{"BTC", "JPY"})
	require.NoError(t, err)
	assert.InDelta(t, 0.0216, assets["BTC"].Amount, 1e-9)
	assert.InDelta(t, 100000-34800, assets["JPY"].Amount, 1e-6)
	assert.Equal(t, "BTC", assets["BTC"].Symbol)

	reports, err := ex.GetOrders(ctx, []string{id})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, trading.Completed, reports[0].Status)
	assert.InDelta(t, 0.0116, reports[0].ExecutedSize, 1e-12)

	// cancelling a filled order keeps it filled
	require.NoError(t, ex.CancelOrders(ctx, []string{id}))
	reports, err = ex.GetOrders(ctx, []string{id})
	require.NoError(t, err)
	assert.Equal(t, trading.Completed, reports[0].Status)
}

func TestExchange_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	ex := New("JPY", WithAssets(map[string]models.Asset{
		"BTC": {Amount: 0.001, Available: 0.001},
		"JPY": {Amount: 1000, Available: 1000},
	}))

	_, err := ex.PostOrder(ctx, newOrder(t, trading.Buy, 100, 3000000))
	assert.True(t, trading.IsRejected(err))

	_, err = ex.PostOrder(ctx, newOrder(t, trading.Sell, 11, 3000000))
	assert.True(t, trading.IsRejected(err))

	_, err = ex.PostOrder(ctx, newOrder(t, trading.Sell, 10, 3000000))
	assert.NoError(t, err)
}

func TestExchange_MarketOrderUsesTicker(t *testing.T) {
	ctx := context.Background()
	ex := New("JPY",
		WithAssets(map[string]models.Asset{"JPY": {Amount: 1e6, Available: 1e6}}),
		WithTicker(map[string]models.Ticker{"BTC": {Symbol: "BTC", Ask: 3001000, Bid: 2999000, Last: 3000000}}),
	)

	_, err := ex.PostOrder(ctx, newOrder(t, trading.Buy, 100, 0))
	require.NoError(t, err)

	assets, err := ex.GetAssets(ctx, []string{"JPY"})
	require.NoError(t, err)
	assert.InDelta(t, 1e6-30010, assets["JPY"].Amount, 1e-6)

	empty := New("JPY")
	_, err = empty.PostOrder(ctx, newOrder(t, trading.Buy, 1, 0))
	assert.True(t, trading.IsRejected(err))
}

type liveReader struct {
	calls []string
}

func (l *liveReader) IsAvailable(ctx context.Context) (bool, error) {
	l.calls = append(l.calls, "IsAvailable")
	return true, nil
}

func (l *liveReader) GetTicker(ctx context.Context, symbols []string) (map[string]models.Ticker, error) {
	l.calls = append(l.calls, "GetTicker")
	return map[string]models.Ticker{"BTC": {Symbol: "BTC", Last: 3000000, Bid: 2999000, Ask: 3001000}}, nil
}

func (l *liveReader) GetAssets(ctx context.Context, symbols []string) (map[string]models.Asset, error) {
	l.calls = append(l.calls, "GetAssets")
	return map[string]models.Asset{"BTC": {Symbol: "BTC", Amount: 1}}, nil
}

func (l *liveReader) GetOrderbook(ctx context.Context, symbol string) (*models.Orderbook, error) {
	l.calls = append(l.calls, "GetOrderbook")
	return nil, errors.New("not implemented")
}

func TestExchange_DryRunOverLiveMarket(t *testing.T) {
	ctx := context.Background()
	live := &liveReader{}
	ex := New("JPY", WithMarket(live))

	ok, err := ex.IsAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ticker, err := ex.GetTicker(ctx, []string{"BTC"})
	require.NoError(t, err)
	assert.Equal(t, 3000000.0, ticker["BTC"].Last)

	assets, err := ex.GetAssets(ctx, []string{"BTC"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, assets["BTC"].Amount)

	_, err = ex.GetOrderbook(ctx, "BTC")
	assert.Error(t, err)

	// orders never reach the live side and live balances do not move
	_, err = ex.PostOrder(ctx, newOrder(t, trading.Sell, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"IsAvailable", "GetTicker", "GetAssets", "GetOrderbook"}, live.calls)

	ex.SetAvailable(false)
	ok, err = ex.IsAvailable(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExchange_Orderbook(t *testing.T) {
	ex := New("JPY")
	ex.SetOrderbook(&models.Orderbook{
		Symbol: "BTC",
		Asks:   []models.Level{{Price: 3002000}, {Price: 3001000}},
		Bids:   []models.Level{{Price: 2998000}, {Price: 2999000}},
	})

	book, err := ex.GetOrderbook(context.Background(), "BTC")
	require.NoError(t, err)
	ask, _ := book.BestAsk()
	bid, _ := book.BestBid()
	assert.Equal(t, 3001000.0, ask.Price)
	assert.Equal(t, 2999000.0, bid.Price)

	empty, err := ex.GetOrderbook(context.Background(), "ETH")
	require.NoError(t, err)
	_, ok := empty.BestAsk()
	assert.False(t, ok)
}

func TestExchange_UnknownOrder(t *testing.T) {
	ex := New("JPY")
	_, err := ex.GetOrders(context.Background(), []string{"nope"})
	assert.Error(t, err)
	assert.Error(t, ex.CancelOrders(context.Background(), []string{"nope"}))
}
