package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/songzhibin97/shannon/internal/models"
	"github.com/songzhibin97/shannon/internal/quantize"
	"github.com/songzhibin97/shannon/internal/rebalance"
	"github.com/songzhibin97/shannon/internal/risk"
	"github.com/songzhibin97/shannon/internal/tracker"
	"github.com/songzhibin97/shannon/internal/trading"
	"github.com/songzhibin97/shannon/internal/trading/simulation"
	"github.com/songzhibin97/shannon/internal/utils/logging"
)

// recordingExchange records the name of every adapter call.
type recordingExchange struct {
	trading.Exchange

	mu        sync.Mutex
	calls     []string
	assetsErr error
}

func (r *recordingExchange) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recordingExchange) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingExchange) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *recordingExchange) IsAvailable(ctx context.Context) (bool, error) {
	r.record("IsAvailable")
	return r.Exchange.IsAvailable(ctx)
}

func (r *recordingExchange) GetTicker(ctx context.Context, symbols []string) (map[string]models.Ticker, error) {
	r.record("GetTicker")
	return r.Exchange.GetTicker(ctx, symbols)
}

func (r *recordingExchange) GetAssets(ctx context.Context, symbols []string) (map[string]models.Asset, error) {
	r.record("GetAssets")
	if r.assetsErr != nil {
		return nil, r.assetsErr
	}
	return r.Exchange.GetAssets(ctx, symbols)
}

func (r *recordingExchange) GetOrderbook(ctx context.Context, symbol string) (*models.Orderbook, error) {
	r.record("GetOrderbook")
	return r.Exchange.GetOrderbook(ctx, symbol)
}

func (r *recordingExchange) PostOrder(ctx context.Context, o *trading.Order) (string, error) {
	r.record("PostOrder")
	return r.Exchange.PostOrder(ctx, o)
}

func (r *recordingExchange) GetOrders(ctx context.Context, ids []string) ([]trading.OrderReport, error) {
	r.record("GetOrders")
	return r.Exchange.GetOrders(ctx, ids)
}

func (r *recordingExchange) CancelOrders(ctx context.Context, ids []string) error {
	r.record("CancelOrders")
	return r.Exchange.CancelOrders(ctx, ids)
}

type memoryStorage struct {
	mu    sync.Mutex
	snaps []*models.PortfolioSnapshot
	err   error
}

func (m *memoryStorage) SaveSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *memoryStorage) GetSnapshots(ctx context.Context, exchange string, start, end time.Time) ([]models.PortfolioSnapshot, error) {
	return nil, nil
}

func (m *memoryStorage) Close() error { return nil }

type fixture struct {
	sim      *simulation.Exchange
	exchange *recordingExchange
	tracker  *tracker.Tracker
	engine   *rebalance.Engine
}

func newFixture(t *testing.T, assets map[string]models.Asset, trackerOpts ...tracker.Option) *fixture {
	t.Helper()

	q, err := quantize.NewConfig(
		map[string]decimal.Decimal{"BTC": decimal.RequireFromString("0.0001")},
		map[string]decimal.Decimal{"BTC": decimal.NewFromInt(5)},
		map[string]decimal.Decimal{"BTC": decimal.NewFromInt(1)},
	)
	require.NoError(t, err)
	engine, err := rebalance.NewEngine([]string{"BTC"}, "JPY", q)
	require.NoError(t, err)

	sim := simulation.New("JPY",
		simulation.WithAssets(assets),
		simulation.WithTicker(map[string]models.Ticker{
			"BTC": {Symbol: "BTC", Last: 3000000, Bid: 2999000, Ask: 3001000},
		}),
	)
	ex := &recordingExchange{Exchange: sim}

	return &fixture{
		sim:      sim,
		exchange: ex,
		tracker:  tracker.New(ex, logging.Nop(), trackerOpts...),
		engine:   engine,
	}
}

func (f *fixture) daemon(opts ...Option) *Daemon {
	return New(f.exchange, f.engine, f.tracker, logging.Nop(), opts...)
}

var scenarioAssets = map[string]models.Asset{
	"BTC": {Amount: 0.01, Available: 0.01},
	"JPY": {Amount: 100000, Available: 100000},
}

func TestRunCycle_Unavailable(t *testing.T) {
	f := newFixture(t, scenarioAssets)
	f.sim.SetAvailable(false)

	res := f.daemon().RunCycle(context.Background())

	assert.True(t, res.Skipped())
	assert.ErrorIs(t, res.Err, trading.ErrExchangeUnavailable)
	assert.Equal(t, StageAvailability, res.Stage)
	assert.Empty(t, res.Submitted)
	assert.Equal(t, []string{"IsAvailable"}, f.exchange.Calls())
}

func TestRunCycle_Rebalances(t *testing.T) {
	f := newFixture(t, scenarioAssets)
	store := &memoryStorage{}
	d := f.daemon(WithStorage(store))
	ctx := context.Background()

	res := d.RunCycle(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, StageDone, res.Stage)
	require.Len(t, res.Submitted, 1)

	o := res.Submitted[0]
	assert.Equal(t, trading.Buy, o.Side)
	assert.Equal(t, "0.0117", o.Size.String())
	assert.Equal(t, "2999000", o.Price.String())
	assert.Equal(t, trading.Active, o.Status)
	assert.Equal(t, []string{"IsAvailable", "GetAssets", "GetTicker", "PostOrder"}, f.exchange.Calls())

	require.Len(t, store.snaps, 1)
	assert.Equal(t, "simulation", store.snaps[0].Exchange)
	assert.Equal(t, 1, store.snaps[0].Orders)
	assert.InDelta(t, 130000, store.snaps[0].TotalValue, 1e-6)

	// the next cycle picks up the fill and finds nothing worth doing
	f.exchange.reset()
	res = d.RunCycle(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, StageDone, res.Stage)
	assert.Empty(t, res.Submitted)
	assert.Zero(t, res.Canceled)
	assert.False(t, res.Plan.Worthwhile())
	assert.Greater(t, res.Plan.Entropy, 0.99)
	assert.Equal(t, []string{"IsAvailable", "GetOrders", "GetAssets", "GetTicker"}, f.exchange.Calls())
	assert.Empty(t, f.tracker.OpenOrders())
}

func TestRunCycle_DomainErrorIsolated(t *testing.T) {
	f := newFixture(t, map[string]models.Asset{})
	res := f.daemon().RunCycle(context.Background())

	var domErr *rebalance.DomainError
	require.ErrorAs(t, res.Err, &domErr)
	assert.Equal(t, StageRebalance, res.Stage)
	assert.NotContains(t, f.exchange.Calls(), "PostOrder")
}

func TestRunCycle_FetchError(t *testing.T) {
	f := newFixture(t, scenarioAssets)
	f.exchange.assetsErr = errors.New("connection reset by peer")

	res := f.daemon().RunCycle(context.Background())
	require.Error(t, res.Err)
	assert.Equal(t, StageFetch, res.Stage)
	assert.False(t, res.Skipped())
}

func TestRunCycle_StorageErrorIsLogged(t *testing.T) {
	f := newFixture(t, scenarioAssets)
	d := f.daemon(WithStorage(&memoryStorage{err: errors.New("db down")}))

	res := d.RunCycle(context.Background())
	require.NoError(t, res.Err)
	assert.Len(t, res.Submitted, 1)
}

func TestRunCycle_Rejected(t *testing.T) {
	rm := risk.NewBasicRiskManager(risk.RiskParameters{MaxOrderValue: 1000})
	f := newFixture(t, scenarioAssets, tracker.WithRiskManager(rm))

	res := f.daemon().RunCycle(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, StageDone, res.Stage)
	assert.Empty(t, res.Submitted)
	require.Len(t, res.Rejected, 1)
	assert.True(t, trading.IsRejected(res.Rejected[0]))
	assert.NotContains(t, f.exchange.Calls(), "PostOrder")
}

func TestRunCycle_OrderbookPrices(t *testing.T) {
	f := newFixture(t, scenarioAssets)
	f.sim.SetOrderbook(&models.Orderbook{
		Symbol: "BTC",
		Asks:   []models.Level{{Price: 3000500, Size: 1}},
		Bids:   []models.Level{{Price: 2990000.4, Size: 1}, {Price: 2980000, Size: 1}},
	})

	res := f.daemon(WithOrderbookPrices(true)).RunCycle(context.Background())
	require.NoError(t, res.Err)
	require.Len(t, res.Submitted, 1)
	assert.Equal(t, "2990000", res.Submitted[0].Price.String())
	assert.Contains(t, f.exchange.Calls(), "GetOrderbook")
}

func TestPlan_ReadOnly(t *testing.T) {
	f := newFixture(t, scenarioAssets)

	res := f.daemon().Plan(context.Background())
	require.NoError(t, res.Err)
	require.NotNil(t, res.Plan)
	assert.True(t, res.Plan.Worthwhile())
	assert.Len(t, res.Plan.Orders, 1)
	assert.Empty(t, res.Submitted)
	assert.Equal(t, []string{"IsAvailable", "GetAssets", "GetTicker"}, f.exchange.Calls())
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, scenarioAssets)
	d := f.daemon(WithCycleDelay(10 * time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	assert.Eventually(t, func() bool {
		n := 0
		for _, c := range f.exchange.Calls() {
			if c == "IsAvailable" {
				n++
			}
		}
		return n >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	f := newFixture(t, scenarioAssets)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.daemon().Run(ctx))
	assert.Empty(t, f.exchange.Calls())
}

// brokenTickerExchange panics while reading the ticker.
type brokenTickerExchange struct {
	*recordingExchange
}

func (b *brokenTickerExchange) GetTicker(ctx context.Context, symbols []string) (map[string]models.Ticker, error) {
	b.record("GetTicker")
	var ticker map[string]models.Ticker
	for _, s := range symbols {
		ticker[s] = models.Ticker{Symbol: s}
	}
	return ticker, nil
}

func TestRunCycle_RecoversPanic(t *testing.T) {
	f := newFixture(t, scenarioAssets)
	ex := &brokenTickerExchange{recordingExchange: f.exchange}
	d := New(ex, f.engine, f.tracker, logging.Nop())

	var res *CycleResult
	require.NotPanics(t, func() { res = d.RunCycle(context.Background()) })
	require.ErrorIs(t, res.Err, ErrCyclePanic)
	assert.Contains(t, res.Err.Error(), "nil map")
	assert.Equal(t, StageFetch, res.Stage)
	assert.NotContains(t, f.exchange.Calls(), "PostOrder")
}

func TestRun_SurvivesPanickingCycles(t *testing.T) {
	f := newFixture(t, scenarioAssets)
	ex := &brokenTickerExchange{recordingExchange: f.exchange}
	d := New(ex, f.engine, f.tracker, logging.Nop(), WithCycleDelay(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	assert.Eventually(t, func() bool {
		n := 0
		for _, c := range f.exchange.Calls() {
			if c == "GetTicker" {
				n++
			}
		}
		return n >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestReport_RejectionLoggedOnce(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core).Sugar()

	f := newFixture(t, scenarioAssets)
	rm := risk.NewBasicRiskManager(risk.RiskParameters{MaxOrderValue: 1000})
	tr := tracker.New(f.exchange, logger, tracker.WithRiskManager(rm))
	d := New(f.exchange, f.engine, tr, logger)

	res := d.RunCycle(context.Background())
	require.Len(t, res.Rejected, 1)
	d.report(res)

	rejected := logs.FilterMessage("order rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, zapcore.WarnLevel, rejected[0].Level)
	assert.Equal(t, "BTC", rejected[0].ContextMap()["symbol"])
	assert.Equal(t, "risk", rejected[0].ContextMap()["source"])
}
