// Package daemon runs the rebalancing cycle against an exchange.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/songzhibin97/shannon/internal/data"
	"github.com/songzhibin97/shannon/internal/models"
	"github.com/songzhibin97/shannon/internal/rebalance"
	"github.com/songzhibin97/shannon/internal/tracker"
	"github.com/songzhibin97/shannon/internal/trading"
	"github.com/songzhibin97/shannon/internal/utils/logging"
)

// ErrCyclePanic wraps a panic recovered inside a cycle.
var ErrCyclePanic = errors.New("cycle panicked")

// Stage is a step of the rebalancing cycle.
type Stage string

const (
	StageAvailability Stage = "AVAILABILITY_CHECK"
	StageReconcile    Stage = "RECONCILE"
	StageFetch        Stage = "FETCH_STATE"
	StageRebalance    Stage = "REBALANCE"
	StageTrigger      Stage = "TRIGGER_CHECK"
	StageSubmit       Stage = "SUBMIT_ORDERS"
	StageDone         Stage = "DONE"
)

// CycleResult describes one cycle. Stage is the last stage entered, so on
// failure it names the stage that failed.
type CycleResult struct {
	Stage     Stage
	Plan      *rebalance.Plan
	Canceled  int
	Submitted []*trading.Order
	Rejected  []error
	Err       error
}

// Skipped reports whether the cycle ended because the market was closed.
func (r *CycleResult) Skipped() bool {
	return errors.Is(r.Err, trading.ErrExchangeUnavailable)
}

type Daemon struct {
	exchange  trading.Exchange
	engine    *rebalance.Engine
	tracker   *tracker.Tracker
	storage   data.SnapshotStorage
	logger    logging.Logger
	delay     time.Duration
	orderbook bool
	now       func() time.Time
}

type Option func(*Daemon)

// WithStorage journals a snapshot of every valuated cycle.
func WithStorage(s data.SnapshotStorage) Option {
	return func(d *Daemon) { d.storage = s }
}

// WithCycleDelay sets the sleep between two cycles.
func WithCycleDelay(delay time.Duration) Option {
	return func(d *Daemon) { d.delay = delay }
}

// WithOrderbookPrices prices orders from the top of the orderbook instead
// of the ticker's bid and ask.
func WithOrderbookPrices(enabled bool) Option {
	return func(d *Daemon) { d.orderbook = enabled }
}

func New(exchange trading.Exchange, engine *rebalance.Engine, t *tracker.Tracker, logger logging.Logger, opts ...Option) *Daemon {
	d := &Daemon{
		exchange: exchange,
		engine:   engine,
		tracker:  t,
		logger:   logger,
		delay:    15 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run repeats cycles until ctx is done. A cycle is never interrupted: it
// runs detached from ctx's cancellation and the stop takes effect during
// the sleep that follows.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Infow("daemon started", "exchange", d.exchange.Name(), "symbols", d.engine.Symbols(),
		"cycle_delay", d.delay.String())

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Infow("daemon stopped")
			return nil
		case <-timer.C:
		}

		d.report(d.RunCycle(context.WithoutCancel(ctx)))
		timer.Reset(d.delay)
	}
}

// RunCycle runs a single cycle and posts the resulting orders.
func (d *Daemon) RunCycle(ctx context.Context) *CycleResult {
	return d.cycle(ctx, true)
}

// Plan runs a cycle up to the trigger check without reconciling, journaling
// or posting anything.
func (d *Daemon) Plan(ctx context.Context) *CycleResult {
	return d.cycle(ctx, false)
}

func (d *Daemon) cycle(ctx context.Context, live bool) (res *CycleResult) {
	res = &CycleResult{Stage: StageAvailability}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Debugw("cycle panic stack", "stage", string(res.Stage), "stack", string(debug.Stack()))
			res.Err = fmt.Errorf("%w: %v", ErrCyclePanic, r)
		}
	}()

	ok, err := d.exchange.IsAvailable(ctx)
	if err != nil {
		res.Err = fmt.Errorf("failed to check availability: %w", err)
		return res
	}
	if !ok {
		res.Err = trading.ErrExchangeUnavailable
		return res
	}

	if live {
		res.Stage = StageReconcile
		if res.Canceled, err = d.tracker.Reconcile(ctx); err != nil {
			res.Err = fmt.Errorf("failed to reconcile open orders: %w", err)
			return res
		}
	}

	res.Stage = StageFetch
	assets, ticker, err := d.fetch(ctx)
	if err != nil {
		res.Err = err
		return res
	}

	res.Stage = StageRebalance
	plan, err := d.engine.Plan(assets, ticker)
	if err != nil {
		res.Err = err
		return res
	}
	res.Plan = plan

	if live && d.storage != nil && plan.Current != nil {
		snap := plan.Snapshot(d.exchange.Name(), d.engine.Symbols(), d.now())
		if err := d.storage.SaveSnapshot(ctx, snap); err != nil {
			d.logger.Warnw("failed to save snapshot", "err", err)
		}
	}

	res.Stage = StageTrigger
	if !plan.Worthwhile() {
		d.logger.Debugw("rebalance not worthwhile", "orders", len(plan.Orders),
			"entropy", plan.Entropy, "proposed_entropy", plan.ProposedEntropy)
		res.Stage = StageDone
		return res
	}
	if !live {
		res.Stage = StageDone
		return res
	}

	res.Stage = StageSubmit
	batch, err := d.tracker.SubmitAll(ctx, plan.Orders)
	if batch != nil {
		res.Submitted = batch.Submitted
		res.Rejected = batch.Rejected
	}
	if err != nil {
		res.Err = err
		return res
	}

	res.Stage = StageDone
	return res
}

func (d *Daemon) fetch(ctx context.Context) (map[string]models.Asset, map[string]models.Ticker, error) {
	assets, err := d.exchange.GetAssets(ctx, d.engine.Symbols())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get assets: %w", err)
	}

	ticker, err := d.exchange.GetTicker(ctx, d.engine.Tradable())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get ticker: %w", err)
	}

	if !d.orderbook {
		return assets, ticker, nil
	}

	for _, s := range d.engine.Tradable() {
		t, ok := ticker[s]
		if !ok {
			continue
		}
		book, err := d.exchange.GetOrderbook(ctx, s)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get orderbook for %s: %w", s, err)
		}
		if ask, ok := book.BestAsk(); ok {
			t.Ask = ask.Price
		}
		if bid, ok := book.BestBid(); ok {
			t.Bid = bid.Price
		}
		ticker[s] = t
	}
	return assets, ticker, nil
}

func (d *Daemon) report(res *CycleResult) {
	if res.Skipped() {
		d.logger.Warnw("exchange unavailable, cycle skipped", "stage", string(res.Stage))
		return
	}

	for _, err := range res.Rejected {
		var rej *trading.RejectedOrderError
		if errors.As(err, &rej) {
			d.logger.Warnw("order rejected", "stage", string(StageSubmit), "symbol", rej.Symbol,
				"source", rej.Source, "err", rej.Message)
			continue
		}
		d.logger.Warnw("order rejected", "stage", string(StageSubmit), "err", err)
	}

	if res.Err != nil {
		fields := []interface{}{"stage", string(res.Stage), "err", res.Err}
		var domErr *rebalance.DomainError
		if errors.As(res.Err, &domErr) && domErr.Symbol != "" {
			fields = append(fields, "symbol", domErr.Symbol)
		}
		var pe *trading.ProtocolError
		if errors.As(res.Err, &pe) {
			fields = append(fields, "value", pe.Value)
		}
		d.logger.Errorw("cycle failed", fields...)
		return
	}

	fields := []interface{}{"stage", string(res.Stage), "submitted", len(res.Submitted),
		"rejected", len(res.Rejected), "canceled", res.Canceled}
	if res.Plan != nil {
		fields = append(fields, "entropy", res.Plan.Entropy, "proposed_entropy", res.Plan.ProposedEntropy)
		if res.Plan.Current != nil {
			fields = append(fields, "total_value", res.Plan.Current.Total)
		}
	}
	d.logger.Infow("cycle done", fields...)
}
