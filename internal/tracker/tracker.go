// Package tracker submits orders to an exchange and follows them until they
// reach a terminal status.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/songzhibin97/shannon/internal/risk"
	"github.com/songzhibin97/shannon/internal/trading"
	"github.com/songzhibin97/shannon/internal/utils/logging"
)

// Tracker keeps the set of orders that are open on the exchange.
type Tracker struct {
	exchange trading.OrderPlacer
	logger   logging.Logger
	guard    risk.RiskManager
	limiter  *rate.Limiter
	now      func() time.Time

	mu   sync.Mutex
	open map[string]*trading.Order
}

type Option func(*Tracker)

// WithPacing enforces a minimum delay between two order posts. A zero or
// negative delay disables pacing.
func WithPacing(d time.Duration) Option {
	return func(t *Tracker) {
		if d <= 0 {
			t.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		t.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithRiskManager checks every order against rm before it is posted.
func WithRiskManager(rm risk.RiskManager) Option {
	return func(t *Tracker) { t.guard = rm }
}

func New(exchange trading.OrderPlacer, logger logging.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		exchange: exchange,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		now:      time.Now,
		open:     make(map[string]*trading.Order),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Submit posts one order. On success the order carries its exchange id, is
// ACTIVE and is tracked. On failure nothing is tracked and the error is
// returned unchanged; there is no retry at this level.
func (t *Tracker) Submit(ctx context.Context, o *trading.Order) (*trading.Order, error) {
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order %s: %w", o, err)
	}

	if t.guard != nil {
		assessment, err := t.guard.CheckTradeRisk(ctx, o)
		if err != nil {
			return nil, fmt.Errorf("failed to check order risk: %w", err)
		}
		if err := risk.Reject(o, assessment); err != nil {
			return nil, err
		}
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("order pacing interrupted: %w", err)
	}

	id, err := t.exchange.PostOrder(ctx, o)
	if err != nil {
		return nil, err
	}

	o.ID = id
	o.Timestamp = t.now()
	o.Status = trading.Active

	t.mu.Lock()
	t.open[id] = o
	t.mu.Unlock()

	if t.guard != nil {
		t.guard.RecordTrade(ctx, o)
	}

	t.logger.Infow("order submitted", "order_id", id, "symbol", o.Symbol, "side", o.Side.String(),
		"size", o.Size.String(), "price", priceString(o))
	return o, nil
}

// BatchResult is the outcome of SubmitAll.
type BatchResult struct {
	Submitted []*trading.Order
	Rejected  []error
}

// SubmitAll posts orders one after another in the given order. A rejected
// order is recorded in the result, left for the caller to report, and the
// batch continues; any other failure stops the
// batch and is returned together with what was submitted so far.
func (t *Tracker) SubmitAll(ctx context.Context, orders []*trading.Order) (*BatchResult, error) {
	result := &BatchResult{}
	for _, o := range orders {
		submitted, err := t.Submit(ctx, o)
		if err == nil {
			result.Submitted = append(result.Submitted, submitted)
			continue
		}
		if trading.IsRejected(err) {
			result.Rejected = append(result.Rejected, err)
			continue
		}
		return result, fmt.Errorf("failed to submit order for %s: %w", o.Symbol, err)
	}
	return result, nil
}

// Refresh pulls the status of the given orders from the exchange and applies
// it to the tracked orders. Orders reaching a terminal status stop being
// tracked. A status outside the canonical vocabulary fails the whole refresh
// before anything is applied.
func (t *Tracker) Refresh(ctx context.Context, orderIDs []string) ([]*trading.Order, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}

	reports, err := t.exchange.GetOrders(ctx, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}

	for _, r := range reports {
		if !r.Status.Valid() {
			return nil, &trading.ProtocolError{Field: "order status", Value: string(r.Status)}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	updated := make([]*trading.Order, 0, len(reports))
	for _, r := range reports {
		o, ok := t.open[r.ID]
		if !ok {
			t.logger.Warnw("status for untracked order", "order_id", r.ID, "status", r.Status.String())
			continue
		}

		if o.Status != r.Status {
			if !o.Status.CanTransition(r.Status) {
				t.logger.Warnw("unexpected order status transition", "order_id", r.ID,
					"from", o.Status.String(), "to", r.Status.String())
			}
			t.logger.Debugw("order status changed", "order_id", r.ID,
				"from", o.Status.String(), "to", r.Status.String())
			o.Status = r.Status
		}

		if o.Status.IsTerminal() {
			delete(t.open, r.ID)
		}
		updated = append(updated, o)
	}
	return updated, nil
}

// Cancel asks the exchange to cancel the given orders. Tracked orders move
// to MODIFYING until a later Refresh reports the final status.
func (t *Tracker) Cancel(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}

	if err := t.exchange.CancelOrders(ctx, orderIDs); err != nil {
		return fmt.Errorf("failed to cancel orders: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range orderIDs {
		if o, ok := t.open[id]; ok {
			o.Status = trading.Modifying
		}
	}
	t.logger.Infow("orders canceling", "order_ids", orderIDs)
	return nil
}

// Reconcile refreshes every tracked order and cancels the ones still ACTIVE.
// It makes no exchange call when nothing is tracked and returns the number
// of orders it asked to cancel.
func (t *Tracker) Reconcile(ctx context.Context) (int, error) {
	ids := t.OpenIDs()
	if len(ids) == 0 {
		return 0, nil
	}

	orders, err := t.Refresh(ctx, ids)
	if err != nil {
		return 0, err
	}

	var active []string
	for _, o := range orders {
		if o.Status == trading.Active {
			active = append(active, o.ID)
		}
	}
	if err := t.Cancel(ctx, active); err != nil {
		return 0, err
	}
	return len(active), nil
}

// OpenOrders returns the tracked orders sorted by submission time.
func (t *Tracker) OpenOrders() []*trading.Order {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*trading.Order, 0, len(t.open))
	for _, o := range t.open {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OpenIDs returns the ids of OpenOrders.
func (t *Tracker) OpenIDs() []string {
	orders := t.OpenOrders()
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}

func priceString(o *trading.Order) string {
	if o.Price == nil {
		return "MARKET"
	}
	return o.Price.String()
}
