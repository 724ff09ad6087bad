package rebalance

import (
	"time"

	"github.com/songzhibin97/shannon/internal/models"
	"github.com/songzhibin97/shannon/internal/trading"
)

// Plan is the outcome of one rebalancing pass together with the entropy of
// the current and the projected allocation.
type Plan struct {
	Orders          []*trading.Order
	Current         *Valuation
	Projected       *Valuation
	Entropy         float64
	ProposedEntropy float64
}

// Worthwhile reports whether posting the orders strictly raises allocation
// entropy.
func (p *Plan) Worthwhile() bool {
	return len(p.Orders) > 0 && p.ProposedEntropy > p.Entropy
}

// Snapshot converts the plan's current valuation into a journal record.
func (p *Plan) Snapshot(exchange string, symbols []string, at time.Time) *models.PortfolioSnapshot {
	snap := &models.PortfolioSnapshot{
		TakenAt:         at,
		Exchange:        exchange,
		Entropy:         p.Entropy,
		ProposedEntropy: p.ProposedEntropy,
		Orders:          len(p.Orders),
	}
	if p.Current == nil {
		return snap
	}

	snap.TotalValue = p.Current.Total
	for _, s := range symbols {
		snap.Holdings = append(snap.Holdings, models.Holding{
			Symbol: s,
			Amount: p.Current.Amounts[s],
			Price:  p.Current.Prices[s],
			Value:  p.Current.Values[s],
		})
	}
	return snap
}

// Plan runs Rebalance and projects the allocation after every proposed order
// fills at its quantized price.
func (e *Engine) Plan(assets map[string]models.Asset, ticker map[string]models.Ticker) (*Plan, error) {
	if len(e.symbols) < 2 {
		return &Plan{}, nil
	}

	current, err := e.Valuate(assets, ticker)
	if err != nil {
		return nil, err
	}

	orders, err := e.rebalance(current, ticker)
	if err != nil {
		return nil, err
	}

	projected := e.project(current, orders)
	return &Plan{
		Orders:          orders,
		Current:         current,
		Projected:       projected,
		Entropy:         current.Entropy(e.symbols),
		ProposedEntropy: projected.Entropy(e.symbols),
	}, nil
}

func (e *Engine) project(current *Valuation, orders []*trading.Order) *Valuation {
	amounts := make(map[string]float64, len(current.Amounts))
	for s, a := range current.Amounts {
		amounts[s] = a
	}

	for _, o := range orders {
		size := o.Size.Float()
		price := current.Prices[o.Symbol]
		if o.Price != nil {
			price = o.Price.Float()
		}
		amounts[o.Symbol] += o.Side.Sign() * size
		amounts[e.settlement] -= o.Side.Sign() * size * price
	}

	v := &Valuation{
		Amounts: amounts,
		Prices:  current.Prices,
		Values:  make(map[string]float64, len(amounts)),
	}
	for _, s := range e.symbols {
		v.Values[s] = amounts[s] * current.Prices[s]
		v.Total += v.Values[s]
	}
	return v
}
